// Package paths canonicalizes request paths so configured responses can be
// matched regardless of whether the caller kept the tenant segment.
package paths

import "strings"

// Normalize trims and lower-cases rawPath and strips a leading tenant segment
// in either "<tenant>/" or "/<tenant>" form. An empty result becomes "/".
//
// Stripping repeats until no tenant prefix remains, which keeps Normalize
// idempotent.
func Normalize(tenantID, rawPath string) string {
	tenant := strings.ToLower(strings.TrimSpace(tenantID))
	p := strings.ToLower(strings.TrimSpace(rawPath))
	if tenant != "" {
		for {
			stripped, ok := stripTenant(tenant, p)
			if !ok {
				break
			}
			p = strings.TrimSpace(stripped)
		}
	}
	if p == "" {
		return "/"
	}
	return p
}

func stripTenant(tenant, p string) (string, bool) {
	if strings.HasPrefix(p, tenant+"/") || strings.HasPrefix(p, "/"+tenant) {
		return p[len(tenant)+1:], true
	}
	return p, false
}
