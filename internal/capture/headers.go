package capture

import (
	"net"
	"net/http"
	"sort"
	"strings"

	"echohook/internal/types"
)

const (
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderContentType   = "Content-Type"
)

// HeaderPairs lists the request headers as ordered pairs, one per value.
//
// net/http lifts Host out of the header map and does not keep wire order, so
// Host comes first and the remaining names follow in sorted order.
func HeaderPairs(r *http.Request) []types.KV {
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]types.KV, 0, len(names)+1)
	if r.Host != "" {
		out = append(out, types.KV{Key: "Host", Value: r.Host})
	}
	for _, name := range names {
		for _, value := range r.Header[name] {
			out = append(out, types.KV{Key: name, Value: value})
		}
	}
	return out
}

// ClientAddress resolves the caller's address: the first X-Forwarded-For
// entry, then the remote address, then the local address the request
// arrived on.
func ClientAddress(r *http.Request) (string, error) {
	if xff := r.Header.Get(HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip, nil
		}
	}
	if host := hostOnly(r.RemoteAddr); host != "" {
		return host, nil
	}
	if local, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok && local != nil {
		if host := hostOnly(local.String()); host != "" {
			return host, nil
		}
	}
	return "", ErrNoClientAddress
}

func hostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
