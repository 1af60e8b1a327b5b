package types

import (
	"strings"
	"time"
)

type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// JoinKV renders pairs as "key: value" lines separated by CRLF, without a
// trailing line break.
func JoinKV(pairs []KV) string {
	var b strings.Builder
	for i, kv := range pairs {
		if i > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString(kv.Key)
		b.WriteString(": ")
		b.WriteString(kv.Value)
	}
	return b.String()
}

// SplitKV parses a header block produced by JoinKV.
func SplitKV(block string) []KV {
	if block == "" {
		return nil
	}
	lines := strings.Split(block, "\r\n")
	out := make([]KV, 0, len(lines))
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			key, value = strings.TrimSuffix(line, ":"), ""
		}
		out = append(out, KV{Key: key, Value: value})
	}
	return out
}

type CapturedRequest struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Method      string `json:"method"`
	Path        string `json:"path"`
	QueryString string `json:"queryString"`

	ClientAddress string      `json:"clientAddress"`
	Headers       string      `json:"headers"`
	Body          string      `json:"body"`
	ContentKind   ContentKind `json:"contentKind"`

	CreatedAt time.Time `json:"createdAt"`
}

// Summary projects the fields used by history listings and the live feed.
func (c *CapturedRequest) Summary() RequestSummary {
	return RequestSummary{
		ID:        c.ID,
		Path:      c.Path,
		Method:    c.Method,
		CreatedAt: c.CreatedAt,
	}
}

type RequestSummary struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"createdAt"`
}

type ConfiguredResponse struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Path     string `json:"path"`

	Body        string      `json:"body"`
	ContentKind ContentKind `json:"contentKind"`
	StatusCode  int         `json:"statusCode"`

	LastModifiedAt time.Time `json:"lastModifiedAt"`
}
