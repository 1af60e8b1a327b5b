// Package capture turns an inbound HTTP request into the normalized textual
// record stored for a tenant.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"echohook/internal/types"
)

const DefaultMaxBodyBytes = 10 << 20 // 10 MiB

var (
	ErrMalformedJSON   = errors.New("malformed JSON body")
	ErrMalformedForm   = errors.New("malformed form body")
	ErrNoClientAddress = errors.New("cannot determine client address")
)

// Result is everything captured from one request.
type Result struct {
	Method        string
	Path          string
	QueryString   string
	Headers       []types.KV
	// HeaderBlock lists Host first and then the remaining headers sorted by
	// name: net/http keeps neither the wire order nor Host in r.Header.
	HeaderBlock   string
	Body          string
	Kind          types.ContentKind
	ClientAddress string
}

// Record converts the result into a stored request for tenantID.
func (r *Result) Record(id, tenantID string) *types.CapturedRequest {
	return &types.CapturedRequest{
		ID:            id,
		TenantID:      tenantID,
		Method:        r.Method,
		Path:          r.Path,
		QueryString:   r.QueryString,
		ClientAddress: r.ClientAddress,
		Headers:       r.HeaderBlock,
		Body:          r.Body,
		ContentKind:   r.Kind,
	}
}

type Capturer struct {
	maxBodyBytes int64
}

type Option func(*Capturer)

// WithMaxBodyBytes caps how much of a body is read. Values <= 0 keep the default.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Capturer) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

func New(opts ...Option) *Capturer {
	c := &Capturer{maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture reads the request body and renders it according to the declared
// content type. The body is put back on r so it can still be forwarded.
func (c *Capturer) Capture(ctx context.Context, r *http.Request) (*Result, error) {
	addr, err := ClientAddress(r)
	if err != nil {
		return nil, err
	}

	raw, err := c.readBody(r)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contentType := r.Header.Get(HeaderContentType)
	kind := Classify(contentType)
	body, err := renderBody(kind, contentType, raw)
	if err != nil {
		return nil, err
	}

	headers := HeaderPairs(r)
	res := &Result{
		Method:        r.Method,
		Path:          r.URL.Path,
		Headers:       headers,
		HeaderBlock:   types.JoinKV(headers),
		Body:          body,
		Kind:          kind,
		ClientAddress: addr,
	}
	if r.URL.RawQuery != "" {
		res.QueryString = "?" + r.URL.RawQuery
	}
	return res, nil
}

func (c *Capturer) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(r.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(raw)) > c.maxBodyBytes {
		return nil, &http.MaxBytesError{Limit: c.maxBodyBytes}
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}
