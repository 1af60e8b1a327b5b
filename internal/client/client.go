// Package client is a typed client for the echohook management API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"echohook/internal/replay"
	"echohook/internal/types"
)

// APIError is a non-2xx answer from the server. A 404 unwraps to
// types.ErrNotFound.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("echohook: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return types.ErrNotFound
	}
	return nil
}

type Client struct {
	base     *url.URL
	tenantID string
	http     *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func New(baseURL, tenantID string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	id, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id %q: %w", tenantID, err)
	}
	c := &Client{
		base:     base,
		tenantID: id.String(),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) TenantID() string { return c.tenantID }

// ConfigureRequest is the body of a response configuration call. A nil
// StatusCode lets the server apply its default.
type ConfigureRequest struct {
	Path        string `json:"path"`
	Body        string `json:"body"`
	ContentKind string `json:"contentKind"`
	StatusCode  *int   `json:"statusCode,omitempty"`
}

func (c *Client) ListResponses(ctx context.Context) ([]*types.ConfiguredResponse, error) {
	var out []*types.ConfiguredResponse
	err := c.do(ctx, http.MethodGet, "/responses", nil, nil, &out)
	return out, err
}

func (c *Client) ConfigureResponse(ctx context.Context, in ConfigureRequest) (*types.ConfiguredResponse, error) {
	var out types.ConfiguredResponse
	if err := c.do(ctx, http.MethodPost, "/responses", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteResponse(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/responses", url.Values{"path": {path}}, nil, nil)
}

func (c *Client) PurgeResponses(ctx context.Context) (int, error) {
	var out purgeResult
	err := c.do(ctx, http.MethodDelete, "/responses", url.Values{"all": {"true"}}, nil, &out)
	return out.Deleted, err
}

// ListRequests lists capture summaries, newest first. Zero bounds and a zero
// limit leave the server defaults in place.
func (c *Client) ListRequests(ctx context.Context, from, to time.Time, limit int) ([]types.RequestSummary, error) {
	q := rangeQuery(from, to)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []types.RequestSummary
	err := c.do(ctx, http.MethodGet, "/requests", q, nil, &out)
	return out, err
}

func (c *Client) GetRequest(ctx context.Context, id string) (*types.CapturedRequest, error) {
	var out types.CapturedRequest
	if err := c.do(ctx, http.MethodGet, "/requests/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RawRequest returns the capture rendered as an HTTP/1.1 message.
func (c *Client) RawRequest(ctx context.Context, id string) (string, error) {
	var buf bytes.Buffer
	if err := c.stream(ctx, http.MethodGet, "/requests/"+url.PathEscape(id), url.Values{"format": {"raw"}}, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (c *Client) PurgeRequests(ctx context.Context) (int, error) {
	var out purgeResult
	err := c.do(ctx, http.MethodDelete, "/requests", nil, nil, &out)
	return out.Deleted, err
}

// ExportHAR copies the HAR document for the range into w.
func (c *Client) ExportHAR(ctx context.Context, from, to time.Time, w io.Writer) error {
	return c.stream(ctx, http.MethodGet, "/export/har", rangeQuery(from, to), w)
}

func (c *Client) Replay(ctx context.Context, id, target string) (*replay.Result, error) {
	var out replay.Result
	if err := c.do(ctx, http.MethodPost, "/replay/"+url.PathEscape(id), url.Values{"target": {target}}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReplayRange(ctx context.Context, from, to time.Time, target string) ([]replay.Result, error) {
	q := rangeQuery(from, to)
	q.Set("target", target)
	var out []replay.Result
	err := c.do(ctx, http.MethodPost, "/replay", q, nil, &out)
	return out, err
}

type purgeResult struct {
	Deleted int `json:"deleted"`
}

func rangeQuery(from, to time.Time) url.Values {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.UTC().Format(time.RFC3339))
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	resp, err := c.send(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) stream(ctx context.Context, method, path string, q url.Values, w io.Writer) error {
	resp, err := c.send(ctx, method, path, q, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

// send performs the call and turns any non-2xx status into an *APIError.
func (c *Client) send(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Response, error) {
	u := *c.base
	u.Path = strings.TrimSuffix(c.base.Path, "/") + "/" + c.tenantID + path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		apiErr.Message = e.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return nil, apiErr
}

// IsValidation reports whether err is a 400 from the server.
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest
}
