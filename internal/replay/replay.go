// Package replay re-sends captured requests to another endpoint.
package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"echohook/internal/metrics"
	"echohook/internal/types"
)

const maxResponseBody = 1 << 20

// Source is where captures are read from.
type Source interface {
	GetRequest(ctx context.Context, tenantID, id string) (*types.CapturedRequest, error)
	RangeRequests(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]*types.CapturedRequest, error)
}

type Result struct {
	ID         string      `json:"id"`
	Status     int         `json:"status"`
	DurationMs int64       `json:"durationMs"`
	Body       string      `json:"body,omitempty"`
	Headers    http.Header `json:"headers,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type Replayer struct {
	source  Source
	client  *http.Client
	limiter *rate.Limiter
	metrics *metrics.Registry
	logger  *slog.Logger
}

// New returns a Replayer sending at most rps requests per second when
// replaying a range. rps <= 0 means no pacing.
func New(source Source, client *http.Client, rps float64, reg *metrics.Registry, logger *slog.Logger) *Replayer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if reg == nil {
		reg = metrics.New()
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Replayer{
		source:  source,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		metrics: reg,
		logger:  logger.With("component", "replay"),
	}
}

// Replay sends one capture to target. A transport failure is reported in
// the result with status 0, not as an error.
func (p *Replayer) Replay(ctx context.Context, tenantID, id, target string) (*Result, error) {
	base, err := parseTarget(target)
	if err != nil {
		return nil, err
	}
	req, err := p.source.GetRequest(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	res := p.send(ctx, base, req)
	return &res, nil
}

// ReplayRange sends the captures made within [from, to] to target, oldest
// first, paced by the replayer's rate.
func (p *Replayer) ReplayRange(ctx context.Context, tenantID string, from, to time.Time, target string) ([]Result, error) {
	base, err := parseTarget(target)
	if err != nil {
		return nil, err
	}
	reqs, err := p.source.RangeRequests(ctx, tenantID, from, to, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(reqs))
	for i := len(reqs) - 1; i >= 0; i-- {
		if err := p.limiter.Wait(ctx); err != nil {
			return out, err
		}
		out = append(out, p.send(ctx, base, reqs[i]))
	}
	p.logger.Info("range replayed", "tenant", tenantID, "count", len(out), "target", base.Redacted())
	return out, nil
}

func (p *Replayer) send(ctx context.Context, base *url.URL, c *types.CapturedRequest) Result {
	res := Result{ID: c.ID}
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, c.Method, targetURL(base, c), strings.NewReader(c.Body))
	if err != nil {
		res.Error = err.Error()
		p.metrics.Replays.Inc("error")
		return res
	}
	for _, kv := range types.SplitKV(c.Headers) {
		switch http.CanonicalHeaderKey(kv.Key) {
		case "Host", "Content-Length":
			continue
		}
		httpReq.Header.Add(kv.Key, kv.Value)
	}

	resp, err := p.client.Do(httpReq)
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		p.metrics.Replays.Inc("error")
		p.logger.Warn("replay failed", "id", c.ID, "error", err)
		return res
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	res.Status = resp.StatusCode
	res.Body = string(body)
	res.Headers = resp.Header.Clone()
	p.metrics.Replays.Inc("sent")
	return res
}

func parseTarget(target string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, types.Validationf("Target must be an absolute http(s) URL.")
	}
	return u, nil
}

// targetURL maps the capture's path below its tenant segment onto base.
func targetURL(base *url.URL, c *types.CapturedRequest) string {
	rest := c.Path
	n := len(c.TenantID) + 1
	if len(rest) > n && rest[n] == '/' && strings.EqualFold(rest[1:n], c.TenantID) {
		rest = rest[n:]
	} else if strings.EqualFold(strings.TrimPrefix(rest, "/"), c.TenantID) {
		rest = ""
	}
	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + rest
	u.RawPath = ""
	if q := strings.TrimPrefix(c.QueryString, "?"); q != "" {
		u.RawQuery = q
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

func (r Result) String() string {
	if r.Error != "" {
		return fmt.Sprintf("%s: error %s", r.ID, r.Error)
	}
	return fmt.Sprintf("%s: %d in %dms", r.ID, r.Status, r.DurationMs)
}
