// Package dispatch is the entry point for every tenant-scoped request: it
// rate limits, captures, persists and answers with the configured reply. It
// also fronts the query and configuration operations of the HTTP API.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"echohook/internal/capture"
	"echohook/internal/events"
	"echohook/internal/metrics"
	"echohook/internal/ratelimit"
	"echohook/internal/responses"
	"echohook/internal/types"
)

const DefaultReplyBody = `{"message":"No response configured for this path"}`

// RequestRecords is the persistence for captured requests.
type RequestRecords interface {
	InsertRequest(ctx context.Context, req *types.CapturedRequest) error
	GetRequest(ctx context.Context, tenantID, id string) (*types.CapturedRequest, error)
	RangeRequests(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]*types.CapturedRequest, error)
	PurgeRequests(ctx context.Context, tenantID string) (int, error)
}

type Deps struct {
	Requests  RequestRecords
	Responses *responses.Store
	Capturer  *capture.Capturer
	Limiter   *ratelimit.Limiter
	Events    *events.Broker
	Metrics   *metrics.Registry
	Clock     clockwork.Clock
}

type Dispatcher struct {
	requests  RequestRecords
	responses *responses.Store
	capturer  *capture.Capturer
	limiter   *ratelimit.Limiter
	events    *events.Broker
	metrics   *metrics.Registry
	clock     clockwork.Clock
	logger    *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		requests:  deps.Requests,
		responses: deps.Responses,
		capturer:  deps.Capturer,
		limiter:   deps.Limiter,
		events:    deps.Events,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		logger:    logger.With("component", "dispatch"),
	}
	if d.capturer == nil {
		d.capturer = capture.New()
	}
	if d.metrics == nil {
		d.metrics = metrics.New()
	}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	return d
}

// Reply is what the transport writes back for a dispatched request.
type Reply struct {
	StatusCode  int
	ContentType string
	Body        string
	// RetryAfter is set on rate limited replies.
	RetryAfter time.Duration
}

// Dispatch handles one inbound request for tenantID. A request refused by the
// rate limiter gets a 429 reply and is not captured. Capture and store
// failures are returned and no reply is computed.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, r *http.Request) (*Reply, error) {
	dec := d.limiter.Allow(ctx, ratelimit.DefaultKeyFunc(r))
	if !dec.Allowed {
		d.metrics.RateLimited.Inc("")
		return &Reply{
			StatusCode:  http.StatusTooManyRequests,
			ContentType: "text/plain; charset=utf-8",
			Body:        ratelimit.Message,
			RetryAfter:  dec.RetryAfter,
		}, nil
	}

	if _, err := d.Capture(ctx, tenantID, r); err != nil {
		return nil, err
	}

	rule, found, err := d.responses.Find(ctx, tenantID, r.URL.Path)
	if err != nil {
		return nil, fmt.Errorf("find response: %w", err)
	}
	if !found {
		d.metrics.Replies.Inc("default")
		return &Reply{
			StatusCode:  http.StatusOK,
			ContentType: "application/json; charset=utf-8",
			Body:        DefaultReplyBody,
		}, nil
	}
	d.metrics.Replies.Inc("configured")
	return renderReply(rule), nil
}

func renderReply(rule *types.ConfiguredResponse) *Reply {
	contentType := rule.ContentKind.MIMEType()
	if rule.ContentKind.IsResponseKind() {
		contentType += "; charset=utf-8"
	}
	status := http.StatusOK
	if rule.StatusCode > 100 && rule.StatusCode < 600 {
		status = rule.StatusCode
	}
	return &Reply{StatusCode: status, ContentType: contentType, Body: rule.Body}
}

// Capture records r for tenantID without computing a reply.
func (d *Dispatcher) Capture(ctx context.Context, tenantID string, r *http.Request) (*types.CapturedRequest, error) {
	res, err := d.capturer.Capture(ctx, r)
	if err != nil {
		d.metrics.CaptureFailures.Inc(failureReason(err))
		d.logger.Info("capture failed", "tenant", tenantID, "path", r.URL.Path, "error", err)
		return nil, err
	}

	rec := res.Record(uuid.NewString(), tenantID)
	rec.CreatedAt = d.clock.Now().UTC()
	if err := d.requests.InsertRequest(ctx, rec); err != nil {
		return nil, fmt.Errorf("store request: %w", err)
	}
	d.metrics.Captured.Inc(rec.ContentKind.String())

	if dropped := d.events.Publish(tenantID, rec.Summary()); dropped > 0 {
		d.metrics.EventsDropped.Add("", float64(dropped))
	}
	d.logger.Debug("request captured", "tenant", tenantID, "id", rec.ID, "method", rec.Method, "path", rec.Path)
	return rec, nil
}

func failureReason(err error) string {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, capture.ErrMalformedJSON):
		return "malformed_json"
	case errors.Is(err, capture.ErrMalformedForm):
		return "malformed_form"
	case errors.Is(err, capture.ErrNoClientAddress):
		return "no_client_address"
	case errors.As(err, &maxErr):
		return "body_too_large"
	default:
		return "other"
	}
}
