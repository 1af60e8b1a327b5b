package dispatch

import (
	"context"
	"time"

	"echohook/internal/types"
)

// GetRequest returns one captured request, or types.ErrNotFound.
func (d *Dispatcher) GetRequest(ctx context.Context, tenantID, id string) (*types.CapturedRequest, error) {
	return d.requests.GetRequest(ctx, tenantID, id)
}

// ListRequests returns summaries of the requests captured within [from, to],
// newest first.
func (d *Dispatcher) ListRequests(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]types.RequestSummary, error) {
	reqs, err := d.ExportRequests(ctx, tenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.RequestSummary, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Summary())
	}
	return out, nil
}

// ExportRequests is ListRequests with the full records.
func (d *Dispatcher) ExportRequests(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]*types.CapturedRequest, error) {
	if to.Before(from) {
		return nil, types.Validationf("Invalid range: from must not be after to.")
	}
	return d.requests.RangeRequests(ctx, tenantID, from, to, limit)
}

func (d *Dispatcher) PurgeRequests(ctx context.Context, tenantID string) (int, error) {
	n, err := d.requests.PurgeRequests(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	d.logger.Info("requests purged", "tenant", tenantID, "count", n)
	return n, nil
}

// ConfigureResponse validates in and creates or updates the rule for its path.
func (d *Dispatcher) ConfigureResponse(ctx context.Context, tenantID string, in ConfigureInput) (*types.ConfiguredResponse, error) {
	if err := ValidateConfigure(in); err != nil {
		return nil, err
	}
	kind, _ := types.ParseContentKind(in.ContentKind)
	rule, err := d.responses.Upsert(ctx, tenantID, in.Path, in.Body, kind, in.StatusCode)
	if err != nil {
		return nil, err
	}
	d.metrics.Configured.Inc("")
	d.logger.Info("response configured", "tenant", tenantID, "path", rule.Path, "status", rule.StatusCode, "kind", rule.ContentKind)
	return rule, nil
}

func (d *Dispatcher) DeleteResponse(ctx context.Context, tenantID, path string) error {
	return d.responses.Delete(ctx, tenantID, path)
}

func (d *Dispatcher) ListResponses(ctx context.Context, tenantID string) ([]*types.ConfiguredResponse, error) {
	return d.responses.List(ctx, tenantID)
}

func (d *Dispatcher) PurgeResponses(ctx context.Context, tenantID string) (int, error) {
	n, err := d.responses.PurgeAll(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	d.logger.Info("responses purged", "tenant", tenantID, "count", n)
	return n, nil
}
