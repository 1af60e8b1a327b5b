// Package proxy is a forward HTTP proxy that records every request passing
// through it under one tenant before sending it on.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elazarl/goproxy"

	"echohook/internal/metrics"
	"echohook/internal/types"
)

// Recorder persists a request for a tenant.
type Recorder interface {
	Capture(ctx context.Context, tenantID string, r *http.Request) (*types.CapturedRequest, error)
}

type Proxy struct {
	tenantID string
	recorder Recorder
	metrics  *metrics.Registry
	logger   *slog.Logger
	server   *goproxy.ProxyHttpServer
}

func NewProxy(tenantID string, recorder Recorder, reg *metrics.Registry, logger *slog.Logger) *Proxy {
	if reg == nil {
		reg = metrics.New()
	}
	p := &Proxy{
		tenantID: tenantID,
		recorder: recorder,
		metrics:  reg,
		logger:   logger.With("component", "proxy", "tenant", tenantID),
		server:   goproxy.NewProxyHttpServer(),
	}
	p.server.Logger = slogPrintf{p.logger}
	p.server.OnRequest().DoFunc(p.record)
	return p
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.server.ServeHTTP(w, r)
}

func (p *Proxy) record(r *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	rec, err := p.recorder.Capture(r.Context(), p.tenantID, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			// the body was only partly read and cannot be forwarded
			return r, goproxy.NewResponse(r, goproxy.ContentTypeText, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		}
		p.logger.Warn("proxied request not recorded", "method", r.Method, "url", r.URL.Redacted(), "error", err)
		return r, nil
	}
	p.metrics.Proxied.Inc("")
	p.logger.Debug("proxied request recorded", "id", rec.ID, "method", rec.Method, "url", r.URL.Redacted())
	return r, nil
}

type slogPrintf struct {
	logger *slog.Logger
}

func (s slogPrintf) Printf(format string, v ...any) {
	s.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
