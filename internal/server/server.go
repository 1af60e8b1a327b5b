// Package server is the HTTP boundary: the tenant management API, the live
// feed, and the catch-all that hands every other tenant request to the
// dispatcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"

	"echohook/internal/config"
	"echohook/internal/dispatch"
	"echohook/internal/events"
	"echohook/internal/metrics"
	"echohook/internal/ratelimit"
	"echohook/internal/replay"
	"echohook/internal/types"
)

type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Limiter    *ratelimit.Limiter
	Events     *events.Broker
	// Replayer is nil when replay is disabled.
	Replayer *replay.Replayer
	Metrics  *metrics.Registry
	Clock    clockwork.Clock
	Version  string
}

type Server struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	events     *events.Broker
	replayer   *replay.Replayer
	metrics    *metrics.Registry
	clock      clockwork.Clock
	version    string

	rateLimit func(http.Handler) http.Handler
	router    *httprouter.Router
	server    *http.Server
	logger    *slog.Logger
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Dispatcher == nil {
		return nil, errors.New("server: dispatcher is required")
	}
	s := &Server{
		cfg:        cfg,
		dispatcher: deps.Dispatcher,
		events:     deps.Events,
		replayer:   deps.Replayer,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		version:    deps.Version,
		rateLimit:  ratelimit.Middleware(ratelimit.Options{Limiter: deps.Limiter}),
		logger:     logger.With("component", "server"),
	}
	if s.events == nil {
		s.events = events.NewBroker()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *httprouter.Router {
	r := httprouter.New()
	// Every path the API does not claim belongs to the tenant and must reach
	// the catch-all unchanged.
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.HandleMethodNotAllowed = false
	r.HandleOPTIONS = false
	r.NotFound = http.HandlerFunc(s.catchAll)
	r.PanicHandler = s.panicked

	r.GET("/", s.handleRoot)

	r.GET("/:tenant/requests", s.tenant(s.handleListRequests))
	r.DELETE("/:tenant/requests", s.tenant(s.handlePurgeRequests))
	r.GET("/:tenant/requests/:id", s.tenant(s.handleGetRequest))

	r.GET("/:tenant/responses", s.tenant(s.handleListResponses))
	r.POST("/:tenant/responses", s.tenant(s.handleConfigureResponse))
	r.DELETE("/:tenant/responses", s.tenant(s.handleDeleteResponse))

	r.GET("/:tenant/export/har", s.tenant(s.handleExportHAR))
	r.GET("/:tenant/events", s.tenant(s.handleEvents))
	r.GET("/:tenant/favicon.ico", s.tenant(s.handleFavicon))

	if s.replayer != nil {
		r.POST("/:tenant/replay", s.tenant(s.handleReplayRange))
		r.POST("/:tenant/replay/:id", s.tenant(s.handleReplay))
	}
	return r
}

// ServeHTTP serves the process endpoints and routes everything else.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/healthz":
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	case "/metrics":
		s.metrics.Handler(s.logger).ServeHTTP(w, r)
	default:
		s.router.ServeHTTP(w, r)
	}
}

type tenantHandle func(w http.ResponseWriter, r *http.Request, tenantID string, ps httprouter.Params)

// tenant rate limits an API route and resolves its tenant parameter.
func (s *Server) tenant(h tenantHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		tenantID, ok := parseTenant(ps.ByName("tenant"))
		if !ok {
			s.writeError(w, r, types.ErrNotFound)
			return
		}
		s.rateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h(w, r, tenantID, ps)
		})).ServeHTTP(w, r)
	}
}

func (s *Server) catchAll(w http.ResponseWriter, r *http.Request) {
	segment, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	tenantID, ok := parseTenant(segment)
	if !ok {
		s.writeError(w, r, types.ErrNotFound)
		return
	}

	reply, err := s.dispatcher.Dispatch(r.Context(), tenantID, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", reply.ContentType)
	if secs := int(reply.RetryAfter.Seconds()); secs > 0 {
		w.Header().Set("Retry-After", fmt.Sprint(secs))
	}
	w.WriteHeader(reply.StatusCode)
	_, _ = w.Write([]byte(reply.Body))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	http.Redirect(w, r, "/"+uuid.NewString()+"/responses", http.StatusFound)
}

func (s *Server) handleFavicon(w http.ResponseWriter, _ *http.Request, _ string, _ httprouter.Params) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) panicked(w http.ResponseWriter, r *http.Request, v any) {
	s.logger.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", v)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

func (s *Server) Shutdown() error {
	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// parseTenant accepts a UUID in any textual form and returns it canonical.
func parseTenant(raw string) (string, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
