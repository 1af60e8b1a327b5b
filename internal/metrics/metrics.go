// Package metrics keeps the service counters and exposes them in the
// Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// CounterVec is a counter partitioned by at most one label. A vec without a
// label name has a single series and ignores the label value it is given.
type CounterVec struct {
	vec      *prometheus.CounterVec
	labelled bool
}

func newCounterVec(name, help, label string) *CounterVec {
	var labels []string
	if label != "" {
		labels = []string{label}
	}
	c := &CounterVec{
		vec:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels),
		labelled: label != "",
	}
	if !c.labelled {
		// expose the single series at 0 before the first increment
		c.vec.WithLabelValues()
	}
	return c
}

func (c *CounterVec) Inc(labelValue string) { c.Add(labelValue, 1) }

// Add increases the series for labelValue. Negative values are ignored.
func (c *CounterVec) Add(labelValue string, v float64) {
	if c == nil || v < 0 {
		return
	}
	c.counter(labelValue).Add(v)
}

func (c *CounterVec) Value(labelValue string) float64 {
	var m dto.Metric
	if err := c.counter(labelValue).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func (c *CounterVec) counter(labelValue string) prometheus.Counter {
	if !c.labelled {
		return c.vec.WithLabelValues()
	}
	return c.vec.WithLabelValues(labelValue)
}

// Registry holds the service counters on a private Prometheus registry.
type Registry struct {
	Captured        *CounterVec
	CaptureFailures *CounterVec
	RateLimited     *CounterVec
	Replies         *CounterVec
	Configured      *CounterVec
	EventsDropped   *CounterVec
	Proxied         *CounterVec
	Replays         *CounterVec

	reg *prometheus.Registry
}

func New() *Registry {
	r := &Registry{
		Captured:        newCounterVec("echohook_requests_captured_total", "Requests captured, by content kind.", "content_kind"),
		CaptureFailures: newCounterVec("echohook_capture_failures_total", "Requests that could not be captured, by reason.", "reason"),
		RateLimited:     newCounterVec("echohook_requests_rate_limited_total", "Requests refused by the rate limiter.", ""),
		Replies:         newCounterVec("echohook_replies_total", "Replies sent to captured requests, by source.", "source"),
		Configured:      newCounterVec("echohook_responses_configured_total", "Configured response upserts.", ""),
		EventsDropped:   newCounterVec("echohook_events_dropped_total", "Live events not delivered to slow subscribers.", ""),
		Proxied:         newCounterVec("echohook_proxy_requests_total", "Requests recorded by the capture proxy.", ""),
		Replays:         newCounterVec("echohook_replays_total", "Replayed requests, by outcome.", "outcome"),
		reg:             prometheus.NewRegistry(),
	}
	for _, c := range []*CounterVec{r.Captured, r.CaptureFailures, r.RateLimited, r.Replies, r.Configured, r.EventsDropped, r.Proxied, r.Replays} {
		r.reg.MustRegister(c.vec)
	}
	return r
}

// Gather returns the current metric families sorted by name. Labelled
// counters that were never incremented are absent.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.reg.Gather()
}

func (r *Registry) WriteText(w io.Writer) error {
	families, err := r.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry on GET.
func (r *Registry) Handler(logger *slog.Logger) http.Handler {
	h := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{
		ErrorLog:      errorLog{logger},
		ErrorHandling: promhttp.ContinueOnError,
	})
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, req)
	})
}

type errorLog struct {
	logger *slog.Logger
}

func (l errorLog) Println(v ...any) {
	l.logger.Error("write metrics", "error", fmt.Sprint(v...))
}
