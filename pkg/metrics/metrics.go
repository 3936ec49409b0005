// pkg/metrics/metrics.go
//
// Prometheus collectors updated by the tick loop:
//   - crossbot_signals_total{action,reason}      detector decisions
//   - crossbot_transitions_total{status,reason}  position manager outcomes
//   - crossbot_notify_failures_total             failed notification fan-outs
//   - crossbot_tick_duration_seconds             one key evaluation, feed read to commit
//   - crossbot_quote_free                        free balance of the quote asset
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	Signals        *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
	NotifyFailures prometheus.Counter
	TickDuration   prometheus.Histogram
	QuoteFree      prometheus.Gauge
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossbot_signals_total",
				Help: "Signals computed, by action and reason",
			},
			[]string{"action", "reason"},
		),

		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossbot_transitions_total",
				Help: "Position manager outcomes, by status and reason",
			},
			[]string{"status", "reason"},
		),

		NotifyFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crossbot_notify_failures_total",
				Help: "Trade notifications that failed in at least one sink",
			},
		),

		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crossbot_tick_duration_seconds",
				Help:    "Duration of one key evaluation",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),

		QuoteFree: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crossbot_quote_free",
				Help: "Free balance of the quote asset",
			},
		),
	}

	r.reg.MustRegister(r.Signals, r.Transitions, r.NotifyFailures, r.TickDuration, r.QuoteFree)
	r.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return r
}

func (r *Registry) ObserveSignal(action, reason string) {
	r.Signals.WithLabelValues(action, reason).Inc()
}

func (r *Registry) ObserveTransition(status, reason string) {
	r.Transitions.WithLabelValues(status, reason).Inc()
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
