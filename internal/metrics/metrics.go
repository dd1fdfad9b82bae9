package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds the gateway's Prometheus collectors on a private registry so that
// independent gateway instances never collide. A nil *Collectors discards everything.
type Collectors struct {
	registry *prometheus.Registry

	calls     *prometheus.CounterVec
	attempts  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	remaining *prometheus.GaugeVec
}

func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "provider_gateway",
				Name:      "calls_total",
				Help:      "Total number of gateway calls by outcome.",
			},
			[]string{"provider", "outcome"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "provider_gateway",
				Name:      "attempts_total",
				Help:      "Total number of outbound HTTP attempts, including retries.",
			},
			[]string{"provider", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "provider_gateway",
				Name:      "call_duration_seconds",
				Help:      "Duration of gateway calls including retries and backoff.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"provider"},
		),
		remaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "provider_gateway",
				Name:      "quota_remaining",
				Help:      "Calls still permitted in the provider's current window.",
			},
			[]string{"provider"},
		),
	}

	c.registry.MustRegister(
		c.calls,
		c.attempts,
		c.duration,
		c.remaining,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return c
}

func (c *Collectors) ObserveCall(provider, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(provider, outcome).Inc()
	c.duration.WithLabelValues(provider).Observe(d.Seconds())
}

func (c *Collectors) ObserveAttempt(provider, result string) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(provider, result).Inc()
}

func (c *Collectors) SetRemaining(provider string, remaining int) {
	if c == nil {
		return
	}
	c.remaining.WithLabelValues(provider).Set(float64(remaining))
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
