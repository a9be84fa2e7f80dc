package proxy

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Metrics holds the proxy's Prometheus collectors. A nil Metrics is
// valid and records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	tokens   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics builds and registers the collectors. Registering against
// an already-populated registry reuses the existing collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webtosite",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxied chat completion requests",
		}, []string{"provider", "model", "status"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webtosite",
			Subsystem: "proxy",
			Name:      "tokens_total",
			Help:      "Total tokens billed through the proxy",
		}, []string{"provider", "model"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "webtosite",
			Subsystem: "proxy",
			Name:      "upstream_latency_seconds",
			Help:      "Latency distribution of upstream vendor calls",
			Buckets:   latencyBuckets,
		}, []string{"provider", "model", "status"}),
	}

	if reg != nil {
		m.requests = registerCounterVec(reg, m.requests)
		m.tokens = registerCounterVec(reg, m.tokens)
		m.latency = registerHistogramVec(reg, m.latency)
	}

	return m
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}

	return c
}

func registerHistogramVec(reg prometheus.Registerer, h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := reg.Register(h); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
	}

	return h
}

func (m *Metrics) observeRequest(provider, model string, status int, latency time.Duration) {
	if m == nil {
		return
	}

	labels := prometheus.Labels{
		"provider": provider,
		"model":    model,
		"status":   strconv.Itoa(status),
	}
	m.requests.With(labels).Inc()
	m.latency.With(labels).Observe(latency.Seconds())
}

func (m *Metrics) addTokens(provider, model string, total int) {
	if m == nil || total <= 0 {
		return
	}

	m.tokens.With(prometheus.Labels{"provider": provider, "model": model}).Add(float64(total))
}
