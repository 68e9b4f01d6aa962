package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 网关指标。nil *Metrics 上的方法都是空操作，测试里可以不注册。
type Metrics struct {
	sessions      prometheus.Gauge
	authenticated prometheus.Gauge
	inbound       *prometheus.CounterVec
	invalid       prometheus.Counter
	rateLimited   prometheus.Counter
	dropped       *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pprelay", Name: "sessions_active",
			Help: "Open websocket sessions.",
		}),
		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pprelay", Name: "users_registered",
			Help: "Identities currently present in the socket directory.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pprelay", Name: "inbound_events_total",
			Help: "Decoded client events by type.",
		}, []string{"type"}),
		invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pprelay", Name: "inbound_invalid_total",
			Help: "Inbound frames dropped as malformed.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pprelay", Name: "inbound_rate_limited_total",
			Help: "Inbound events dropped by the per-connection limiter.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pprelay", Name: "outbound_dropped_total",
			Help: "Outbound events not queued because the recipient was unreachable.",
		}, []string{"type"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pprelay", Name: "store_errors_total",
			Help: "Persistence gateway failures by operation.",
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pprelay", Name: "dispatch_seconds",
			Help:    "Handler latency by event type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.sessions, m.authenticated, m.inbound, m.invalid,
			m.rateLimited, m.dropped, m.storeErrors, m.latency)
	}
	return m
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) SetAuthenticated(n int) {
	if m != nil {
		m.authenticated.Set(float64(n))
	}
}

func (m *Metrics) Inbound(t string) {
	if m != nil {
		m.inbound.WithLabelValues(t).Inc()
	}
}

func (m *Metrics) Invalid() {
	if m != nil {
		m.invalid.Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) Dropped(t string) {
	if m != nil {
		m.dropped.WithLabelValues(t).Inc()
	}
}

func (m *Metrics) StoreError(op string) {
	if m != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Observe(t string, since time.Time) {
	if m != nil {
		m.latency.WithLabelValues(t).Observe(time.Since(since).Seconds())
	}
}
