package metrics

import "github.com/prometheus/client_golang/prometheus"

// AttributionMetrics exposes counters/histograms for the stitching engine.
type AttributionMetrics struct {
	resolutions      *prometheus.CounterVec
	conversions      *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	correlationDelay *prometheus.HistogramVec
	resolveDuration  prometheus.Histogram
	pendingExpired   prometheus.Counter
	webhookTotal     *prometheus.CounterVec
	webhookLatency   *prometheus.HistogramVec
}

func NewAttributionMetrics(reg prometheus.Registerer) *AttributionMetrics {
	m := &AttributionMetrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadstitch",
			Subsystem: "correlation",
			Name:      "resolutions_total",
			Help:      "Correlation outcomes by strategy (unresolved and organic included)",
		}, []string{"strategy"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadstitch",
			Subsystem: "conversion",
			Name:      "outcomes_total",
			Help:      "Lead conversion outcomes",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadstitch",
			Subsystem: "classifier",
			Name:      "status_transitions_total",
			Help:      "Lead funnel transitions applied by message classification",
		}, []string{"from", "to"}),
		correlationDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leadstitch",
			Subsystem: "correlation",
			Name:      "delay_seconds",
			Help:      "Delay between the click/form event and the first inbound message",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"strategy"}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "leadstitch",
			Subsystem: "correlation",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent running the ranked strategies",
			Buckets:   prometheus.DefBuckets,
		}),
		pendingExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leadstitch",
			Subsystem: "attribution",
			Name:      "pending_expired_total",
			Help:      "Pending attributions expired by the sweeper",
		}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadstitch",
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Total inbound WhatsApp webhook messages",
		}, []string{"direction", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leadstitch",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook and queue processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.resolutions, m.conversions, m.transitions, m.correlationDelay,
		m.resolveDuration, m.pendingExpired, m.webhookTotal, m.webhookLatency,
	)
	return m
}

func (m *AttributionMetrics) ObserveResolution(strategy string, seconds float64) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(strategy).Inc()
	m.resolveDuration.Observe(seconds)
}

func (m *AttributionMetrics) ObserveDelay(strategy string, seconds float64) {
	if m == nil || seconds < 0 {
		return
	}
	m.correlationDelay.WithLabelValues(strategy).Observe(seconds)
}

func (m *AttributionMetrics) ObserveConversion(outcome string) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(outcome).Inc()
}

func (m *AttributionMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *AttributionMetrics) ObservePendingExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.pendingExpired.Add(float64(n))
}

func (m *AttributionMetrics) ObserveWebhook(direction, status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(direction, status).Inc()
}

func (m *AttributionMetrics) ObserveLatency(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(stage).Observe(seconds)
}
