package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ppiankov/riskwatch/internal/alert"
	"github.com/ppiankov/riskwatch/internal/model"
)

// Metrics holds the engine's Prometheus collectors. Exposition is left to
// the host; the engine only records.
type Metrics struct {
	checksTotal      *prometheus.CounterVec
	blockedTotal     prometheus.Counter
	alertsTotal      *prometheus.CounterVec
	sequenceTotal    *prometheus.CounterVec
	finalScore       prometheus.Histogram
	callbackFailures *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg. A nil reg uses a
// private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskwatch_checks_total",
				Help: "Commands checked, by assessed risk level",
			},
			[]string{"level"},
		),
		blockedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "riskwatch_blocked_total",
				Help: "Commands blocked",
			},
		),
		alertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskwatch_alerts_sent_total",
				Help: "Alerts sent, by alert type",
			},
			[]string{"type"},
		),
		sequenceTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskwatch_sequence_alerts_total",
				Help: "Sequence pattern detections, by pattern",
			},
			[]string{"pattern"},
		),
		finalScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskwatch_final_score",
				Help:    "Final risk score of checked commands",
				Buckets: []float64{0, 15, 40, 70, 90, 100},
			},
		),
		callbackFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskwatch_callback_failures_total",
				Help: "Pre/post check callback failures",
			},
			[]string{"stage"},
		),
	}
}

func (m *Metrics) observeCheck(level model.RiskLevel, score int, blocked bool) {
	m.checksTotal.WithLabelValues(level.String()).Inc()
	m.finalScore.Observe(float64(score))
	if blocked {
		m.blockedTotal.Inc()
	}
}

func (m *Metrics) observeAlert(t alert.Type) {
	m.alertsTotal.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) observeSequence(pattern string) {
	m.sequenceTotal.WithLabelValues(pattern).Inc()
}

func (m *Metrics) observeCallbackFailure(stage string) {
	m.callbackFailures.WithLabelValues(stage).Inc()
}
