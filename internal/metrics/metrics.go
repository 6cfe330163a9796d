// Package metrics holds the Prometheus collectors of the quiz engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "movie_quiz"

type Metrics struct {
	RoundsStarted      prometheus.Counter
	RoundsEnded        *prometheus.CounterVec
	ActiveRounds       prometheus.Gauge
	Answers            *prometheus.CounterVec
	EvaluationFailures prometheus.Counter
	DailySubmissions   *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RoundsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_started_total",
			Help:      "Timed rounds started.",
		}),
		RoundsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_ended_total",
			Help:      "Timed rounds that reached a terminal state, by reason.",
		}, []string{"reason"}),
		ActiveRounds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rounds",
			Help:      "Rounds currently in progress.",
		}),
		Answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Evaluated answers, by result.",
		}, []string{"result"}),
		EvaluationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_failures_total",
			Help:      "Answers that could not be evaluated.",
		}),
		DailySubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_submissions_total",
			Help:      "Daily attempt submissions, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RoundStarted() {
	if m == nil {
		return
	}
	m.RoundsStarted.Inc()
	m.ActiveRounds.Inc()
}

func (m *Metrics) RoundEnded(reason string) {
	if m == nil {
		return
	}
	m.RoundsEnded.WithLabelValues(reason).Inc()
	m.ActiveRounds.Dec()
}

func (m *Metrics) Answer(result string) {
	if m == nil {
		return
	}
	m.Answers.WithLabelValues(result).Inc()
}

func (m *Metrics) EvaluationFailed() {
	if m == nil {
		return
	}
	m.EvaluationFailures.Inc()
}

func (m *Metrics) DailySubmission(outcome string) {
	if m == nil {
		return
	}
	m.DailySubmissions.WithLabelValues(outcome).Inc()
}
