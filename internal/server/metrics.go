package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"researchbuddy/internal/models"
)

type metrics struct {
	turns       *prometheus.CounterVec
	turnLatency *prometheus.HistogramVec
	images      *prometheus.CounterVec
	sessions    prometheus.Gauge
	adminDenied prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchbuddy",
			Name:      "turns_total",
			Help:      "Conversation turns by model and outcome.",
		}, []string{"model", "outcome"}),
		turnLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "researchbuddy",
			Name:      "turn_duration_seconds",
			Help:      "Time spent waiting on the completion service per turn.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"model"}),
		images: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchbuddy",
			Name:      "image_generations_total",
			Help:      "Image generation requests by outcome.",
		}, []string{"outcome"}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "researchbuddy",
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory.",
		}),
		adminDenied: f.NewCounter(prometheus.CounterOpts{
			Namespace: "researchbuddy",
			Name:      "admin_denied_total",
			Help:      "Admin requests rejected for a bad password or rate limit.",
		}),
	}
}

func outcome(err *models.TurnError) string {
	if err == nil {
		return "ok"
	}
	return string(err.Kind)
}

func (m *metrics) observeTurn(res models.TurnResult) {
	m.turns.WithLabelValues(res.ModelID, outcome(res.Err)).Inc()
	if res.Elapsed > 0 {
		m.turnLatency.WithLabelValues(res.ModelID).Observe(res.Elapsed.Seconds())
	}
}

func (m *metrics) observeImage(res models.ImageResult) {
	m.images.WithLabelValues(outcome(res.Err)).Inc()
}
