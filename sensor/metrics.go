package sensor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the sensor's Prometheus collectors.
type Metrics struct {
	Passes         *prometheus.CounterVec
	PassDuration   prometheus.Histogram
	PassErrors     prometheus.Counter
	PointerEvents  prometheus.Counter
	ClickMismatch  prometheus.Counter
	Alerts         prometheus.Counter
	IframesScanned prometheus.Histogram
}

// NewMetrics registers the sensor collectors on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Passes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clickguard_passes_total",
				Help: "Analysis passes by trigger and prediction",
			},
			[]string{"trigger", "prediction"},
		),
		PassDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "clickguard_pass_duration_seconds",
			Help:    "Duration of one analysis pass including classification",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		PassErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "clickguard_pass_errors_total",
			Help: "Passes aborted before classification",
		}),
		PointerEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "clickguard_pointer_events_total",
			Help: "Pointer-down events observed",
		}),
		ClickMismatch: f.NewCounter(prometheus.CounterOpts{
			Name: "clickguard_click_mismatch_total",
			Help: "Pointer-down events that landed on a transparent frame",
		}),
		Alerts: f.NewCounter(prometheus.CounterOpts{
			Name: "clickguard_alerts_total",
			Help: "Alerts emitted",
		}),
		IframesScanned: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "clickguard_iframes_per_pass",
			Help:    "Iframe count seen per pass",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
	}
}
