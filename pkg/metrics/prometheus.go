package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	phaseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_phase_total",
			Help: "Total number of pipeline phases run, by outcome",
		},
		[]string{"phase", "outcome"},
	)

	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shield_phase_duration_seconds",
			Help:    "Pipeline phase duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"phase"},
	)
)

// RegisterCollectors registers the pipeline collectors with registerer
func RegisterCollectors(registerer prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{phaseTotal, phaseDuration} {
		if err := registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// ObservePhase records the outcome and duration of a pipeline phase
func ObservePhase(phase string, start time.Time, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}

	phaseTotal.WithLabelValues(phase, outcome).Inc()
	phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}
