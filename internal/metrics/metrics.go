// Package metrics holds the Prometheus collectors for deployments and
// provider calls.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	// Saga metrics
	SagaStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appinit",
			Subsystem: "saga",
			Name:      "steps_total",
			Help:      "Total number of saga steps by result",
		},
		[]string{"step", "result"},
	)

	SagaStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "appinit",
			Subsystem: "saga",
			Name:      "step_duration_seconds",
			Help:      "Duration of saga steps in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27m
		},
		[]string{"step"},
	)

	SagaOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appinit",
			Subsystem: "saga",
			Name:      "outcomes_total",
			Help:      "Total number of deployments by terminal outcome",
		},
		[]string{"outcome"},
	)

	// Provider metrics
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appinit",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total number of provider API calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "appinit",
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Duration of provider API calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"operation"},
	)
)

// Register adds all collectors to reg. Collectors that are already
// registered are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		SagaStepsTotal,
		SagaStepDuration,
		SagaOutcomesTotal,
		ProviderCallsTotal,
		ProviderCallDuration,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// RecordStep records a finished saga step.
func RecordStep(step string, err error, duration time.Duration) {
	SagaStepsTotal.WithLabelValues(step, result(err)).Inc()
	SagaStepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordOutcome records the terminal outcome of a deployment.
func RecordOutcome(outcome string) {
	SagaOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordProviderCall records a finished provider call.
func RecordProviderCall(operation string, err error, duration time.Duration) {
	ProviderCallsTotal.WithLabelValues(operation, result(err)).Inc()
	ProviderCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
