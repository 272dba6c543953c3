package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
)

const namespace = "profiles"

// register adds c to reg, reusing a collector that is already registered under the same name.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, err
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

// SagaMetrics records command saga activity.
type SagaMetrics struct {
	transitions *prometheus.CounterVec
	finalized   *prometheus.CounterVec
	duration    prometheus.Histogram
	publishWait prometheus.Histogram
	discarded   *prometheus.CounterVec
}

// NewSagaMetrics registers the saga collectors with reg.
func NewSagaMetrics(reg prometheus.Registerer) (*SagaMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	transitions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "transitions_total",
		Help:      "Saga state transitions partitioned by source and target state.",
	}, []string{"from", "to"}))
	if err != nil {
		return nil, fmt.Errorf("register saga transitions collector: %w", err)
	}

	finalized, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "finalized_total",
		Help:      "Sagas that reached a final state.",
	}, []string{"state"}))
	if err != nil {
		return nil, fmt.Errorf("register saga finalized collector: %w", err)
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "duration_seconds",
		Help:      "Time from submission until a saga is finalized.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}))
	if err != nil {
		return nil, fmt.Errorf("register saga duration collector: %w", err)
	}

	publishWait, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "publish_gate_wait_seconds",
		Help:      "Time spent waiting for the publish gate.",
		Buckets:   prometheus.DefBuckets,
	}))
	if err != nil {
		return nil, fmt.Errorf("register publish wait collector: %w", err)
	}

	discarded, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "discarded_messages_total",
		Help:      "Messages dropped because no saga accepted them.",
	}, []string{"message"}))
	if err != nil {
		return nil, fmt.Errorf("register discarded collector: %w", err)
	}

	return &SagaMetrics{
		transitions: transitions,
		finalized:   finalized,
		duration:    duration,
		publishWait: publishWait,
		discarded:   discarded,
	}, nil
}

// ObserveTransition implements usecase.SagaMetrics.
func (m *SagaMetrics) ObserveTransition(from, to domain.SagaState) {
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// ObserveFinalized implements usecase.SagaMetrics.
func (m *SagaMetrics) ObserveFinalized(state domain.SagaState, lifetime time.Duration) {
	m.finalized.WithLabelValues(state.String()).Inc()
	m.duration.Observe(lifetime.Seconds())
}

// ObservePublishWait implements usecase.SagaMetrics.
func (m *SagaMetrics) ObservePublishWait(wait time.Duration) {
	m.publishWait.Observe(wait.Seconds())
}

// IncDiscarded implements usecase.SagaMetrics.
func (m *SagaMetrics) IncDiscarded(message string) {
	m.discarded.WithLabelValues(message).Inc()
}

// SchedulerMetrics records temporary assignment sweeps.
type SchedulerMetrics struct {
	sweeps   *prometheus.CounterVec
	duration prometheus.Histogram
	events   prometheus.Counter
	errors   prometheus.Counter
}

// NewSchedulerMetrics registers the scheduler collectors with reg.
func NewSchedulerMetrics(reg prometheus.Registerer) (*SchedulerMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	sweeps, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assignment",
		Name:      "sweeps_total",
		Help:      "Assignment sweeps partitioned by result.",
	}, []string{"result"}))
	if err != nil {
		return nil, fmt.Errorf("register sweeps collector: %w", err)
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "assignment",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of assignment sweeps.",
		Buckets:   prometheus.DefBuckets,
	}))
	if err != nil {
		return nil, fmt.Errorf("register sweep duration collector: %w", err)
	}

	events, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assignment",
		Name:      "events_total",
		Help:      "Events written by assignment sweeps.",
	}))
	if err != nil {
		return nil, fmt.Errorf("register assignment events collector: %w", err)
	}

	errs, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assignment",
		Name:      "errors_total",
		Help:      "Assignments that failed during a sweep.",
	}))
	if err != nil {
		return nil, fmt.Errorf("register assignment errors collector: %w", err)
	}

	return &SchedulerMetrics{sweeps: sweeps, duration: duration, events: events, errors: errs}, nil
}

// ObserveSweep implements usecase.SchedulerMetrics.
func (m *SchedulerMetrics) ObserveSweep(result string, duration time.Duration) {
	m.sweeps.WithLabelValues(result).Inc()
	m.duration.Observe(duration.Seconds())
}

// AddAssignmentEvents implements usecase.SchedulerMetrics.
func (m *SchedulerMetrics) AddAssignmentEvents(count int) {
	if count > 0 {
		m.events.Add(float64(count))
	}
}

// IncAssignmentError implements usecase.SchedulerMetrics.
func (m *SchedulerMetrics) IncAssignmentError() {
	m.errors.Inc()
}
