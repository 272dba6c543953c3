package usecase

import (
	"time"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
)

// SagaMetrics captures telemetry hooks of the command processor.
type SagaMetrics interface {
	ObserveTransition(from, to domain.SagaState)
	ObserveFinalized(state domain.SagaState, lifetime time.Duration)
	ObservePublishWait(wait time.Duration)
	IncDiscarded(message string)
}

// SchedulerMetrics captures telemetry hooks of the assignment scheduler.
type SchedulerMetrics interface {
	ObserveSweep(result string, duration time.Duration)
	AddAssignmentEvents(count int)
	IncAssignmentError()
}

type noopMetrics struct{}

func (noopMetrics) ObserveTransition(domain.SagaState, domain.SagaState) {}
func (noopMetrics) ObserveFinalized(domain.SagaState, time.Duration) {}
func (noopMetrics) ObservePublishWait(time.Duration) {}
func (noopMetrics) IncDiscarded(string) {}
func (noopMetrics) ObserveSweep(string, time.Duration) {}
func (noopMetrics) AddAssignmentEvents(int) {}
func (noopMetrics) IncAssignmentError() {}
