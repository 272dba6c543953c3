package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/repository"
	"github.com/arklim/social-platform-profiles/internal/repository/memory"
)

type recordingNotifier struct {
	mu        sync.Mutex
	successes []domain.SubmitCommandSuccess
	failures  []domain.SubmitCommandFailure
	triggered []domain.ValidationTriggered
	err       error
}

func (n *recordingNotifier) PublishSubmitCommandSuccess(_ context.Context, msg domain.SubmitCommandSuccess) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.successes = append(n.successes, msg)
	return nil
}

func (n *recordingNotifier) PublishSubmitCommandFailure(_ context.Context, msg domain.SubmitCommandFailure) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.failures = append(n.failures, msg)
	return nil
}

func (n *recordingNotifier) PublishValidationTriggered(_ context.Context, msg domain.ValidationTriggered) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.triggered = append(n.triggered, msg)
	return nil
}

type failingPublisher struct {
	err   error
	calls int
}

func (p *failingPublisher) Publish(context.Context, domain.ProfileEvent, domain.PublishContext) error {
	p.calls++
	return p.err
}

type brokenFingerprints struct{}

func (brokenFingerprints) Claim(context.Context, string, time.Duration) (port.ClaimResult, error) {
	return 0, errors.New("redis: connection refused")
}

func (brokenFingerprints) Complete(context.Context, string) error { return nil }

func (brokenFingerprints) Release(context.Context, string) error { return nil }

type processorHarness struct {
	processor    *CommandProcessor
	sagas        *memory.SagaStore
	events       *memory.EventLog
	notifier     *recordingNotifier
	fingerprints *memory.FingerprintStore
}

const createdUserID = "2b1f0c8e-6a55-4c1e-9d7a-3f2a1b0c9d8e"

func newProcessorHarness(t *testing.T, external ExternalValidation, publisher port.EventPublisher) *processorHarness {
	t.Helper()

	registry := NewCommandRegistry()
	builtin := BuiltinCommands{
		NewID: func() string { return createdUserID },
		Now:   func() time.Time { return machineClock },
	}
	if err := builtin.Register(registry); err != nil {
		t.Fatalf("register builtin commands: %v", err)
	}

	h := &processorHarness{
		sagas:        memory.NewSagaStore(port.ConcurrencyOptimistic),
		events:       memory.NewEventLog(),
		notifier:     &recordingNotifier{},
		fingerprints: memory.NewFingerprintStore(),
	}
	if publisher == nil {
		publisher = h.events
	}

	machine := NewSagaMachine(registry, external).
		WithNow(func() time.Time { return machineClock }).
		WithIDGenerator(func() string { return "corr-1" })
	h.processor = NewCommandProcessor(h.sagas, machine, NewPublisherRegistry(publisher), h.notifier, h.fingerprints, nil, CommandProcessorOptions{}).
		WithLogger(zaptest.NewLogger(t)).
		WithNow(func() time.Time { return machineClock.Add(time.Minute) })
	return h
}

func createUserCommand(t *testing.T, name string) domain.SubmitCommand {
	t.Helper()
	data, err := json.Marshal(CreateUserPayload{Name: name})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return domain.SubmitCommand{
		Command:   domain.CommandCreateUser,
		Data:      data,
		Initiator: domain.Initiator{ID: "admin", Type: domain.InitiatorUser},
	}
}

func TestCommandProcessorCreateUserSucceeds(t *testing.T) {
	h := newProcessorHarness(t, nil, nil)
	ctx := context.Background()

	id, err := h.processor.Submit(ctx, createUserCommand(t, "Ada"))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if id != "corr-1" {
		t.Fatalf("unexpected correlation id %q", id)
	}

	saga, err := h.processor.GetSaga(ctx, id)
	if err != nil {
		t.Fatalf("GetSaga returned error: %v", err)
	}
	if saga.CurrentState != domain.SagaExecuted {
		t.Fatalf("expected Executed, got %s", saga.CurrentState)
	}

	stream := h.events.Stream(domain.ObjectIdent{ID: createdUserID, Type: domain.ObjectUser}.Stream())
	if len(stream) != 1 {
		t.Fatalf("expected one ProfileCreated on the user stream, got %d", len(stream))
	}
	created, ok := stream[0].(domain.ProfileCreated)
	if !ok {
		t.Fatalf("expected ProfileCreated, got %T", stream[0])
	}
	if created.Profile.Name != "Ada" || created.Metadata().CorrelationID != id {
		t.Fatalf("unexpected event %+v", created)
	}
	if got := h.sagas.Effects(); len(got) != 0 {
		t.Fatalf("dispatched effects must leave the outbox, %d left", len(got))
	}

	if err := h.processor.HandleProjectionSuccess(ctx, domain.CommandProjectionSuccess{ID: id}); err != nil {
		t.Fatalf("HandleProjectionSuccess returned error: %v", err)
	}

	if len(h.notifier.successes) != 1 {
		t.Fatalf("expected one success, got %d", len(h.notifier.successes))
	}
	success := h.notifier.successes[0]
	if success.EntityID != createdUserID || success.CommandID != id || success.Command != domain.CommandCreateUser {
		t.Fatalf("unexpected success %+v", success)
	}
	if len(h.notifier.failures) != 0 || len(h.notifier.triggered) != 0 {
		t.Fatalf("unexpected notifications: %+v %+v", h.notifier.failures, h.notifier.triggered)
	}
	if _, err := h.processor.GetSaga(ctx, id); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("finalized saga must be removed, got %v", err)
	}
}

func TestCommandProcessorExternalValidationRejects(t *testing.T) {
	h := newProcessorHarness(t, ExternalValidation{domain.CommandCreateUser: true}, nil)
	ctx := context.Background()

	id, err := h.processor.Submit(ctx, createUserCommand(t, "Ada"))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if len(h.notifier.triggered) != 1 || h.notifier.triggered[0].CollectingID != id {
		t.Fatalf("expected one validation trigger for %s, got %+v", id, h.notifier.triggered)
	}
	if len(h.events.Events()) != 0 {
		t.Fatalf("no event may be written before validation succeeded")
	}

	err = h.processor.HandleValidationResponse(ctx, domain.ValidationCompositeResponse{
		CollectingID: id,
		IsValid:      false,
		Errors:       []domain.ValidationError{{Message: "bad name"}},
	})
	if err != nil {
		t.Fatalf("HandleValidationResponse returned error: %v", err)
	}

	if len(h.notifier.failures) != 1 {
		t.Fatalf("expected one failure, got %d", len(h.notifier.failures))
	}
	failure := h.notifier.failures[0]
	if len(failure.Errors) != 1 || failure.Errors[0].Message != "bad name" {
		t.Fatalf("unexpected failure errors %+v", failure.Errors)
	}
	if len(h.notifier.successes) != 0 {
		t.Fatalf("rejected commands must not report success")
	}
	if _, err := h.processor.GetSaga(ctx, id); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("rejected saga must be removed, got %v", err)
	}
}

func TestCommandProcessorDuplicateSubmissionIgnored(t *testing.T) {
	h := newProcessorHarness(t, ExternalValidation{domain.CommandCreateUser: true}, nil)
	ctx := context.Background()

	msg := createUserCommand(t, "Ada")
	msg.ID = domain.CommandIdentifier{ID: "cmd-7"}
	for i := 0; i < 2; i++ {
		if _, err := h.processor.Submit(ctx, msg); err != nil {
			t.Fatalf("Submit %d returned error: %v", i, err)
		}
	}
	if len(h.notifier.triggered) != 1 {
		t.Fatalf("validation must be triggered once, got %d", len(h.notifier.triggered))
	}
}

func TestCommandProcessorDiscardsMessagesForUnknownSagas(t *testing.T) {
	h := newProcessorHarness(t, nil, nil)
	ctx := context.Background()

	if err := h.processor.HandleValidationResponse(ctx, domain.ValidationCompositeResponse{CollectingID: "nope", IsValid: true}); err != nil {
		t.Fatalf("HandleValidationResponse returned error: %v", err)
	}
	if err := h.processor.HandleProjectionFailure(ctx, domain.CommandProjectionFailure{ID: "nope"}); err != nil {
		t.Fatalf("HandleProjectionFailure returned error: %v", err)
	}
	if len(h.notifier.successes)+len(h.notifier.failures)+len(h.notifier.triggered) != 0 {
		t.Fatalf("messages for unknown sagas must not produce notifications")
	}
	if err := h.processor.HandleProjectionSuccess(ctx, domain.CommandProjectionSuccess{}); !errors.Is(err, ErrSagaIDRequired) {
		t.Fatalf("expected ErrSagaIDRequired, got %v", err)
	}
}

func TestCommandProcessorFinalizedSagaIgnoresLateMessages(t *testing.T) {
	h := newProcessorHarness(t, nil, nil)
	ctx := context.Background()

	id, err := h.processor.Submit(ctx, createUserCommand(t, "Ada"))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if err := h.processor.HandleProjectionSuccess(ctx, domain.CommandProjectionSuccess{ID: id}); err != nil {
		t.Fatalf("first HandleProjectionSuccess returned error: %v", err)
	}
	if err := h.processor.HandleProjectionSuccess(ctx, domain.CommandProjectionSuccess{ID: id}); err != nil {
		t.Fatalf("second HandleProjectionSuccess returned error: %v", err)
	}
	if err := h.processor.HandleProjectionFailure(ctx, domain.CommandProjectionFailure{ID: id}); err != nil {
		t.Fatalf("late HandleProjectionFailure returned error: %v", err)
	}
	if len(h.notifier.successes) != 1 || len(h.notifier.failures) != 0 {
		t.Fatalf("expected exactly one terminal notification, got %d successes %d failures",
			len(h.notifier.successes), len(h.notifier.failures))
	}
}

func TestCommandProcessorPublishFailureRejects(t *testing.T) {
	publisher := &failingPublisher{err: errors.New("kafka: leader not available")}
	h := newProcessorHarness(t, nil, publisher)
	ctx := context.Background()

	id, err := h.processor.Submit(ctx, createUserCommand(t, "Ada"))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if publisher.calls != 1 {
		t.Fatalf("expected one publish attempt, got %d", publisher.calls)
	}
	if len(h.notifier.failures) != 1 {
		t.Fatalf("expected a failure notification, got %d", len(h.notifier.failures))
	}
	if exc := h.notifier.failures[0].Exception; exc == nil || exc.Message == "" {
		t.Fatalf("failure must carry the publish error, got %+v", exc)
	}
	if _, err := h.processor.GetSaga(ctx, id); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("rejected saga must be removed, got %v", err)
	}

	result, err := h.fingerprints.Claim(ctx, id+":execute:0", time.Minute)
	if err != nil || result != port.ClaimAcquired {
		t.Fatalf("fingerprint of a failed write must be released, got %s err=%v", result, err)
	}
}

func TestCommandProcessorFingerprintOutageLeavesEffectForRelay(t *testing.T) {
	h := newProcessorHarness(t, nil, nil)
	h.processor.fingerprints = brokenFingerprints{}
	ctx := context.Background()

	id, err := h.processor.Submit(ctx, createUserCommand(t, "Ada"))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if len(h.events.Events()) != 0 {
		t.Fatalf("no event may be written without a fingerprint claim")
	}
	effects := h.sagas.Effects()
	if len(effects) != 1 || effects[0].ID != id+":execute:0" {
		t.Fatalf("expected the publish effect to stay in the outbox, got %+v", effects)
	}
	if saga, err := h.processor.GetSaga(ctx, id); err != nil || saga.CurrentState != domain.SagaExecuted {
		t.Fatalf("saga must stay Executed, got %+v %v", saga, err)
	}

	h.processor.fingerprints = h.fingerprints
	relayed, err := h.processor.RelayPending(ctx)
	if err != nil {
		t.Fatalf("RelayPending returned error: %v", err)
	}
	if relayed != 1 || len(h.events.Events()) != 1 {
		t.Fatalf("relay must publish the event once, relayed=%d events=%d", relayed, len(h.events.Events()))
	}
}

func TestCommandProcessorRelayPublishesOnce(t *testing.T) {
	h := newProcessorHarness(t, nil, nil)
	ctx := context.Background()

	if _, err := h.processor.Submit(ctx, createUserCommand(t, "Ada")); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if len(h.events.Events()) != 1 {
		t.Fatalf("expected one published event")
	}

	// A crash after the write but before the outbox row was removed replays the effect.
	event := h.events.Events()[0].Event
	envelope, err := domain.EncodeEvent(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	payload, _ := json.Marshal(domain.PublishRequest{Event: envelope})
	tx, err := h.sagas.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	replayed := domain.Effect{
		ID:            "corr-1:execute:0",
		Kind:          domain.EffectPublishEvent,
		CorrelationID: "corr-1",
		EventType:     event.EventType(),
		Payload:       payload,
		CreatedAt:     machineClock,
	}
	if err := tx.Enqueue(ctx, []domain.Effect{replayed}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	relayed, err := h.processor.RelayPending(ctx)
	if err != nil {
		t.Fatalf("RelayPending returned error: %v", err)
	}
	if relayed != 1 {
		t.Fatalf("expected the effect to be settled, got %d", relayed)
	}
	if len(h.events.Events()) != 1 {
		t.Fatalf("replayed effect must not publish twice, got %d events", len(h.events.Events()))
	}
	if len(h.sagas.Effects()) != 0 {
		t.Fatalf("settled effect must be removed from the outbox")
	}
}

func TestCommandProcessorRelayTakesOverAbandonedClaim(t *testing.T) {
	h := newProcessorHarness(t, nil, nil)
	clock := machineClock
	h.fingerprints.WithNow(func() time.Time { return clock })
	ctx := context.Background()

	// A writer claimed the publication and died before writing the event.
	if result, err := h.fingerprints.Claim(ctx, "corr-1:execute:0", time.Minute); err != nil || result != port.ClaimAcquired {
		t.Fatalf("seed claim: %s %v", result, err)
	}

	id, err := h.processor.Submit(ctx, createUserCommand(t, "Ada"))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if len(h.events.Events()) != 0 {
		t.Fatalf("no event may be written while another writer holds the lease")
	}
	if effects := h.sagas.Effects(); len(effects) != 1 || effects[0].ID != id+":execute:0" {
		t.Fatalf("expected the publish effect to stay in the outbox, got %+v", effects)
	}
	if saga, err := h.processor.GetSaga(ctx, id); err != nil || saga.CurrentState != domain.SagaExecuted {
		t.Fatalf("saga must stay Executed, got %+v %v", saga, err)
	}

	relayed, err := h.processor.RelayPending(ctx)
	if err != nil || relayed != 0 {
		t.Fatalf("relay must wait for the live lease, relayed=%d err=%v", relayed, err)
	}

	clock = clock.Add(2 * time.Minute)
	relayed, err = h.processor.RelayPending(ctx)
	if err != nil {
		t.Fatalf("RelayPending returned error: %v", err)
	}
	if relayed != 1 || len(h.events.Events()) != 1 || len(h.sagas.Effects()) != 0 {
		t.Fatalf("relay must take over the expired lease, relayed=%d events=%d outbox=%d",
			relayed, len(h.events.Events()), len(h.sagas.Effects()))
	}
	if result, _ := h.fingerprints.Claim(ctx, id+":execute:0", time.Minute); result != port.ClaimCompleted {
		t.Fatalf("written event must be marked done, got %s", result)
	}

	if err := h.processor.HandleProjectionSuccess(ctx, domain.CommandProjectionSuccess{ID: id}); err != nil {
		t.Fatalf("HandleProjectionSuccess returned error: %v", err)
	}
	if len(h.notifier.successes) != 1 {
		t.Fatalf("expected the saga to finish, got %d successes", len(h.notifier.successes))
	}
}

func TestCommandProcessorFaultRejectsStalledSaga(t *testing.T) {
	h := newProcessorHarness(t, nil, nil)
	ctx := context.Background()

	id, err := h.processor.Submit(ctx, createUserCommand(t, "Ada"))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	cause := errors.New("handle ProjectionSuccess after 5 attempts: store unavailable")
	if err := h.processor.Fault(ctx, id, cause); err != nil {
		t.Fatalf("Fault returned error: %v", err)
	}
	if len(h.notifier.failures) != 1 {
		t.Fatalf("expected one failure notification, got %d", len(h.notifier.failures))
	}
	failure := h.notifier.failures[0]
	if failure.CommandID != id || failure.Exception == nil || failure.Exception.Message != cause.Error() {
		t.Fatalf("unexpected failure %+v", failure)
	}
	if _, err := h.processor.GetSaga(ctx, id); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("rejected saga must be removed, got %v", err)
	}

	if err := h.processor.Fault(ctx, id, cause); err != nil {
		t.Fatalf("second Fault returned error: %v", err)
	}
	if err := h.processor.HandleProjectionSuccess(ctx, domain.CommandProjectionSuccess{ID: id}); err != nil {
		t.Fatalf("late HandleProjectionSuccess returned error: %v", err)
	}
	if len(h.notifier.failures) != 1 || len(h.notifier.successes) != 0 {
		t.Fatalf("a rejected saga must stay rejected, got %d failures %d successes",
			len(h.notifier.failures), len(h.notifier.successes))
	}
}

func TestCommandProcessorFailSubmission(t *testing.T) {
	h := newProcessorHarness(t, ExternalValidation{domain.CommandCreateUser: true}, nil)
	ctx := context.Background()
	cause := errors.New("handle SubmitCommand after 5 attempts: store unavailable")

	orphan := createUserCommand(t, "Ada")
	orphan.ID = domain.CommandIdentifier{ID: "cmd-1", CollectingID: "collect-1"}
	if err := h.processor.FailSubmission(ctx, orphan, cause); err != nil {
		t.Fatalf("FailSubmission returned error: %v", err)
	}
	if len(h.notifier.failures) != 1 {
		t.Fatalf("expected the caller to be answered, got %d failures", len(h.notifier.failures))
	}
	if got := h.notifier.failures[0]; got.CommandID != "cmd-1" || got.CollectingID != "collect-1" || got.Message != cause.Error() {
		t.Fatalf("unexpected failure %+v", got)
	}

	stored := createUserCommand(t, "Grace")
	stored.ID = domain.CommandIdentifier{ID: "cmd-2"}
	if _, err := h.processor.Submit(ctx, stored); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if err := h.processor.FailSubmission(ctx, stored, cause); err != nil {
		t.Fatalf("FailSubmission returned error: %v", err)
	}
	if len(h.notifier.failures) != 2 || h.notifier.failures[1].CommandID != "cmd-2" {
		t.Fatalf("expected the stored saga to be rejected, got %+v", h.notifier.failures)
	}
	if _, err := h.processor.GetSaga(ctx, "cmd-2"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("rejected saga must be removed, got %v", err)
	}
}

func TestCommandProcessorConcurrentProjectionSuccessFinalizesOnce(t *testing.T) {
	for _, mode := range []port.ConcurrencyMode{port.ConcurrencyOptimistic, port.ConcurrencyPessimistic} {
		t.Run(string(mode), func(t *testing.T) {
			h := newProcessorHarness(t, nil, nil)
			h.sagas = memory.NewSagaStore(mode)
			h.processor.sagas = h.sagas
			ctx := context.Background()

			id, err := h.processor.Submit(ctx, createUserCommand(t, "Ada"))
			if err != nil {
				t.Fatalf("Submit returned error: %v", err)
			}

			const racers = 2
			start := make(chan struct{})
			errs := make(chan error, racers)
			var wg sync.WaitGroup
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					errs <- h.processor.HandleProjectionSuccess(ctx, domain.CommandProjectionSuccess{ID: id})
				}()
			}
			close(start)
			wg.Wait()
			close(errs)

			for err := range errs {
				if err != nil && !errors.Is(err, repository.ErrConcurrencyConflict) {
					t.Fatalf("unexpected error from a racing handler: %v", err)
				}
			}
			h.notifier.mu.Lock()
			successes := len(h.notifier.successes)
			h.notifier.mu.Unlock()
			if successes != 1 {
				t.Fatalf("exactly one handler may finalize the saga, got %d successes", successes)
			}
			if _, err := h.processor.GetSaga(ctx, id); !errors.Is(err, repository.ErrNotFound) {
				t.Fatalf("finalized saga must be removed, got %v", err)
			}
		})
	}
}

func TestCommandProcessorNotificationFailureStaysInOutbox(t *testing.T) {
	h := newProcessorHarness(t, nil, nil)
	ctx := context.Background()

	id, err := h.processor.Submit(ctx, createUserCommand(t, "Ada"))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	h.notifier.err = errors.New("broker unavailable")
	if err := h.processor.HandleProjectionSuccess(ctx, domain.CommandProjectionSuccess{ID: id}); err != nil {
		t.Fatalf("HandleProjectionSuccess returned error: %v", err)
	}
	if effects := h.sagas.Effects(); len(effects) != 1 || effects[0].Kind != domain.EffectNotifySuccess {
		t.Fatalf("expected pending success notification, got %+v", effects)
	}

	h.notifier.err = nil
	relayed, err := h.processor.RelayPending(ctx)
	if err != nil {
		t.Fatalf("RelayPending returned error: %v", err)
	}
	if relayed != 1 || len(h.notifier.successes) != 1 {
		t.Fatalf("relay must deliver the success, relayed=%d successes=%d", relayed, len(h.notifier.successes))
	}
}

func TestCommandProcessorCancellationLeavesNoSaga(t *testing.T) {
	h := newProcessorHarness(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// CreateUser validation checks nothing external, so cancel inside a custom command.
	registry := NewCommandRegistry()
	handlers := testHandlers()
	handlers.Validate = func(ctx context.Context, _ testPayload, _ domain.Initiator) (domain.ValidationResult, error) {
		return domain.ValidationResult{}, ctx.Err()
	}
	registry.MustRegister(testCommand, func() port.CommandService {
		return NewTypedCommandService(testCommand, handlers, nil, nil)
	})
	h.processor.machine = NewSagaMachine(registry, nil).WithIDGenerator(func() string { return "corr-9" })

	if _, err := h.processor.Submit(ctx, submitMsg("admins")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := h.processor.GetSaga(context.Background(), "corr-9"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("a cancelled submission must not persist a saga, got %v", err)
	}
	if len(h.notifier.failures) != 0 {
		t.Fatalf("cancellation must not reject the command")
	}
}

func TestCommandProcessorListSagas(t *testing.T) {
	h := newProcessorHarness(t, ExternalValidation{domain.CommandCreateUser: true}, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		msg := createUserCommand(t, "user "+id)
		msg.ID = domain.CommandIdentifier{ID: id}
		if _, err := h.processor.Submit(ctx, msg); err != nil {
			t.Fatalf("Submit %s returned error: %v", id, err)
		}
	}

	total, page, err := h.processor.ListSagas(ctx, port.SagaQuery{Limit: 2})
	if err != nil {
		t.Fatalf("ListSagas returned error: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Fatalf("expected 3 total and a page of 2, got %d and %d", total, len(page))
	}
	for _, saga := range page {
		if saga.CurrentState != domain.SagaInternalValidated {
			t.Fatalf("unexpected state %s", saga.CurrentState)
		}
	}
}
