package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/infra/kafka"
)

type fakeInbox struct {
	submitted   []domain.SubmitCommand
	validations []domain.ValidationCompositeResponse
	successes   []domain.CommandProjectionSuccess
	failures    []domain.CommandProjectionFailure
	faults      map[string]error
	abandoned   []domain.SubmitCommand
	// errs are returned by consecutive calls, then nil
	errs []error
}

func (f *fakeInbox) next() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeInbox) Submit(_ context.Context, msg domain.SubmitCommand) (string, error) {
	f.submitted = append(f.submitted, msg)
	return "corr-1", f.next()
}

func (f *fakeInbox) HandleValidationResponse(_ context.Context, msg domain.ValidationCompositeResponse) error {
	f.validations = append(f.validations, msg)
	return f.next()
}

func (f *fakeInbox) HandleProjectionSuccess(_ context.Context, msg domain.CommandProjectionSuccess) error {
	f.successes = append(f.successes, msg)
	return f.next()
}

func (f *fakeInbox) HandleProjectionFailure(_ context.Context, msg domain.CommandProjectionFailure) error {
	f.failures = append(f.failures, msg)
	return f.next()
}

func (f *fakeInbox) Fault(_ context.Context, correlationID string, cause error) error {
	if f.faults == nil {
		f.faults = make(map[string]error)
	}
	f.faults[correlationID] = cause
	return nil
}

func (f *fakeInbox) FailSubmission(_ context.Context, msg domain.SubmitCommand, _ error) error {
	f.abandoned = append(f.abandoned, msg)
	return nil
}

type fakeProjector struct {
	events []domain.ProfileEvent
	err    error
}

func (f *fakeProjector) Project(_ context.Context, event domain.ProfileEvent) error {
	f.events = append(f.events, event)
	return f.err
}

func message(t *testing.T, topic, eventType string, payload any) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	value, err := json.Marshal(kafka.Envelope{EventID: "evt-1", EventType: eventType, Version: "1.0", Payload: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: topic, Value: value}
}

func newTestRouter(t *testing.T, inbox *fakeInbox, projector Projector, attempts uint) *Router {
	return NewRouter("profiles", inbox, projector, RetryPolicy{Attempts: attempts}).WithLogger(zaptest.NewLogger(t))
}

func TestRouterDispatchesSagaMessages(t *testing.T) {
	inbox := &fakeInbox{}
	router := newTestRouter(t, inbox, nil, 1)
	ctx := context.Background()

	msgs := []*sarama.ConsumerMessage{
		message(t, "profiles.commands.submit", "SubmitCommand", domain.SubmitCommand{Command: domain.CommandCreateUser, Data: json.RawMessage(`{}`)}),
		message(t, "profiles.validation.response", "ValidationResponse", domain.ValidationCompositeResponse{CollectingID: "corr-1", IsValid: true}),
		message(t, "profiles.projection.success", "ProjectionSuccess", domain.CommandProjectionSuccess{ID: "corr-1"}),
		message(t, "profiles.projection.failure", "ProjectionFailure", domain.CommandProjectionFailure{ID: "corr-2", Message: "boom"}),
	}
	for _, msg := range msgs {
		if err := router.HandleMessage(ctx, msg); err != nil {
			t.Fatalf("HandleMessage(%s) returned error: %v", msg.Topic, err)
		}
	}

	if len(inbox.submitted) != 1 || inbox.submitted[0].Command != domain.CommandCreateUser {
		t.Fatalf("unexpected submissions %+v", inbox.submitted)
	}
	if len(inbox.validations) != 1 || !inbox.validations[0].IsValid {
		t.Fatalf("unexpected validations %+v", inbox.validations)
	}
	if len(inbox.successes) != 1 || len(inbox.failures) != 1 || inbox.failures[0].Message != "boom" {
		t.Fatalf("unexpected projection reports %+v %+v", inbox.successes, inbox.failures)
	}
}

func TestRouterRetriesTransientErrors(t *testing.T) {
	inbox := &fakeInbox{errs: []error{errors.New("conflict"), errors.New("conflict")}}
	router := newTestRouter(t, inbox, nil, 5)

	msg := message(t, "profiles.projection.success", "ProjectionSuccess", domain.CommandProjectionSuccess{ID: "corr-1"})
	if err := router.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if len(inbox.successes) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(inbox.successes))
	}
}

func TestRouterGivesUpAfterMaxAttempts(t *testing.T) {
	inbox := &fakeInbox{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	router := newTestRouter(t, inbox, nil, 2)

	msg := message(t, "profiles.projection.success", "ProjectionSuccess", domain.CommandProjectionSuccess{ID: "corr-1"})
	if err := router.HandleMessage(context.Background(), msg); err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if len(inbox.successes) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(inbox.successes))
	}
	cause, ok := inbox.faults["corr-1"]
	if !ok || !strings.Contains(cause.Error(), "after 2 attempts") {
		t.Fatalf("expected the saga to be rejected after the last attempt, got %v", inbox.faults)
	}
}

func TestRouterRetriesThenSucceedsWithoutFault(t *testing.T) {
	inbox := &fakeInbox{errs: []error{errors.New("conflict")}}
	router := newTestRouter(t, inbox, nil, 3)

	msg := message(t, "profiles.validation.response", "ValidationResponse", domain.ValidationCompositeResponse{CollectingID: "corr-1", IsValid: true})
	if err := router.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if len(inbox.faults) != 0 {
		t.Fatalf("a recovered message must not reject its saga, got %v", inbox.faults)
	}
}

func TestRouterAnswersAbandonedSubmission(t *testing.T) {
	inbox := &fakeInbox{errs: []error{errors.New("db down"), errors.New("db down")}}
	router := newTestRouter(t, inbox, nil, 2)

	submit := domain.SubmitCommand{Command: domain.CommandCreateUser, ID: domain.CommandIdentifier{ID: "cmd-1"}, Data: json.RawMessage(`{}`)}
	if err := router.HandleMessage(context.Background(), message(t, "profiles.commands.submit", "SubmitCommand", submit)); err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if len(inbox.abandoned) != 1 || inbox.abandoned[0].ID.ID != "cmd-1" {
		t.Fatalf("expected the submission to be answered, got %+v", inbox.abandoned)
	}
}

func TestRouterCancellationDoesNotFault(t *testing.T) {
	inbox := &fakeInbox{errs: []error{context.Canceled}}
	router := newTestRouter(t, inbox, nil, 3)

	msg := message(t, "profiles.projection.failure", "ProjectionFailure", domain.CommandProjectionFailure{ID: "corr-1"})
	if err := router.HandleMessage(context.Background(), msg); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(inbox.failures) != 1 || len(inbox.faults) != 0 {
		t.Fatalf("cancellation must stop at once without rejecting, attempts=%d faults=%v", len(inbox.failures), inbox.faults)
	}
}

func TestRouterProjectEventFaultsAfterRetries(t *testing.T) {
	inbox := &fakeInbox{}
	projector := &fakeProjector{err: errors.New("report projection: broker unavailable")}
	router := newTestRouter(t, inbox, projector, 3)

	event := domain.ProfileCreated{
		EventBase: domain.EventBase{Meta: domain.EventMetadata{EventID: "evt-1", CorrelationID: "corr-7"}},
		Profile:   domain.Profile{ID: "user-1", Type: domain.ObjectUser, Name: "Ada"},
	}
	if err := router.ProjectEvent(context.Background(), event); err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if len(projector.events) != 3 {
		t.Fatalf("expected 3 projection attempts, got %d", len(projector.events))
	}
	if _, ok := inbox.faults["corr-7"]; !ok {
		t.Fatalf("expected saga corr-7 to be rejected, got %v", inbox.faults)
	}
}

func TestRouterDropsUndecodableMessages(t *testing.T) {
	inbox := &fakeInbox{}
	router := newTestRouter(t, inbox, nil, 5)
	ctx := context.Background()

	if err := router.HandleMessage(ctx, &sarama.ConsumerMessage{Topic: "profiles.commands.submit", Value: []byte("not json")}); err == nil {
		t.Fatalf("expected envelope error")
	}

	bad := &sarama.ConsumerMessage{Topic: "profiles.projection.success"}
	bad.Value, _ = json.Marshal(kafka.Envelope{EventType: "ProjectionSuccess", Payload: json.RawMessage(`[1,2]`)})
	if err := router.HandleMessage(ctx, bad); err == nil {
		t.Fatalf("expected payload error")
	}
	if len(inbox.successes) != 0 {
		t.Fatalf("handler must not run for undecodable payloads")
	}

	if err := router.HandleMessage(ctx, &sarama.ConsumerMessage{Topic: "profiles.unknown"}); err == nil {
		t.Fatalf("expected error for unrouted topic")
	}
}

func TestRouterProjectsDomainEvents(t *testing.T) {
	projector := &fakeProjector{}
	router := newTestRouter(t, &fakeInbox{}, projector, 1)

	event := domain.ProfileCreated{
		EventBase: domain.EventBase{Meta: domain.EventMetadata{EventID: "evt-1", CorrelationID: "corr-1"}},
		Profile:   domain.Profile{ID: "user-1", Type: domain.ObjectUser, Name: "Ada"},
	}
	encoded, err := domain.EncodeEvent(event)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}

	if err := router.HandleMessage(context.Background(), message(t, "profiles.events", event.EventType(), encoded)); err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if len(projector.events) != 1 {
		t.Fatalf("expected one projected event, got %d", len(projector.events))
	}
	created, ok := projector.events[0].(domain.ProfileCreated)
	if !ok || created.Profile.ID != "user-1" {
		t.Fatalf("unexpected projected event %#v", projector.events[0])
	}
}

func TestTopics(t *testing.T) {
	if got := len(Topics(false)); got != 4 {
		t.Fatalf("expected 4 saga topics, got %d", got)
	}
	all := Topics(true)
	if all[len(all)-1] != kafka.TopicDomainEvents {
		t.Fatalf("expected events topic last, got %v", all)
	}
}
