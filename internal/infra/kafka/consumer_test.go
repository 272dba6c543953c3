package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"
)

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }

func (s *fakeSession) MemberID() string { return "member-1" }

func (s *fakeSession) GenerationID() int32 { return 1 }

func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {}

func (s *fakeSession) Commit() {}

func (s *fakeSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.marked = append(s.marked, msg.Offset)
}

func (s *fakeSession) Context() context.Context { return s.ctx }

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "profiles.commands.submit" }

func (c *fakeClaim) Partition() int32 { return 0 }

func (c *fakeClaim) InitialOffset() int64 { return 0 }

func (c *fakeClaim) HighWaterMarkOffset() int64 { return int64(len(c.messages)) }

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

type recordingHandler struct {
	seen   []int64
	failAt int64
}

func (h *recordingHandler) HandleMessage(_ context.Context, msg *sarama.ConsumerMessage) error {
	h.seen = append(h.seen, msg.Offset)
	if msg.Offset == h.failAt {
		return errors.New("poison message")
	}
	return nil
}

func TestConsumeClaimMarksEveryMessage(t *testing.T) {
	handler := &recordingHandler{failAt: 1}
	group := newConsumerGroup(nil, "profiles", []string{TopicSubmitCommand, TopicProjectionSuccess}, handler, zaptest.NewLogger(t))

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	for offset := int64(0); offset < 3; offset++ {
		claim.messages <- &sarama.ConsumerMessage{Topic: claim.Topic(), Offset: offset}
	}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	if err := group.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim returned error: %v", err)
	}

	if len(handler.seen) != 3 {
		t.Fatalf("expected 3 handled messages, got %v", handler.seen)
	}
	if len(session.marked) != 3 {
		t.Fatalf("failed messages are dropped after logging, expected 3 marks, got %v", session.marked)
	}

	topics := group.Topics()
	if len(topics) != 2 || topics[0] != "profiles.commands.submit" || topics[1] != "profiles.projection.success" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestConsumeClaimStopsOnCancel(t *testing.T) {
	handler := &recordingHandler{failAt: -1}
	group := newConsumerGroup(nil, "", []string{TopicSubmitCommand}, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	if err := group.ConsumeClaim(&fakeSession{ctx: ctx}, claim); err != nil {
		t.Fatalf("ConsumeClaim returned error: %v", err)
	}
	if len(handler.seen) != 0 {
		t.Fatalf("no message should be handled, got %v", handler.seen)
	}
}
