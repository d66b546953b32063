package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

func newMockProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	return &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-test"),
	}, mockProducer
}

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var envelope struct {
			ID          string          `json:"id"`
			AggregateID string          `json:"aggregate_id"`
			EventType   string          `json:"event_type"`
			Payload     json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.EventType != "order.created" {
			t.Errorf("event_type = %q, want order.created", envelope.EventType)
		}
		if envelope.AggregateID != "ORD-2026-0001" {
			t.Errorf("aggregate_id = %q", envelope.AggregateID)
		}
		if string(envelope.Payload) != `{"lines":2}` {
			t.Errorf("payload = %s", envelope.Payload)
		}
		return nil
	})

	publisher := NewOutboxPublisher(producer, TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "ORD-2026-0001",
		EventType:     "order.created",
		Payload:       []byte(`{"lines":2}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(producer, TopicStockEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:        "outbox-2",
		EventType: "stock.reserved",
		Payload:   []byte(`{}`),
	})
	if err == nil {
		t.Fatal("expected publish error")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_NotInitialized(t *testing.T) {
	t.Parallel()

	publisher := &OutboxTopicPublisher{}
	if err := publisher.Publish(domain.OutboxMessage{ID: "x"}); err == nil {
		t.Fatal("expected error for uninitialized publisher")
	}
}

func TestOutboxPublisherTopicRouting(t *testing.T) {
	t.Parallel()

	publisher, ok := NewOutboxPublisher(nil, "").(*OutboxTopicPublisher)
	if !ok {
		t.Fatalf("unexpected publisher type")
	}

	// Без явного topic сообщения расходятся по типу агрегата.
	cases := []struct {
		aggregateType string
		want          string
	}{
		{"product", TopicStockEvents},
		{"order", TopicOrderEvents},
		{"", TopicOrderEvents},
	}
	for _, tc := range cases {
		got := publisher.topicFor(domain.OutboxMessage{AggregateType: tc.aggregateType})
		if got != tc.want {
			t.Errorf("topicFor(%q) = %q, want %q", tc.aggregateType, got, tc.want)
		}
	}

	// Явно заданный topic имеет приоритет над маршрутизацией.
	pinned, _ := NewOutboxPublisher(nil, TopicDeadLetterQueue).(*OutboxTopicPublisher)
	if got := pinned.topicFor(domain.OutboxMessage{AggregateType: "product"}); got != TopicDeadLetterQueue {
		t.Errorf("pinned topic = %q, want %q", got, TopicDeadLetterQueue)
	}
}
