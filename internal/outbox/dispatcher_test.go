package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type stubProducer struct {
	mu     sync.Mutex
	err    error
	delay  time.Duration
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)

	s.writes = append(s.writes, writtenBatch{
		topic:    topic,
		messages: copied,
	})
	return nil
}

func TestDeliverGroupsByTopicAndSetsHeaders(t *testing.T) {
	producer := &stubProducer{}
	dispatcher := NewDispatcher(nil, producer, time.Second, 10)

	messages := []Message{
		{EventID: 1, AggregateType: "ingest_run", AggregateID: "run-1", EventType: EventIngestCompleted, Topic: "ingest_events", PartitionKey: "food", Payload: json.RawMessage(`{"run_id":"run-1"}`)},
		{EventID: 2, AggregateType: "enrich_run", AggregateID: "run-2", EventType: EventEnrichCompleted, Topic: "enrich_events", PartitionKey: "goals", Payload: json.RawMessage(`{"run_id":"run-2"}`)},
		{EventID: 3, AggregateType: "ingest_run", AggregateID: "run-3", EventType: EventIngestCompleted, Topic: "ingest_events", PartitionKey: "weight", Payload: json.RawMessage(`{"run_id":"run-3"}`)},
	}

	require.NoError(t, dispatcher.deliver(context.Background(), messages))

	require.Len(t, producer.writes, 2)
	require.Equal(t, "ingest_events", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 2)
	require.Equal(t, "enrich_events", producer.writes[1].topic)

	first := producer.writes[0].messages[0]
	require.Equal(t, []byte("food"), first.Key)
	require.JSONEq(t, `{"run_id":"run-1"}`, string(first.Value))
	require.Equal(t, "event_type", first.Headers[0].Key)
	require.Equal(t, []byte(EventIngestCompleted), first.Headers[0].Value)
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	producer := &stubProducer{}
	dispatcher := NewDispatcher(nil, producer, time.Second, 10)

	err := dispatcher.deliver(context.Background(), []Message{{EventID: 1, EventType: "ingest.unknown", Topic: "ingest_events"}})
	require.ErrorContains(t, err, "unknown event_type=ingest.unknown")
	require.Empty(t, producer.writes)
}

func TestDeliverPropagatesProducerError(t *testing.T) {
	producer := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(nil, producer, time.Second, 10)

	err := dispatcher.deliver(context.Background(), []Message{{EventID: 1, EventType: EventIngestCompleted, Topic: "ingest_events"}})
	require.ErrorContains(t, err, "kafka write failed")
}

func TestEventDedupeKeyAndRouting(t *testing.T) {
	ev := NewIngestCompletedEvent("ingest_events", IngestCompleted{RunID: "run-9", Job: "weight"})
	require.Equal(t, "run-9:ingest.completed", ev.DedupeKey())
	require.Equal(t, "weight", ev.PartitionKey)
	require.Equal(t, "ingest_run", ev.AggregateType)

	enrich := NewEnrichCompletedEvent("enrich_events", EnrichCompleted{RunID: "run-10", Mode: "goals"})
	require.Equal(t, EventEnrichCompleted, enrich.EventType)
	require.Equal(t, "goals", enrich.PartitionKey)
}

func TestKafkaProducerStampsTopic(t *testing.T) {
	p := NewKafkaProducer([]string{"localhost:9092"})
	require.Empty(t, p.writer.Topic)
	require.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	require.NoError(t, p.Close())
}
