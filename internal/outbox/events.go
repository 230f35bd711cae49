package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	EventIngestCompleted = "ingest.completed"
	EventEnrichCompleted = "enrich.completed"
)

// knownEvents lists event types the dispatcher is allowed to publish.
var knownEvents = map[string]struct{}{
	EventIngestCompleted: {},
	EventEnrichCompleted: {},
}

// IngestCompleted is emitted once per committed ingest batch. It is written in the same
// transaction as the batch, so it reports records handed to the writer rather than rows affected.
type IngestCompleted struct {
	RunID       string    `json:"run_id"`
	Job         string    `json:"job"`
	Table       string    `json:"table"`
	UserIDs     []int64   `json:"user_ids"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Units       int       `json:"units"`
	Records     int       `json:"records"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	CompletedAt time.Time `json:"completed_at"`
}

// EnrichCompleted is emitted when an estimation pass commits rows.
type EnrichCompleted struct {
	RunID       string    `json:"run_id"`
	Mode        string    `json:"mode"`
	Table       string    `json:"table"`
	UserIDs     []int64   `json:"user_ids"`
	Records     int       `json:"records"`
	CompletedAt time.Time `json:"completed_at"`
}

// Event is a pending outbox row.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	Payload       any
}

// DedupeKey identifies the event so replays of the same run insert it once.
func (e Event) DedupeKey() string {
	return fmt.Sprintf("%s:%s", e.AggregateID, e.EventType)
}

// NewIngestCompletedEvent routes an IngestCompleted payload to topic, partitioned by job.
func NewIngestCompletedEvent(topic string, payload IngestCompleted) Event {
	return Event{
		AggregateType: "ingest_run",
		AggregateID:   payload.RunID,
		EventType:     EventIngestCompleted,
		Topic:         topic,
		PartitionKey:  payload.Job,
		Payload:       payload,
	}
}

// NewEnrichCompletedEvent routes an EnrichCompleted payload to topic, partitioned by mode.
func NewEnrichCompletedEvent(topic string, payload EnrichCompleted) Event {
	return Event{
		AggregateType: "enrich_run",
		AggregateID:   payload.RunID,
		EventType:     EventEnrichCompleted,
		Topic:         topic,
		PartitionKey:  payload.Mode,
		Payload:       payload,
	}
}

// Append records ev inside tx so it commits or rolls back with the data it describes.
func Append(ctx context.Context, tx pgx.Tx, ev Event) error {
	if ev.Topic == "" {
		return fmt.Errorf("outbox: event %s has no topic", ev.EventType)
	}
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("outbox: encode %s: %w", ev.EventType, err)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		ev.AggregateType,
		ev.AggregateID,
		ev.EventType,
		ev.Topic,
		ev.PartitionKey,
		body,
		ev.DedupeKey(),
	)
	return err
}
