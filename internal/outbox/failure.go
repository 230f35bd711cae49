package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// settle closes out a claimed batch in one transaction: failed messages are copied to
// outbox_dlq with reason, then every message is marked published so it is never retried
// from the outbox itself. An empty reason means delivery succeeded.
func (d *Dispatcher) settle(ctx context.Context, messages []Message, reason string) (err error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ids := make([]int64, 0, len(messages))
	batch := &pgx.Batch{}
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
		if reason == "" {
			continue
		}
		batch.Queue(`INSERT INTO outbox_dlq (event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, partition_key)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			msg.EventID, msg.EventType, msg.Topic, msg.Payload, fmt.Sprintf("%s (topic=%s)", reason, msg.Topic),
			msg.AggregateType, msg.AggregateID, msg.PartitionKey)
	}
	batch.Queue(`UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)

	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("settle outbox batch: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}

	if reason != "" {
		countByTopic(dlqCounter, messages)
	}
	return nil
}
