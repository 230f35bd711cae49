package outbox

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer publishes outbox events through one shared writer; each message carries
// its own topic.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer for brokers.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{writer: &kafka.Writer{
		Addr: kafka.TCP(brokers...),
		// same run id, same partition
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}}
}

// WriteMessages stamps topic on msgs and writes them synchronously.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	for i := range msgs {
		msgs[i].Topic = topic
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close flushes and releases the writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
