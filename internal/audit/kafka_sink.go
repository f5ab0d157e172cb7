package audit

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"ahontrack/backend/internal/domain"
)

// KafkaSink forwards entries to a topic keyed by entity so that every change
// to one record lands on the same partition. Writes are asynchronous; delivery
// failures surface in the log through the completion callback.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   logFailedDelivery,
	}}
}

func logFailedDelivery(messages []kafka.Message, err error) {
	if err != nil {
		log.Printf("[audit] WARN: kafka delivery of %d entries failed: %v", len(messages), err)
	}
}

func (s *KafkaSink) Write(ctx context.Context, entry domain.AuditLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.EntityType + ":" + entry.EntityID),
		Value: data,
		Time:  entry.CreatedAt,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// ParseBrokers splits a comma-separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
