// Package publisher mirrors audit chain records to Kafka for security-event
// fan-out (SIEM pipelines, alerting). The chain store remains the source of
// truth; callers treat this sink as best effort.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"biogate/internal/audit"
)

// Kafka publishes audit records to a single topic, keyed by identity so all
// records for one subject land in the same partition, in order.
type Kafka struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafka connects to the given brokers.
func NewKafka(brokers []string, topic string, logger *slog.Logger) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Kafka{client: client, topic: topic, logger: logger}, nil
}

type wireRecord struct {
	Seq        uint64 `json:"seq"`
	Type       string `json:"type"`
	IdentityID string `json:"identity_id"`
	Payload    []byte `json:"payload"`
	Digest     []byte `json:"digest"`
	LinkHash   []byte `json:"link_hash"`
	Timestamp  string `json:"timestamp"`
}

// Publish produces one record and waits for the broker ack.
func (k *Kafka) Publish(ctx context.Context, rec *audit.Record) error {
	value, err := json.Marshal(wireRecord{
		Seq:        rec.Seq,
		Type:       string(rec.Type),
		IdentityID: rec.IdentityID.String(),
		Payload:    rec.Payload,
		Digest:     rec.Digest,
		LinkHash:   rec.LinkHash,
		Timestamp:  rec.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}

	msg := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(rec.IdentityID.String()),
		Value: value,
	}
	if err := k.client.ProduceSync(ctx, msg).FirstErr(); err != nil {
		return fmt.Errorf("produce audit record %d: %w", rec.Seq, err)
	}
	return nil
}

// Close flushes and releases the client.
func (k *Kafka) Close() {
	k.client.Close()
}
