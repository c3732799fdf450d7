package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/warp/collection-engine/generic"
)

// DefaultTopic receives audit events when no topic is configured.
const DefaultTopic = "collections.audit"

// Event is the JSON payload published for one audit entry.
type Event struct {
	ID          string    `json:"id"`
	At          time.Time `json:"at"`
	Description string    `json:"description"`
	Actor       string    `json:"actor"`
	IP          string    `json:"ip,omitempty"`
	CompanyID   string    `json:"company_id,omitempty"`
	ContractID  string    `json:"contract_id,omitempty"`
}

// messageWriter is the part of *kafkago.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaSink publishes audit entries to a topic, keyed by company so one
// company's events stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

var _ generic.AuditSink = (*KafkaSink)(nil)

// NewKafkaSink creates a writer for topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: w, topic: topic}
}

func (k *KafkaSink) RecordEvent(ctx context.Context, entry generic.AuditEntry) error {
	msg, err := EncodeEvent(entry)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error { return k.writer.Close() }

// EncodeEvent renders entry as a Kafka message.
func EncodeEvent(entry generic.AuditEntry) (kafkago.Message, error) {
	value, err := json.Marshal(Event{
		ID:          entry.ID,
		At:          entry.At.UTC(),
		Description: entry.Description,
		Actor:       entry.Actor,
		IP:          entry.IP,
		CompanyID:   string(entry.CompanyID),
		ContractID:  string(entry.ContractID),
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encode audit event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(entry.CompanyID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "actor", Value: []byte(entry.Actor)},
		},
		Time: entry.At,
	}, nil
}
