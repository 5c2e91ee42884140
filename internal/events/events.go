// Package events publishes ledger events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// TypePaymentPosted is emitted once per payment written to a ledger.
const TypePaymentPosted = "payment.posted"

// PaymentPosted describes a payment that reached a tenant ledger.
type PaymentPosted struct {
	Type        string          `json:"type"`
	RunID       string          `json:"run_id"`
	Reference   string          `json:"reference"`
	AccountCode string          `json:"account_code"`
	TenantSheet string          `json:"tenant_sheet"`
	Month       string          `json:"month"`
	Amount      decimal.Decimal `json:"amount"`
	PaidAt      time.Time       `json:"paid_at"`
	Balance     decimal.Decimal `json:"balance"`
	Penalty     decimal.Decimal `json:"penalty"`
	CarryRows   int             `json:"carry_rows"`
	PostedAt    time.Time       `json:"posted_at"`
}

// Publisher sends events.
type Publisher interface {
	PublishPaymentPosted(ctx context.Context, event PaymentPosted) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON events keyed by payment reference, so events
// for one reference stay ordered on one partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic cannot be empty")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
	}, nil
}

func (p *KafkaPublisher) PublishPaymentPosted(ctx context.Context, event PaymentPosted) error {
	event.Type = TypePaymentPosted
	if event.PostedAt.IsZero() {
		event.PostedAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Reference),
		Value: data,
		Time:  event.PostedAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// NopPublisher drops events. It is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishPaymentPosted(ctx context.Context, event PaymentPosted) error {
	return nil
}

func (NopPublisher) Close() error { return nil }

// RecordingPublisher keeps events in memory for dry runs and tests.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []PaymentPosted
}

func (r *RecordingPublisher) PublishPaymentPosted(ctx context.Context, event PaymentPosted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.Type = TypePaymentPosted
	r.events = append(r.events, event)
	return nil
}

func (r *RecordingPublisher) Close() error { return nil }

// Events returns the recorded events.
func (r *RecordingPublisher) Events() []PaymentPosted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PaymentPosted(nil), r.events...)
}
