package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/fidelio/fidelio/internal/ledger"
)

// ActivityEvent is the wire shape of a committed point activity.
type ActivityEvent struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	EstablishmentID string    `json:"establishment_id"`
	ProgramID       string    `json:"program_id,omitempty"`
	Kind            string    `json:"kind"`
	PointsChange    int64     `json:"points_change"`
	TokenID         string    `json:"token_id,omitempty"`
	SourceAmount    string    `json:"source_amount,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func newActivityEvent(a ledger.Activity) ActivityEvent {
	ev := ActivityEvent{
		ID:              a.ID,
		AccountID:       a.AccountID,
		EstablishmentID: a.EstablishmentID,
		ProgramID:       a.ProgramID,
		Kind:            string(a.Kind),
		PointsChange:    a.PointsChange,
		TokenID:         a.TokenID,
		CreatedAt:       a.CreatedAt,
	}
	if a.SourceAmount.Valid {
		ev.SourceAmount = a.SourceAmount.Decimal.String()
	}
	return ev
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher writes committed activities to a topic keyed by account so
// every event for one customer lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Async:        false,
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishActivity(ctx context.Context, a ledger.Activity) error {
	b, err := json.Marshal(newActivityEvent(a))
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(a.AccountID),
		Value: b,
		Time:  a.CreatedAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

