package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/eventora/treasury/internal/models"
	cfgpkg "github.com/eventora/treasury/pkg/config"
)

// Writer is the subset of kafka.Writer the publisher relies on.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher relays committed finance events to Kafka for external
// consumers. When Kafka is disabled in config the publisher is a no-op.
type Publisher struct {
	writer Writer
	topic  string
	log    *zap.SugaredLogger
}

// EventMessage is the wire shape of a relayed event.
type EventMessage struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func NewPublisher(cfg *cfgpkg.Config, log *zap.SugaredLogger) *Publisher {
	p := &Publisher{topic: cfg.Kafka.Topic, log: log}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) == 0 {
		return p
	}
	p.writer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	return p
}

// NewPublisherWithWriter wires a publisher onto an existing writer.
func NewPublisherWithWriter(w Writer, topic string, log *zap.SugaredLogger) *Publisher {
	return &Publisher{writer: w, topic: topic, log: log}
}

func (p *Publisher) Enabled() bool { return p != nil && p.writer != nil }

// PublishEntry relays a dispatched outbox entry. Events are keyed by
// correlation id so all events of one payment land in one partition.
func (p *Publisher) PublishEntry(ctx context.Context, entry *models.OutboxEntry) error {
	if !p.Enabled() || entry == nil {
		return nil
	}
	msg := EventMessage{
		EventID:       entry.EventID,
		EventType:     entry.EventType,
		CorrelationID: entry.CorrelationID,
		CausationID:   entry.CausationID,
		Payload:       json.RawMessage(entry.Payload),
		OccurredAt:    entry.CreatedAt,
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.CorrelationID),
		Value: value,
		Time:  time.Now(),
	})
}

func registerClose(lc fx.Lifecycle, log *zap.SugaredLogger, p *Publisher) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if !p.Enabled() {
				return nil
			}
			log.Infow("closing kafka writer")
			return p.writer.Close()
		},
	})
}

var Module = fx.Options(
	fx.Provide(NewPublisher),
	fx.Invoke(registerClose),
)
