package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/pkg/config"
)

type fakeWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishEntry_KeyedByCorrelationID(t *testing.T) {
	fw := &fakeWriter{}
	p := NewPublisherWithWriter(fw, "treasury.finance.events", zap.NewNop().Sugar())
	require.True(t, p.Enabled())

	entry := &models.OutboxEntry{
		EventID:       "evt-1",
		EventType:     "payment.status_changed",
		CorrelationID: "pay-1",
		Payload:       []byte(`{"status":"succeeded"}`),
		CreatedAt:     time.Now(),
	}
	require.NoError(t, p.PublishEntry(context.Background(), entry))
	require.Len(t, fw.msgs, 1)
	require.Equal(t, []byte("pay-1"), fw.msgs[0].Key)

	var msg EventMessage
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &msg))
	require.Equal(t, "evt-1", msg.EventID)
	require.Equal(t, "payment.status_changed", msg.EventType)
	require.JSONEq(t, `{"status":"succeeded"}`, string(msg.Payload))
}

func TestPublishEntry_DisabledIsNoOp(t *testing.T) {
	p := NewPublisher(&config.Config{Kafka: config.KafkaConfig{Enabled: false}}, zap.NewNop().Sugar())
	require.False(t, p.Enabled())
	require.NoError(t, p.PublishEntry(context.Background(), &models.OutboxEntry{EventID: "evt-1"}))
}
