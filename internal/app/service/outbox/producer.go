package outbox

import (
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/pkg/tool"
)

// Producer records outbox entries inside the same transaction that
// appended the event, so a committed event always has its dispatch row
// and a rolled-back event never does.
type Producer struct{}

func NewProducer() *Producer {
	return &Producer{}
}

// Record enqueues the event for dispatch. The dedupe key mirrors the
// event's idempotency key, so re-recording a deduped event is a no-op.
func (p *Producer) Record(uow *eventlog.UnitOfWork, entry *models.EventLogEntry) error {
	if entry == nil {
		return fmt.Errorf("cannot record outbox entry for nil event")
	}

	now := time.Now()
	row := &models.OutboxEntry{
		ID:            tool.GenerateUUIDV7(),
		EventID:       entry.ID,
		EventType:     entry.EventType,
		DedupeKey:     entry.IdempotencyKey,
		Payload:       entry.Payload,
		CorrelationID: entry.CorrelationID,
		CausationID:   entry.CausationID,
		Status:        models.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	res := uow.Tx().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return fmt.Errorf("failed to record outbox entry: %w", res.Error)
	}
	return nil
}
