package operation

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/pkg/metrics"
	"github.com/eventora/treasury/pkg/tool"
)

// Operation types executed by the worker.
const (
	TypeFulfillPayment       = "fulfill_payment"
	TypeLedgerUpsert         = "ledger_upsert"
	TypeNotifySale           = "notify_sale"
	TypeProcessProviderEvent = "process_provider_event"
)

// Service enqueues operations. The dedupe key collapses any number of
// enqueue calls for the same logical effect into a single row.
type Service struct {
	log *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Service {
	return &Service{log: log}
}

type EnqueueInput struct {
	Type         string
	DedupeKey    string
	Payload      any
	Correlations map[string]string
}

// Enqueue inserts an operation inside the caller's unit of work.
// Returns false when an operation with the same dedupe key already
// exists.
func (s *Service) Enqueue(uow *eventlog.UnitOfWork, in *EnqueueInput) (bool, error) {
	if in == nil || in.Type == "" || in.DedupeKey == "" {
		return false, fmt.Errorf("operation enqueue requires a type and dedupe key")
	}

	var payload datatypes.JSON
	if in.Payload != nil {
		raw, err := json.Marshal(in.Payload)
		if err != nil {
			return false, fmt.Errorf("failed to marshal operation payload: %w", err)
		}
		payload = datatypes.JSON(raw)
	}
	var correlations datatypes.JSON
	if len(in.Correlations) > 0 {
		raw, err := json.Marshal(in.Correlations)
		if err != nil {
			return false, fmt.Errorf("failed to marshal operation correlations: %w", err)
		}
		correlations = datatypes.JSON(raw)
	}

	now := time.Now()
	op := &models.Operation{
		ID:            tool.GenerateUUIDV7(),
		Type:          in.Type,
		DedupeKey:     in.DedupeKey,
		Payload:       payload,
		Correlations:  correlations,
		Status:        models.OperationStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	res := uow.Tx().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(op)
	if res.Error != nil {
		return false, fmt.Errorf("failed to enqueue operation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		metrics.OperationsDeduped.WithLabelValues(in.Type).Inc()
		return false, nil
	}
	return true, nil
}
