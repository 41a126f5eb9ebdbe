package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/pkg/metrics"
	"github.com/eventora/treasury/pkg/tool"
)

// Event types recorded by the pipeline.
const (
	EventTypePaymentStatusChanged  = "payment.status_changed"
	EventTypePaymentFeesReconciled = "payment.fees_reconciled"
	EventTypeProviderEventReceived = "provider.event_received"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

type AppendInput struct {
	OrgID          string
	EventType      string
	IdempotencyKey string
	SourceType     string
	SourceID       string
	CorrelationID  string
	CausationID    string
	Payload        any
}

// AppendResult reports an append outcome. AlreadyExists is a success
// variant, not an error: callers must treat it as "skip downstream
// work".
type AppendResult struct {
	Entry         *models.EventLogEntry
	AlreadyExists bool
}

// Append records a domain fact inside the given unit of work. A second
// append with the same idempotency key is a no-op; the uniqueness
// constraint makes concurrent duplicate appends collapse into "first
// writer wins". Append never calls external services.
func (s *Service) Append(uow *UnitOfWork, in *AppendInput) (*AppendResult, error) {
	if in == nil || in.IdempotencyKey == "" {
		return nil, fmt.Errorf("event append requires an idempotency key")
	}
	if in.EventType == "" {
		return nil, fmt.Errorf("event append requires an event type")
	}

	var payload datatypes.JSON
	if in.Payload != nil {
		raw, err := json.Marshal(in.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event payload: %w", err)
		}
		payload = datatypes.JSON(raw)
	}

	entry := &models.EventLogEntry{
		ID:             tool.GenerateUUIDV7(),
		OrgID:          in.OrgID,
		EventType:      in.EventType,
		IdempotencyKey: in.IdempotencyKey,
		SourceType:     in.SourceType,
		SourceID:       in.SourceID,
		CorrelationID:  in.CorrelationID,
		CausationID:    in.CausationID,
		Payload:        payload,
		CreatedAt:      time.Now(),
	}

	res := uow.Tx().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to append event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		metrics.EventsDeduped.WithLabelValues(in.EventType).Inc()
		return &AppendResult{AlreadyExists: true}, nil
	}

	metrics.EventsAppended.WithLabelValues(in.EventType).Inc()
	return &AppendResult{Entry: entry}, nil
}

// GetByIdempotencyKey returns the recorded entry for a key, or nil.
func (s *Service) GetByIdempotencyKey(uow *UnitOfWork, key string) (*models.EventLogEntry, error) {
	var entry models.EventLogEntry
	if err := uow.Tx().Where("idempotency_key = ?", key).First(&entry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}
