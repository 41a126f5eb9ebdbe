package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/pkg/types"
)

// Admin exposes operator-facing reads and repairs over the outbox.
type Admin struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewAdmin(db *gorm.DB, log *zap.SugaredLogger) *Admin {
	return &Admin{db: db, log: log}
}

type ScanEntriesRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanEntriesResponse struct {
	Items []*models.OutboxEntry `json:"items"`
	Total int64                 `json:"total"`
}

// filtersAnd combines multiple CommonFilter into a single expression.
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

// ScanEntries implements paginated admin listing with filters.
func (a *Admin) ScanEntries(ctx context.Context, req *ScanEntriesRequest) (*ScanEntriesResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := a.db.WithContext(ctx).Model(&models.OutboxEntry{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count outbox entries: %w", err)
	}

	var rows []*models.OutboxEntry

	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	if req.SortBy != "" {
		q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list outbox entries: %w", err)
	}

	return &ScanEntriesResponse{Items: rows, Total: total}, nil
}

// RetryEntry moves a parked entry back to pending so the dispatcher
// picks it up on the next cycle. Only failed entries are eligible.
func (a *Admin) RetryEntry(ctx context.Context, entryID string) error {
	now := time.Now()
	res := a.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ? AND status = ?", entryID, models.OutboxStatusFailed).
		Updates(map[string]any{
			"status":          models.OutboxStatusPending,
			"attempts":        0,
			"last_error":      nil,
			"next_attempt_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to retry outbox entry %s: %w", entryID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("outbox entry %s is not in failed state", entryID)
	}
	a.log.Infow("outbox entry requeued by operator", "entryId", entryID)
	return nil
}
