package operation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/pkg/config"
	"github.com/eventora/treasury/pkg/metrics"
)

// ExecFunc runs one claimed operation. Implementations must be
// idempotent: a crash between execution and the done-mark replays the
// operation.
type ExecFunc func(ctx context.Context, op *models.Operation) error

// Worker polls the operation table and executes due operations with
// exponential backoff on failure.
type Worker struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	cfg config.DispatchConfig

	mu        sync.RWMutex
	executors map[string]ExecFunc

	stop chan struct{}
	done chan struct{}
}

func NewWorker(db *gorm.DB, log *zap.SugaredLogger, cfg *config.Config) *Worker {
	c := cfg.Operations
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 5 * time.Minute
	}
	return &Worker{
		db:        db,
		log:       log,
		cfg:       c,
		executors: make(map[string]ExecFunc),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (w *Worker) Register(opType string, fn ExecFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.executors[opType] = fn
}

func (w *Worker) executor(opType string) (ExecFunc, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	fn, ok := w.executors[opType]
	return fn, ok
}

func (w *Worker) Start() {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				if _, err := w.RunDue(context.Background()); err != nil {
					w.log.Errorw("operation cycle failed", "error", err)
				}
			}
		}
	}()
}

func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

// RunDue executes one batch of due pending operations and returns how
// many it attempted.
func (w *Worker) RunDue(ctx context.Context) (int, error) {
	if err := w.reclaimStale(ctx); err != nil {
		return 0, err
	}

	var batch []*models.Operation
	err := w.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.OperationStatusPending, time.Now()).
		Order("next_attempt_at asc").
		Limit(w.cfg.BatchSize).
		Find(&batch).Error
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending operations: %w", err)
	}

	attempted := 0
	for _, op := range batch {
		claimed, err := w.claim(ctx, op)
		if err != nil {
			return attempted, err
		}
		if !claimed {
			continue
		}
		attempted++
		w.execute(ctx, op)
	}
	return attempted, nil
}

// reclaimStale returns operations stranded in processing by a crashed
// worker to the pending pool once their claim lease expires. The
// reclaim counts as an attempt; operations already at the attempt
// limit are parked instead of retried.
func (w *Worker) reclaimStale(ctx context.Context) error {
	now := time.Now()
	cutoff := now.Add(-w.cfg.ClaimTTL)

	res := w.db.WithContext(ctx).Model(&models.Operation{}).
		Where("status = ? AND claimed_at < ? AND attempts >= ?",
			models.OperationStatusProcessing, cutoff, w.cfg.MaxAttempts-1).
		Updates(map[string]any{
			"status":     models.OperationStatusFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": "claim expired",
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to park expired operation claims: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		w.log.Errorw("parked operations with expired claims", "count", res.RowsAffected)
	}

	res = w.db.WithContext(ctx).Model(&models.Operation{}).
		Where("status = ? AND claimed_at < ?", models.OperationStatusProcessing, cutoff).
		Updates(map[string]any{
			"status":          models.OperationStatusPending,
			"attempts":        gorm.Expr("attempts + 1"),
			"claimed_at":      nil,
			"next_attempt_at": now,
			"last_error":      "claim expired",
			"updated_at":      now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to reclaim expired operation claims: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		w.log.Warnw("reclaimed operations with expired claims", "count", res.RowsAffected)
	}
	return nil
}

func (w *Worker) claim(ctx context.Context, op *models.Operation) (bool, error) {
	now := time.Now()
	res := w.db.WithContext(ctx).Model(&models.Operation{}).
		Where("id = ? AND status = ?", op.ID, models.OperationStatusPending).
		Updates(map[string]any{
			"status":     models.OperationStatusProcessing,
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim operation %s: %w", op.ID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (w *Worker) execute(ctx context.Context, op *models.Operation) {
	fn, ok := w.executor(op.Type)
	if !ok {
		w.fail(ctx, op, fmt.Errorf("no executor registered for operation type %s", op.Type))
		return
	}

	octx, cancel := context.WithTimeout(ctx, w.cfg.HandlerTimeout)
	defer cancel()

	if err := fn(octx, op); err != nil {
		w.fail(ctx, op, err)
		return
	}

	now := time.Now()
	err := w.db.WithContext(ctx).Model(&models.Operation{}).
		Where("id = ?", op.ID).
		Updates(map[string]any{
			"status":       models.OperationStatusDone,
			"processed_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		w.log.Errorw("failed to mark operation done", "operationId", op.ID, "error", err)
		return
	}
	metrics.OperationsExecuted.WithLabelValues(op.Type, "ok").Inc()
}

func (w *Worker) fail(ctx context.Context, op *models.Operation, cause error) {
	attempts := op.Attempts + 1
	now := time.Now()
	updates := map[string]any{
		"attempts":   attempts,
		"last_error": cause.Error(),
		"updated_at": now,
	}
	if attempts >= w.cfg.MaxAttempts {
		updates["status"] = models.OperationStatusFailed
		w.log.Errorw("operation parked after max attempts",
			"operationId", op.ID, "type", op.Type, "attempts", attempts, "error", cause)
		metrics.OperationsExecuted.WithLabelValues(op.Type, "parked").Inc()
	} else {
		updates["status"] = models.OperationStatusPending
		updates["next_attempt_at"] = now.Add(retryDelay(w.cfg.BackoffBase, attempts))
		w.log.Warnw("operation failed, will retry",
			"operationId", op.ID, "type", op.Type, "attempts", attempts, "error", cause)
		metrics.OperationsExecuted.WithLabelValues(op.Type, "retry").Inc()
	}

	if err := w.db.WithContext(ctx).Model(&models.Operation{}).
		Where("id = ?", op.ID).Updates(updates).Error; err != nil {
		w.log.Errorw("failed to record operation failure", "operationId", op.ID, "error", err)
	}
}

func retryDelay(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return d
}
