package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/internal/platform/kafka"
	"github.com/eventora/treasury/pkg/config"
	"github.com/eventora/treasury/pkg/metrics"
)

// HandlerFunc processes one claimed outbox entry. Handlers must be
// idempotent: entries are delivered at least once.
type HandlerFunc func(ctx context.Context, entry *models.OutboxEntry) error

// Dispatcher polls the outbox table and drives pending entries through
// their registered handlers with exponential backoff on failure.
type Dispatcher struct {
	db        *gorm.DB
	log       *zap.SugaredLogger
	cfg       config.DispatchConfig
	publisher *kafka.Publisher

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	stop chan struct{}
	done chan struct{}
}

func NewDispatcher(db *gorm.DB, log *zap.SugaredLogger, cfg *config.Config, publisher *kafka.Publisher) *Dispatcher {
	c := cfg.Outbox
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 5 * time.Minute
	}
	return &Dispatcher{
		db:        db,
		log:       log,
		cfg:       c,
		publisher: publisher,
		handlers:  make(map[string]HandlerFunc),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Register binds a handler to an event type. Registration must finish
// before Start; the dispatcher does not lock against in-flight polls
// adding handlers.
func (d *Dispatcher) Register(eventType string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = fn
}

func (d *Dispatcher) handler(eventType string) (HandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.handlers[eventType]
	return fn, ok
}

// Start launches the polling loop. It returns immediately.
func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				if n, err := d.DispatchDue(context.Background()); err != nil {
					d.log.Errorw("outbox dispatch cycle failed", "error", err)
				} else if n > 0 {
					d.log.Infow("outbox dispatch cycle finished", "dispatched", n)
				}
			}
		}
	}()
}

// Stop halts the polling loop and waits for the active cycle to end.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

// DispatchDue processes one batch of due pending entries and returns
// how many entries it attempted.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	if err := d.reclaimStale(ctx); err != nil {
		return 0, err
	}

	var batch []*models.OutboxEntry
	err := d.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.OutboxStatusPending, time.Now()).
		Order("next_attempt_at asc").
		Limit(d.cfg.BatchSize).
		Find(&batch).Error
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending outbox entries: %w", err)
	}

	attempted := 0
	for _, entry := range batch {
		claimed, err := d.claim(ctx, entry)
		if err != nil {
			return attempted, err
		}
		if !claimed {
			continue
		}
		attempted++
		d.process(ctx, entry)
	}
	return attempted, nil
}

// reclaimStale returns entries stranded in processing by a crashed
// dispatcher to the pending pool once their claim lease expires. The
// reclaim counts as an attempt; entries already at the attempt limit
// are parked instead of retried.
func (d *Dispatcher) reclaimStale(ctx context.Context) error {
	now := time.Now()
	cutoff := now.Add(-d.cfg.ClaimTTL)

	res := d.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("status = ? AND claimed_at < ? AND attempts >= ?",
			models.OutboxStatusProcessing, cutoff, d.cfg.MaxAttempts-1).
		Updates(map[string]any{
			"status":     models.OutboxStatusFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": "claim expired",
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to park expired outbox claims: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		d.log.Errorw("parked outbox entries with expired claims", "count", res.RowsAffected)
	}

	res = d.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("status = ? AND claimed_at < ?", models.OutboxStatusProcessing, cutoff).
		Updates(map[string]any{
			"status":          models.OutboxStatusPending,
			"attempts":        gorm.Expr("attempts + 1"),
			"claimed_at":      nil,
			"next_attempt_at": now,
			"last_error":      "claim expired",
			"updated_at":      now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to reclaim expired outbox claims: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		d.log.Warnw("reclaimed outbox entries with expired claims", "count", res.RowsAffected)
	}
	return nil
}

// claim marks the entry processing only if it is still pending, so two
// dispatchers never run the same entry concurrently.
func (d *Dispatcher) claim(ctx context.Context, entry *models.OutboxEntry) (bool, error) {
	now := time.Now()
	res := d.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ? AND status = ?", entry.ID, models.OutboxStatusPending).
		Updates(map[string]any{
			"status":     models.OutboxStatusProcessing,
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim outbox entry %s: %w", entry.ID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (d *Dispatcher) process(ctx context.Context, entry *models.OutboxEntry) {
	fn, ok := d.handler(entry.EventType)
	if !ok {
		d.fail(ctx, entry, fmt.Errorf("no handler registered for event type %s", entry.EventType))
		return
	}

	hctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()

	if err := fn(hctx, entry); err != nil {
		d.fail(ctx, entry, err)
		return
	}
	d.succeed(ctx, entry)
}

func (d *Dispatcher) succeed(ctx context.Context, entry *models.OutboxEntry) {
	now := time.Now()
	err := d.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"status":       models.OutboxStatusDone,
			"processed_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		d.log.Errorw("failed to mark outbox entry done", "entryId", entry.ID, "error", err)
		return
	}
	metrics.OutboxDispatched.WithLabelValues(entry.EventType, "ok").Inc()

	// Relay is best effort: the entry is done whether or not the
	// broker accepts it.
	if d.publisher != nil && d.publisher.Enabled() {
		if err := d.publisher.PublishEntry(ctx, entry); err != nil {
			d.log.Warnw("failed to relay outbox entry to kafka", "entryId", entry.ID, "error", err)
		}
	}
}

func (d *Dispatcher) fail(ctx context.Context, entry *models.OutboxEntry, cause error) {
	attempts := entry.Attempts + 1
	now := time.Now()
	updates := map[string]any{
		"attempts":   attempts,
		"last_error": cause.Error(),
		"updated_at": now,
	}
	if attempts >= d.cfg.MaxAttempts {
		updates["status"] = models.OutboxStatusFailed
		d.log.Errorw("outbox entry parked after max attempts",
			"entryId", entry.ID, "eventType", entry.EventType, "attempts", attempts, "error", cause)
		metrics.OutboxDispatched.WithLabelValues(entry.EventType, "parked").Inc()
	} else {
		updates["status"] = models.OutboxStatusPending
		updates["next_attempt_at"] = now.Add(backoff(d.cfg.BackoffBase, attempts))
		d.log.Warnw("outbox entry dispatch failed, will retry",
			"entryId", entry.ID, "eventType", entry.EventType, "attempts", attempts, "error", cause)
		metrics.OutboxDispatched.WithLabelValues(entry.EventType, "retry").Inc()
	}

	if err := d.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ?", entry.ID).Updates(updates).Error; err != nil {
		d.log.Errorw("failed to record outbox entry failure", "entryId", entry.ID, "error", err)
	}
}

// backoff doubles the base delay per prior attempt, capped at ten
// minutes.
func backoff(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return d
}
