package operation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/internal/platform/db/dbtest"
	"github.com/eventora/treasury/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Operations: config.DispatchConfig{
			PollInterval:   10 * time.Millisecond,
			BatchSize:      10,
			MaxAttempts:    2,
			HandlerTimeout: time.Second,
			BackoffBase:    time.Minute,
		},
	}
}

func enqueue(t *testing.T, db *gorm.DB, svc *Service, in *EnqueueInput) bool {
	t.Helper()
	var created bool
	require.NoError(t, eventlog.Run(context.Background(), db, func(uow *eventlog.UnitOfWork) error {
		var err error
		created, err = svc.Enqueue(uow, in)
		return err
	}))
	return created
}

func TestEnqueue_CollapsesDuplicates(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(zap.NewNop().Sugar())

	in := &EnqueueInput{
		Type:      TypeFulfillPayment,
		DedupeKey: "fulfill_payment:pi_123",
		Payload:   map[string]string{"payment_id": "pay-1"},
	}
	require.True(t, enqueue(t, db, svc, in))
	require.False(t, enqueue(t, db, svc, in))
	require.False(t, enqueue(t, db, svc, in))

	var count int64
	require.NoError(t, db.Model(&models.Operation{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestEnqueue_RequiresTypeAndKey(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(zap.NewNop().Sugar())

	require.Error(t, eventlog.Run(context.Background(), db, func(uow *eventlog.UnitOfWork) error {
		_, err := svc.Enqueue(uow, &EnqueueInput{Type: TypeNotifySale})
		return err
	}))
}

func TestRunDue_ExecutesEachOperationOnce(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(zap.NewNop().Sugar())
	w := NewWorker(db, zap.NewNop().Sugar(), testConfig())

	executions := 0
	w.Register(TypeLedgerUpsert, func(ctx context.Context, op *models.Operation) error {
		executions++
		return nil
	})

	// Three logically identical enqueues collapse into one execution.
	in := &EnqueueInput{Type: TypeLedgerUpsert, DedupeKey: "ledger_upsert:purchase-1"}
	for i := 0; i < 3; i++ {
		enqueue(t, db, svc, in)
	}

	n, err := w.RunDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, executions)

	n, err = w.RunDue(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 1, executions)

	var row models.Operation
	require.NoError(t, db.First(&row, "dedupe_key = ?", "ledger_upsert:purchase-1").Error)
	require.Equal(t, models.OperationStatusDone, row.Status)
	require.NotNil(t, row.ProcessedAt)
}

func TestRunDue_ParksAfterMaxAttempts(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(zap.NewNop().Sugar())
	w := NewWorker(db, zap.NewNop().Sugar(), testConfig())
	w.Register(TypeNotifySale, func(ctx context.Context, op *models.Operation) error {
		return errors.New("notification channel down")
	})

	enqueue(t, db, svc, &EnqueueInput{Type: TypeNotifySale, DedupeKey: "notify_sale:pay-1"})

	_, err := w.RunDue(context.Background())
	require.NoError(t, err)

	var row models.Operation
	require.NoError(t, db.First(&row, "dedupe_key = ?", "notify_sale:pay-1").Error)
	require.Equal(t, models.OperationStatusPending, row.Status)
	require.Equal(t, 1, row.Attempts)

	require.NoError(t, db.Model(&models.Operation{}).
		Where("id = ?", row.ID).
		Update("next_attempt_at", time.Now().Add(-time.Second)).Error)
	_, err = w.RunDue(context.Background())
	require.NoError(t, err)

	require.NoError(t, db.First(&row, "dedupe_key = ?", "notify_sale:pay-1").Error)
	require.Equal(t, models.OperationStatusFailed, row.Status)
	require.Equal(t, 2, row.Attempts)
}

func TestRunDue_ReclaimsExpiredClaims(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(zap.NewNop().Sugar())
	w := NewWorker(db, zap.NewNop().Sugar(), testConfig())

	executions := 0
	w.Register(TypeFulfillPayment, func(ctx context.Context, op *models.Operation) error {
		executions++
		return nil
	})

	enqueue(t, db, svc, &EnqueueInput{Type: TypeFulfillPayment, DedupeKey: "fulfill_payment:pi_stranded"})

	// A worker crashed after claiming: the operation sits in processing
	// with a lease far past its TTL.
	require.NoError(t, db.Model(&models.Operation{}).
		Where("dedupe_key = ?", "fulfill_payment:pi_stranded").
		Updates(map[string]any{
			"status":     models.OperationStatusProcessing,
			"claimed_at": time.Now().Add(-time.Hour),
		}).Error)

	n, err := w.RunDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, executions)

	var row models.Operation
	require.NoError(t, db.First(&row, "dedupe_key = ?", "fulfill_payment:pi_stranded").Error)
	require.Equal(t, models.OperationStatusDone, row.Status)
	// The lost attempt is counted.
	require.Equal(t, 1, row.Attempts)
}

func TestRunDue_ExpiredClaimAtAttemptLimitParks(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(zap.NewNop().Sugar())
	w := NewWorker(db, zap.NewNop().Sugar(), testConfig())
	w.Register(TypeFulfillPayment, func(ctx context.Context, op *models.Operation) error {
		t.Fatal("parked operation must not execute")
		return nil
	})

	enqueue(t, db, svc, &EnqueueInput{Type: TypeFulfillPayment, DedupeKey: "fulfill_payment:pi_expired"})
	require.NoError(t, db.Model(&models.Operation{}).
		Where("dedupe_key = ?", "fulfill_payment:pi_expired").
		Updates(map[string]any{
			"status":     models.OperationStatusProcessing,
			"claimed_at": time.Now().Add(-time.Hour),
			"attempts":   1,
		}).Error)

	n, err := w.RunDue(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	var row models.Operation
	require.NoError(t, db.First(&row, "dedupe_key = ?", "fulfill_payment:pi_expired").Error)
	require.Equal(t, models.OperationStatusFailed, row.Status)
	require.Equal(t, 2, row.Attempts)
}

func TestRunDue_FreshClaimIsNotReclaimed(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(zap.NewNop().Sugar())
	w := NewWorker(db, zap.NewNop().Sugar(), testConfig())
	w.Register(TypeFulfillPayment, func(ctx context.Context, op *models.Operation) error {
		t.Fatal("claimed operation must not be executed twice")
		return nil
	})

	enqueue(t, db, svc, &EnqueueInput{Type: TypeFulfillPayment, DedupeKey: "fulfill_payment:pi_live"})
	require.NoError(t, db.Model(&models.Operation{}).
		Where("dedupe_key = ?", "fulfill_payment:pi_live").
		Updates(map[string]any{
			"status":     models.OperationStatusProcessing,
			"claimed_at": time.Now(),
		}).Error)

	n, err := w.RunDue(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRunDue_MissingExecutorRetries(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(zap.NewNop().Sugar())
	w := NewWorker(db, zap.NewNop().Sugar(), testConfig())

	enqueue(t, db, svc, &EnqueueInput{Type: "unknown_op", DedupeKey: "unknown_op:x"})

	n, err := w.RunDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var row models.Operation
	require.NoError(t, db.First(&row, "dedupe_key = ?", "unknown_op:x").Error)
	require.Equal(t, models.OperationStatusPending, row.Status)
	require.Equal(t, 1, row.Attempts)
}
