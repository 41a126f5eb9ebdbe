package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/internal/app/service/outbox"
	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/internal/platform/db/dbtest"
	"github.com/eventora/treasury/pkg/types"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	log := zap.NewNop().Sugar()
	return New(log, eventlog.New(db, log), outbox.NewProducer()), db
}

func createPayment(t *testing.T, svc *Service, db *gorm.DB) *models.Payment {
	t.Helper()
	var pay *models.Payment
	require.NoError(t, eventlog.Run(context.Background(), db, func(uow *eventlog.UnitOfWork) error {
		var err error
		pay, err = svc.FindOrCreate(uow, &CreateInput{
			OrgID:         "org-1",
			SourceType:    types.SourceTypeTicketOrder,
			SourceID:      "order-1",
			ProviderID:    types.PaymentProviderStripe,
			Currency:      "eur",
			SubtotalCents: 5000,
		})
		return err
	}))
	return pay
}

func TestFindOrCreate_ReturnsExistingAnchor(t *testing.T) {
	svc, db := newTestService(t)
	first := createPayment(t, svc, db)
	second := createPayment(t, svc, db)
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestApplyTransition_AppliesAndRecordsOutbox(t *testing.T) {
	svc, db := newTestService(t)
	pay := createPayment(t, svc, db)

	gross := int64(5000)
	var res *TransitionResult
	require.NoError(t, eventlog.Run(context.Background(), db, func(uow *eventlog.UnitOfWork) error {
		var err error
		res, err = svc.ApplyTransition(uow, &TransitionInput{
			Payment:          pay,
			To:               types.PaymentStatusSucceeded,
			IdempotencyKey:   "evt_1",
			ProviderIntentID: "pi_123",
			PurchaseID:       "purchase-1",
			GrossCents:       &gross,
		})
		return err
	}))
	require.True(t, res.Applied)
	require.False(t, res.Deduped)
	require.NotEmpty(t, res.EventID)

	var stored models.Payment
	require.NoError(t, db.First(&stored, "id = ?", pay.ID).Error)
	require.Equal(t, types.PaymentStatusSucceeded, stored.Status)
	require.NotNil(t, stored.ProviderIntentID)
	require.Equal(t, "pi_123", *stored.ProviderIntentID)

	var entries int64
	require.NoError(t, db.Model(&models.OutboxEntry{}).Where("event_id = ?", res.EventID).Count(&entries).Error)
	require.EqualValues(t, 1, entries)
}

func TestApplyTransition_DuplicateKeyIsNoOp(t *testing.T) {
	svc, db := newTestService(t)
	pay := createPayment(t, svc, db)

	apply := func() *TransitionResult {
		var res *TransitionResult
		require.NoError(t, eventlog.Run(context.Background(), db, func(uow *eventlog.UnitOfWork) error {
			var err error
			res, err = svc.ApplyTransition(uow, &TransitionInput{
				Payment:        pay,
				To:             types.PaymentStatusSucceeded,
				IdempotencyKey: "evt_dup",
			})
			return err
		}))
		return res
	}

	first := apply()
	require.True(t, first.Applied)

	// Simulate a redelivery against a fresh read of the row.
	var reread models.Payment
	require.NoError(t, db.First(&reread, "id = ?", pay.ID).Error)
	var res *TransitionResult
	require.NoError(t, eventlog.Run(context.Background(), db, func(uow *eventlog.UnitOfWork) error {
		var err error
		res, err = svc.ApplyTransition(uow, &TransitionInput{
			Payment:        &reread,
			To:             types.PaymentStatusSucceeded,
			IdempotencyKey: "evt_dup",
		})
		return err
	}))
	require.True(t, res.Deduped)
	require.False(t, res.Applied)

	var outboxCount int64
	require.NoError(t, db.Model(&models.OutboxEntry{}).Count(&outboxCount).Error)
	require.EqualValues(t, 1, outboxCount)
}

func TestApplyTransition_LateCancelIsRecordedButNotApplied(t *testing.T) {
	svc, db := newTestService(t)
	pay := createPayment(t, svc, db)

	require.NoError(t, eventlog.Run(context.Background(), db, func(uow *eventlog.UnitOfWork) error {
		_, err := svc.ApplyTransition(uow, &TransitionInput{
			Payment:        pay,
			To:             types.PaymentStatusSucceeded,
			IdempotencyKey: "evt_success",
		})
		return err
	}))

	var reread models.Payment
	require.NoError(t, db.First(&reread, "id = ?", pay.ID).Error)

	var res *TransitionResult
	require.NoError(t, eventlog.Run(context.Background(), db, func(uow *eventlog.UnitOfWork) error {
		var err error
		res, err = svc.ApplyTransition(uow, &TransitionInput{
			Payment:        &reread,
			To:             types.PaymentStatusCancelled,
			IdempotencyKey: "evt_late_cancel",
			Reason:         "provider cancel after success",
		})
		return err
	}))
	require.False(t, res.Applied)
	require.False(t, res.Deduped)
	require.NotEmpty(t, res.EventID)

	var stored models.Payment
	require.NoError(t, db.First(&stored, "id = ?", pay.ID).Error)
	require.Equal(t, types.PaymentStatusSucceeded, stored.Status)

	// The late cancel still left an audit fact behind.
	var events int64
	require.NoError(t, db.Model(&models.EventLogEntry{}).Count(&events).Error)
	require.EqualValues(t, 2, events)
}

func TestRecordFeesReconciled_Dedupes(t *testing.T) {
	svc, db := newTestService(t)
	pay := createPayment(t, svc, db)

	record := func() bool {
		var appended bool
		require.NoError(t, eventlog.Run(context.Background(), db, func(uow *eventlog.UnitOfWork) error {
			var err error
			appended, err = svc.RecordFeesReconciled(uow, &FeesInput{
				Payment:            pay,
				IdempotencyKey:     "evt_fees",
				ProviderIntentID:   "pi_123",
				GrossCents:         5000,
				ProcessorFeeCents:  170,
				NetToPlatformCents: 4830,
				Currency:           "eur",
			})
			return err
		}))
		return appended
	}

	require.True(t, record())
	require.False(t, record())
}
