package eventlog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/internal/platform/db/dbtest"
)

func TestAppend_IsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(db, zap.NewNop().Sugar())

	in := &AppendInput{
		OrgID:          "org-1",
		EventType:      EventTypePaymentStatusChanged,
		IdempotencyKey: "evt_once",
		SourceType:     "ticket_order",
		SourceID:       "order-1",
		CorrelationID:  "pay-1",
		Payload:        map[string]string{"status": "succeeded"},
	}

	err := Run(context.Background(), db, func(uow *UnitOfWork) error {
		res, err := svc.Append(uow, in)
		require.NoError(t, err)
		require.False(t, res.AlreadyExists)
		require.NotNil(t, res.Entry)
		require.NotEmpty(t, res.Entry.ID)
		return nil
	})
	require.NoError(t, err)

	err = Run(context.Background(), db, func(uow *UnitOfWork) error {
		res, err := svc.Append(uow, in)
		require.NoError(t, err)
		require.True(t, res.AlreadyExists)
		require.Nil(t, res.Entry)
		return nil
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.EventLogEntry{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestAppend_RequiresKeyAndType(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(db, zap.NewNop().Sugar())

	err := Run(context.Background(), db, func(uow *UnitOfWork) error {
		_, err := svc.Append(uow, &AppendInput{EventType: EventTypePaymentStatusChanged})
		require.Error(t, err)
		_, err = svc.Append(uow, &AppendInput{IdempotencyKey: "k"})
		require.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestRun_RollsBackOnError(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(db, zap.NewNop().Sugar())

	boom := errors.New("boom")
	err := Run(context.Background(), db, func(uow *UnitOfWork) error {
		res, err := svc.Append(uow, &AppendInput{
			EventType:      EventTypePaymentStatusChanged,
			IdempotencyKey: "evt_rollback",
		})
		require.NoError(t, err)
		require.False(t, res.AlreadyExists)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.EventLogEntry{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestGetByIdempotencyKey(t *testing.T) {
	db := dbtest.Open(t)
	svc := New(db, zap.NewNop().Sugar())

	require.NoError(t, Run(context.Background(), db, func(uow *UnitOfWork) error {
		_, err := svc.Append(uow, &AppendInput{
			EventType:      EventTypeProviderEventReceived,
			IdempotencyKey: "evt_lookup",
		})
		return err
	}))

	require.NoError(t, Run(context.Background(), db, func(uow *UnitOfWork) error {
		entry, err := svc.GetByIdempotencyKey(uow, "evt_lookup")
		require.NoError(t, err)
		require.NotNil(t, entry)
		require.Equal(t, EventTypeProviderEventReceived, entry.EventType)

		missing, err := svc.GetByIdempotencyKey(uow, "evt_absent")
		require.NoError(t, err)
		require.Nil(t, missing)
		return nil
	}))
}
