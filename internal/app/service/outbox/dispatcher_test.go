package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/internal/models"
	"github.com/eventora/treasury/internal/platform/db/dbtest"
	"github.com/eventora/treasury/internal/platform/kafka"
	"github.com/eventora/treasury/pkg/config"
	"github.com/eventora/treasury/pkg/tool"
)

func testConfig() *config.Config {
	return &config.Config{
		Outbox: config.DispatchConfig{
			PollInterval:   10 * time.Millisecond,
			BatchSize:      10,
			MaxAttempts:    3,
			HandlerTimeout: time.Second,
			BackoffBase:    time.Minute,
		},
	}
}

func appendEvent(t *testing.T, db *gorm.DB, key string) *models.EventLogEntry {
	t.Helper()
	events := eventlog.New(db, zap.NewNop().Sugar())
	producer := NewProducer()

	var entry *models.EventLogEntry
	require.NoError(t, eventlog.Run(context.Background(), db, func(uow *eventlog.UnitOfWork) error {
		res, err := events.Append(uow, &eventlog.AppendInput{
			OrgID:          "org-1",
			EventType:      eventlog.EventTypePaymentStatusChanged,
			IdempotencyKey: key,
			CorrelationID:  "pay-1",
			Payload:        map[string]string{"status": "succeeded"},
		})
		if err != nil {
			return err
		}
		entry = res.Entry
		return producer.Record(uow, entry)
	}))
	return entry
}

func TestProducer_RecordDedupesByKey(t *testing.T) {
	db := dbtest.Open(t)
	producer := NewProducer()
	entry := appendEvent(t, db, "evt_prod")

	// Recording the same event again must not create a second row.
	require.NoError(t, eventlog.Run(context.Background(), db, func(uow *eventlog.UnitOfWork) error {
		clone := *entry
		clone.ID = tool.GenerateUUIDV7()
		return producer.Record(uow, &clone)
	}))

	var count int64
	require.NoError(t, db.Model(&models.OutboxEntry{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestDispatchDue_MarksDoneOnSuccess(t *testing.T) {
	db := dbtest.Open(t)
	appendEvent(t, db, "evt_ok")

	d := NewDispatcher(db, zap.NewNop().Sugar(), testConfig(), nil)
	var handled []string
	d.Register(eventlog.EventTypePaymentStatusChanged, func(ctx context.Context, entry *models.OutboxEntry) error {
		handled = append(handled, entry.DedupeKey)
		return nil
	})

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"evt_ok"}, handled)

	var row models.OutboxEntry
	require.NoError(t, db.First(&row, "dedupe_key = ?", "evt_ok").Error)
	require.Equal(t, models.OutboxStatusDone, row.Status)
	require.NotNil(t, row.ProcessedAt)

	// Done entries are not picked up again.
	n, err = d.DispatchDue(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDispatchDue_RetriesWithBackoffThenParks(t *testing.T) {
	db := dbtest.Open(t)
	appendEvent(t, db, "evt_flaky")

	d := NewDispatcher(db, zap.NewNop().Sugar(), testConfig(), nil)
	d.Register(eventlog.EventTypePaymentStatusChanged, func(ctx context.Context, entry *models.OutboxEntry) error {
		return errors.New("downstream unavailable")
	})

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var row models.OutboxEntry
	require.NoError(t, db.First(&row, "dedupe_key = ?", "evt_flaky").Error)
	require.Equal(t, models.OutboxStatusPending, row.Status)
	require.Equal(t, 1, row.Attempts)
	require.NotNil(t, row.LastError)
	require.True(t, row.NextAttemptAt.After(time.Now()))

	// Exhaust the remaining attempts with the backoff window forced open.
	for i := 0; i < 2; i++ {
		require.NoError(t, db.Model(&models.OutboxEntry{}).
			Where("id = ?", row.ID).
			Update("next_attempt_at", time.Now().Add(-time.Second)).Error)
		_, err = d.DispatchDue(context.Background())
		require.NoError(t, err)
	}

	require.NoError(t, db.First(&row, "dedupe_key = ?", "evt_flaky").Error)
	require.Equal(t, models.OutboxStatusFailed, row.Status)
	require.Equal(t, 3, row.Attempts)
}

func TestDispatchDue_SkipsUnclaimableEntries(t *testing.T) {
	db := dbtest.Open(t)
	entry := appendEvent(t, db, "evt_claimed")

	// Another dispatcher claimed the entry moments ago.
	require.NoError(t, db.Model(&models.OutboxEntry{}).
		Where("event_id = ?", entry.ID).
		Updates(map[string]any{
			"status":     models.OutboxStatusProcessing,
			"claimed_at": time.Now(),
		}).Error)

	d := NewDispatcher(db, zap.NewNop().Sugar(), testConfig(), nil)
	d.Register(eventlog.EventTypePaymentStatusChanged, func(ctx context.Context, entry *models.OutboxEntry) error {
		t.Fatal("claimed entry must not be handled twice")
		return nil
	})

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDispatchDue_ReclaimsExpiredClaims(t *testing.T) {
	db := dbtest.Open(t)
	entry := appendEvent(t, db, "evt_stranded")

	// A dispatcher crashed after claiming: the entry sits in processing
	// with a lease far past its TTL.
	require.NoError(t, db.Model(&models.OutboxEntry{}).
		Where("event_id = ?", entry.ID).
		Updates(map[string]any{
			"status":     models.OutboxStatusProcessing,
			"claimed_at": time.Now().Add(-time.Hour),
		}).Error)

	d := NewDispatcher(db, zap.NewNop().Sugar(), testConfig(), nil)
	var handled []string
	d.Register(eventlog.EventTypePaymentStatusChanged, func(ctx context.Context, entry *models.OutboxEntry) error {
		handled = append(handled, entry.DedupeKey)
		return nil
	})

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"evt_stranded"}, handled)

	var row models.OutboxEntry
	require.NoError(t, db.First(&row, "dedupe_key = ?", "evt_stranded").Error)
	require.Equal(t, models.OutboxStatusDone, row.Status)
	// The lost attempt is counted.
	require.Equal(t, 1, row.Attempts)
}

func TestDispatchDue_ExpiredClaimAtAttemptLimitParks(t *testing.T) {
	db := dbtest.Open(t)
	entry := appendEvent(t, db, "evt_expired_limit")

	require.NoError(t, db.Model(&models.OutboxEntry{}).
		Where("event_id = ?", entry.ID).
		Updates(map[string]any{
			"status":     models.OutboxStatusProcessing,
			"claimed_at": time.Now().Add(-time.Hour),
			"attempts":   2,
		}).Error)

	d := NewDispatcher(db, zap.NewNop().Sugar(), testConfig(), nil)
	d.Register(eventlog.EventTypePaymentStatusChanged, func(ctx context.Context, entry *models.OutboxEntry) error {
		t.Fatal("parked entry must not be handled")
		return nil
	})

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	var row models.OutboxEntry
	require.NoError(t, db.First(&row, "dedupe_key = ?", "evt_expired_limit").Error)
	require.Equal(t, models.OutboxStatusFailed, row.Status)
	require.Equal(t, 3, row.Attempts)

	// Parked entries remain reachable through the admin retry path.
	admin := NewAdmin(db, zap.NewNop().Sugar())
	require.NoError(t, admin.RetryEntry(context.Background(), row.ID))
}

func TestDispatchDue_UnknownEventTypeIsParkedEventually(t *testing.T) {
	db := dbtest.Open(t)
	appendEvent(t, db, "evt_unroutable")

	d := NewDispatcher(db, zap.NewNop().Sugar(), testConfig(), nil)

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var row models.OutboxEntry
	require.NoError(t, db.First(&row, "dedupe_key = ?", "evt_unroutable").Error)
	require.Equal(t, models.OutboxStatusPending, row.Status)
	require.Equal(t, 1, row.Attempts)
}

type captureWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestDispatchDue_RelaysDoneEntriesToKafka(t *testing.T) {
	db := dbtest.Open(t)
	appendEvent(t, db, "evt_relay")

	cw := &captureWriter{}
	pub := kafka.NewPublisherWithWriter(cw, "treasury.finance.events", zap.NewNop().Sugar())
	d := NewDispatcher(db, zap.NewNop().Sugar(), testConfig(), pub)
	d.Register(eventlog.EventTypePaymentStatusChanged, func(ctx context.Context, entry *models.OutboxEntry) error {
		return nil
	})

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Len(t, cw.msgs, 1)
	require.Equal(t, []byte("pay-1"), cw.msgs[0].Key)
}

func TestDispatchDue_RelayFailureDoesNotFailDispatch(t *testing.T) {
	db := dbtest.Open(t)
	appendEvent(t, db, "evt_relay_down")

	cw := &captureWriter{err: errors.New("broker unavailable")}
	pub := kafka.NewPublisherWithWriter(cw, "treasury.finance.events", zap.NewNop().Sugar())
	d := NewDispatcher(db, zap.NewNop().Sugar(), testConfig(), pub)
	d.Register(eventlog.EventTypePaymentStatusChanged, func(ctx context.Context, entry *models.OutboxEntry) error {
		return nil
	})

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The outbox table is the source of truth; the broker is a mirror.
	var row models.OutboxEntry
	require.NoError(t, db.First(&row, "dedupe_key = ?", "evt_relay_down").Error)
	require.Equal(t, models.OutboxStatusDone, row.Status)
}

func TestAdmin_RetryEntry(t *testing.T) {
	db := dbtest.Open(t)
	entry := appendEvent(t, db, "evt_parked")
	require.NoError(t, db.Model(&models.OutboxEntry{}).
		Where("event_id = ?", entry.ID).
		Updates(map[string]any{"status": models.OutboxStatusFailed, "attempts": 3}).Error)

	admin := NewAdmin(db, zap.NewNop().Sugar())
	require.NoError(t, admin.RetryEntry(context.Background(), entryIDFor(t, db, entry.ID)))

	var row models.OutboxEntry
	require.NoError(t, db.First(&row, "event_id = ?", entry.ID).Error)
	require.Equal(t, models.OutboxStatusPending, row.Status)
	require.Zero(t, row.Attempts)
	require.Nil(t, row.LastError)

	// Only parked entries are retryable.
	require.Error(t, admin.RetryEntry(context.Background(), row.ID))
}

func TestAdmin_ScanEntries(t *testing.T) {
	db := dbtest.Open(t)
	appendEvent(t, db, "evt_scan_a")
	appendEvent(t, db, "evt_scan_b")

	admin := NewAdmin(db, zap.NewNop().Sugar())
	res, err := admin.ScanEntries(context.Background(), &ScanEntriesRequest{Size: 1, SortBy: "created_at"})
	require.NoError(t, err)
	require.EqualValues(t, 2, res.Total)
	require.Len(t, res.Items, 1)
}

func entryIDFor(t *testing.T, db *gorm.DB, eventID string) string {
	t.Helper()
	var row models.OutboxEntry
	require.NoError(t, db.First(&row, "event_id = ?", eventID).Error)
	return row.ID
}
