// Package dbtest opens throwaway in-memory databases for service tests.
package dbtest

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eventora/treasury/internal/models"
)

// Open returns an isolated in-memory database with the full schema
// migrated. Each call gets its own database.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Payment{},
		&models.EventLogEntry{},
		&models.OutboxEntry{},
		&models.PaymentSnapshot{},
		&models.PaymentEvent{},
		&models.Operation{},
		&models.Registration{},
		&models.LedgerEntry{},
		&models.OrderReservation{},
		&models.WebhookLog{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}
