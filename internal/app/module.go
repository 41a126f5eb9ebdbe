package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/eventora/treasury/internal/app/api/server"
	"github.com/eventora/treasury/internal/app/service/checkout"
	"github.com/eventora/treasury/internal/app/service/eventlog"
	"github.com/eventora/treasury/internal/app/service/fulfillment"
	"github.com/eventora/treasury/internal/app/service/ingest"
	"github.com/eventora/treasury/internal/app/service/ledger"
	"github.com/eventora/treasury/internal/app/service/operation"
	"github.com/eventora/treasury/internal/app/service/outbox"
	"github.com/eventora/treasury/internal/app/service/payment"
	"github.com/eventora/treasury/internal/app/service/pipeline"
	"github.com/eventora/treasury/internal/app/service/snapshot"
	"github.com/eventora/treasury/internal/app/service/webhooklog"
	"github.com/eventora/treasury/internal/platform/db"
	"github.com/eventora/treasury/internal/platform/kafka"
	"github.com/eventora/treasury/internal/platform/notifier"
	"github.com/eventora/treasury/pkg/config"
	"github.com/eventora/treasury/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	kafka.Module,
	notifier.Module,
	server.Module,
	eventlog.Module,
	outbox.Module,
	payment.Module,
	snapshot.Module,
	operation.Module,
	fulfillment.Module,
	ledger.Module,
	webhooklog.Module,
	ingest.Module,
	checkout.Module,
	pipeline.Module,
)
