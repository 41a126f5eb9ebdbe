package pipeline

import (
	"go.uber.org/fx"

	"github.com/eventora/treasury/internal/app/service/operation"
	"github.com/eventora/treasury/internal/app/service/outbox"
)

func registerHandlers(p *Pipeline, d *outbox.Dispatcher, w *operation.Worker) {
	p.Register(d, w)
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerHandlers),
)
