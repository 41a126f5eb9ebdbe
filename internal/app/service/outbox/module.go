package outbox

import (
	"context"

	"go.uber.org/fx"
)

func registerDispatcherLifecycle(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Stop()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(NewProducer),
	fx.Provide(NewDispatcher),
	fx.Provide(NewAdmin),
	fx.Invoke(registerDispatcherLifecycle),
)
