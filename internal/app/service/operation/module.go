package operation

import (
	"context"

	"go.uber.org/fx"
)

func registerWorkerLifecycle(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			w.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			w.Stop()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Provide(NewWorker),
	fx.Invoke(registerWorkerLifecycle),
)
