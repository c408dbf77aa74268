package scheduler

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(runInBackground),
)

// runInBackground ties the sweep loop to the app lifecycle. The loop gets its
// own context because the OnStart context expires once startup completes.
func runInBackground(lc fx.Lifecycle, sched *Scheduler) {
	loopCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sched.log.Info("scheduler started",
				zap.Duration("interval", sched.cfg.RunInterval),
				zap.Duration("stale_after", sched.cfg.StaleAfter),
				zap.Int("batch_size", sched.cfg.BatchSize),
			)
			go func() {
				defer close(done)
				sched.RunForever(loopCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stop()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
