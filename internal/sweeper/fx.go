package sweeper

import (
	"context"

	"go.uber.org/fx"

	"github.com/vettedhq/entitlement-engine/internal/config"
)

var Module = fx.Module("sweeper",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Run),
)

// Run starts the sweep loop for the lifetime of the application.
func Run(lc fx.Lifecycle, cfg config.Config, sweep *Sweeper) {
	if !cfg.SweepEnabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sweep.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
