package bootstrap

import (
	"context"

	"go.uber.org/fx"

	"btc_trader/internal/exchange"
	"btc_trader/internal/ledger"
	bootstrap "btc_trader/internal/modules/bootstrap/service"
	"btc_trader/internal/modules/config"
	health "btc_trader/internal/modules/health/service"
	"btc_trader/internal/notify"
	"btc_trader/internal/profit"
)

// Module должен идти раньше runner.Module: восстановление до первого цикла.
func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(
			func(
				cfg *config.Config,
				l *ledger.Ledger,
				a *profit.Account,
				client exchange.Client,
				prices exchange.PriceSource,
				n notify.Notifier,
			) *bootstrap.Restorer {
				return bootstrap.NewRestorer(l, a, client, prices, n, cfg.Trading.SeedInitialLot)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, r *bootstrap.Restorer, state *health.State) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := r.Restore(ctx); err != nil {
						return err
					}
					state.SetReady(true)
					r.Announce(ctx)
					return nil
				},
				OnStop: func(context.Context) error {
					state.SetReady(false)
					return nil
				},
			})
		}),
	)
}
