package runner

import (
	"context"

	"go.uber.org/fx"

	"btc_trader/internal/decision"
	"btc_trader/internal/exchange"
	"btc_trader/internal/ledger"
	"btc_trader/internal/modules/config"
	"btc_trader/internal/modules/health/service"
	"btc_trader/internal/modules/storage"
	"btc_trader/internal/notify"
	"btc_trader/internal/profit"
	"btc_trader/internal/strategy"
	"btc_trader/internal/timing"
)

func NewLedger(cfg *config.Config, st storage.Stores) *ledger.Ledger {
	return ledger.New(st.Lots, cfg.Fees)
}

func NewAccount(cfg *config.Config, st storage.Stores) *profit.Account {
	return profit.New(cfg.Milestones, st.Profit, cfg.Trading.MaxSnapshots)
}

func NewEngine(cfg *config.Config) *decision.Engine {
	return decision.NewEngine(cfg.Decision, cfg.Fees)
}

func NewGate(cfg *config.Config) *timing.Gate {
	return timing.NewGate(cfg.Timing, 0)
}

func NewFromConfig(
	cfg *config.Config,
	client exchange.Client,
	prices exchange.PriceSource,
	l *ledger.Ledger,
	a *profit.Account,
	e *decision.Engine,
	g *timing.Gate,
	n notify.Notifier,
	state *service.State,
) *Runner {
	rules := decision.LoadAlertRules(cfg.Alerts.File, cfg.Decision.BuyThreshold, cfg.Decision.SellThreshold)
	return New(Deps{
		Exchange: client,
		Prices:   prices,
		Ledger:   l,
		Account:  a,
		Engine:   e,
		Gate:     g,
		Alerts:   decision.NewAlertMonitor(rules),
		Range:    strategy.NewRange(cfg.Range),
		Notifier: n,
		Health:   state,
	}, Options{
		ConfirmRequired: cfg.Trading.ConfirmRequired,
		ConfirmTimeout:  cfg.Trading.ConfirmTimeout,
		SellFraction:    cfg.Trading.SellFraction,
		MaxSingleBuy:    cfg.Trading.MaxSingleBuy,
	})
}

// Module собирает ядро и запускает цикл опроса после bootstrap.
func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewLedger,
			NewAccount,
			NewEngine,
			NewGate,
			NewFromConfig, // *Runner
		),
		fx.Invoke(func(tg *notify.Telegram, r *Runner) {
			if tg == nil {
				return
			}
			tg.Handle("status", r.Status)
			tg.Handle("lots", r.LotsText)
			tg.Handle("profit", r.ProfitText)
		}),
		fx.Invoke(func(lc fx.Lifecycle, r *Runner) {
			var (
				cancel context.CancelFunc
				done   = make(chan struct{})
			)
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					var runCtx context.Context
					runCtx, cancel = context.WithCancel(context.Background())
					go func() {
						defer close(done)
						r.Run(runCtx)
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					if cancel != nil {
						cancel()
					}
					select {
					case <-done:
					case <-ctx.Done():
					}
					return nil
				},
			})
		}),
	)
}
