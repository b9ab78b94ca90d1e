package okx

import (
	"context"

	"go.uber.org/fx"

	"btc_trader/internal/exchange"
	"btc_trader/internal/models"
	"btc_trader/internal/modules/config"
	"btc_trader/internal/modules/health/service"
	"btc_trader/pkg/logger"
)

func NewOKX(cfg *config.Config) *exchange.OKX {
	return exchange.NewOKX(exchange.OKXConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		APIKey:     cfg.Exchange.APIKey,
		APISecret:  cfg.Exchange.APISecret,
		Passphrase: cfg.Exchange.Passphrase,
		InstID:     cfg.Exchange.InstID,
		Simulated:  cfg.Exchange.Simulated,
	})
}

// NewPriceSource отдаёт поток tickers поверх REST или просто REST.
func NewPriceSource(lc fx.Lifecycle, cfg *config.Config, rest *exchange.OKX, state *service.State) exchange.PriceSource {
	if !cfg.Exchange.UseStream {
		return rest
	}
	stream := exchange.NewTickerStream(exchange.TickerStreamConfig{
		URL:    cfg.Exchange.WSURL,
		InstID: cfg.Exchange.InstID,
	}, rest)
	stream.OnConnected(state.SetWSConnected)

	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go stream.Run(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
	return stream
}

// NewClient: без явного dry_run=false ордера идут в бумажный счёт.
func NewClient(cfg *config.Config, rest *exchange.OKX, prices exchange.PriceSource, state *service.State) exchange.Client {
	if !cfg.Trading.DryRun {
		state.SetLive(true)
		logger.Warn("[OKX] ⚠️ LIVE trading on %s (simulated=%v)", cfg.Exchange.InstID, cfg.Exchange.Simulated)
		return rest
	}
	logger.Info("[OKX] DRY-RUN: paper account fiat=%.2f btc=%.8f", cfg.Exchange.PaperFiat, cfg.Exchange.PaperAsset)
	return exchange.NewPaper(prices, cfg.Fees, models.Balances{
		Fiat:  cfg.Exchange.PaperFiat,
		Asset: cfg.Exchange.PaperAsset,
	})
}

// Module поднимает REST-клиент OKX, поток котировок и торговый клиент.
func Module() fx.Option {
	return fx.Module("okx",
		fx.Provide(
			NewOKX,         // *exchange.OKX
			NewPriceSource, // exchange.PriceSource
			NewClient,      // exchange.Client
		),
	)
}
