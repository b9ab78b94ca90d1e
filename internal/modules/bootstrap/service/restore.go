package service

import (
	"context"
	"fmt"

	"btc_trader/internal/exchange"
	"btc_trader/internal/helper"
	"btc_trader/internal/ledger"
	"btc_trader/internal/models"
	"btc_trader/internal/notify"
	"btc_trader/internal/profit"
	"btc_trader/pkg/logger"
)

// Restorer поднимает состояние из хранилища до первого цикла.
type Restorer struct {
	ledger  *ledger.Ledger
	account *profit.Account
	client  exchange.Client
	prices  exchange.PriceSource
	n       notify.Notifier

	seedInitial bool
}

func NewRestorer(
	l *ledger.Ledger,
	a *profit.Account,
	client exchange.Client,
	prices exchange.PriceSource,
	n notify.Notifier,
	seedInitial bool,
) *Restorer {
	return &Restorer{ledger: l, account: a, client: client, prices: prices, n: n, seedInitial: seedInitial}
}

// Restore не падает на ошибках хранилища: продолжаем с пустым состоянием.
func (r *Restorer) Restore(ctx context.Context) error {
	if err := r.ledger.Restore(ctx); err != nil {
		logger.Warn("[BOOT] ledger restore: %v", err)
	}
	if err := r.account.Restore(ctx); err != nil {
		logger.Warn("[BOOT] profit restore: %v", err)
	}

	// бумажный счёт продолжает с последнего снимка
	if p, ok := r.client.(*exchange.Paper); ok {
		if snaps := r.account.Snapshots(); len(snaps) > 0 {
			last := snaps[len(snaps)-1]
			p.SetBalances(models.Balances{Fiat: last.FiatBalance, Asset: last.AssetBalance})
			logger.Info("[BOOT] paper balances from snapshot: fiat=%.2f btc=%.8f", last.FiatBalance, last.AssetBalance)
		}
	}

	if len(r.ledger.Lots()) == 0 && r.seedInitial {
		if err := r.seed(ctx); err != nil {
			return err
		}
	}

	logger.Info("[BOOT] restored: lots=%d open=%.8f BTC", len(r.ledger.Lots()), r.ledger.OpenAsset())
	return nil
}

// Announce шлёт сообщение о старте бота.
func (r *Restorer) Announce(ctx context.Context) {
	r.n.Sendf(ctx, models.PriorityLow, "🚀 Бот запущен: %s (%s), открытых лотов %d",
		r.client.Name(), helper.ModeLabel(r.client.Live()), len(r.ledger.OpenLots()))
}

// seed заводит initial-лот на BTC, который уже лежит на счёте.
func (r *Restorer) seed(ctx context.Context) error {
	bal, err := r.client.Balances(ctx)
	if err != nil {
		logger.Warn("[BOOT] seed skipped, balances: %v", err)
		return nil
	}
	if bal.Asset <= models.DustAsset {
		return nil
	}
	q, err := r.prices.CurrentPrice(ctx)
	if err != nil {
		logger.Warn("[BOOT] seed skipped, price: %v", err)
		return nil
	}
	if err := r.ledger.Reset(ctx, &ledger.Seed{Asset: bal.Asset, UnitPrice: q.Price}); err != nil {
		return fmt.Errorf("seed initial lot: %w", err)
	}
	logger.Info("[BOOT] initial lot seeded: %.8f BTC @ %.2f", bal.Asset, q.Price)
	return nil
}
