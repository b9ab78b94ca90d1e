package runner

import (
	"context"
	"errors"
	"fmt"
	"math"

	"btc_trader/internal/helper"
	"btc_trader/internal/metrics"
	"btc_trader/internal/models"
	"btc_trader/pkg/logger"
	"btc_trader/pkg/tracing"
)

// ErrNotConfirmed — оператор отклонил сделку или не ответил вовремя.
var ErrNotConfirmed = errors.New("not confirmed")

// BuyNow — ручная покупка. Лимит max_single_buy снимается только флагом emergency.
func (r *Runner) BuyNow(ctx context.Context, fiat float64, emergency bool) (models.Lot, error) {
	return r.executeBuy(ctx, fiat, emergency, models.LotTagManual, "ручная покупка")
}

// SellLot продаёт конкретный открытый лот целиком.
func (r *Runner) SellLot(ctx context.Context, lotID string) (models.SaleResult, error) {
	span, ctx := tracing.StartSpan(ctx, "runner.sell_lot")
	defer span.Finish()

	r.tradeMu.Lock()
	defer r.tradeMu.Unlock()

	var (
		lot   models.Lot
		found bool
	)
	for _, l := range r.d.Ledger.OpenLots() {
		if l.ID == lotID {
			lot, found = l, true
			break
		}
	}
	if !found {
		return models.SaleResult{}, fmt.Errorf("lot %s: %w", lotID, models.ErrNotFound)
	}

	mode := helper.ModeLabel(r.d.Exchange.Live())
	before, err := r.d.Exchange.Balances(ctx)
	if err != nil {
		return models.SaleResult{}, fmt.Errorf("sell lot balances: %w", err)
	}
	q, err := r.d.Prices.CurrentPrice(ctx)
	if err != nil {
		return models.SaleResult{}, fmt.Errorf("sell lot price: %w", err)
	}
	if err := r.checkProfit(ctx, lot.AssetAmount*bidPrice(q), lot.FiatAmount); err != nil {
		return models.SaleResult{}, err
	}

	fill, err := r.d.Exchange.Sell(ctx, lot.AssetAmount)
	if err != nil {
		tracing.Fail(span, err)
		r.tradeFailed(ctx, models.SideSell, mode, err)
		return models.SaleResult{}, fmt.Errorf("sell lot: %w", err)
	}

	res, err := r.d.Ledger.SellLot(ctx, lotID, fill.UnitPrice)
	if err != nil {
		r.ledgerDiverged(ctx, mode, err)
		return models.SaleResult{}, fmt.Errorf("sell lot ledger: %w", err)
	}
	after := r.afterTrade(ctx, before, fill, models.SourceSell, 0)

	logger.Info("[TRADE] %s SELL lot %s %.8f BTC @ %.2f net=%.2f | fiat %.2f→%.2f btc %.8f→%.8f order=%s",
		mode, lotID, fill.AssetAmount, fill.UnitPrice, res.NetProfit,
		before.Fiat, after.Fiat, before.Asset, after.Asset, fill.OrderID)
	r.d.Notifier.Sendf(ctx, models.PriorityNormal,
		"💰 [%s] Лот %s продан: %s @ %.2f\nПрибыль: %s (чистая %s)\nКомиссия: %.4f\nБаланс: %s → %s",
		mode, shortID(lotID), helper.FormatBTC(fill.AssetAmount), fill.UnitPrice,
		helper.FormatSigned(res.GrossProfit), helper.FormatSigned(res.NetProfit), fill.Fee,
		helper.FormatFiat(before.Fiat), helper.FormatFiat(after.Fiat))
	return res, nil
}

func (r *Runner) executeBuy(ctx context.Context, fiat float64, emergency bool, tag models.LotTag, reason string) (models.Lot, error) {
	span, ctx := tracing.StartSpan(ctx, "runner.buy")
	defer span.Finish()

	if fiat <= 0 || math.IsNaN(fiat) {
		return models.Lot{}, fmt.Errorf("buy %.2f: %w", fiat, models.ErrInvalidInput)
	}
	if r.opt.MaxSingleBuy > 0 && fiat > r.opt.MaxSingleBuy && !emergency {
		return models.Lot{}, fmt.Errorf("buy %.2f over limit %.2f: %w", fiat, r.opt.MaxSingleBuy, models.ErrSafetyLimit)
	}

	mode := helper.ModeLabel(r.d.Exchange.Live())

	// подтверждение до захвата tradeMu: ожидание ответа не держит цикл опроса
	if tag == models.LotTagAuto && r.opt.ConfirmRequired {
		q, err := r.d.Prices.CurrentPrice(ctx)
		if err != nil {
			return models.Lot{}, fmt.Errorf("buy price: %w", err)
		}
		prompt := fmt.Sprintf("🔔 [%s] Покупка на %s по ~%.2f\n%s\nКупить?", mode, helper.FormatFiat(fiat), q.Price, reason)
		if !r.d.Notifier.Confirm(ctx, prompt, r.opt.ConfirmTimeout) {
			r.d.Notifier.Sendf(ctx, models.PriorityNormal, "⛔️ [%s] Покупка отменена/таймаут", mode)
			return models.Lot{}, fmt.Errorf("buy: %w", ErrNotConfirmed)
		}
	}

	r.tradeMu.Lock()
	defer r.tradeMu.Unlock()

	before, err := r.d.Exchange.Balances(ctx)
	if err != nil {
		return models.Lot{}, fmt.Errorf("buy balances: %w", err)
	}
	q, err := r.d.Prices.CurrentPrice(ctx)
	if err != nil {
		return models.Lot{}, fmt.Errorf("buy price: %w", err)
	}

	fill, err := r.d.Exchange.Buy(ctx, fiat)
	if err != nil {
		tracing.Fail(span, err)
		r.tradeFailed(ctx, models.SideBuy, mode, err)
		return models.Lot{}, fmt.Errorf("buy: %w", err)
	}

	// себестоимость лота включает комиссию
	var unit float64
	if fill.AssetAmount > 0 {
		unit = fill.FiatAmount / fill.AssetAmount
	}
	lot, err := r.d.Ledger.RecordLot(ctx, fill.FiatAmount, fill.AssetAmount, unit, tag)
	if err != nil {
		r.ledgerDiverged(ctx, mode, err)
		return models.Lot{}, fmt.Errorf("buy ledger: %w", err)
	}
	after := r.afterTrade(ctx, before, fill, models.SourceBuy, fill.FiatAmount)

	logger.Info("[TRADE] %s BUY %.8f BTC for %.2f @ %.2f fee=%.4f quote=%.2f | fiat %.2f→%.2f btc %.8f→%.8f order=%s",
		mode, fill.AssetAmount, fill.FiatAmount, fill.UnitPrice, fill.Fee, q.Price,
		before.Fiat, after.Fiat, before.Asset, after.Asset, fill.OrderID)
	r.d.Notifier.Sendf(ctx, models.PriorityNormal,
		"✅ [%s] Куплено %s за %s @ %.2f\nКомиссия: %.4f\nБаланс: %s → %s\n%s",
		mode, helper.FormatBTC(fill.AssetAmount), helper.FormatFiat(fill.FiatAmount), fill.UnitPrice, fill.Fee,
		helper.FormatFiat(before.Fiat), helper.FormatFiat(after.Fiat), reason)
	return lot, nil
}

// executeSell продаёт amount BTC по FIFO; при amount <= 0 берётся доля SellFraction от баланса.
func (r *Runner) executeSell(ctx context.Context, amount float64, reason string) (models.SaleResult, error) {
	span, ctx := tracing.StartSpan(ctx, "runner.sell")
	defer span.Finish()

	mode := helper.ModeLabel(r.d.Exchange.Live())

	// подтверждение до захвата tradeMu; после него объём и цена считаются заново
	if r.opt.ConfirmRequired {
		before, err := r.d.Exchange.Balances(ctx)
		if err != nil {
			return models.SaleResult{}, fmt.Errorf("sell balances: %w", err)
		}
		planned, err := r.sellAmount(amount, before)
		if err != nil {
			return models.SaleResult{}, err
		}
		q, err := r.d.Prices.CurrentPrice(ctx)
		if err != nil {
			return models.SaleResult{}, fmt.Errorf("sell price: %w", err)
		}
		prompt := fmt.Sprintf("🔔 [%s] Продажа %s по ~%.2f (себестоимость %.2f)\n%s\nПродать?",
			mode, helper.FormatBTC(planned), q.Price, r.d.Ledger.CostBasis(planned), reason)
		if !r.d.Notifier.Confirm(ctx, prompt, r.opt.ConfirmTimeout) {
			r.d.Notifier.Sendf(ctx, models.PriorityNormal, "⛔️ [%s] Продажа отменена/таймаут", mode)
			return models.SaleResult{}, fmt.Errorf("sell: %w", ErrNotConfirmed)
		}
	}

	r.tradeMu.Lock()
	defer r.tradeMu.Unlock()

	before, err := r.d.Exchange.Balances(ctx)
	if err != nil {
		return models.SaleResult{}, fmt.Errorf("sell balances: %w", err)
	}
	if amount, err = r.sellAmount(amount, before); err != nil {
		return models.SaleResult{}, err
	}

	q, err := r.d.Prices.CurrentPrice(ctx)
	if err != nil {
		return models.SaleResult{}, fmt.Errorf("sell price: %w", err)
	}
	cost := r.d.Ledger.CostBasis(amount)
	if err := r.checkProfit(ctx, amount*bidPrice(q), cost); err != nil {
		return models.SaleResult{}, err
	}

	fill, err := r.d.Exchange.Sell(ctx, amount)
	if err != nil {
		tracing.Fail(span, err)
		r.tradeFailed(ctx, models.SideSell, mode, err)
		return models.SaleResult{}, fmt.Errorf("sell: %w", err)
	}

	res, err := r.d.Ledger.SellFIFO(ctx, fill.AssetAmount, fill.UnitPrice)
	if err != nil {
		r.ledgerDiverged(ctx, mode, err)
		return models.SaleResult{}, fmt.Errorf("sell ledger: %w", err)
	}
	after := r.afterTrade(ctx, before, fill, models.SourceSell, 0)

	logger.Info("[TRADE] %s SELL %.8f BTC for %.2f @ %.2f fee=%.4f cost=%.2f net=%.2f quote=%.2f | fiat %.2f→%.2f btc %.8f→%.8f order=%s",
		mode, fill.AssetAmount, fill.FiatAmount, fill.UnitPrice, fill.Fee, res.CostBasis, res.NetProfit, q.Price,
		before.Fiat, after.Fiat, before.Asset, after.Asset, fill.OrderID)
	r.d.Notifier.Sendf(ctx, models.PriorityNormal,
		"💰 [%s] Продано %s @ %.2f → %s\nСебестоимость: %.2f\nПрибыль: %s (чистая %s)\nКомиссия: %.4f\nБаланс: %s → %s\n%s",
		mode, helper.FormatBTC(fill.AssetAmount), fill.UnitPrice, helper.FormatFiat(fill.FiatAmount),
		res.CostBasis, helper.FormatSigned(res.GrossProfit), helper.FormatSigned(res.NetProfit), fill.Fee,
		helper.FormatFiat(before.Fiat), helper.FormatFiat(after.Fiat), reason)
	return res, nil
}

// sellAmount: amount <= 0 — доля SellFraction от баланса; больше баланса нельзя.
func (r *Runner) sellAmount(amount float64, bal models.Balances) (float64, error) {
	if amount <= 0 {
		amount = bal.Asset * r.opt.SellFraction
	}
	if amount <= models.DustAsset {
		return 0, fmt.Errorf("sell %.8f: nothing to sell: %w", amount, models.ErrInvalidInput)
	}
	if amount > bal.Asset+models.DustAsset {
		return 0, fmt.Errorf("sell %.8f > %.8f: %w", amount, bal.Asset, models.ErrInsufficientBalance)
	}
	return amount, nil
}

// checkProfit: прибыль не может превышать стоимость продажи.
func (r *Runner) checkProfit(ctx context.Context, value, cost float64) error {
	gross := value - cost
	if math.IsNaN(gross) || gross > value+1e-9 {
		err := fmt.Errorf("profit %.2f > sale value %.2f (cost %.2f): %w", gross, value, cost, models.ErrInvariant)
		logger.Error("[TRADE] sell aborted: %v", err)
		r.d.Notifier.Sendf(ctx, models.PriorityHigh, "❗️ Продажа отменена: прибыль %.2f больше суммы продажи %.2f", gross, value)
		return err
	}
	return nil
}

// afterTrade фиксирует снимок, дневные счётчики и метрику; возвращает балансы после сделки.
func (r *Runner) afterTrade(ctx context.Context, before models.Balances, fill models.Fill, source models.SnapshotSource, spent float64) models.Balances {
	after, err := r.d.Exchange.Balances(ctx)
	if err != nil {
		logger.Warn("[TRADE] balances after %s: %v", fill.Side, err)
		after = before
		if fill.Side == models.SideBuy {
			after.Fiat -= fill.FiatAmount
			after.Asset += fill.AssetAmount
		} else {
			after.Fiat += fill.FiatAmount - fill.Fee
			after.Asset -= fill.AssetAmount
		}
	}
	r.d.Account.RecordBalance(ctx, after.Fiat, after.Asset, fill.UnitPrice, source)
	r.addDaily(r.clock(), spent)

	label := "dry_run"
	if fill.Live {
		label = "live"
	}
	metrics.Trades.WithLabelValues(string(fill.Side), label).Inc()
	metrics.OpenLots.Set(float64(len(r.d.Ledger.OpenLots())))
	return after
}

func (r *Runner) tradeFailed(ctx context.Context, side models.Side, mode string, err error) {
	logger.Error("[TRADE] %s %s failed: %v", mode, side, err)
	r.d.Notifier.Sendf(ctx, models.PriorityHigh, "❗️ [%s] Ошибка %s: %v", mode, side, err)
}

// ledgerDiverged — биржа исполнила ордер, а учёт лотов нет.
func (r *Runner) ledgerDiverged(ctx context.Context, mode string, err error) {
	logger.Error("[TRADE] %s ledger not updated after fill: %v", mode, err)
	r.d.Notifier.Sendf(ctx, models.PriorityHigh, "❗️ [%s] Сделка исполнена, но учёт лотов не обновлён: %v", mode, err)
}

func bidPrice(q models.Quote) float64 {
	if q.Bid > 0 {
		return q.Bid
	}
	return q.Price
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
