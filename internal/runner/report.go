package runner

import (
	"context"
	"fmt"
	"strings"

	"btc_trader/internal/helper"
	"btc_trader/internal/models"
)

// price отдаёт свежую котировку, при ошибке последнюю из цикла.
func (r *Runner) price(ctx context.Context) (models.Quote, bool) {
	if q, err := r.d.Prices.CurrentPrice(ctx); err == nil {
		return q, true
	}
	q, at := r.LastQuote()
	return q, !at.IsZero()
}

// Status собирает сводку для /status.
func (r *Runner) Status(ctx context.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 %s (%s)\n", r.d.Exchange.Name(), helper.ModeLabel(r.d.Exchange.Live()))

	q, ok := r.price(ctx)
	if ok {
		fmt.Fprintf(&b, "Цена: %.2f\n", q.Price)
		v := r.d.Gate.IsTradingAllowed(q, models.SideBuy)
		fmt.Fprintf(&b, "Гейт: %s\n", v.Reason)
		if rng := r.d.Range.Snapshot(); rng.Count > 0 {
			fmt.Fprintf(&b, "Диапазон: %.2f…%.2f\n", rng.Low, rng.High)
			if tr := rng.Trend(q.Price); tr != "" {
				fmt.Fprintf(&b, "Тренд: %s (EMA %.2f)\n", tr, rng.EMA)
			}
		}
	} else {
		b.WriteString("Цена: нет данных\n")
	}

	if bal, err := r.d.Exchange.Balances(ctx); err == nil {
		fmt.Fprintf(&b, "Баланс: %s, %s\n", helper.FormatFiat(bal.Fiat), helper.FormatBTC(bal.Asset))
	}
	fmt.Fprintf(&b, "Открытых лотов: %d (%s)\n", len(r.d.Ledger.OpenLots()), helper.FormatBTC(r.d.Ledger.OpenAsset()))

	spent, trades := r.daily(r.clock())
	fmt.Fprintf(&b, "Сегодня: потрачено %.2f, сделок %d\n", spent, trades)

	for _, a := range r.sched.Pending() {
		fmt.Fprintf(&b, "⏳ %s %s в %s\n", a.Side, a.State, a.RunAt.In(r.d.Gate.Location()).Format("15:04:05"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// LotsText выводит открытые лоты с нереализованной прибылью (/lots).
func (r *Runner) LotsText(ctx context.Context) string {
	q, ok := r.price(ctx)
	if !ok {
		return "Цена недоступна"
	}
	views := r.d.Ledger.ProfitViews(q.Price, r.d.Engine.Config().ProfitTarget)
	if len(views) == 0 {
		return "Открытых лотов нет"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📦 Лоты при цене %.2f:\n", q.Price)
	for _, v := range views {
		fmt.Fprintf(&b, "• %s [%s/%s] %s @ %.2f → %s (%+.2f%%), %.1f дн.",
			shortID(v.Lot.ID), v.Lot.Tag, v.Lot.Status, helper.FormatBTC(v.Lot.AssetAmount), v.Lot.UnitPrice,
			helper.FormatSigned(v.Unrealized), v.UnrealizedPct, v.DaysHeld)
		if v.NeededProfit > 0 {
			fmt.Fprintf(&b, " до цели %.2f (цена %.2f)", v.NeededProfit, v.TargetPrice)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ProfitText выводит прибыль портфеля и вехи (/profit).
func (r *Runner) ProfitText(_ context.Context) string {
	base, ok := r.d.Account.Baseline()
	if !ok {
		return "База ещё не зафиксирована"
	}
	profit := r.d.Account.CurrentProfit()

	var b strings.Builder
	fmt.Fprintf(&b, "📊 База: %s\n", helper.FormatFiat(base))
	if pct, ok := r.d.Account.ProfitPercent(); ok {
		fmt.Fprintf(&b, "Прибыль: %s (%+.2f%%)\n", helper.FormatSigned(profit), pct)
	} else {
		fmt.Fprintf(&b, "Прибыль: %s (N/A)\n", helper.FormatSigned(profit))
	}

	snaps := r.d.Account.Snapshots()
	if n := len(snaps); n > 0 {
		last := snaps[n-1]
		net := r.d.Engine.NetProfit(profit, last.AssetBalance*last.UnitPrice)
		fmt.Fprintf(&b, "Чистая после комиссий: %s\n", helper.FormatSigned(net))
	}
	for _, m := range r.d.Account.Milestones() {
		fmt.Fprintf(&b, "🏁 %.2f — %s\n", m.Value, m.ReachedAt.Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}
