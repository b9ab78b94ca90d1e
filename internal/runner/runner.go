package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"btc_trader/internal/decision"
	"btc_trader/internal/exchange"
	"btc_trader/internal/helper"
	"btc_trader/internal/ledger"
	"btc_trader/internal/metrics"
	"btc_trader/internal/models"
	"btc_trader/internal/notify"
	"btc_trader/internal/profit"
	"btc_trader/internal/strategy"
	"btc_trader/internal/timing"
	"btc_trader/pkg/logger"
	"btc_trader/pkg/tracing"
)

// Heartbeat — куда раннер отмечает успешные циклы (health-сервер).
type Heartbeat interface {
	TouchTick(t time.Time)
	SetPrice(p float64)
}

type Deps struct {
	Exchange exchange.Client
	Prices   exchange.PriceSource // nil — цена берётся у Exchange
	Ledger   *ledger.Ledger
	Account  *profit.Account
	Engine   *decision.Engine
	Gate     *timing.Gate
	Alerts   *decision.AlertMonitor
	Range    *strategy.Range
	Notifier notify.Notifier
	Health   Heartbeat
}

type Options struct {
	ConfirmRequired bool
	ConfirmTimeout  time.Duration
	SellFraction    float64 // доля BTC-баланса на одну автоматическую продажу
	MaxSingleBuy    float64 // 0 — без лимита
}

// Runner — цикл опроса: цена, учёт, решение, гейт, исполнение.
type Runner struct {
	d     Deps
	opt   Options
	sched *timing.Scheduler
	now   func() time.Time

	// сделки строго по одной
	tradeMu sync.Mutex

	mu        sync.Mutex
	prevPrice float64
	lastQuote models.Quote
	lastCycle time.Time
	day       string
	daySpent  float64
	dayTrades int
}

func New(d Deps, opt Options) *Runner {
	if d.Prices == nil {
		if ps, ok := d.Exchange.(exchange.PriceSource); ok {
			d.Prices = ps
		}
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewStdout()
	}
	if d.Range == nil {
		d.Range = strategy.NewRange(strategy.RangeConfig{})
	}
	if d.Alerts == nil {
		d.Alerts = decision.NewAlertMonitor(nil)
	}
	if opt.SellFraction <= 0 || opt.SellFraction > 1 {
		opt.SellFraction = 1
	}
	if opt.ConfirmTimeout <= 0 {
		opt.ConfirmTimeout = 2 * time.Minute
	}
	return &Runner{
		d:     d,
		opt:   opt,
		sched: timing.NewScheduler(d.Gate),
		now:   time.Now,
	}
}

func (r *Runner) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *Runner) Scheduler() *timing.Scheduler { return r.sched }

// Run крутит циклы до отмены ctx; следующий цикл планируется только после завершения текущего.
func (r *Runner) Run(ctx context.Context) {
	defer func() {
		if n := r.sched.CancelAll(); n > 0 {
			logger.Info("[RUNNER] cancelled %d pending actions", n)
		}
		r.sched.Close()
	}()

	logger.Info("[RUNNER] ▶️ start, exchange=%s mode=%s", r.d.Exchange.Name(), helper.ModeLabel(r.d.Exchange.Live()))
	for {
		_ = r.Cycle(ctx)

		wait := r.d.Gate.NextPollInterval(r.clock())
		logger.Debug("[RUNNER] next cycle in %s", wait.Round(time.Second))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			logger.Info("[RUNNER] ⏹ stop")
			return
		case <-t.C:
		}
	}
}

// Cycle — один проход опроса. Ошибка цены или баланса пропускает цикл.
func (r *Runner) Cycle(ctx context.Context) (err error) {
	span, ctx := tracing.StartSpan(ctx, "runner.cycle")
	defer func() {
		if err != nil {
			tracing.Fail(span, err)
		}
		span.Finish()
	}()

	q, err := r.d.Prices.CurrentPrice(ctx)
	if err != nil {
		metrics.Cycles.WithLabelValues("price_error").Inc()
		logger.Warn("[CYCLE] price unavailable, skip: %v", err)
		return fmt.Errorf("price: %w", err)
	}
	now := r.clock()
	if q.Timestamp.IsZero() {
		q.Timestamp = now
	}
	metrics.Price.Set(q.Price)
	rng := r.d.Range.Update(q.Price)

	// баланс, снимок и сверка под tradeMu, чтобы не поймать полуисполненную сделку
	r.tradeMu.Lock()
	bal, err := r.d.Exchange.Balances(ctx)
	if err != nil {
		r.tradeMu.Unlock()
		metrics.Cycles.WithLabelValues("balance_error").Inc()
		logger.Warn("[CYCLE] balances unavailable, skip: %v", err)
		return fmt.Errorf("balances: %w", err)
	}
	snap := r.d.Account.RecordBalance(ctx, bal.Fiat, bal.Asset, q.Price, models.SourcePoll)
	if open := r.d.Ledger.OpenAsset(); bal.Asset < open-models.DustAsset {
		logger.Warn("[CYCLE] balance %.8f below tracked %.8f, reconciling", bal.Asset, open)
		r.d.Ledger.ConsumeAfterExternalSale(ctx, bal.Asset)
	}
	r.tradeMu.Unlock()

	metrics.Profit.Set(snap.Profit)
	metrics.OpenLots.Set(float64(len(r.d.Ledger.OpenLots())))

	for _, m := range r.d.Account.CheckMilestones(ctx, snap.Profit) {
		r.d.Notifier.Sendf(ctx, models.PriorityNormal, "🏁 Веха прибыли %.2f USDT достигнута (сейчас %s)", m.Value, helper.FormatSigned(snap.Profit))
	}

	r.mu.Lock()
	prev := r.prevPrice
	r.mu.Unlock()
	for _, a := range r.d.Alerts.Check(q.Price, prev, now) {
		r.d.Notifier.Send(ctx, a.Text, a.Rule.Priority)
	}

	in := r.input(now, q, bal, rng)
	d := r.d.Engine.Evaluate(in)
	logger.Info("[CYCLE] price=%.2f fiat=%.2f btc=%.8f profit=%s buy=%v sell=%v %s",
		q.Price, bal.Fiat, bal.Asset, helper.FormatSigned(snap.Profit), d.ShouldBuy, d.ShouldSell, d.Text())

	r.propose(ctx, q, d)
	r.d.Gate.Observe(q)

	r.mu.Lock()
	r.prevPrice = q.Price
	r.lastQuote = q
	r.lastCycle = now
	r.mu.Unlock()

	if r.d.Health != nil {
		r.d.Health.TouchTick(now)
		r.d.Health.SetPrice(q.Price)
	}
	metrics.Cycles.WithLabelValues("ok").Inc()
	return nil
}

func (r *Runner) input(now time.Time, q models.Quote, bal models.Balances, rng strategy.Snapshot) decision.Input {
	in := decision.Input{
		Now:           now,
		Price:         q.Price,
		Balances:      bal,
		CurrentProfit: r.d.Account.CurrentProfit(),
		SessionHigh:   rng.High,
		SessionLow:    rng.Low,
	}
	if lot, ok := r.d.Ledger.LastBuy(); ok {
		in.LastBuyAt = lot.CreatedAt
	}
	if lot, ok := r.d.Ledger.LastSale(); ok {
		in.HasSold = true
		in.LastSellAt = *lot.SoldAt
		in.LastSellPrice = lot.SalePrice
	}
	in.DailySpent, in.DailyTrades = r.daily(now)
	return in
}

// propose отдаёт сработавшее решение планировщику; продажа важнее покупки.
func (r *Runner) propose(ctx context.Context, q models.Quote, d models.Decision) {
	var (
		side models.Side
		exec timing.ExecFunc
	)
	switch {
	case d.ShouldSell:
		side = models.SideSell
		exec = func(ctx context.Context) error {
			_, err := r.executeSell(ctx, 0, d.Text())
			return err
		}
	case d.ShouldBuy:
		side = models.SideBuy
		amount := r.d.Engine.Config().BuyAmount
		exec = func(ctx context.Context) error {
			_, err := r.executeBuy(ctx, amount, false, models.LotTagAuto, d.Text())
			return err
		}
	default:
		metrics.Decisions.WithLabelValues("hold").Inc()
		return
	}
	metrics.Decisions.WithLabelValues(string(side)).Inc()

	a, err := r.sched.Schedule(ctx, q, side, exec)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrGateClosed):
		v := r.sched.Info(a).Verdict
		metrics.GateDenials.WithLabelValues(string(v.Reason)).Inc()
		logger.Info("[CYCLE] %s deferred by gate: %s", side, v.Reason)
	case errors.Is(err, models.ErrAlreadyPending):
		logger.Debug("[CYCLE] %s already pending", side)
	default:
		logger.Error("[CYCLE] %s failed: %v", side, err)
	}
}

// daily — траты и число сделок за текущий календарный день.
func (r *Runner) daily(now time.Time) (float64, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDayLocked(now)
	return r.daySpent, r.dayTrades
}

func (r *Runner) addDaily(now time.Time, spent float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollDayLocked(now)
	r.daySpent += spent
	r.dayTrades++
}

func (r *Runner) rollDayLocked(now time.Time) {
	key := helper.DayKey(now, r.d.Gate.Location())
	if key != r.day {
		r.day = key
		r.daySpent = 0
		r.dayTrades = 0
	}
}

func (r *Runner) clock() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now()
}

// LastQuote — котировка последнего успешного цикла.
func (r *Runner) LastQuote() (models.Quote, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastQuote, r.lastCycle
}
