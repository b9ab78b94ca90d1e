package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"btc_trader/internal/decision"
	"btc_trader/internal/exchange"
	"btc_trader/internal/ledger"
	"btc_trader/internal/models"
	"btc_trader/internal/profit"
	"btc_trader/internal/strategy"
	"btc_trader/internal/timing"
)

type fakePrice struct {
	mu  sync.Mutex
	q   models.Quote
	err error
}

func (f *fakePrice) set(p float64) {
	f.mu.Lock()
	f.q = models.Quote{Price: p}
	f.mu.Unlock()
}

func (f *fakePrice) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakePrice) CurrentPrice(context.Context) (models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Quote{}, f.err
	}
	return f.q, nil
}

type recorder struct {
	mu      sync.Mutex
	msgs    []string
	confirm bool
	asked   int
}

func (r *recorder) Send(_ context.Context, msg string, _ models.Priority) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) Sendf(ctx context.Context, p models.Priority, format string, args ...any) {
	r.Send(ctx, fmt.Sprintf(format, args...), p)
}

func (r *recorder) Confirm(context.Context, string, time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asked++
	return r.confirm
}

func (r *recorder) contains(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

type fixture struct {
	r      *Runner
	price  *fakePrice
	paper  *exchange.Paper
	ledger *ledger.Ledger
	acc    *profit.Account
	n      *recorder
}

var testFees = models.FeeModel{TradingFeePct: 0.1, SpreadPct: 0.5}

func newFixture(t *testing.T, start models.Balances, opt Options) *fixture {
	t.Helper()

	price := &fakePrice{}
	price.set(66000)
	paper := exchange.NewPaper(price, testFees, start)

	dcfg := decision.DefaultConfig()
	dcfg.BuyThreshold = 65000
	dcfg.SellThreshold = 70000
	dcfg.DropPercent = 5
	dcfg.RisePercent = 5
	dcfg.SupportLevels = nil
	dcfg.BuyAmount = 25
	dcfg.MinFiatReserve = 10
	dcfg.DailySpendLimit = 100
	dcfg.MaxDailyTrades = 4
	dcfg.MaxAssetHoldings = 0.01
	dcfg.RebuyDropPercent = 3
	dcfg.ProfitTarget = 1000

	gcfg := timing.DefaultConfig()
	gcfg.Timezone = "UTC"
	gcfg.HumanDelays = false
	gcfg.TradingHoursEnabled = false
	gcfg.AvoidWeekends = false
	gcfg.EmergencyThreshold = 0

	l := ledger.New(nil, testFees)
	acc := profit.New(profit.MilestoneConfig{Mode: models.MilestoneProgressive, Levels: []float64{5}}, profit.Stores{}, 0)
	n := &recorder{confirm: true}

	r := New(Deps{
		Exchange: paper,
		Prices:   price,
		Ledger:   l,
		Account:  acc,
		Engine:   decision.NewEngine(dcfg, testFees),
		Gate:     timing.NewGate(gcfg, 7),
		Notifier: n,
	}, opt)

	return &fixture{r: r, price: price, paper: paper, ledger: l, acc: acc, n: n}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCycleSkipsOnPriceError(t *testing.T) {
	f := newFixture(t, models.Balances{Fiat: 100}, Options{})
	f.price.fail(errors.New("timeout"))

	if err := f.r.Cycle(context.Background()); err == nil {
		t.Fatal("expected error on price failure")
	}
	if n := len(f.acc.Snapshots()); n != 0 {
		t.Fatalf("snapshots after skipped cycle: %d", n)
	}
}

func TestCycleNoBuyBeforeFirstSell(t *testing.T) {
	f := newFixture(t, models.Balances{Fiat: 100}, Options{})
	f.price.set(60000)

	if err := f.r.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if lots := f.ledger.Lots(); len(lots) != 0 {
		t.Fatalf("bought before first sell: %+v", lots)
	}
	bal, _ := f.paper.Balances(context.Background())
	if bal.Fiat != 100 {
		t.Fatalf("fiat changed: %.2f", bal.Fiat)
	}
}

func TestCycleSellThenRebuy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Balances{Fiat: 100, Asset: 0.001}, Options{})
	if _, err := f.ledger.RecordLot(ctx, 50, 0.001, 50000, models.LotTagInitial); err != nil {
		t.Fatal(err)
	}

	f.price.set(71000)
	if err := f.r.Cycle(ctx); err != nil {
		t.Fatalf("sell cycle: %v", err)
	}
	if open := f.ledger.OpenAsset(); open != 0 {
		t.Fatalf("open after sell = %.8f", open)
	}
	sold, ok := f.ledger.LastSale()
	if !ok || sold.SalePrice != 71000 {
		t.Fatalf("last sale = %+v, %v", sold, ok)
	}
	bal, _ := f.paper.Balances(ctx)
	if bal.Asset != 0 || !approx(bal.Fiat, 100+71-0.071) {
		t.Fatalf("balances after sell = %+v", bal)
	}
	if !f.n.contains("DRY-RUN") {
		t.Fatalf("sell notification without mode: %v", f.n.msgs)
	}

	// 60000 ниже порога покупки и на 15% ниже цены продажи
	f.price.set(60000)
	if err := f.r.Cycle(ctx); err != nil {
		t.Fatalf("buy cycle: %v", err)
	}
	open := f.ledger.OpenLots()
	if len(open) != 1 || open[0].Tag != models.LotTagAuto || open[0].FiatAmount != 25 {
		t.Fatalf("open lots after rebuy = %+v", open)
	}
	spent, trades := f.r.daily(f.r.clock())
	if spent != 25 || trades != 2 {
		t.Fatalf("daily = %.2f/%d, want 25/2", spent, trades)
	}
}

func TestCycleReconcilesExternalSale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Balances{Fiat: 100, Asset: 0.0005}, Options{})
	_, _ = f.ledger.RecordLot(ctx, 10, 0.0002, 50000, models.LotTagInitial)
	_, _ = f.ledger.RecordLot(ctx, 15, 0.0003, 50000, models.LotTagInitial)

	f.paper.SetBalances(models.Balances{Fiat: 100, Asset: 0.0003})
	f.price.set(66000)
	if err := f.r.Cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if open := f.ledger.OpenAsset(); math.Abs(open-0.0003) > models.DustAsset {
		t.Fatalf("open after reconcile = %.8f", open)
	}
	// старейший лот остаётся, младший обрезан до 0.0001
	lots := f.ledger.Lots()
	if lots[0].Status != models.LotActive || lots[1].Status != models.LotPartial {
		t.Fatalf("statuses = %s, %s", lots[0].Status, lots[1].Status)
	}
	if math.Abs(lots[1].AssetAmount-0.0001) > models.DustAsset {
		t.Fatalf("partial amount = %.8f", lots[1].AssetAmount)
	}
}

func TestBuyNowSafetyLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Balances{Fiat: 100}, Options{MaxSingleBuy: 50})

	if _, err := f.r.BuyNow(ctx, 80, false); !errors.Is(err, models.ErrSafetyLimit) {
		t.Fatalf("err = %v, want ErrSafetyLimit", err)
	}
	if len(f.ledger.Lots()) != 0 {
		t.Fatal("ledger mutated by rejected buy")
	}

	lot, err := f.r.BuyNow(ctx, 80, true)
	if err != nil {
		t.Fatalf("emergency buy: %v", err)
	}
	if lot.Tag != models.LotTagManual || lot.FiatAmount != 80 {
		t.Fatalf("lot = %+v", lot)
	}
	if f.n.asked != 0 {
		t.Fatal("manual buy asked for confirmation")
	}
}

func TestBuyFailureLeavesLedger(t *testing.T) {
	f := newFixture(t, models.Balances{Fiat: 10}, Options{})
	if _, err := f.r.BuyNow(context.Background(), 25, false); !errors.Is(err, models.ErrInsufficientBalance) {
		t.Fatalf("err = %v", err)
	}
	if len(f.ledger.Lots()) != 0 {
		t.Fatal("ledger mutated after failed buy")
	}
	if !f.n.contains("Ошибка") {
		t.Fatal("failure not notified")
	}
}

func TestSellLot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Balances{Fiat: 0, Asset: 0.0005}, Options{})
	a, _ := f.ledger.RecordLot(ctx, 10, 0.0002, 50000, models.LotTagInitial)
	_, _ = f.ledger.RecordLot(ctx, 15, 0.0003, 50000, models.LotTagInitial)

	if _, err := f.r.SellLot(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	f.price.set(60000)
	res, err := f.r.SellLot(ctx, a.ID)
	if err != nil {
		t.Fatalf("sell lot: %v", err)
	}
	if !approx(res.GrossProfit, 0.0002*60000-10) {
		t.Fatalf("gross = %.4f", res.GrossProfit)
	}
	bal, _ := f.paper.Balances(ctx)
	if !approx(bal.Asset, 0.0003) {
		t.Fatalf("asset after sell = %.8f", bal.Asset)
	}
	if _, err := f.r.SellLot(ctx, a.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("second sell err = %v", err)
	}
}

func TestSellRejectedByOperator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Balances{Asset: 0.001}, Options{ConfirmRequired: true})
	_, _ = f.ledger.RecordLot(ctx, 50, 0.001, 50000, models.LotTagInitial)
	f.n.confirm = false

	if _, err := f.r.executeSell(ctx, 0, "test"); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("err = %v, want ErrNotConfirmed", err)
	}
	if f.ledger.OpenAsset() != 0.001 {
		t.Fatal("ledger mutated after rejection")
	}
	bal, _ := f.paper.Balances(ctx)
	if bal.Asset != 0.001 {
		t.Fatal("exchange called after rejection")
	}
}

// holdConfirm держит первый Confirm до release; последующие сразу отклоняются.
type holdConfirm struct {
	*recorder
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *holdConfirm) Confirm(context.Context, string, time.Duration) bool {
	first := false
	h.once.Do(func() { first = true })
	if !first {
		return false
	}
	close(h.entered)
	<-h.release
	return true
}

func TestPendingConfirmDoesNotBlockCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Balances{Fiat: 10, Asset: 0.001}, Options{ConfirmRequired: true})
	_, _ = f.ledger.RecordLot(ctx, 50, 0.001, 50000, models.LotTagInitial)
	h := &holdConfirm{recorder: f.n, entered: make(chan struct{}), release: make(chan struct{})}
	f.r.d.Notifier = h

	type sellResult struct {
		res models.SaleResult
		err error
	}
	sold := make(chan sellResult, 1)
	go func() {
		res, err := f.r.executeSell(ctx, 0, "test")
		sold <- sellResult{res, err}
	}()
	<-h.entered

	// пока оператор думает, часть BTC ушла с биржи
	f.paper.SetBalances(models.Balances{Fiat: 10, Asset: 0.0004})
	cycled := make(chan error, 1)
	go func() { cycled <- f.r.Cycle(ctx) }()
	select {
	case err := <-cycled:
		if err != nil {
			t.Fatalf("cycle: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(h.release)
		t.Fatal("cycle blocked by pending confirmation")
	}

	close(h.release)
	got := <-sold
	if got.err != nil {
		t.Fatalf("sell: %v", got.err)
	}
	// объём пересчитан по балансу после подтверждения
	if !approx(got.res.AssetAmount, 0.0004) {
		t.Fatalf("sold %.8f, want 0.0004", got.res.AssetAmount)
	}
	if f.ledger.OpenAsset() > models.DustAsset {
		t.Fatalf("open after sell = %.8f", f.ledger.OpenAsset())
	}
}

func TestSellFractionAndNothingToSell(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Balances{Asset: 0.001}, Options{SellFraction: 0.5})
	_, _ = f.ledger.RecordLot(ctx, 50, 0.001, 50000, models.LotTagInitial)

	res, err := f.r.executeSell(ctx, 0, "")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !approx(res.AssetAmount, 0.0005) || !approx(res.CostBasis, 25) {
		t.Fatalf("result = %+v", res)
	}

	empty := newFixture(t, models.Balances{Fiat: 100}, Options{})
	if _, err := empty.r.executeSell(ctx, 0, ""); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCheckProfitInvariant(t *testing.T) {
	f := newFixture(t, models.Balances{}, Options{})
	if err := f.r.checkProfit(context.Background(), 100, -5); !errors.Is(err, models.ErrInvariant) {
		t.Fatalf("err = %v, want ErrInvariant", err)
	}
	if err := f.r.checkProfit(context.Background(), 100, 40); err != nil {
		t.Fatalf("valid sale rejected: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, models.Balances{Fiat: 100}, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, at := f.r.LastQuote(); !at.IsZero() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first cycle did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReports(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Balances{Fiat: 100, Asset: 0.001}, Options{})
	f.r.d.Range = strategy.NewRange(strategy.RangeConfig{TrendEma: 2})
	_, _ = f.ledger.RecordLot(ctx, 50, 0.001, 50000, models.LotTagInitial)

	if got := f.r.ProfitText(ctx); !strings.Contains(got, "База ещё не") {
		t.Fatalf("profit before baseline = %q", got)
	}
	_ = f.r.Cycle(ctx)

	if got := f.r.Status(ctx); !strings.Contains(got, "DRY-RUN") || !strings.Contains(got, "Открытых лотов: 1") {
		t.Fatalf("status = %q", got)
	}
	if got := f.r.Status(ctx); strings.Contains(got, "Тренд") {
		t.Fatalf("trend shown before EMA warmup: %q", got)
	}
	f.price.set(67000)
	_ = f.r.Cycle(ctx)
	if got := f.r.Status(ctx); !strings.Contains(got, "Тренд: ↑") || !strings.Contains(got, "Диапазон: 66000.00…67000.00") {
		t.Fatalf("status with trend = %q", got)
	}
	if got := f.r.LotsText(ctx); !strings.Contains(got, "initial/active") {
		t.Fatalf("lots = %q", got)
	}
	if got := f.r.ProfitText(ctx); !strings.Contains(got, "База: 166.00 USDT") {
		t.Fatalf("profit = %q", got)
	}
}
