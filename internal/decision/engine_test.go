package decision

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"btc_trader/internal/models"
)

var now = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func baseConfig() Config {
	cfg := DefaultConfig()
	cfg.BuyThreshold = 50000
	cfg.DropPercent = 0
	cfg.RisePercent = 0
	return cfg
}

func readyToBuy() Input {
	return Input{
		Now:           now,
		Price:         49000,
		Balances:      models.Balances{Fiat: 200, Asset: 0.001},
		HasSold:       true,
		LastSellAt:    now.Add(-48 * time.Hour),
		LastSellPrice: 55000,
	}
}

func TestBuyDisabledUntilFirstSell(t *testing.T) {
	e := NewEngine(baseConfig(), models.FeeModel{})
	in := readyToBuy()
	in.HasSold = false
	in.LastSellPrice = 0

	d := e.Evaluate(in)
	if d.ShouldBuy {
		t.Fatalf("buy must be disabled before the first sell")
	}
	if !d.Has(models.ReasonPriceBelowBuyThreshold) || !d.Has(models.ReasonBuyDisabledNoSell) {
		t.Fatalf("reasons = %v", d.Reasons)
	}
}

func TestBuyAllowedAfterSell(t *testing.T) {
	e := NewEngine(baseConfig(), models.FeeModel{})
	d := e.Evaluate(readyToBuy())
	if !d.ShouldBuy || d.ShouldSell {
		t.Fatalf("decision = %+v", d)
	}
}

func TestBuyBlockers(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Input)
		code models.ReasonCode
	}{
		{"rebuy drop not reached", func(in *Input) { in.LastSellPrice = 50000 }, models.ReasonRebuyDropNotReached},
		{"fiat below reserve", func(in *Input) { in.Balances.Fiat = 30 }, models.ReasonInsufficientFiat},
		{"daily spend", func(in *Input) { in.DailySpent = 90 }, models.ReasonDailySpendLimit},
		{"daily trades", func(in *Input) { in.DailyTrades = 4 }, models.ReasonDailyTradeLimit},
		{"buy too soon", func(in *Input) { in.LastBuyAt = now.Add(-time.Hour) }, models.ReasonBuyTooSoon},
		{"max holdings", func(in *Input) { in.Balances.Asset = 0.02 }, models.ReasonMaxHoldings},
	}
	e := NewEngine(baseConfig(), models.FeeModel{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := readyToBuy()
			tc.mut(&in)
			d := e.Evaluate(in)
			if d.ShouldBuy {
				t.Fatalf("buy must be blocked")
			}
			if !d.Has(tc.code) {
				t.Fatalf("missing reason %d in %v", tc.code, d.Reasons)
			}
		})
	}
}

func TestBuyTriggers(t *testing.T) {
	cfg := baseConfig()
	cfg.BuyThreshold = 0
	cfg.DropPercent = 5
	cfg.SupportLevels = []float64{47000}
	e := NewEngine(cfg, models.FeeModel{})

	in := readyToBuy()
	in.Price = 52000
	in.SessionHigh = 53000
	in.LastSellPrice = 60000
	if d := e.Evaluate(in); d.ShouldBuy {
		t.Fatalf("no trigger expected: %v", d.Reasons)
	}

	in.SessionHigh = 56000
	if d := e.Evaluate(in); !d.ShouldBuy || !d.Has(models.ReasonDropFromHigh) {
		t.Fatalf("drop from high: %+v", d)
	}

	in.SessionHigh = 0
	in.Price = 47300
	if d := e.Evaluate(in); !d.ShouldBuy || !d.Has(models.ReasonNearSupport) {
		t.Fatalf("near support: %+v", d)
	}
}

func TestSellOnNetProfitTarget(t *testing.T) {
	cfg := baseConfig()
	cfg.BuyThreshold = 0
	cfg.ProfitTarget = 10
	e := NewEngine(cfg, models.FeeModel{WithdrawalFee: 5})

	in := Input{
		Now:           now,
		Price:         60000,
		Balances:      models.Balances{Fiat: 95, Asset: 0.003},
		CurrentProfit: 275 - 250,
	}
	d := e.Evaluate(in)
	if !d.ShouldSell || !d.Has(models.ReasonNetProfitTarget) {
		t.Fatalf("decision = %+v", d)
	}
	for _, r := range d.Reasons {
		if r.Code == models.ReasonNetProfitTarget && r.Value != 20 {
			t.Fatalf("net profit = %.2f, want 20", r.Value)
		}
	}

	in.CurrentProfit = 14
	if d := e.Evaluate(in); d.ShouldSell {
		t.Fatalf("net 9 must not sell: %+v", d)
	}
}

func TestSellTriggersAndBlockers(t *testing.T) {
	cfg := baseConfig()
	cfg.BuyThreshold = 0
	cfg.ProfitTarget = 0
	cfg.SellThreshold = 70000
	cfg.RisePercent = 5
	cfg.TrailingStop = true
	cfg.TrailingStopPercent = 8
	e := NewEngine(cfg, models.FeeModel{})

	in := Input{Now: now, Price: 71000, Balances: models.Balances{Asset: 0.002}}
	if d := e.Evaluate(in); !d.ShouldSell || !d.Has(models.ReasonPriceAboveSellThreshold) {
		t.Fatalf("threshold: %+v", d)
	}

	in = Input{Now: now, Price: 63500, SessionLow: 60000, Balances: models.Balances{Asset: 0.002}}
	if d := e.Evaluate(in); !d.ShouldSell || !d.Has(models.ReasonRiseFromLow) {
		t.Fatalf("rise: %+v", d)
	}

	in = Input{Now: now, Price: 55000, SessionHigh: 61000, Balances: models.Balances{Asset: 0.002}}
	if d := e.Evaluate(in); !d.ShouldSell || !d.Has(models.ReasonTrailingStop) {
		t.Fatalf("trailing: %+v", d)
	}

	in = Input{Now: now, Price: 71000}
	if d := e.Evaluate(in); d.ShouldSell || !d.Has(models.ReasonNothingToSell) {
		t.Fatalf("empty: %+v", d)
	}

	in = Input{Now: now, Price: 71000, Balances: models.Balances{Asset: 0.002}, HasSold: true, LastSellAt: now.Add(-10 * time.Minute)}
	if d := e.Evaluate(in); d.ShouldSell || !d.Has(models.ReasonSellCooldown) {
		t.Fatalf("cooldown: %+v", d)
	}
}

func TestSellTakesPriorityOverBuy(t *testing.T) {
	cfg := baseConfig()
	cfg.SellThreshold = 45000
	e := NewEngine(cfg, models.FeeModel{})
	d := e.Evaluate(readyToBuy())
	if !d.ShouldSell || d.ShouldBuy {
		t.Fatalf("decision = %+v", d)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	cfg := baseConfig()
	cfg.SellThreshold = 70000
	cfg.DropPercent = 3
	cfg.TrailingStop = true
	e := NewEngine(cfg, models.FeeModel{TradingFeePct: 0.1, WithdrawalFee: 1})

	in := readyToBuy()
	in.SessionHigh = 52000
	in.SessionLow = 48000
	in.CurrentProfit = 12

	first := e.Evaluate(in)
	for i := 0; i < 20; i++ {
		if got := e.Evaluate(in); !reflect.DeepEqual(first, got) {
			t.Fatalf("evaluation %d differs: %+v vs %+v", i, first, got)
		}
	}
}

func TestReasonText(t *testing.T) {
	d := models.Decision{Reasons: []models.Reason{
		{Code: models.ReasonNetProfitTarget, Value: 20, Limit: 10},
		{Code: models.ReasonBuyDisabledNoSell},
	}}
	want := "Цель чистой прибыли достигнута: 20.00 >= 10.00 | Блокировки: Покупки выключены до первой продажи"
	if d.Text() != want {
		t.Fatalf("text = %q", d.Text())
	}
}

func TestReasonTextGroupsBlockers(t *testing.T) {
	d := models.Decision{Reasons: []models.Reason{
		{Code: models.ReasonNothingToSell},
		{Code: models.ReasonPriceBelowBuyThreshold, Value: 49000, Limit: 50000},
		{Code: models.ReasonInsufficientFiat, Value: 5, Limit: 25},
		{Code: models.ReasonDropFromHigh, Value: 6, Limit: 5},
	}}
	want := "Цена 49000.00 ниже порога покупки 50000.00; Падение от максимума 6.00% (порог 5.00%)" +
		" | Блокировки: Нет BTC для продажи; Недостаточно фиата: 5.00 < 25.00"
	if d.Text() != want {
		t.Fatalf("text = %q", d.Text())
	}

	only := models.Decision{Reasons: []models.Reason{{Code: models.ReasonSellCooldown, Value: 3, Limit: 10}}}
	if got := only.Text(); got != "Блокировки: Кулдаун продажи: прошло 3 мин из 10" {
		t.Fatalf("blockers only = %q", got)
	}
	if got := (models.Decision{}).Text(); got != "" {
		t.Fatalf("empty = %q", got)
	}
}

func TestAlertMonitorCooldown(t *testing.T) {
	m := NewAlertMonitor([]models.AlertRule{
		{Name: "dip", Kind: models.AlertDrop, Price: 50000, Cooldown: time.Hour},
		{Name: "moon", Kind: models.AlertRise, Price: 70000},
		{Name: "swing", Kind: models.AlertPercent, Percent: 5, Message: "{name} {change}% @ {price}"},
	})

	if got := m.Check(49000, 0, now); len(got) != 1 || got[0].Rule.Name != "dip" {
		t.Fatalf("first check = %+v", got)
	}
	if got := m.Check(48000, 49000, now.Add(10*time.Minute)); len(got) != 0 {
		t.Fatalf("triggered rule must stay quiet: %+v", got)
	}
	if got := m.Check(48000, 48000, now.Add(2*time.Hour)); len(got) != 1 {
		t.Fatalf("rule must re-arm after cooldown: %+v", got)
	}

	got := m.Check(51000, 48000, now.Add(3*time.Hour))
	if len(got) != 1 || got[0].Rule.Name != "swing" {
		t.Fatalf("percent rule = %+v", got)
	}
	if got[0].Text != "swing +6.25% @ 51000.00" {
		t.Fatalf("text = %q", got[0].Text)
	}
}

func TestLoadAlertRulesFallback(t *testing.T) {
	rules := LoadAlertRules(filepath.Join(t.TempDir(), "missing.yaml"), 50000, 70000)
	if len(rules) != 2 || rules[0].Kind != models.AlertDrop || rules[1].Kind != models.AlertRise {
		t.Fatalf("fallback = %+v", rules)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("rules: [::"), 0o600); err != nil {
		t.Fatal(err)
	}
	if rules := LoadAlertRules(bad, 50000, 0); len(rules) != 1 {
		t.Fatalf("malformed fallback = %+v", rules)
	}
}

func TestLoadAlertRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.yaml")
	content := `rules:
  - name: deep dip
    kind: drop
    price: 45000
    priority: high
    cooldown: 30m
  - name: broken
    kind: sideways
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	rules := LoadAlertRules(path, 50000, 70000)
	if len(rules) != 1 {
		t.Fatalf("rules = %+v", rules)
	}
	if rules[0].Cooldown != 30*time.Minute || rules[0].Priority != models.PriorityHigh {
		t.Fatalf("rule = %+v", rules[0])
	}
}
