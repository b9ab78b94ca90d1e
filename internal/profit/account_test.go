package profit

import (
	"context"
	"math"
	"testing"

	"btc_trader/internal/models"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBaselineFixedByFirstSnapshot(t *testing.T) {
	a := New(MilestoneConfig{}, Stores{}, 0)
	ctx := context.Background()

	if a.CurrentProfit() != 0 {
		t.Fatalf("profit without snapshots must be 0")
	}
	if _, ok := a.ProfitPercent(); ok {
		t.Fatalf("percent must be N/A without baseline")
	}

	a.RecordBalance(ctx, 100, 0.003, 50000, models.SourcePoll) // 250
	a.RecordBalance(ctx, 100, 0.003, 55000, models.SourcePoll) // 265
	snap := a.RecordBalance(ctx, 120, 0.003, 51000, models.SourceBuy)

	base, ok := a.Baseline()
	if !ok || !approx(base, 250) {
		t.Fatalf("baseline = %v %v, want 250", base, ok)
	}
	if !approx(snap.Profit, 273-250) || !approx(a.CurrentProfit(), snap.TotalValue-base) {
		t.Fatalf("profit = %.4f", a.CurrentProfit())
	}
	pct, ok := a.ProfitPercent()
	if !ok || !approx(pct, 23.0/250*100) {
		t.Fatalf("percent = %v %v", pct, ok)
	}
}

func TestSetBaselineAndReset(t *testing.T) {
	a := New(MilestoneConfig{}, Stores{}, 0)
	ctx := context.Background()
	a.RecordBalance(ctx, 100, 0, 0, models.SourcePoll)
	a.SetBaseline(ctx, 80)
	a.RecordBalance(ctx, 100, 0, 0, models.SourcePoll)

	if !approx(a.CurrentProfit(), 20) {
		t.Fatalf("profit after override = %.2f", a.CurrentProfit())
	}

	a.SetBaseline(ctx, 0)
	if _, ok := a.ProfitPercent(); ok {
		t.Fatalf("zero baseline must give N/A percent")
	}

	a.ResetAll(ctx)
	if _, ok := a.Baseline(); ok || len(a.Snapshots()) != 0 {
		t.Fatalf("reset must clear baseline and history")
	}
	a.RecordBalance(ctx, 300, 0, 0, models.SourcePoll)
	if base, _ := a.Baseline(); base != 300 {
		t.Fatalf("baseline after reset = %v", base)
	}
}

func values(ms []models.Milestone) []float64 {
	out := make([]float64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Value)
	}
	return out
}

func TestStaticMilestoneRearms(t *testing.T) {
	a := New(MilestoneConfig{Mode: models.MilestoneStatic, Static: 10}, Stores{}, 0)
	ctx := context.Background()

	var fired []float64
	for _, p := range []float64{5, 12, 3, 11} {
		fired = append(fired, values(a.CheckMilestones(ctx, p))...)
	}
	if len(fired) != 2 {
		t.Fatalf("fired %v, want two firings", fired)
	}
	if len(a.Milestones()) != 2 {
		t.Fatalf("recorded %d milestones", len(a.Milestones()))
	}
}

func TestStaticMilestoneStaysQuietAbove(t *testing.T) {
	a := New(MilestoneConfig{Mode: models.MilestoneStatic, Static: 10}, Stores{}, 0)
	ctx := context.Background()
	total := 0
	for _, p := range []float64{11, 15, 20, 10} {
		total += len(a.CheckMilestones(ctx, p))
	}
	if total != 1 {
		t.Fatalf("fired %d times, want 1", total)
	}
}

func TestProgressiveMilestonesFireOnce(t *testing.T) {
	a := New(MilestoneConfig{Mode: models.MilestoneProgressive, Levels: []float64{50, 10, 25}}, Stores{}, 0)
	ctx := context.Background()

	if got := values(a.CheckMilestones(ctx, 30)); len(got) != 2 || got[0] != 10 || got[1] != 25 {
		t.Fatalf("first check = %v, want [10 25]", got)
	}
	if got := a.CheckMilestones(ctx, 5); len(got) != 0 {
		t.Fatalf("drop must not fire: %v", got)
	}
	if got := a.CheckMilestones(ctx, 30); len(got) != 0 {
		t.Fatalf("recovery must not refire: %v", got)
	}
	if got := values(a.CheckMilestones(ctx, 60)); len(got) != 1 || got[0] != 50 {
		t.Fatalf("check at 60 = %v", got)
	}

	a.ResetAll(ctx)
	if got := a.CheckMilestones(ctx, 30); len(got) != 2 {
		t.Fatalf("new epoch must refire, got %v", got)
	}
}

func TestFixedMilestones(t *testing.T) {
	a := New(MilestoneConfig{Mode: models.MilestoneFixed, Step: 5}, Stores{}, 0)
	ctx := context.Background()

	if got := values(a.CheckMilestones(ctx, 7)); len(got) != 1 || got[0] != 5 {
		t.Fatalf("check at 7 = %v", got)
	}
	if got := values(a.CheckMilestones(ctx, 12)); len(got) != 1 || got[0] != 10 {
		t.Fatalf("check at 12 = %v", got)
	}
	if got := a.CheckMilestones(ctx, 14.9); len(got) != 0 {
		t.Fatalf("check at 14.9 = %v", got)
	}
	if got := values(a.CheckMilestones(ctx, 15)); len(got) != 1 || got[0] != 15 {
		t.Fatalf("check at 15 = %v", got)
	}
	if got := a.CheckMilestones(ctx, -3); len(got) != 0 {
		t.Fatalf("negative profit = %v", got)
	}
}

func TestFixedMilestoneJumpFiresOnce(t *testing.T) {
	a := New(MilestoneConfig{Mode: models.MilestoneFixed, Step: 1}, Stores{}, 0)
	ctx := context.Background()

	got := values(a.CheckMilestones(ctx, 2500.4))
	if len(got) != 1 || got[0] != 2500 {
		t.Fatalf("jump to 2500.4 fired %d events, last %v", len(got), got)
	}
	if n := len(a.Milestones()); n != 1 {
		t.Fatalf("recorded %d milestones, want 1", n)
	}

	// откат внутрь пропущенных ступеней ничего не шлёт
	for _, p := range []float64{12, 2499, 2500.9} {
		if got := a.CheckMilestones(ctx, p); len(got) != 0 {
			t.Fatalf("check at %v = %v", p, values(got))
		}
	}
	if got := values(a.CheckMilestones(ctx, 2503)); len(got) != 1 || got[0] != 2503 {
		t.Fatalf("check at 2503 = %v", got)
	}
}

func TestRestoreKeepsState(t *testing.T) {
	st := Stores{}
	a := New(MilestoneConfig{Mode: models.MilestoneFixed, Step: 5}, st, 2)
	ctx := context.Background()
	for _, fiat := range []float64{100, 104, 107} {
		a.RecordBalance(ctx, fiat, 0, 0, models.SourcePoll)
	}
	a.CheckMilestones(ctx, a.CurrentProfit())

	b := New(MilestoneConfig{Mode: models.MilestoneFixed, Step: 5}, a.st, 2)
	if err := b.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if base, ok := b.Baseline(); !ok || base != 100 {
		t.Fatalf("restored baseline = %v %v", base, ok)
	}
	if len(b.Snapshots()) != 2 {
		t.Fatalf("snapshots capped at 2, got %d", len(b.Snapshots()))
	}
	if !approx(b.CurrentProfit(), 7) {
		t.Fatalf("restored profit = %.2f", b.CurrentProfit())
	}
	if got := b.CheckMilestones(ctx, 7); len(got) != 0 {
		t.Fatalf("restored milestone refired: %v", got)
	}
}
