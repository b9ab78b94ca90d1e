// Package profit считает прибыль портфеля относительно базовой стоимости и вехи прибыли.
package profit

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"btc_trader/internal/models"
	"btc_trader/internal/store"
	"btc_trader/pkg/logger"
)

type MilestoneConfig struct {
	Mode   models.MilestoneMode `mapstructure:"mode"`
	Levels []float64            `mapstructure:"levels"` // progressive
	Step   float64              `mapstructure:"step"`   // fixed
	Static float64              `mapstructure:"static"` // static
}

type Stores struct {
	Snapshots  store.Store[models.ProfitSnapshot]
	Milestones store.Store[models.Milestone]
	Baseline   store.Store[models.Baseline]
}

type Account struct {
	mu  sync.Mutex
	cfg MilestoneConfig
	st  Stores
	now func() time.Time

	// 0 — без ограничения
	maxSnapshots int

	baseline    *models.Baseline
	snapshots   []models.ProfitSnapshot
	milestones  []models.Milestone
	staticArmed bool
}

func New(cfg MilestoneConfig, st Stores, maxSnapshots int) *Account {
	if st.Snapshots == nil {
		st.Snapshots = store.NewMemory[models.ProfitSnapshot]()
	}
	if st.Milestones == nil {
		st.Milestones = store.NewMemory[models.Milestone]()
	}
	if st.Baseline == nil {
		st.Baseline = store.NewMemory[models.Baseline]()
	}
	levels := append([]float64(nil), cfg.Levels...)
	sort.Float64s(levels)
	cfg.Levels = levels

	return &Account{
		cfg:          cfg,
		st:           st,
		now:          time.Now,
		maxSnapshots: maxSnapshots,
		staticArmed:  true,
	}
}

func (a *Account) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Restore поднимает базу, снапшоты и вехи из хранилищ.
func (a *Account) Restore(ctx context.Context) error {
	bl, err := a.st.Baseline.Load(ctx)
	if err != nil {
		return err
	}
	snaps, err := a.st.Snapshots.Load(ctx)
	if err != nil {
		return err
	}
	ms, err := a.st.Milestones.Load(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.baseline = nil
	if len(bl) > 0 {
		b := bl[len(bl)-1]
		a.baseline = &b
	}
	a.snapshots = snaps
	a.milestones = ms
	a.staticArmed = true
	if n := len(snaps); n > 0 && a.cfg.Mode == models.MilestoneStatic && a.cfg.Static > 0 {
		a.staticArmed = snaps[n-1].Profit < a.cfg.Static
	}
	logger.Info("[PROFIT] restored baseline=%v snapshots=%d milestones=%d", a.baseline != nil, len(snaps), len(ms))
	return nil
}

// RecordBalance добавляет снапшот; первый снапшот фиксирует базу.
func (a *Account) RecordBalance(ctx context.Context, fiat, asset, price float64, source models.SnapshotSource) models.ProfitSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	total := fiat + asset*price
	if a.baseline == nil {
		a.baseline = &models.Baseline{Amount: total, SetAt: now}
		a.persistBaselineLocked(ctx)
		logger.Info("[PROFIT] baseline set to %.2f", total)
	}

	snap := models.ProfitSnapshot{
		Timestamp:    now,
		FiatBalance:  fiat,
		AssetBalance: asset,
		UnitPrice:    price,
		TotalValue:   total,
		Baseline:     a.baseline.Amount,
		Profit:       total - a.baseline.Amount,
		Source:       source,
	}
	a.snapshots = append(a.snapshots, snap)
	if a.maxSnapshots > 0 && len(a.snapshots) > a.maxSnapshots {
		a.snapshots = append([]models.ProfitSnapshot(nil), a.snapshots[len(a.snapshots)-a.maxSnapshots:]...)
	}
	if err := a.st.Snapshots.Save(ctx, a.snapshots); err != nil {
		logger.Error("[PROFIT] persist snapshots: %v", err)
	}
	return snap
}

// CurrentProfit — последняя стоимость минус база, 0 без базы или снапшотов.
func (a *Account) CurrentProfit() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.baseline == nil || len(a.snapshots) == 0 {
		return 0
	}
	return a.snapshots[len(a.snapshots)-1].TotalValue - a.baseline.Amount
}

// ProfitPercent — прибыль в процентах от базы; false, если база не задана или нулевая.
func (a *Account) ProfitPercent() (float64, bool) {
	profit := a.CurrentProfit()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.baseline == nil || a.baseline.Amount == 0 {
		return 0, false
	}
	return profit / a.baseline.Amount * 100, true
}

func (a *Account) Baseline() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.baseline == nil {
		return 0, false
	}
	return a.baseline.Amount, true
}

// SetBaseline — ручная установка базы.
func (a *Account) SetBaseline(ctx context.Context, amount float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.baseline = &models.Baseline{Amount: amount, SetAt: a.now(), Manual: true}
	a.persistBaselineLocked(ctx)
	logger.Info("[PROFIT] baseline overridden to %.2f", amount)
}

// ResetAll стирает базу, снапшоты и вехи.
func (a *Account) ResetAll(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.baseline = nil
	a.snapshots = nil
	a.milestones = nil
	a.staticArmed = true

	a.persistBaselineLocked(ctx)
	if err := a.st.Snapshots.Save(ctx, nil); err != nil {
		logger.Error("[PROFIT] reset snapshots: %v", err)
	}
	if err := a.st.Milestones.Save(ctx, nil); err != nil {
		logger.Error("[PROFIT] reset milestones: %v", err)
	}
	logger.Info("[PROFIT] reset")
}

func (a *Account) Snapshots() []models.ProfitSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.ProfitSnapshot(nil), a.snapshots...)
}

func (a *Account) Milestones() []models.Milestone {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Milestone(nil), a.milestones...)
}

// CheckMilestones возвращает вехи, впервые достигнутые при прибыли profit.
func (a *Account) CheckMilestones(ctx context.Context, profit float64) []models.Milestone {
	a.mu.Lock()
	defer a.mu.Unlock()

	var values []float64
	switch a.cfg.Mode {
	case models.MilestoneProgressive:
		for _, lvl := range a.cfg.Levels {
			if profit >= lvl && !a.reachedLocked(lvl) {
				values = append(values, lvl)
			}
		}
	case models.MilestoneFixed:
		// только текущая ступень; пропущенные при скачке нижние не шлются
		if a.cfg.Step > 0 && profit >= a.cfg.Step {
			v := math.Floor(profit/a.cfg.Step+1e-9) * a.cfg.Step
			if top, ok := a.topReachedLocked(); !ok || v > top+1e-9 {
				values = append(values, v)
			}
		}
	case models.MilestoneStatic:
		if a.cfg.Static <= 0 {
			break
		}
		if profit >= a.cfg.Static {
			if a.staticArmed {
				values = append(values, a.cfg.Static)
				a.staticArmed = false
			}
		} else {
			a.staticArmed = true
		}
	}

	if len(values) == 0 {
		return nil
	}

	now := a.now()
	fired := make([]models.Milestone, 0, len(values))
	for _, v := range values {
		m := models.Milestone{Value: v, Mode: a.cfg.Mode, Profit: profit, ReachedAt: now}
		a.milestones = append(a.milestones, m)
		fired = append(fired, m)
		logger.Info("[PROFIT] milestone %.2f reached (profit %.2f)", v, profit)
	}
	if err := a.st.Milestones.Save(ctx, a.milestones); err != nil {
		logger.Error("[PROFIT] persist milestones: %v", err)
	}
	return fired
}

func (a *Account) reachedLocked(v float64) bool {
	for _, m := range a.milestones {
		if m.Mode == a.cfg.Mode && math.Abs(m.Value-v) < 1e-9 {
			return true
		}
	}
	return false
}

// topReachedLocked — наибольшая веха текущего режима в этой эпохе.
func (a *Account) topReachedLocked() (float64, bool) {
	top, ok := 0.0, false
	for _, m := range a.milestones {
		if m.Mode == a.cfg.Mode && (!ok || m.Value > top) {
			top, ok = m.Value, true
		}
	}
	return top, ok
}

func (a *Account) persistBaselineLocked(ctx context.Context) {
	var items []models.Baseline
	if a.baseline != nil {
		items = []models.Baseline{*a.baseline}
	}
	if err := a.st.Baseline.Save(ctx, items); err != nil {
		logger.Error("[PROFIT] persist baseline: %v", err)
	}
}
