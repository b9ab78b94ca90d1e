package strategy

import (
	"sync"
)

// RangeConfig — параметры окна сессии.
type RangeConfig struct {
	Period   int `mapstructure:"period"`    // сколько последних котировок держать; 0 — вся сессия
	TrendEma int `mapstructure:"trend_ema"` // период EMA для сводки тренда
}

// Range — максимум и минимум цены за сессию (канал Дончиана по котировкам) плюс EMA.
type Range struct {
	cfg RangeConfig

	mu     sync.Mutex
	prices []float64
	high   float64
	low    float64
	count  int
	ema    emaState
}

// Snapshot — текущие границы канала.
type Snapshot struct {
	High  float64
	Low   float64
	EMA   float64
	Ready bool // EMA прогрета
	Count int
}

type emaState struct {
	period int
	alpha  float64
	value  float64
	warmup int
}

func newEMA(period int) emaState {
	if period <= 1 {
		period = 1
	}
	return emaState{
		period: period,
		alpha:  2.0 / (float64(period) + 1),
	}
}

func (e *emaState) Update(price float64) {
	if e.warmup == 0 {
		e.value = price
		e.warmup = 1
		return
	}
	e.value = e.alpha*price + (1-e.alpha)*e.value
	if e.warmup < e.period {
		e.warmup++
	}
}

func (e *emaState) Ready() bool { return e.warmup >= e.period }

func NewRange(cfg RangeConfig) *Range {
	if cfg.Period < 0 {
		cfg.Period = 0
	}
	if cfg.TrendEma <= 0 {
		cfg.TrendEma = 20
	}
	return &Range{
		cfg: cfg,
		ema: newEMA(cfg.TrendEma),
	}
}

// Update добавляет котировку и возвращает обновлённые границы.
func (r *Range) Update(price float64) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if price <= 0 {
		return r.snapshotLocked()
	}
	r.ema.Update(price)

	if r.cfg.Period == 0 {
		if r.count == 0 || price > r.high {
			r.high = price
		}
		if r.count == 0 || price < r.low {
			r.low = price
		}
		r.count++
		return r.snapshotLocked()
	}

	r.prices = append(r.prices, price)
	if len(r.prices) > r.cfg.Period {
		r.prices = r.prices[len(r.prices)-r.cfg.Period:]
	}
	r.high, r.low = r.prices[0], r.prices[0]
	for _, p := range r.prices[1:] {
		if p > r.high {
			r.high = p
		}
		if p < r.low {
			r.low = p
		}
	}
	r.count++
	return r.snapshotLocked()
}

// Trend — направление цены относительно EMA; пусто, пока EMA не прогрета.
func (s Snapshot) Trend(price float64) string {
	if !s.Ready || s.EMA <= 0 {
		return ""
	}
	switch d := (price - s.EMA) / s.EMA * 100; {
	case d > 0.1:
		return "↑"
	case d < -0.1:
		return "↓"
	default:
		return "→"
	}
}

func (r *Range) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Reset начинает новую сессию.
func (r *Range) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices = nil
	r.high, r.low = 0, 0
	r.count = 0
	r.ema = newEMA(r.cfg.TrendEma)
}

func (r *Range) snapshotLocked() Snapshot {
	return Snapshot{
		High:  r.high,
		Low:   r.low,
		EMA:   r.ema.value,
		Ready: r.ema.Ready(),
		Count: r.count,
	}
}
