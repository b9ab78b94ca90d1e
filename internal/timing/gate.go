// Package timing решает, можно ли торговать сейчас, и подмешивает человеческие задержки.
package timing

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"btc_trader/internal/models"
	"btc_trader/pkg/logger"
)

type Config struct {
	Timezone string `mapstructure:"timezone"`

	TradingHoursEnabled bool `mapstructure:"trading_hours_enabled"`
	StartHour           int  `mapstructure:"start_hour"`
	EndHour             int  `mapstructure:"end_hour"`
	AvoidWeekends       bool `mapstructure:"avoid_weekends"`

	// доля движения цены, например 0.15 = 15%
	EmergencyThreshold float64       `mapstructure:"emergency_threshold"`
	EmergencySellOnly  bool          `mapstructure:"emergency_sell_only"`
	EmergencyWindow    time.Duration `mapstructure:"emergency_window"`

	HumanDelays      bool          `mapstructure:"human_delays"`
	ActionDelayMin   time.Duration `mapstructure:"action_delay_min"`
	ActionDelayMax   time.Duration `mapstructure:"action_delay_max"`
	HesitationChance float64       `mapstructure:"hesitation_chance"`
	HesitationMin    time.Duration `mapstructure:"hesitation_min"`
	HesitationMax    time.Duration `mapstructure:"hesitation_max"`

	PollMin time.Duration `mapstructure:"poll_min"`
	PollMax time.Duration `mapstructure:"poll_max"`
	MinGap  time.Duration `mapstructure:"min_gap"`

	RescheduleBackoff time.Duration `mapstructure:"reschedule_backoff"`
}

func DefaultConfig() Config {
	return Config{
		Timezone:            "Local",
		TradingHoursEnabled: true,
		StartHour:           8,
		EndHour:             22,
		AvoidWeekends:       true,
		EmergencyThreshold:  0.15,
		EmergencySellOnly:   true,
		EmergencyWindow:     30 * time.Minute,
		HumanDelays:         true,
		ActionDelayMin:      30 * time.Second,
		ActionDelayMax:      5 * time.Minute,
		HesitationChance:    0.2,
		HesitationMin:       time.Minute,
		HesitationMax:       10 * time.Minute,
		PollMin:             4 * time.Minute,
		PollMax:             7 * time.Minute,
		MinGap:              2 * time.Minute,
		RescheduleBackoff:   time.Hour,
	}
}

type VerdictReason string

const (
	VerdictAllowed      VerdictReason = "allowed"
	VerdictEmergency    VerdictReason = "emergency"
	VerdictSellOnly     VerdictReason = "emergency_sell_only"
	VerdictWeekend      VerdictReason = "weekend"
	VerdictOutsideHours VerdictReason = "outside_hours"
)

type Verdict struct {
	Allowed   bool
	Reason    VerdictReason
	Emergency bool
	Change    float64 // доля движения к прошлой котировке
}

type Gate struct {
	cfg Config
	loc *time.Location
	now func() time.Time

	mu             sync.Mutex
	rnd            *rand.Rand
	last           *models.Quote
	emergencyUntil time.Time
}

func NewGate(cfg Config, seed int64) *Gate {
	loc := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Warn("[TIMING] unknown timezone %q, using local: %v", cfg.Timezone, err)
		} else {
			loc = l
		}
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Gate{
		cfg: cfg,
		loc: loc,
		now: time.Now,
		rnd: rand.New(rand.NewSource(seed)),
	}
}

func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

func (g *Gate) Config() Config { return g.cfg }

// Location — часовой пояс торговых часов и дневных лимитов.
func (g *Gate) Location() *time.Location { return g.loc }

// IsTradingAllowed: экстренный режим, затем выходные, затем торговые часы.
func (g *Gate) IsTradingAllowed(q models.Quote, side models.Side) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	change := g.changeLocked(q)
	emergency := g.cfg.EmergencyThreshold > 0 &&
		(math.Abs(change) >= g.cfg.EmergencyThreshold || now.Before(g.emergencyUntil))

	if emergency {
		if g.cfg.EmergencySellOnly && side == models.SideBuy {
			return Verdict{Allowed: false, Reason: VerdictSellOnly, Emergency: true, Change: change}
		}
		return Verdict{Allowed: true, Reason: VerdictEmergency, Emergency: true, Change: change}
	}

	local := now.In(g.loc)
	if g.cfg.AvoidWeekends {
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return Verdict{Allowed: false, Reason: VerdictWeekend, Change: change}
		}
	}
	if g.cfg.TradingHoursEnabled && !g.inHours(local.Hour()) {
		return Verdict{Allowed: false, Reason: VerdictOutsideHours, Change: change}
	}
	return Verdict{Allowed: true, Reason: VerdictAllowed, Change: change}
}

// Observe запоминает котировку; резкое движение включает экстренный режим на EmergencyWindow.
func (g *Gate) Observe(q models.Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()

	change := g.changeLocked(q)
	if g.cfg.EmergencyThreshold > 0 && math.Abs(change) >= g.cfg.EmergencyThreshold {
		g.emergencyUntil = g.now().Add(g.cfg.EmergencyWindow)
		logger.Warn("[TIMING] emergency: price moved %.2f%% to %.2f", change*100, q.Price)
	}
	qq := q
	g.last = &qq
}

func (g *Gate) Last() (models.Quote, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		return models.Quote{}, false
	}
	return *g.last, true
}

// ActionDelay — случайная пауза перед исполнением, иногда с «колебанием».
func (g *Gate) ActionDelay() time.Duration {
	if !g.cfg.HumanDelays {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.uniformLocked(g.cfg.ActionDelayMin, g.cfg.ActionDelayMax)
	if g.cfg.HesitationChance > 0 && g.rnd.Float64() < g.cfg.HesitationChance {
		d += g.uniformLocked(g.cfg.HesitationMin, g.cfg.HesitationMax)
	}
	return d
}

// NextPollInterval — случайный интервал до следующего цикла, не ближе MinGap к lastEval.
func (g *Gate) NextPollInterval(lastEval time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.uniformLocked(g.cfg.PollMin, g.cfg.PollMax)
	if !lastEval.IsZero() && g.cfg.MinGap > 0 {
		since := g.now().Sub(lastEval)
		if since+d < g.cfg.MinGap {
			d = g.cfg.MinGap - since
		}
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

func (g *Gate) changeLocked(q models.Quote) float64 {
	if g.last == nil || g.last.Price <= 0 || q.Price <= 0 {
		return 0
	}
	return (q.Price - g.last.Price) / g.last.Price
}

// inHours: [start, end); при start > end окно переходит через полночь.
func (g *Gate) inHours(h int) bool {
	start, end := g.cfg.StartHour, g.cfg.EndHour
	switch {
	case start == end:
		return true
	case start < end:
		return h >= start && h < end
	default:
		return h >= start || h < end
	}
}

func (g *Gate) uniformLocked(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(g.rnd.Int63n(int64(max-min)))
}
