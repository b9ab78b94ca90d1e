package helper

import (
	"fmt"
	"math"
	"time"
)

func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Floor(px/tick + 1e-12)
	return steps * tick
}

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Ceil(px/tick - 1e-12)
	return steps * tick
}

// DayKey — календарный день в локации loc, для дневных лимитов.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("2006-01-02")
}

func FormatBTC(v float64) string { return fmt.Sprintf("%.8f BTC", v) }

func FormatFiat(v float64) string { return fmt.Sprintf("%.2f USDT", v) }

// FormatSigned — сумма со знаком: +12.34 / -0.50.
func FormatSigned(v float64) string { return fmt.Sprintf("%+.2f", v) }

// ModeLabel — метка режима для логов и уведомлений.
func ModeLabel(live bool) string {
	if live {
		return "LIVE"
	}
	return "DRY-RUN"
}
