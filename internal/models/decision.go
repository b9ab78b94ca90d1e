package models

import (
	"fmt"
	"strings"
)

type ReasonCode int

const (
	// buy triggers
	ReasonPriceBelowBuyThreshold ReasonCode = iota + 1
	ReasonDropFromHigh
	ReasonNearSupport

	// buy blockers
	ReasonBuyDisabledNoSell
	ReasonRebuyDropNotReached
	ReasonInsufficientFiat
	ReasonDailySpendLimit
	ReasonDailyTradeLimit
	ReasonBuyTooSoon
	ReasonMaxHoldings

	// sell triggers
	ReasonPriceAboveSellThreshold
	ReasonNetProfitTarget
	ReasonRiseFromLow
	ReasonTrailingStop

	// sell blockers
	ReasonNothingToSell
	ReasonSellCooldown
)

// Reason — тег причины решения с числовым параметром; текст строится только при отправке.
type Reason struct {
	Code  ReasonCode
	Value float64
	Limit float64
}

func (r Reason) String() string {
	switch r.Code {
	case ReasonPriceBelowBuyThreshold:
		return fmt.Sprintf("Цена %.2f ниже порога покупки %.2f", r.Value, r.Limit)
	case ReasonDropFromHigh:
		return fmt.Sprintf("Падение от максимума %.2f%% (порог %.2f%%)", r.Value, r.Limit)
	case ReasonNearSupport:
		return fmt.Sprintf("Цена у уровня поддержки %.2f", r.Limit)
	case ReasonBuyDisabledNoSell:
		return "Покупки выключены до первой продажи"
	case ReasonRebuyDropNotReached:
		return fmt.Sprintf("Цена не упала достаточно после продажи: %.2f > %.2f", r.Value, r.Limit)
	case ReasonInsufficientFiat:
		return fmt.Sprintf("Недостаточно фиата: %.2f < %.2f", r.Value, r.Limit)
	case ReasonDailySpendLimit:
		return fmt.Sprintf("Дневной лимит трат: %.2f из %.2f", r.Value, r.Limit)
	case ReasonDailyTradeLimit:
		return fmt.Sprintf("Дневной лимит сделок: %.0f из %.0f", r.Value, r.Limit)
	case ReasonBuyTooSoon:
		return fmt.Sprintf("С последней покупки прошло %.0f мин из %.0f", r.Value, r.Limit)
	case ReasonMaxHoldings:
		return fmt.Sprintf("Лимит BTC: %.8f >= %.8f", r.Value, r.Limit)
	case ReasonPriceAboveSellThreshold:
		return fmt.Sprintf("Цена %.2f выше порога продажи %.2f", r.Value, r.Limit)
	case ReasonNetProfitTarget:
		return fmt.Sprintf("Цель чистой прибыли достигнута: %.2f >= %.2f", r.Value, r.Limit)
	case ReasonRiseFromLow:
		return fmt.Sprintf("Рост от минимума %.2f%% (порог %.2f%%)", r.Value, r.Limit)
	case ReasonTrailingStop:
		return fmt.Sprintf("Трейлинг-стоп: падение от максимума %.2f%% (порог %.2f%%)", r.Value, r.Limit)
	case ReasonNothingToSell:
		return "Нет BTC для продажи"
	case ReasonSellCooldown:
		return fmt.Sprintf("Кулдаун продажи: прошло %.0f мин из %.0f", r.Value, r.Limit)
	default:
		return fmt.Sprintf("reason(%d)", int(r.Code))
	}
}

// Blocking — причина запрещает действие, а не инициирует его.
func (r Reason) Blocking() bool {
	switch r.Code {
	case ReasonBuyDisabledNoSell, ReasonRebuyDropNotReached, ReasonInsufficientFiat,
		ReasonDailySpendLimit, ReasonDailyTradeLimit, ReasonBuyTooSoon, ReasonMaxHoldings,
		ReasonNothingToSell, ReasonSellCooldown:
		return true
	}
	return false
}

type Decision struct {
	ShouldBuy  bool
	ShouldSell bool
	Reasons    []Reason
}

// Has — есть ли причина с таким кодом.
func (d Decision) Has(code ReasonCode) bool {
	for _, r := range d.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

// Text — причины одной строкой для уведомления: сначала триггеры, затем блокировки.
func (d Decision) Text() string {
	var triggers, blockers []string
	for _, r := range d.Reasons {
		if r.Blocking() {
			blockers = append(blockers, r.String())
		} else {
			triggers = append(triggers, r.String())
		}
	}
	s := strings.Join(triggers, "; ")
	if len(blockers) > 0 {
		if s != "" {
			s += " | "
		}
		s += "Блокировки: " + strings.Join(blockers, "; ")
	}
	return s
}
