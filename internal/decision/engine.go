// Package decision — чистая оценка сигналов на покупку и продажу.
package decision

import (
	"math"
	"time"

	"btc_trader/internal/models"
)

type Config struct {
	BuyThreshold     float64       `mapstructure:"buy_threshold"`
	DropPercent      float64       `mapstructure:"drop_percent"`
	SupportLevels    []float64     `mapstructure:"support_levels"`
	SupportBandPct   float64       `mapstructure:"support_band_pct"`
	BuyAmount        float64       `mapstructure:"buy_amount"`
	MinFiatReserve   float64       `mapstructure:"min_fiat_reserve"`
	DailySpendLimit  float64       `mapstructure:"daily_spend_limit"`
	MaxDailyTrades   int           `mapstructure:"max_daily_trades"`
	MinBuyInterval   time.Duration `mapstructure:"min_buy_interval"`
	MaxAssetHoldings float64       `mapstructure:"max_asset_holdings"`
	RebuyDropPercent float64       `mapstructure:"rebuy_drop_percent"`

	SellThreshold       float64       `mapstructure:"sell_threshold"`
	ProfitTarget        float64       `mapstructure:"profit_target"`
	RisePercent         float64       `mapstructure:"rise_percent"`
	TrailingStop        bool          `mapstructure:"trailing_stop"`
	TrailingStopPercent float64       `mapstructure:"trailing_stop_percent"`
	SellCooldown        time.Duration `mapstructure:"sell_cooldown"`
}

func DefaultConfig() Config {
	return Config{
		DropPercent:         5,
		SupportBandPct:      1,
		BuyAmount:           25,
		MinFiatReserve:      10,
		DailySpendLimit:     100,
		MaxDailyTrades:      4,
		MinBuyInterval:      6 * time.Hour,
		MaxAssetHoldings:    0.01,
		RebuyDropPercent:    3,
		ProfitTarget:        10,
		RisePercent:         5,
		TrailingStopPercent: 8,
		SellCooldown:        time.Hour,
	}
}

// Input — всё, что нужно для решения; движок не хранит состояние.
type Input struct {
	Now           time.Time
	Price         float64
	Balances      models.Balances
	CurrentProfit float64

	SessionHigh float64
	SessionLow  float64

	LastBuyAt     time.Time
	HasSold       bool
	LastSellAt    time.Time
	LastSellPrice float64

	DailySpent  float64
	DailyTrades int
}

type Engine struct {
	cfg  Config
	fees models.FeeModel
}

func NewEngine(cfg Config, fees models.FeeModel) *Engine {
	return &Engine{cfg: cfg, fees: fees}
}

func (e *Engine) Config() Config { return e.cfg }

// NetProfit — прибыль портфеля за вычетом комиссий на продажу всего BTC.
func (e *Engine) NetProfit(profit, assetValue float64) float64 {
	return profit - e.fees.Estimate(assetValue)
}

// Evaluate детерминирован: одинаковый Input даёт одинаковый Decision.
func (e *Engine) Evaluate(in Input) models.Decision {
	var d models.Decision

	buyTriggers := e.buyTriggers(in)
	if len(buyTriggers) > 0 {
		blockers := e.buyBlockers(in)
		d.Reasons = append(d.Reasons, buyTriggers...)
		d.Reasons = append(d.Reasons, blockers...)
		d.ShouldBuy = len(blockers) == 0
	}

	sellTriggers := e.sellTriggers(in)
	if len(sellTriggers) > 0 {
		blockers := e.sellBlockers(in)
		d.Reasons = append(d.Reasons, sellTriggers...)
		d.Reasons = append(d.Reasons, blockers...)
		d.ShouldSell = len(blockers) == 0
	}

	// продажа в приоритете
	if d.ShouldSell {
		d.ShouldBuy = false
	}
	return d
}

func (e *Engine) buyTriggers(in Input) []models.Reason {
	var rs []models.Reason
	if e.cfg.BuyThreshold > 0 && in.Price <= e.cfg.BuyThreshold {
		rs = append(rs, models.Reason{Code: models.ReasonPriceBelowBuyThreshold, Value: in.Price, Limit: e.cfg.BuyThreshold})
	}
	if e.cfg.DropPercent > 0 && in.SessionHigh > 0 {
		drop := (in.SessionHigh - in.Price) / in.SessionHigh * 100
		if drop >= e.cfg.DropPercent {
			rs = append(rs, models.Reason{Code: models.ReasonDropFromHigh, Value: drop, Limit: e.cfg.DropPercent})
		}
	}
	band := e.cfg.SupportBandPct
	if band <= 0 {
		band = 1
	}
	for _, lvl := range e.cfg.SupportLevels {
		if lvl > 0 && math.Abs(in.Price-lvl)/lvl*100 <= band {
			rs = append(rs, models.Reason{Code: models.ReasonNearSupport, Value: in.Price, Limit: lvl})
			break
		}
	}
	return rs
}

func (e *Engine) buyBlockers(in Input) []models.Reason {
	var rs []models.Reason

	if !in.HasSold {
		rs = append(rs, models.Reason{Code: models.ReasonBuyDisabledNoSell})
	} else if e.cfg.RebuyDropPercent > 0 && in.LastSellPrice > 0 {
		ceiling := in.LastSellPrice * (1 - e.cfg.RebuyDropPercent/100)
		if in.Price > ceiling {
			rs = append(rs, models.Reason{Code: models.ReasonRebuyDropNotReached, Value: in.Price, Limit: ceiling})
		}
	}

	need := e.cfg.BuyAmount + e.cfg.MinFiatReserve
	if in.Balances.Fiat < need {
		rs = append(rs, models.Reason{Code: models.ReasonInsufficientFiat, Value: in.Balances.Fiat, Limit: need})
	}
	if e.cfg.DailySpendLimit > 0 && in.DailySpent+e.cfg.BuyAmount > e.cfg.DailySpendLimit {
		rs = append(rs, models.Reason{Code: models.ReasonDailySpendLimit, Value: in.DailySpent, Limit: e.cfg.DailySpendLimit})
	}
	if r, ok := e.dailyTradesBlocker(in); ok {
		rs = append(rs, r)
	}
	if e.cfg.MinBuyInterval > 0 && !in.LastBuyAt.IsZero() {
		since := in.Now.Sub(in.LastBuyAt)
		if since < e.cfg.MinBuyInterval {
			rs = append(rs, models.Reason{Code: models.ReasonBuyTooSoon, Value: since.Minutes(), Limit: e.cfg.MinBuyInterval.Minutes()})
		}
	}
	if e.cfg.MaxAssetHoldings > 0 && in.Balances.Asset >= e.cfg.MaxAssetHoldings {
		rs = append(rs, models.Reason{Code: models.ReasonMaxHoldings, Value: in.Balances.Asset, Limit: e.cfg.MaxAssetHoldings})
	}
	return rs
}

func (e *Engine) sellTriggers(in Input) []models.Reason {
	var rs []models.Reason
	if e.cfg.SellThreshold > 0 && in.Price >= e.cfg.SellThreshold {
		rs = append(rs, models.Reason{Code: models.ReasonPriceAboveSellThreshold, Value: in.Price, Limit: e.cfg.SellThreshold})
	}
	if e.cfg.ProfitTarget > 0 {
		net := e.NetProfit(in.CurrentProfit, in.Balances.Asset*in.Price)
		if net >= e.cfg.ProfitTarget {
			rs = append(rs, models.Reason{Code: models.ReasonNetProfitTarget, Value: net, Limit: e.cfg.ProfitTarget})
		}
	}
	if e.cfg.RisePercent > 0 && in.SessionLow > 0 {
		rise := (in.Price - in.SessionLow) / in.SessionLow * 100
		if rise >= e.cfg.RisePercent {
			rs = append(rs, models.Reason{Code: models.ReasonRiseFromLow, Value: rise, Limit: e.cfg.RisePercent})
		}
	}
	if e.cfg.TrailingStop && e.cfg.TrailingStopPercent > 0 && in.SessionHigh > 0 {
		drop := (in.SessionHigh - in.Price) / in.SessionHigh * 100
		if drop >= e.cfg.TrailingStopPercent {
			rs = append(rs, models.Reason{Code: models.ReasonTrailingStop, Value: drop, Limit: e.cfg.TrailingStopPercent})
		}
	}
	return rs
}

func (e *Engine) sellBlockers(in Input) []models.Reason {
	var rs []models.Reason
	if in.Balances.Asset <= models.DustAsset {
		rs = append(rs, models.Reason{Code: models.ReasonNothingToSell})
	}
	if e.cfg.SellCooldown > 0 && in.HasSold && !in.LastSellAt.IsZero() {
		since := in.Now.Sub(in.LastSellAt)
		if since < e.cfg.SellCooldown {
			rs = append(rs, models.Reason{Code: models.ReasonSellCooldown, Value: since.Minutes(), Limit: e.cfg.SellCooldown.Minutes()})
		}
	}
	if r, ok := e.dailyTradesBlocker(in); ok {
		rs = append(rs, r)
	}
	return rs
}

func (e *Engine) dailyTradesBlocker(in Input) (models.Reason, bool) {
	if e.cfg.MaxDailyTrades > 0 && in.DailyTrades >= e.cfg.MaxDailyTrades {
		return models.Reason{Code: models.ReasonDailyTradeLimit, Value: float64(in.DailyTrades), Limit: float64(e.cfg.MaxDailyTrades)}, true
	}
	return models.Reason{}, false
}
