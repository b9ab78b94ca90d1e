package models

// FeeModel — единая модель комиссий: торговая + спред в процентах от суммы,
// плюс фиксированная комиссия за вывод.
type FeeModel struct {
	TradingFeePct float64 `mapstructure:"trading_fee_pct" yaml:"trading_fee_pct"`
	SpreadPct     float64 `mapstructure:"spread_pct" yaml:"spread_pct"`
	WithdrawalFee float64 `mapstructure:"withdrawal_fee" yaml:"withdrawal_fee"`
}

// Rate — доля от суммы сделки.
func (f FeeModel) Rate() float64 {
	return (f.TradingFeePct + f.SpreadPct) / 100
}

// Estimate — комиссии за продажу на сумму value.
func (f FeeModel) Estimate(value float64) float64 {
	if value < 0 {
		value = 0
	}
	return value*f.Rate() + f.WithdrawalFee
}

// BreakEvenPrice — цена продажи amount BTC, при которой чистая прибыль над cost равна target.
func (f FeeModel) BreakEvenPrice(amount, cost, target float64) float64 {
	k := 1 - f.Rate()
	if amount <= 0 || k <= 0 {
		return 0
	}
	return (target + cost + f.WithdrawalFee) / (amount * k)
}
