package models

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Quote — котировка BTC в фиате.
type Quote struct {
	Price     float64
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// Balances — свободные остатки на бирже.
type Balances struct {
	Fiat  float64
	Asset float64
}

// Value — стоимость портфеля по цене.
func (b Balances) Value(price float64) float64 {
	return b.Fiat + b.Asset*price
}

// Fill — результат исполненного ордера.
type Fill struct {
	OrderID     string
	Side        Side
	FiatAmount  float64 // для buy — потрачено, для sell — получено (до вычета Fee)
	AssetAmount float64
	UnitPrice   float64
	Fee         float64 // в фиате
	Live        bool
	Timestamp   time.Time
}
