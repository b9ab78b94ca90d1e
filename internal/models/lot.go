package models

import "time"

// DustAsset — всё, что меньше, считаем нулём.
const DustAsset = 1e-8

type LotTag string

const (
	LotTagManual  LotTag = "manual"
	LotTagAuto    LotTag = "auto"
	LotTagInitial LotTag = "initial"
)

type LotStatus string

const (
	LotActive   LotStatus = "active"
	LotPartial  LotStatus = "partial"
	LotConsumed LotStatus = "consumed"
	LotSold     LotStatus = "sold"
)

// Lot — одна покупка BTC со своей себестоимостью.
// Для partial-лота FiatAmount пересчитан пропорционально остатку, UnitPrice не меняется.
type Lot struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	FiatAmount  float64   `json:"fiat_amount"`
	AssetAmount float64   `json:"asset_amount"`
	UnitPrice   float64   `json:"unit_price"`
	Tag         LotTag    `json:"tag"`
	Status      LotStatus `json:"status"`

	OriginalFiat  float64 `json:"original_fiat"`
	OriginalAsset float64 `json:"original_asset"`

	SalePrice float64    `json:"sale_price,omitempty"`
	SoldAt    *time.Time `json:"sold_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Open — лот участвует в FIFO.
func (l Lot) Open() bool {
	return l.Status == LotActive || l.Status == LotPartial
}

// CostPerAsset — себестоимость 1 BTC в лоте.
func (l Lot) CostPerAsset() float64 {
	if l.AssetAmount <= 0 {
		return l.UnitPrice
	}
	return l.FiatAmount / l.AssetAmount
}

// LotView — расчётный взгляд на открытый лот при текущей цене.
type LotView struct {
	Lot           Lot
	CurrentValue  float64
	Unrealized    float64
	UnrealizedPct float64
	DaysHeld      float64
	NeededProfit  float64 // сколько ещё чистой прибыли не хватает до цели
	TargetPrice   float64 // цена, при которой лот даёт цель после комиссий
}

// SaleResult — итог продажи одного лота или FIFO-продажи.
type SaleResult struct {
	Lots        []Lot
	AssetAmount float64
	UnitPrice   float64
	SaleValue   float64
	CostBasis   float64
	GrossProfit float64
	Fees        float64
	NetProfit   float64
}
