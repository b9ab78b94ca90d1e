package models

import "time"

type SnapshotSource string

const (
	SourcePoll   SnapshotSource = "poll"
	SourceBuy    SnapshotSource = "buy"
	SourceSell   SnapshotSource = "sell"
	SourceManual SnapshotSource = "manual"
)

// ProfitSnapshot — точка истории стоимости портфеля.
type ProfitSnapshot struct {
	Timestamp    time.Time      `json:"timestamp"`
	FiatBalance  float64        `json:"fiat_balance"`
	AssetBalance float64        `json:"asset_balance"`
	UnitPrice    float64        `json:"unit_price"`
	TotalValue   float64        `json:"total_value"`
	Baseline     float64        `json:"baseline"`
	Profit       float64        `json:"profit"`
	Source       SnapshotSource `json:"source"`
}

// Baseline — опорная стоимость портфеля, от которой считается прибыль.
type Baseline struct {
	Amount float64   `json:"amount"`
	SetAt  time.Time `json:"set_at"`
	Manual bool      `json:"manual"`
}

type MilestoneMode string

const (
	MilestoneProgressive MilestoneMode = "progressive"
	MilestoneFixed       MilestoneMode = "fixed"
	MilestoneStatic      MilestoneMode = "static"
)

type Milestone struct {
	Value     float64       `json:"value"`
	Mode      MilestoneMode `json:"mode"`
	Profit    float64       `json:"profit"`
	ReachedAt time.Time     `json:"reached_at"`
}
