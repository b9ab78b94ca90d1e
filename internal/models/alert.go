package models

import "time"

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type AlertKind string

const (
	AlertDrop    AlertKind = "drop"
	AlertRise    AlertKind = "rise"
	AlertPercent AlertKind = "percent"
)

// AlertRule — ценовой порог для уведомлений.
// Message поддерживает плейсхолдеры {name}, {price}, {threshold}, {change}.
type AlertRule struct {
	Name     string        `yaml:"name"`
	Kind     AlertKind     `yaml:"kind"`
	Price    float64       `yaml:"price"`
	Percent  float64       `yaml:"percent"`
	Priority Priority      `yaml:"priority"`
	Message  string        `yaml:"message"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// Alert — сработавшее правило.
type Alert struct {
	Rule    AlertRule
	Price   float64
	Change  float64 // % к предыдущей цене
	Text    string
	FiredAt time.Time
}
