package decision

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"

	"btc_trader/internal/models"
	"btc_trader/pkg/logger"
)

const defaultAlertCooldown = time.Hour

type ruleState struct {
	rule      models.AlertRule
	triggered bool
	firedAt   time.Time
}

// AlertMonitor проверяет ценовые пороги и держит флаг срабатывания до кулдауна.
type AlertMonitor struct {
	mu    sync.Mutex
	rules []*ruleState
}

func NewAlertMonitor(rules []models.AlertRule) *AlertMonitor {
	m := &AlertMonitor{}
	for _, r := range rules {
		if r.Cooldown <= 0 {
			r.Cooldown = defaultAlertCooldown
		}
		if r.Priority == "" {
			r.Priority = models.PriorityNormal
		}
		m.rules = append(m.rules, &ruleState{rule: r})
	}
	return m
}

func (m *AlertMonitor) Rules() []models.AlertRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AlertRule, 0, len(m.rules))
	for _, st := range m.rules {
		out = append(out, st.rule)
	}
	return out
}

// Check возвращает сработавшие правила. prev=0 отключает процентные правила.
func (m *AlertMonitor) Check(price, prev float64, now time.Time) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	change := 0.0
	if prev > 0 {
		change = (price - prev) / prev * 100
	}

	var out []models.Alert
	for _, st := range m.rules {
		if st.triggered && now.Sub(st.firedAt) >= st.rule.Cooldown {
			st.triggered = false
		}
		if st.triggered || !matches(st.rule, price, prev, change) {
			continue
		}
		st.triggered = true
		st.firedAt = now
		out = append(out, models.Alert{
			Rule:    st.rule,
			Price:   price,
			Change:  change,
			Text:    render(st.rule, price, change),
			FiredAt: now,
		})
	}
	return out
}

func matches(r models.AlertRule, price, prev, change float64) bool {
	switch r.Kind {
	case models.AlertDrop:
		return r.Price > 0 && price <= r.Price
	case models.AlertRise:
		return r.Price > 0 && price >= r.Price
	case models.AlertPercent:
		return prev > 0 && r.Percent > 0 && math.Abs(change) >= r.Percent
	}
	return false
}

func render(r models.AlertRule, price, change float64) string {
	msg := r.Message
	if msg == "" {
		switch r.Kind {
		case models.AlertDrop:
			msg = "📉 {name}: цена {price} ниже {threshold}"
		case models.AlertRise:
			msg = "📈 {name}: цена {price} выше {threshold}"
		default:
			msg = "⚡️ {name}: движение {change}% до {price}"
		}
	}
	threshold := r.Price
	if r.Kind == models.AlertPercent {
		threshold = r.Percent
	}
	return strings.NewReplacer(
		"{name}", r.Name,
		"{price}", fmt.Sprintf("%.2f", price),
		"{threshold}", fmt.Sprintf("%.2f", threshold),
		"{change}", fmt.Sprintf("%+.2f", change),
	).Replace(msg)
}

type alertsFile struct {
	Rules []models.AlertRule `yaml:"rules"`
}

// LoadAlertRules читает правила из YAML. Если файла нет или он битый,
// возвращает по одному правилу на пороги покупки и продажи.
func LoadAlertRules(path string, buyThreshold, sellThreshold float64) []models.AlertRule {
	fallback := func() []models.AlertRule {
		var rules []models.AlertRule
		if buyThreshold > 0 {
			rules = append(rules, models.AlertRule{Name: "buy threshold", Kind: models.AlertDrop, Price: buyThreshold, Priority: models.PriorityNormal})
		}
		if sellThreshold > 0 {
			rules = append(rules, models.AlertRule{Name: "sell threshold", Kind: models.AlertRise, Price: sellThreshold, Priority: models.PriorityNormal})
		}
		return rules
	}

	if path == "" {
		return fallback()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("[ALERTS] read %s: %v, using single threshold", path, err)
		return fallback()
	}

	var f alertsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		logger.Warn("[ALERTS] decode %s: %v, using single threshold", path, err)
		return fallback()
	}

	rules := make([]models.AlertRule, 0, len(f.Rules))
	for _, r := range f.Rules {
		switch r.Kind {
		case models.AlertDrop, models.AlertRise, models.AlertPercent:
			rules = append(rules, r)
		default:
			logger.Warn("[ALERTS] rule %q: unknown kind %q, skipped", r.Name, r.Kind)
		}
	}
	if len(rules) == 0 {
		logger.Warn("[ALERTS] %s has no valid rules, using single threshold", path)
		return fallback()
	}
	return rules
}
