// Package notify — уведомления владельцу бота. Ошибки доставки логируются и не всплывают.
package notify

import (
	"context"
	"fmt"
	"time"

	"btc_trader/internal/models"
	"btc_trader/pkg/logger"
)

type Notifier interface {
	Send(ctx context.Context, msg string, p models.Priority)
	Sendf(ctx context.Context, p models.Priority, format string, args ...any)
	Confirm(ctx context.Context, prompt string, timeout time.Duration) bool
}

// CommandFunc отвечает текстом на команду бота (/status, /lots, ...).
type CommandFunc func(ctx context.Context) string

// Stdout — заглушка, всё логирует и всегда подтверждает.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) Send(_ context.Context, msg string, p models.Priority) {
	if p == models.PriorityHigh {
		logger.Warn("[NOTIFY] %s", msg)
		return
	}
	logger.Info("[NOTIFY] %s", msg)
}

func (s *Stdout) Sendf(ctx context.Context, p models.Priority, format string, args ...any) {
	s.Send(ctx, fmt.Sprintf(format, args...), p)
}

func (s *Stdout) Confirm(_ context.Context, prompt string, _ time.Duration) bool {
	logger.Info("[NOTIFY] CONFIRM (auto-yes): %s", prompt)
	return true
}

// Multi рассылает во все каналы; подтверждение спрашивает у первого.
type Multi struct {
	list []Notifier
}

func NewMulti(list ...Notifier) *Multi { return &Multi{list: list} }

func (m *Multi) Send(ctx context.Context, msg string, p models.Priority) {
	for _, n := range m.list {
		n.Send(ctx, msg, p)
	}
}

func (m *Multi) Sendf(ctx context.Context, p models.Priority, format string, args ...any) {
	m.Send(ctx, fmt.Sprintf(format, args...), p)
}

func (m *Multi) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	if len(m.list) == 0 {
		return true
	}
	return m.list[0].Confirm(ctx, prompt, timeout)
}
