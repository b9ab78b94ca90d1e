package telegram

import (
	"context"

	"go.uber.org/fx"

	"btc_trader/internal/modules/config"
	"btc_trader/internal/notify"
	"btc_trader/pkg/logger"
)

// NewTelegram — nil, если токен не задан или бот не поднялся; уведомления тогда только в лог.
func NewTelegram(cfg *config.Config) *notify.Telegram {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		logger.Warn("[TG] token or chat_id not set, notifications go to log only")
		return nil
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		logger.Error("[TG] %v, notifications go to log only", err)
		return nil
	}
	return tg
}

// NewNotifier: подтверждения спрашиваются у Telegram, если он есть.
func NewNotifier(tg *notify.Telegram) notify.Notifier {
	if tg == nil {
		return notify.NewStdout()
	}
	return notify.NewMulti(tg, notify.NewStdout())
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			NewTelegram, // *notify.Telegram
			NewNotifier, // notify.Notifier
		),
		// Запуск long-polling через Lifecycle
		fx.Invoke(
			func(lc fx.Lifecycle, t *notify.Telegram) {
				var cancel context.CancelFunc
				lc.Append(fx.Hook{
					OnStart: func(_ context.Context) error {
						var ctx context.Context
						ctx, cancel = context.WithCancel(context.Background())
						return t.Start(ctx)
					},
					OnStop: func(ctx context.Context) error {
						if cancel != nil {
							cancel()
						}
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
