package main

import (
	"context"
	"os"

	"go.uber.org/fx"

	"btc_trader/internal/modules/bootstrap"
	"btc_trader/internal/modules/config"
	"btc_trader/internal/modules/health"
	"btc_trader/internal/modules/okx"
	"btc_trader/internal/modules/postgres"
	"btc_trader/internal/modules/storage"
	telegram "btc_trader/internal/modules/telegram_bot"
	"btc_trader/internal/runner"
	"btc_trader/pkg/logger"
	"btc_trader/pkg/tracing"
)

const serviceName = "btc_trader"

func initTracing(lc fx.Lifecycle, cfg *config.Config) error {
	_, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	return nil
}

func main() {
	logger.SetServiceName(serviceName)
	tracing.SetServiceName(serviceName)
	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic(err)
	}
	defer logger.Sync()

	app := fx.New(
		fx.NopLogger,
		config.Module(),
		fx.Invoke(func(cfg *config.Config) error {
			return logger.Init(cfg.LogLevel)
		}),
		fx.Invoke(initTracing),
		health.Module(),
		postgres.Module(),
		storage.Module(),
		okx.Module(),
		telegram.Module(),
		// bootstrap раньше runner: восстановление до первого цикла
		bootstrap.Module(),
		runner.Module(),
	)
	app.Run()
}
