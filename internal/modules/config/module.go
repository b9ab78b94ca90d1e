package config

import "go.uber.org/fx"

// Module отдаёт *Config для остальных модулей.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
		),
	)
}
