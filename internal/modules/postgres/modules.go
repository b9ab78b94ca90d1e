package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"btc_trader/internal/modules/config"
	"btc_trader/pkg/db"
)

// Connect поднимает пул и проверяет соединение.
func Connect(ctx context.Context, dsn string) (*db.PgTxManager, error) {
	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN:      dsn,
		MaxConns: 4,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	err = poolMaster.Ping(ctx)
	if err != nil {
		poolMaster.Close()
		return nil, err
	}

	return db.NewPgTxManager(poolMaster), nil
}

// Module отдаёт *db.PgTxManager только для storage.driver=postgres, иначе nil.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config) (*db.PgTxManager, error) {
				if cfg.Storage.Driver != config.StoragePostgres {
					return nil, nil
				}
				tx, err := Connect(context.Background(), cfg.Storage.DSN)
				if err != nil {
					return nil, err
				}
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						tx.Close()
						return nil
					},
				})
				return tx, nil
			},
		),
	)
}
