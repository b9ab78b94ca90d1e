// Package storage выбирает бэкенд хранилища по storage.driver.
package storage

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"btc_trader/internal/models"
	"btc_trader/internal/modules/config"
	"btc_trader/internal/profit"
	"btc_trader/internal/store"
	"btc_trader/pkg/db"
	"btc_trader/pkg/logger"
)

const (
	kindLots       = "lots"
	kindSnapshots  = "snapshots"
	kindMilestones = "milestones"
	kindBaseline   = "baseline"
)

// Stores — коллекции лотов и истории прибыли.
type Stores struct {
	Lots   store.Store[models.Lot]
	Profit profit.Stores
}

// Build собирает коллекции. tx нужен для postgres, rdb для redis.
func Build(ctx context.Context, cfg *config.Config, tx *db.PgTxManager, rdb *redis.Client) (Stores, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return Stores{
			Lots: store.NewMemory[models.Lot](),
			Profit: profit.Stores{
				Snapshots:  store.NewMemory[models.ProfitSnapshot](),
				Milestones: store.NewMemory[models.Milestone](),
				Baseline:   store.NewMemory[models.Baseline](),
			},
		}, nil

	case config.StoragePostgres:
		if tx == nil {
			return Stores{}, errors.New("postgres storage without connection")
		}
		if err := store.Migrate(ctx, tx); err != nil {
			return Stores{}, err
		}
		return Stores{
			Lots: store.NewPostgres[models.Lot](tx, kindLots),
			Profit: profit.Stores{
				Snapshots:  store.NewPostgres[models.ProfitSnapshot](tx, kindSnapshots),
				Milestones: store.NewPostgres[models.Milestone](tx, kindMilestones),
				Baseline:   store.NewPostgres[models.Baseline](tx, kindBaseline),
			},
		}, nil

	case config.StorageRedis:
		if rdb == nil {
			return Stores{}, errors.New("redis storage without client")
		}
		prefix := cfg.Storage.Redis.Prefix
		return Stores{
			Lots: store.NewRedis[models.Lot](rdb, prefix, kindLots),
			Profit: profit.Stores{
				Snapshots:  store.NewRedis[models.ProfitSnapshot](rdb, prefix, kindSnapshots),
				Milestones: store.NewRedis[models.Milestone](rdb, prefix, kindMilestones),
				Baseline:   store.NewRedis[models.Baseline](rdb, prefix, kindBaseline),
			},
		}, nil

	default:
		dir := cfg.Storage.Dir
		return Stores{
			Lots: store.NewJSONFile[models.Lot](filepath.Join(dir, kindLots+".json")),
			Profit: profit.Stores{
				Snapshots:  store.NewJSONFile[models.ProfitSnapshot](filepath.Join(dir, kindSnapshots+".json")),
				Milestones: store.NewJSONFile[models.Milestone](filepath.Join(dir, kindMilestones+".json")),
				Baseline:   store.NewJSONFile[models.Baseline](filepath.Join(dir, kindBaseline+".json")),
			},
		}, nil
	}
}

// NewRedisClient создаёт клиент только для storage.driver=redis, иначе nil.
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.Storage.Driver != config.StorageRedis {
		return nil, nil
	}
	r := cfg.Storage.Redis
	return store.NewRedisClient(ctx, r.Addr, r.Password, r.DB)
}

func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
				rdb, err := NewRedisClient(context.Background(), cfg)
				if err != nil || rdb == nil {
					return rdb, err
				}
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error { return rdb.Close() },
				})
				return rdb, nil
			},
			func(cfg *config.Config, tx *db.PgTxManager, rdb *redis.Client) (Stores, error) {
				st, err := Build(context.Background(), cfg, tx, rdb)
				if err != nil {
					return Stores{}, err
				}
				logger.Info("[STORAGE] driver=%s", cfg.Storage.Driver)
				return st, nil
			},
		),
	)
}
