package store

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis — коллекция как список JSON-строк под ключом prefix:kind.
type Redis[T any] struct {
	rdb *redis.Client
	key string
}

func NewRedis[T any](rdb *redis.Client, prefix, kind string) *Redis[T] {
	return &Redis[T]{rdb: rdb, key: prefix + ":" + kind}
}

// NewRedisClient подключается и проверяет соединение.
func NewRedisClient(ctx context.Context, addr, password string, dbIndex int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       dbIndex,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", addr)
	}
	return rdb, nil
}

func (r *Redis[T]) Load(ctx context.Context) ([]T, error) {
	vals, err := r.rdb.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "lrange %s", r.key)
	}
	items := make([]T, 0, len(vals))
	for _, v := range vals {
		var item T
		if err := sonic.UnmarshalString(v, &item); err != nil {
			return nil, errors.Wrapf(err, "decode %s", r.key)
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *Redis[T]) Save(ctx context.Context, items []T) error {
	vals := make([]interface{}, 0, len(items))
	for _, item := range items {
		s, err := sonic.MarshalString(item)
		if err != nil {
			return errors.Wrap(err, "encode")
		}
		vals = append(vals, s)
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(vals) > 0 {
			pipe.RPush(ctx, r.key, vals...)
		}
		return nil
	})
	return errors.Wrapf(err, "save %s", r.key)
}
