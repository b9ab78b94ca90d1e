package store

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"btc_trader/pkg/db"
)

// Schema — таблица для всех коллекций, ключ коллекции в kind.
const Schema = `
CREATE TABLE IF NOT EXISTS bot_records (
	kind    TEXT   NOT NULL,
	seq     BIGINT NOT NULL,
	payload JSONB  NOT NULL,
	PRIMARY KEY (kind, seq)
)`

// Postgres — коллекция kind в таблице bot_records, порядок по seq.
type Postgres[T any] struct {
	tx   *db.PgTxManager
	kind string
}

func NewPostgres[T any](tx *db.PgTxManager, kind string) *Postgres[T] {
	return &Postgres[T]{tx: tx, kind: kind}
}

// Migrate создаёт таблицу, если её нет.
func Migrate(ctx context.Context, tx *db.PgTxManager) error {
	_, err := tx.Conn().Exec(ctx, Schema)
	return errors.Wrap(err, "migrate bot_records")
}

func (p *Postgres[T]) Load(ctx context.Context) (items []T, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrapf(err, "pg.Load(%s)", p.kind)
		}
	}()

	rows, err := p.tx.Conn().Query(ctx,
		`SELECT payload FROM bot_records WHERE kind = $1 ORDER BY seq`, p.kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var item T
		if err := sonic.Unmarshal(raw, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (p *Postgres[T]) Save(ctx context.Context, items []T) error {
	err := p.tx.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctxTx, `DELETE FROM bot_records WHERE kind = $1`, p.kind); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for i, item := range items {
			raw, err := sonic.Marshal(item)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO bot_records (kind, seq, payload) VALUES ($1, $2, $3)`, p.kind, i, raw)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctxTx, batch).Close()
	})
	return errors.Wrapf(err, "pg.Save(%s)", p.kind)
}
