// Package exchange — источники цены и биржевые клиенты (бумажный и OKX).
package exchange

import (
	"context"

	"btc_trader/internal/models"
)

// PriceSource отдаёт текущую котировку BTC.
type PriceSource interface {
	CurrentPrice(ctx context.Context) (models.Quote, error)
}

// Client — биржа: балансы и рыночные ордера.
type Client interface {
	Name() string
	Live() bool
	Balances(ctx context.Context) (models.Balances, error)
	Buy(ctx context.Context, fiat float64) (models.Fill, error)
	Sell(ctx context.Context, asset float64) (models.Fill, error)
}
