package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"btc_trader/internal/models"
	"btc_trader/pkg/logger"
)

// Paper — бумажная биржа для dry-run: реальная цена, виртуальные балансы.
type Paper struct {
	price PriceSource
	fees  models.FeeModel

	mu  sync.Mutex
	bal models.Balances
}

func NewPaper(price PriceSource, fees models.FeeModel, start models.Balances) *Paper {
	return &Paper{price: price, fees: fees, bal: start}
}

func (p *Paper) Name() string { return "paper" }
func (p *Paper) Live() bool   { return false }

func (p *Paper) CurrentPrice(ctx context.Context) (models.Quote, error) {
	return p.price.CurrentPrice(ctx)
}

func (p *Paper) Balances(_ context.Context) (models.Balances, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bal, nil
}

// SetBalances — ручная правка виртуальных остатков (внешняя продажа, пополнение).
func (p *Paper) SetBalances(b models.Balances) {
	p.mu.Lock()
	p.bal = b
	p.mu.Unlock()
}

func (p *Paper) Buy(ctx context.Context, fiat float64) (models.Fill, error) {
	if fiat <= 0 {
		return models.Fill{}, fmt.Errorf("paper buy %.2f: %w", fiat, models.ErrInvalidInput)
	}
	q, err := p.price.CurrentPrice(ctx)
	if err != nil {
		return models.Fill{}, fmt.Errorf("paper buy price: %w", err)
	}
	px := q.Ask
	if px <= 0 {
		px = q.Price
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if fiat > p.bal.Fiat {
		return models.Fill{}, fmt.Errorf("paper buy %.2f > %.2f: %w", fiat, p.bal.Fiat, models.ErrInsufficientBalance)
	}
	fee := fiat * p.fees.TradingFeePct / 100
	asset := (fiat - fee) / px
	p.bal.Fiat -= fiat
	p.bal.Asset += asset

	fill := models.Fill{
		OrderID:     "paper-" + uuid.NewString(),
		Side:        models.SideBuy,
		FiatAmount:  fiat,
		AssetAmount: asset,
		UnitPrice:   px,
		Fee:         fee,
		Timestamp:   time.Now(),
	}
	logger.Info("[PAPER] buy %.8f BTC for %.2f @ %.2f fee=%.4f", asset, fiat, px, fee)
	return fill, nil
}

func (p *Paper) Sell(ctx context.Context, asset float64) (models.Fill, error) {
	if asset <= 0 {
		return models.Fill{}, fmt.Errorf("paper sell %.8f: %w", asset, models.ErrInvalidInput)
	}
	q, err := p.price.CurrentPrice(ctx)
	if err != nil {
		return models.Fill{}, fmt.Errorf("paper sell price: %w", err)
	}
	px := q.Bid
	if px <= 0 {
		px = q.Price
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if asset > p.bal.Asset+models.DustAsset {
		return models.Fill{}, fmt.Errorf("paper sell %.8f > %.8f: %w", asset, p.bal.Asset, models.ErrInsufficientBalance)
	}
	if asset > p.bal.Asset {
		asset = p.bal.Asset
	}
	value := asset * px
	fee := value * p.fees.TradingFeePct / 100
	p.bal.Asset -= asset
	p.bal.Fiat += value - fee

	fill := models.Fill{
		OrderID:     "paper-" + uuid.NewString(),
		Side:        models.SideSell,
		FiatAmount:  value,
		AssetAmount: asset,
		UnitPrice:   px,
		Fee:         fee,
		Timestamp:   time.Now(),
	}
	logger.Info("[PAPER] sell %.8f BTC for %.2f @ %.2f fee=%.4f", asset, value, px, fee)
	return fill, nil
}
