// Package ledger ведёт лоты покупок BTC и их FIFO-списание.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"btc_trader/internal/models"
	"btc_trader/internal/store"
	"btc_trader/pkg/logger"
)

type Ledger struct {
	mu    sync.Mutex
	lots  []models.Lot
	store store.Store[models.Lot]
	fees  models.FeeModel
	now   func() time.Time
}

func New(st store.Store[models.Lot], fees models.FeeModel) *Ledger {
	if st == nil {
		st = store.NewMemory[models.Lot]()
	}
	return &Ledger{
		store: st,
		fees:  fees,
		now:   time.Now,
	}
}

// SetClock подменяет часы (тесты, CLI-пересчёты).
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Restore загружает лоты из хранилища.
func (l *Ledger) Restore(ctx context.Context) error {
	lots, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("ledger restore: %w", err)
	}
	l.mu.Lock()
	l.lots = lots
	l.mu.Unlock()
	logger.Info("[LEDGER] restored %d lots", len(lots))
	return nil
}

// RecordLot добавляет активный лот. Ошибка хранилища не откатывает память.
func (l *Ledger) RecordLot(ctx context.Context, fiat, asset, unitPrice float64, tag models.LotTag) (models.Lot, error) {
	if fiat <= 0 || asset <= 0 || math.IsNaN(fiat) || math.IsNaN(asset) {
		return models.Lot{}, fmt.Errorf("record lot fiat=%.2f asset=%.8f: %w", fiat, asset, models.ErrInvalidInput)
	}
	if unitPrice <= 0 {
		unitPrice = fiat / asset
	}
	if tag == "" {
		tag = models.LotTagAuto
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lot := models.Lot{
		ID:            uuid.NewString(),
		CreatedAt:     l.now(),
		FiatAmount:    fiat,
		AssetAmount:   asset,
		UnitPrice:     unitPrice,
		Tag:           tag,
		Status:        models.LotActive,
		OriginalFiat:  fiat,
		OriginalAsset: asset,
	}
	l.lots = append(l.lots, lot)
	l.persistLocked(ctx)

	logger.Info("[LEDGER] lot %s recorded: %.8f BTC for %.2f @ %.2f (%s)", lot.ID, asset, fiat, unitPrice, tag)
	return lot, nil
}

// ConsumeAfterExternalSale приводит открытые лоты к фактическому остатку BTC.
// Лоты идут от старых к новым с накопительной суммой: уместившиеся в остаток
// не трогаются, граничный обрезается до остатка (partial), все следующие consumed.
// Повторный вызов с тем же остатком ничего не меняет.
func (l *Ledger) ConsumeAfterExternalSale(ctx context.Context, remaining float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	open := l.openAssetLocked()
	if open <= 0 {
		logger.Info("[LEDGER] reconcile: no open lots, balance=%.8f", remaining)
		return
	}
	if remaining > 0 && open-remaining <= models.DustAsset {
		if remaining-open > models.DustAsset {
			logger.Info("[LEDGER] reconcile: balance %.8f above tracked %.8f, skip", remaining, open)
		}
		return
	}

	now := l.now()
	kept := 0.0
	for i := range l.lots {
		lot := &l.lots[i]
		if !lot.Open() {
			continue
		}
		left := remaining - kept
		switch {
		case left <= models.DustAsset:
			closeLot(lot, models.LotConsumed, now)
		case lot.AssetAmount <= left+models.DustAsset:
			kept += lot.AssetAmount
		default:
			lot.FiatAmount = left * lot.CostPerAsset()
			lot.AssetAmount = left
			lot.Status = models.LotPartial
			kept += left
		}
	}

	l.persistLocked(ctx)
	logger.Info("[LEDGER] reconcile: balance %.8f, open was %.8f, now %.8f", remaining, open, l.openAssetLocked())
}

// SellLot продаёт один открытый лот целиком по цене unitPrice.
func (l *Ledger) SellLot(ctx context.Context, lotID string, unitPrice float64) (models.SaleResult, error) {
	if unitPrice <= 0 {
		return models.SaleResult{}, fmt.Errorf("sell lot price=%.2f: %w", unitPrice, models.ErrInvalidInput)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i := range l.lots {
		if l.lots[i].ID == lotID && l.lots[i].Open() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.SaleResult{}, fmt.Errorf("lot %s: %w", lotID, models.ErrNotFound)
	}

	lot := l.lots[idx]
	res := l.saleResult(lot.AssetAmount, unitPrice, lot.FiatAmount)
	if err := checkSale(res); err != nil {
		logger.Error("[LEDGER] sell lot %s aborted: %v", lotID, err)
		return models.SaleResult{}, err
	}

	closeLot(&l.lots[idx], models.LotSold, l.now())
	l.lots[idx].SalePrice = unitPrice
	l.lots[idx].SoldAt = l.lots[idx].ClosedAt
	res.Lots = []models.Lot{l.lots[idx]}
	l.persistLocked(ctx)

	logger.Info("[LEDGER] lot %s sold: %.8f BTC @ %.2f net=%.2f", lotID, lot.AssetAmount, unitPrice, res.NetProfit)
	return res, nil
}

// SellFIFO списывает amount BTC с самых старых лотов как продажу по unitPrice.
// Если продано больше, чем учтено в лотах, остаток идёт с нулевой себестоимостью.
func (l *Ledger) SellFIFO(ctx context.Context, amount, unitPrice float64) (models.SaleResult, error) {
	if amount <= 0 || unitPrice <= 0 {
		return models.SaleResult{}, fmt.Errorf("sell fifo amount=%.8f price=%.2f: %w", amount, unitPrice, models.ErrInvalidInput)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	open := l.openAssetLocked()
	if amount > open+models.DustAsset {
		logger.Warn("[LEDGER] sell %.8f BTC exceeds tracked %.8f, untracked part has zero cost", amount, open)
	}

	cost := l.costBasisLocked(amount)
	res := l.saleResult(amount, unitPrice, cost)
	if err := checkSale(res); err != nil {
		logger.Error("[LEDGER] fifo sell aborted: %v", err)
		return models.SaleResult{}, err
	}

	lots, touched, _ := l.depleteLocked(amount, models.LotSold, unitPrice, l.now())
	l.lots = lots
	res.Lots = touched
	l.persistLocked(ctx)

	logger.Info("[LEDGER] fifo sold %.8f BTC @ %.2f cost=%.2f net=%.2f", amount, unitPrice, cost, res.NetProfit)
	return res, nil
}

// CostBasis — себестоимость amount BTC по FIFO, без изменения лотов.
func (l *Ledger) CostBasis(amount float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.costBasisLocked(amount)
}

// ProfitViews — расчёт по каждому открытому лоту при цене price и цели target.
func (l *Ledger) ProfitViews(price, target float64) []models.LotView {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	views := make([]models.LotView, 0, len(l.lots))
	for _, lot := range l.lots {
		if !lot.Open() {
			continue
		}
		value := lot.AssetAmount * price
		unreal := value - lot.FiatAmount
		v := models.LotView{
			Lot:          lot,
			CurrentValue: value,
			Unrealized:   unreal,
			DaysHeld:     now.Sub(lot.CreatedAt).Hours() / 24,
			TargetPrice:  l.fees.BreakEvenPrice(lot.AssetAmount, lot.FiatAmount, target),
		}
		if lot.FiatAmount > 0 {
			v.UnrealizedPct = unreal / lot.FiatAmount * 100
		}
		net := unreal - l.fees.Estimate(value)
		if net < target {
			v.NeededProfit = target - net
		}
		views = append(views, v)
	}
	return views
}

// Seed — начальный лот при сбросе.
type Seed struct {
	Fiat      float64
	Asset     float64
	UnitPrice float64
}

// Reset очищает лоты и при наличии seed заводит initial-лот.
func (l *Ledger) Reset(ctx context.Context, seed *Seed) error {
	l.mu.Lock()
	l.lots = nil
	l.persistLocked(ctx)
	l.mu.Unlock()

	logger.Info("[LEDGER] reset")
	if seed == nil || seed.Asset <= models.DustAsset {
		return nil
	}
	fiat := seed.Fiat
	if fiat <= 0 {
		fiat = seed.Asset * seed.UnitPrice
	}
	_, err := l.RecordLot(ctx, fiat, seed.Asset, seed.UnitPrice, models.LotTagInitial)
	return err
}

func (l *Ledger) Lots() []models.Lot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Lot, len(l.lots))
	copy(out, l.lots)
	return out
}

func (l *Ledger) OpenLots() []models.Lot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Lot, 0, len(l.lots))
	for _, lot := range l.lots {
		if lot.Open() {
			out = append(out, lot)
		}
	}
	return out
}

func (l *Ledger) OpenAsset() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openAssetLocked()
}

func (l *Ledger) OpenCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := 0.0
	for _, lot := range l.lots {
		if lot.Open() {
			sum += lot.FiatAmount
		}
	}
	return sum
}

// LastBuy — самый свежий не-initial лот.
func (l *Ledger) LastBuy() (models.Lot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.lots) - 1; i >= 0; i-- {
		if l.lots[i].Tag != models.LotTagInitial {
			return l.lots[i], true
		}
	}
	return models.Lot{}, false
}

// LastSale — лот с самой поздней датой продажи.
func (l *Ledger) LastSale() (models.Lot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var (
		best  models.Lot
		found bool
	)
	for _, lot := range l.lots {
		if lot.Status != models.LotSold || lot.SoldAt == nil {
			continue
		}
		if !found || lot.SoldAt.After(*best.SoldAt) {
			best, found = lot, true
		}
	}
	return best, found
}

// ----- helpers под l.mu -----

func (l *Ledger) openAssetLocked() float64 {
	sum := 0.0
	for _, lot := range l.lots {
		if lot.Open() {
			sum += lot.AssetAmount
		}
	}
	return sum
}

func (l *Ledger) costBasisLocked(amount float64) float64 {
	left := amount
	cost := 0.0
	for _, lot := range l.lots {
		if left <= models.DustAsset {
			break
		}
		if !lot.Open() {
			continue
		}
		take := math.Min(left, lot.AssetAmount)
		cost += take * lot.CostPerAsset()
		left -= take
	}
	return cost
}

// depleteLocked снимает excess BTC со старейших открытых лотов.
// Целиком снятые лоты получают status; у граничного лота для sold
// отщепляется проданная часть отдельной записью, остаток становится partial.
// Возвращает новый список лотов, затронутые лоты и снятый объём.
func (l *Ledger) depleteLocked(excess float64, status models.LotStatus, price float64, at time.Time) ([]models.Lot, []models.Lot, float64) {
	out := make([]models.Lot, 0, len(l.lots)+1)
	var touched []models.Lot
	removed := 0.0

	for _, lot := range l.lots {
		if excess <= models.DustAsset || !lot.Open() {
			out = append(out, lot)
			continue
		}

		if lot.AssetAmount <= excess+models.DustAsset {
			removed += lot.AssetAmount
			excess -= lot.AssetAmount
			closeLot(&lot, status, at)
			if status == models.LotSold {
				lot.SalePrice = price
				lot.SoldAt = lot.ClosedAt
			}
			out = append(out, lot)
			touched = append(touched, lot)
			continue
		}

		part := excess
		partCost := part * lot.CostPerAsset()
		if status == models.LotSold {
			split := lot
			split.ID = uuid.NewString()
			split.AssetAmount = part
			split.FiatAmount = partCost
			split.OriginalAsset = part
			split.OriginalFiat = partCost
			closeLot(&split, models.LotSold, at)
			split.SalePrice = price
			split.SoldAt = split.ClosedAt
			out = append(out, split)
			touched = append(touched, split)
		}
		lot.AssetAmount -= part
		lot.FiatAmount -= partCost
		lot.Status = models.LotPartial
		removed += part
		excess = 0
		out = append(out, lot)
		touched = append(touched, lot)
	}
	return out, touched, removed
}

func (l *Ledger) saleResult(amount, price, cost float64) models.SaleResult {
	value := amount * price
	gross := value - cost
	fees := l.fees.Estimate(value)
	return models.SaleResult{
		AssetAmount: amount,
		UnitPrice:   price,
		SaleValue:   value,
		CostBasis:   cost,
		GrossProfit: gross,
		Fees:        fees,
		NetProfit:   gross - fees,
	}
}

// checkSale: прибыль не может превышать выручку.
func checkSale(res models.SaleResult) error {
	if res.GrossProfit > res.SaleValue+1e-9 || res.NetProfit > res.SaleValue+1e-9 || res.CostBasis < 0 {
		return fmt.Errorf("profit %.2f exceeds sale value %.2f (cost %.2f): %w",
			res.GrossProfit, res.SaleValue, res.CostBasis, models.ErrInvariant)
	}
	return nil
}

func (l *Ledger) persistLocked(ctx context.Context) {
	snapshot := make([]models.Lot, len(l.lots))
	copy(snapshot, l.lots)
	if err := l.store.Save(ctx, snapshot); err != nil {
		logger.Error("[LEDGER] persist lots: %v", err)
	}
}

func closeLot(lot *models.Lot, status models.LotStatus, at time.Time) {
	t := at
	lot.Status = status
	lot.ClosedAt = &t
}
