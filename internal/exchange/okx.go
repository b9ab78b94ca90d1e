package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"btc_trader/internal/helper"
	"btc_trader/internal/models"
	"btc_trader/pkg/logger"
)

const defaultOKXBaseURL = "https://www.okx.com"

type OKXConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	InstID     string // например BTC-USDT
	Simulated  bool   // демо-торговля OKX (x-simulated-trading: 1)
}

// OKX — спотовый REST-клиент OKX.
type OKX struct {
	cfg  OKXConfig
	http *http.Client

	base  string // BTC
	quote string // USDT

	metaMu sync.Mutex
	meta   *instrumentMeta
}

type instrumentMeta struct {
	LotSz float64
	MinSz float64
}

type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func NewOKX(cfg OKXConfig) *OKX {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOKXBaseURL
	}
	if cfg.InstID == "" {
		cfg.InstID = "BTC-USDT"
	}
	base, quote, _ := strings.Cut(cfg.InstID, "-")
	return &OKX{
		cfg:   cfg,
		http:  &http.Client{Timeout: 10 * time.Second},
		base:  base,
		quote: quote,
	}
}

func (c *OKX) Name() string { return "okx" }
func (c *OKX) Live() bool   { return true }

// CurrentPrice — публичный тикер, подпись не нужна.
func (c *OKX) CurrentPrice(ctx context.Context) (models.Quote, error) {
	var rows []struct {
		Last  string `json:"last"`
		BidPx string `json:"bidPx"`
		AskPx string `json:"askPx"`
		Ts    string `json:"ts"`
	}
	path := "/api/v5/market/ticker?instId=" + url.QueryEscape(c.cfg.InstID)
	if err := c.do(ctx, http.MethodGet, path, nil, false, &rows); err != nil {
		return models.Quote{}, fmt.Errorf("okx ticker: %w", err)
	}
	if len(rows) == 0 {
		return models.Quote{}, fmt.Errorf("okx ticker %s: empty data", c.cfg.InstID)
	}
	return parseQuote(rows[0].Last, rows[0].BidPx, rows[0].AskPx, rows[0].Ts)
}

func (c *OKX) Balances(ctx context.Context) (models.Balances, error) {
	var rows []struct {
		Details []struct {
			Ccy      string `json:"ccy"`
			AvailBal string `json:"availBal"`
		} `json:"details"`
	}
	path := "/api/v5/account/balance?ccy=" + url.QueryEscape(c.base+","+c.quote)
	if err := c.do(ctx, http.MethodGet, path, nil, true, &rows); err != nil {
		return models.Balances{}, fmt.Errorf("okx balance: %w", err)
	}

	var b models.Balances
	for _, r := range rows {
		for _, d := range r.Details {
			v, _ := strconv.ParseFloat(d.AvailBal, 64)
			switch d.Ccy {
			case c.base:
				b.Asset = v
			case c.quote:
				b.Fiat = v
			}
		}
	}
	return b, nil
}

// Buy — рыночная покупка на fiat USDT.
func (c *OKX) Buy(ctx context.Context, fiat float64) (models.Fill, error) {
	if fiat <= 0 {
		return models.Fill{}, fmt.Errorf("okx buy %.2f: %w", fiat, models.ErrInvalidInput)
	}
	ordID, err := c.placeMarket(ctx, "buy", strconv.FormatFloat(fiat, 'f', 2, 64), "quote_ccy")
	if err != nil {
		return models.Fill{}, err
	}
	return c.waitFill(ctx, ordID, models.SideBuy)
}

// Sell — рыночная продажа asset BTC, объём округляется вниз до lotSz.
func (c *OKX) Sell(ctx context.Context, asset float64) (models.Fill, error) {
	meta, err := c.instrument(ctx)
	if err != nil {
		return models.Fill{}, err
	}
	sz := helper.RoundDownToTick(asset, meta.LotSz)
	if sz <= 0 || sz < meta.MinSz {
		return models.Fill{}, fmt.Errorf("okx sell %.8f below min size %.8f: %w", asset, meta.MinSz, models.ErrInvalidInput)
	}
	ordID, err := c.placeMarket(ctx, "sell", strconv.FormatFloat(sz, 'f', -1, 64), "base_ccy")
	if err != nil {
		return models.Fill{}, err
	}
	return c.waitFill(ctx, ordID, models.SideSell)
}

func (c *OKX) placeMarket(ctx context.Context, side, sz, tgtCcy string) (string, error) {
	body := map[string]string{
		"instId":  c.cfg.InstID,
		"tdMode":  "cash",
		"side":    side,
		"ordType": "market",
		"sz":      sz,
		"tgtCcy":  tgtCcy,
	}
	var rows []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", body, true, &rows); err != nil {
		return "", fmt.Errorf("okx place %s: %w", side, err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("okx place %s: empty data", side)
	}
	if rows[0].SCode != "" && rows[0].SCode != "0" {
		return "", fmt.Errorf("okx place %s: %w", side, mapCode(rows[0].SCode, rows[0].SMsg))
	}
	logger.Info("[OKX] %s order %s placed sz=%s %s", side, rows[0].OrdID, sz, tgtCcy)
	return rows[0].OrdID, nil
}

// waitFill опрашивает ордер, пока он не исполнится.
func (c *OKX) waitFill(ctx context.Context, ordID string, side models.Side) (models.Fill, error) {
	path := "/api/v5/trade/order?instId=" + url.QueryEscape(c.cfg.InstID) + "&ordId=" + url.QueryEscape(ordID)

	for attempt := 0; attempt < 20; attempt++ {
		var rows []struct {
			State     string `json:"state"`
			AccFillSz string `json:"accFillSz"`
			AvgPx     string `json:"avgPx"`
			Fee       string `json:"fee"`
			FeeCcy    string `json:"feeCcy"`
			FillTime  string `json:"fillTime"`
		}
		if err := c.do(ctx, http.MethodGet, path, nil, true, &rows); err != nil {
			return models.Fill{}, fmt.Errorf("okx order %s: %w", ordID, err)
		}
		if len(rows) > 0 && rows[0].State == "filled" {
			r := rows[0]
			sz, _ := strconv.ParseFloat(r.AccFillSz, 64)
			px, _ := strconv.ParseFloat(r.AvgPx, 64)
			fee, _ := strconv.ParseFloat(r.Fee, 64)
			if fee < 0 {
				fee = -fee
			}
			fill := models.Fill{
				OrderID:     ordID,
				Side:        side,
				FiatAmount:  sz * px,
				AssetAmount: sz,
				UnitPrice:   px,
				Live:        true,
				Timestamp:   time.Now(),
			}
			if r.FeeCcy == c.base {
				// комиссия в BTC уменьшает полученный объём
				fill.AssetAmount -= fee
				fill.Fee = fee * px
			} else {
				fill.Fee = fee
			}
			return fill, nil
		}
		if len(rows) > 0 && rows[0].State == "canceled" {
			return models.Fill{}, fmt.Errorf("okx order %s canceled", ordID)
		}

		select {
		case <-ctx.Done():
			return models.Fill{}, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return models.Fill{}, fmt.Errorf("okx order %s not filled in time", ordID)
}

func (c *OKX) instrument(ctx context.Context) (instrumentMeta, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	if c.meta != nil {
		return *c.meta, nil
	}

	var rows []struct {
		LotSz string `json:"lotSz"`
		MinSz string `json:"minSz"`
		State string `json:"state"`
	}
	path := "/api/v5/public/instruments?instType=SPOT&instId=" + url.QueryEscape(c.cfg.InstID)
	if err := c.do(ctx, http.MethodGet, path, nil, false, &rows); err != nil {
		return instrumentMeta{}, fmt.Errorf("okx instrument: %w", err)
	}
	if len(rows) == 0 {
		return instrumentMeta{}, fmt.Errorf("instrument %s: %w", c.cfg.InstID, models.ErrNotFound)
	}
	if rows[0].State != "" && rows[0].State != "live" {
		return instrumentMeta{}, fmt.Errorf("instrument %s not live: state=%s", c.cfg.InstID, rows[0].State)
	}

	parsePos := func(name, s string) (float64, error) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("bad %s=%q", name, s)
		}
		return v, nil
	}
	lot, err := parsePos("lotSz", rows[0].LotSz)
	if err != nil {
		return instrumentMeta{}, err
	}
	minSz, err := parsePos("minSz", rows[0].MinSz)
	if err != nil {
		return instrumentMeta{}, err
	}
	c.meta = &instrumentMeta{LotSz: lot, MinSz: minSz}
	return *c.meta, nil
}

func (c *OKX) do(ctx context.Context, method, path string, body any, signed bool, out any) error {
	var payload []byte
	if body != nil {
		b, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		payload = b
	}

	req, err := c.generateRequest(ctx, method, path, payload, signed)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return models.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(rb))
	}

	var env okxEnvelope
	if err := sonic.Unmarshal(rb, &env); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if env.Code != "0" {
		// для ордеров причина лежит в data[0].sCode
		var rows []struct {
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		}
		if sonic.Unmarshal(env.Data, &rows) == nil && len(rows) > 0 && rows[0].SCode != "" && rows[0].SCode != "0" {
			return mapCode(rows[0].SCode, rows[0].SMsg)
		}
		return mapCode(env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func (c *OKX) generateRequest(ctx context.Context, method, requestPath string, body []byte, signed bool) (*http.Request, error) {
	var rdr io.Reader
	if len(body) > 0 {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+requestPath, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	if !signed {
		return req, nil
	}

	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	msg := ts + strings.ToUpper(method) + requestPath + string(body)
	h := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	h.Write([]byte(msg))
	req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", base64.StdEncoding.EncodeToString(h.Sum(nil)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	return req, nil
}

func mapCode(code, msg string) error {
	switch code {
	case "50011", "50061":
		return fmt.Errorf("okx %s %s: %w", code, msg, models.ErrRateLimited)
	case "51008", "51131":
		return fmt.Errorf("okx %s %s: %w", code, msg, models.ErrInsufficientBalance)
	}
	return fmt.Errorf("okx error %s: %s", code, msg)
}

func parseQuote(last, bid, ask, ts string) (models.Quote, error) {
	p, err := strconv.ParseFloat(last, 64)
	if err != nil || p <= 0 {
		return models.Quote{}, fmt.Errorf("bad last price %q", last)
	}
	q := models.Quote{Price: p, Timestamp: time.Now()}
	q.Bid, _ = strconv.ParseFloat(bid, 64)
	q.Ask, _ = strconv.ParseFloat(ask, 64)
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil && ms > 0 {
		q.Timestamp = time.UnixMilli(ms)
	}
	return q, nil
}
