package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"btc_trader/internal/models"
	"btc_trader/pkg/logger"
)

const defaultPublicWS = "wss://ws.okx.com:8443/ws/v5/public"

type TickerStreamConfig struct {
	URL    string
	InstID string
	MaxAge time.Duration // старше — идём в fallback
}

// TickerStream держит последнюю котировку из канала tickers OKX.
// Если поток молчит дольше MaxAge, цена берётся из fallback (REST).
type TickerStream struct {
	cfg      TickerStreamConfig
	fallback PriceSource
	dialer   *websocket.Dialer

	mu   sync.RWMutex
	last models.Quote

	onConn func(bool)
}

func NewTickerStream(cfg TickerStreamConfig, fallback PriceSource) *TickerStream {
	if cfg.URL == "" {
		cfg.URL = defaultPublicWS
	}
	if cfg.InstID == "" {
		cfg.InstID = "BTC-USDT"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Minute
	}
	return &TickerStream{
		cfg:      cfg,
		fallback: fallback,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// OnConnected — колбэк на смену состояния соединения (health).
func (s *TickerStream) OnConnected(fn func(bool)) { s.onConn = fn }

func (s *TickerStream) CurrentPrice(ctx context.Context) (models.Quote, error) {
	s.mu.RLock()
	q := s.last
	s.mu.RUnlock()

	if q.Price > 0 && time.Since(q.Timestamp) <= s.cfg.MaxAge {
		return q, nil
	}
	if s.fallback == nil {
		return models.Quote{}, fmt.Errorf("ticker %s: no fresh quote", s.cfg.InstID)
	}
	return s.fallback.CurrentPrice(ctx)
}

func (s *TickerStream) setConnected(v bool) {
	if s.onConn != nil {
		s.onConn(v)
	}
}

// Run — цикл подключения с переподключением, до отмены ctx.
func (s *TickerStream) Run(ctx context.Context) {
	args := []map[string]string{{"channel": "tickers", "instId": s.cfg.InstID}}

	for {
		if ctx.Err() != nil {
			return
		}
		logger.Info("[WS] connect tickers %s", s.cfg.InstID)
		conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
		if err != nil {
			logger.Error("[WS] dial error: %v", err)
			if !sleepCtx(ctx, 2*time.Second) {
				return
			}
			continue
		}

		if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
			logger.Error("[WS] subscribe error: %v", err)
			_ = conn.Close()
			if !sleepCtx(ctx, 2*time.Second) {
				return
			}
			continue
		}
		s.setConnected(true)

		s.readLoop(ctx, conn)

		s.setConnected(false)
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func (s *TickerStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	var writeMu sync.Mutex
	// OKX рвёт соединение без ping каждые <30s
	go func() {
		t := time.NewTicker(20 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-t.C:
				writeMu.Lock()
				_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				writeMu.Unlock()
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("[WS] read error: %v", err)
			}
			_ = conn.Close()
			return
		}
		if q, ok := parseTickerFrame(msg, s.cfg.InstID); ok {
			s.mu.Lock()
			s.last = q
			s.mu.Unlock()
		}
	}
}

func parseTickerFrame(msg []byte, instID string) (models.Quote, bool) {
	if string(msg) == "pong" {
		return models.Quote{}, false
	}
	var frame struct {
		Arg struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
		Data []struct {
			Last  string `json:"last"`
			BidPx string `json:"bidPx"`
			AskPx string `json:"askPx"`
			Ts    string `json:"ts"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(msg, &frame); err != nil {
		return models.Quote{}, false
	}
	if frame.Arg.Channel != "tickers" || frame.Arg.InstID != instID || len(frame.Data) == 0 {
		return models.Quote{}, false
	}
	d := frame.Data[0]
	q, err := parseQuote(d.Last, d.BidPx, d.AskPx, d.Ts)
	if err != nil {
		return models.Quote{}, false
	}
	return q, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
