package exchange

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// brokenWriteConn отдаёт ответ рукопожатия, но ломает все записи после него.
type brokenWriteConn struct {
	net.Conn
	readSeen atomic.Bool
}

func (c *brokenWriteConn) Read(p []byte) (int, error) {
	c.readSeen.Store(true)
	return c.Conn.Read(p)
}

func (c *brokenWriteConn) Write(p []byte) (int, error) {
	if c.readSeen.Load() {
		return 0, errors.New("write refused")
	}
	return c.Conn.Write(p)
}

func TestTickerStreamSubscribeFailureBacksOff(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var dials atomic.Int32
	s := NewTickerStream(TickerStreamConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, nil)
	s.dialer = &websocket.Dialer{
		HandshakeTimeout: time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dials.Add(1)
			c, err := (&net.Dialer{}).DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &brokenWriteConn{Conn: c}, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	<-done

	if n := dials.Load(); n != 1 {
		t.Fatalf("dials within 500ms = %d, want 1", n)
	}
}
