package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	openKline   = `{"e":"kline","s":"BTCUSDT","k":{"t":1709287200000,"i":"1m","o":"45000","h":"45010","l":"44990","c":"45005","v":"3","x":false}}`
	closedKline = `{"e":"kline","s":"BTCUSDT","k":{"t":1709287200000,"i":"1m","o":"44800","h":"44950","l":"44720","c":"44910","v":"12.5","x":true}}`
)

func TestKlineStreamDeliversClosedCandles(t *testing.T) {
	subscribed := make(chan subscribeMessage, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub
		for _, frame := range []string{`{"result":null,"id":1}`, openKline, closedKline} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		}
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	s := NewBinanceKlineStream(Config{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols:    []string{"BTC"},
		Timeframes: []string{"1m", "5m"},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub := <-subscribed
	if sub.Method != "SUBSCRIBE" || len(sub.Params) != 2 || sub.Params[0] != "btcusdt@kline_1m" || sub.Params[1] != "btcusdt@kline_5m" {
		t.Fatalf("unexpected subscription %+v", sub)
	}

	candles, _ := s.Read(ctx)
	select {
	case c := <-candles:
		if c.Symbol != "BTC" || c.Timeframe != "1m" || c.Close != 44910 || c.Low != 44720 || c.Volume != 12.5 {
			t.Fatalf("unexpected candle %+v", c)
		}
		if !c.Bucket.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected bucket %v", c.Bucket)
		}
	case <-ctx.Done():
		t.Fatalf("no candle received")
	}
}

func TestDecodeRejectsBadNumbers(t *testing.T) {
	s := NewBinanceKlineStream(Config{}, nil)
	bad := strings.Replace(closedKline, `"c":"44910"`, `"c":"abc"`, 1)
	if _, _, err := s.decode([]byte(bad)); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, ok, err := s.decode([]byte(openKline)); ok || err != nil {
		t.Fatalf("open kline must be skipped, ok=%v err=%v", ok, err)
	}
}
