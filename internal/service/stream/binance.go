package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"VPScalp/internal/domain/models"
	drepo "VPScalp/internal/domain/repository"
	applogger "VPScalp/pkg/logger"
)

// Config configures the kline stream.
type Config struct {
	URL            string
	Symbols        []string
	Timeframes     []string
	Quote          string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// BinanceKlineStream implements MarketStream over the Binance kline websocket. Only closed
// klines are delivered.
type BinanceKlineStream struct {
	cfg Config
	log *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

var _ drepo.MarketStream = (*BinanceKlineStream)(nil)

func NewBinanceKlineStream(cfg Config, log *applogger.Logger) *BinanceKlineStream {
	if cfg.Quote == "" {
		cfg.Quote = "USDT"
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &BinanceKlineStream{cfg: cfg, log: log.Component("kline-stream")}
}

// Connect dials the websocket endpoint.
func (s *BinanceKlineStream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("kline stream connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.log.Info("kline stream connected", applogger.String("url", s.cfg.URL))
	return nil
}

type subscribeMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Subscribe requests one kline stream per configured symbol and timeframe.
func (s *BinanceKlineStream) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.connected {
		return fmt.Errorf("kline stream not connected")
	}
	params := s.streams()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	if err := s.conn.WriteJSON(subscribeMessage{Method: "SUBSCRIBE", Params: params, ID: time.Now().UnixNano()}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("kline stream subscribed", applogger.Strings("streams", params))
	return nil
}

func (s *BinanceKlineStream) streams() []string {
	out := make([]string, 0, len(s.cfg.Symbols)*len(s.cfg.Timeframes))
	for _, sym := range s.cfg.Symbols {
		pair := strings.ToLower(sym + s.cfg.Quote)
		for _, tf := range s.cfg.Timeframes {
			out = append(out, pair+"@kline_"+tf)
		}
	}
	return out
}

type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		Start    int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// Read streams closed candles until ctx ends or the connection fails. Both channels are
// closed when the read loop returns.
func (s *BinanceKlineStream) Read(ctx context.Context) (<-chan models.Candle, <-chan error) {
	candles := make(chan models.Candle, 256)
	errs := make(chan error, 1)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if conn != nil {
					_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				}
			}
		}
	}()

	go func() {
		defer close(candles)
		defer close(errs)
		if conn == nil {
			errs <- fmt.Errorf("kline stream conn nil")
			return
		}
		// unblock ReadMessage when the caller goes away
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("kline stream read: %w", err)
				}
				return
			}
			c, ok, err := s.decode(b)
			if err != nil {
				s.log.Warn("kline decode", applogger.Error(err))
				continue
			}
			if !ok {
				continue
			}
			select {
			case candles <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	return candles, errs
}

// decode returns the candle of a closed kline event. Other frames report ok=false.
func (s *BinanceKlineStream) decode(b []byte) (models.Candle, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return models.Candle{}, false, err
	}
	if ev.Event != "kline" || !ev.Kline.Closed {
		return models.Candle{}, false, nil
	}
	var vals [5]float64
	for i, raw := range []string{ev.Kline.Open, ev.Kline.High, ev.Kline.Low, ev.Kline.Close, ev.Kline.Volume} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Candle{}, false, fmt.Errorf("parse %q: %w", raw, err)
		}
		vals[i] = v
	}
	return models.Candle{
		Bucket:    time.UnixMilli(ev.Kline.Start).UTC(),
		Symbol:    strings.TrimSuffix(strings.ToUpper(ev.Symbol), strings.ToUpper(s.cfg.Quote)),
		Timeframe: ev.Kline.Interval,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, true, nil
}

// Reconnect closes the connection, waits the reconnect delay and subscribes again.
func (s *BinanceKlineStream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-time.After(s.cfg.ReconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Subscribe(ctx)
}

func (s *BinanceKlineStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *BinanceKlineStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
