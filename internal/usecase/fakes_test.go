package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"VPScalp/internal/domain/models"
	domrepo "VPScalp/internal/domain/repository"
)

var errDown = errors.New("collaborator down")

type fakeCandles struct {
	mu       sync.Mutex
	data     map[string][]models.Candle
	fail     map[string]bool
	stored   []models.Candle
	storeErr error
}

func newFakeCandles() *fakeCandles {
	return &fakeCandles{data: make(map[string][]models.Candle), fail: make(map[string]bool)}
}

func (f *fakeCandles) add(c models.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := c.Symbol + "|" + c.Timeframe
	f.data[k] = append(f.data[k], c)
}

func (f *fakeCandles) GetLatestNCandles(_ context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[symbol] {
		return nil, errDown
	}
	cs := f.data[symbol+"|"+string(tf)]
	if len(cs) > n {
		cs = cs[len(cs)-n:]
	}
	return append([]models.Candle(nil), cs...), nil
}

func (f *fakeCandles) StoreBatch(_ context.Context, cs []models.Candle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, cs...)
	return nil
}

func (f *fakeCandles) storedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

type fakeTrades struct {
	mu        sync.Mutex
	saved     []models.TradeRecord
	updates   []models.PositionUpdate
	decisions []models.DecisionRecord
	perf      []models.PerformanceRecord
	open      []models.TradeRecord
}

func (f *fakeTrades) SaveTrade(_ context.Context, rec models.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeTrades) LogPositionUpdate(_ context.Context, u models.PositionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeTrades) LogDecision(_ context.Context, d models.DecisionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, d)
	return nil
}

func (f *fakeTrades) LogPerformance(_ context.Context, p models.PerformanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perf = append(f.perf, p)
	return nil
}

func (f *fakeTrades) OpenTrades(context.Context) ([]models.TradeRecord, error) {
	return f.open, nil
}

func (f *fakeTrades) History(_ context.Context, limit int) ([]models.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) > limit {
		return f.saved[len(f.saved)-limit:], nil
	}
	return f.saved, nil
}

type fakeExecutor struct {
	mu         sync.Mutex
	balance    float64
	balanceErr error
	openErr    error
	closeErr   error
	at         time.Time
	opens      int
	closes     int
}

func (f *fakeExecutor) Open(_ context.Context, sig models.Signal, size, _ float64) (models.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return models.Fill{}, f.openErr
	}
	f.opens++
	return models.Fill{OrderID: "o", Symbol: sig.Symbol, Price: sig.EntryPrice, Size: size, Time: f.at}, nil
}

func (f *fakeExecutor) Close(_ context.Context, p models.Position, price float64) (models.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return models.Fill{}, f.closeErr
	}
	f.closes++
	return models.Fill{OrderID: "c", Symbol: p.Symbol, Price: price, Size: p.Size, Time: f.at}, nil
}

func (f *fakeExecutor) Balance(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

type fakeDecider struct {
	conf  models.Confirmation
	err   error
	calls int
}

func (f *fakeDecider) Confirm(context.Context, models.Signal, models.RiskState) (models.Confirmation, error) {
	f.calls++
	return f.conf, f.err
}

type fakeScanner struct {
	sigs  []models.Signal
	calls int
	skip  map[string]bool
}

func (f *fakeScanner) Scan(_ context.Context, skip map[string]bool) ([]models.Signal, error) {
	f.calls++
	f.skip = skip
	var out []models.Signal
	for _, s := range f.sigs {
		if !skip[s.Symbol] {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	signals   int
	positions []models.TradeRecord
	risk      []models.RiskSnapshot
}

func (f *fakePublisher) PublishSignal(context.Context, models.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals++
	return nil
}

func (f *fakePublisher) PublishPosition(_ context.Context, rec models.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions, rec)
	return nil
}

func (f *fakePublisher) PublishRisk(_ context.Context, s models.RiskSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.risk = append(f.risk, s)
	return nil
}

func (f *fakePublisher) Close() error { return nil }
