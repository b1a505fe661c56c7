package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"VPScalp/internal/domain/models"
	domrepo "VPScalp/internal/domain/repository"
	domsvc "VPScalp/internal/domain/service"
	"VPScalp/internal/services/lifecycle"
	applogger "VPScalp/pkg/logger"
	"VPScalp/pkg/util"
)

var ErrSymbolBusy = errors.New("position already open for symbol")

// OpenRequest is an approved signal with its final sizing.
type OpenRequest struct {
	Signal     models.Signal
	Size       float64
	Leverage   float64
	DecisionID string
}

// TradeStats are lifetime counters over positions closed by this process.
type TradeStats struct {
	Total       int
	Wins        int
	Losses      int
	RealizedPnL float64
}

// PositionManager owns the open positions. The lifecycle machine decides transitions; the
// manager commits a transition only after the executor has carried it out.
type PositionManager struct {
	mu        sync.RWMutex
	positions map[string]models.Position
	stats     TradeStats

	machine   *lifecycle.Machine
	executor  domsvc.Executor
	candles   domrepo.CandleStore
	trades    domrepo.TradeStore
	publisher domrepo.EventPublisher
	metrics   domrepo.Metrics
	log       *applogger.Logger
}

func NewPositionManager(
	machine *lifecycle.Machine,
	executor domsvc.Executor,
	candles domrepo.CandleStore,
	trades domrepo.TradeStore,
	publisher domrepo.EventPublisher,
	metrics domrepo.Metrics,
	log *applogger.Logger,
) *PositionManager {
	if log == nil {
		log = applogger.Nop()
	}
	return &PositionManager{
		positions: make(map[string]models.Position),
		machine:   machine,
		executor:  executor,
		candles:   candles,
		trades:    trades,
		publisher: publisher,
		metrics:   metrics,
		log:       log.Component("positions"),
	}
}

// Restore reloads open trades from storage.
func (m *PositionManager) Restore(ctx context.Context) (int, error) {
	recs, err := m.trades.OpenTrades(ctx)
	if err != nil {
		return 0, fmt.Errorf("load open trades: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range recs {
		p, err := m.machine.Restore(rec, domrepo.NormalizeTimeframe(rec.Timeframe).Duration())
		if err != nil {
			m.log.Warn("skip trade on restore", applogger.String("trade_id", rec.ID), applogger.Error(err))
			continue
		}
		m.positions[p.ID] = p
		n++
	}
	m.metrics.RecordOpenPositions(len(m.positions))
	return n, nil
}

// Open executes the entry order and starts tracking the position.
func (m *PositionManager) Open(ctx context.Context, req OpenRequest) (models.Position, error) {
	sig := req.Signal
	if m.OpenSymbols()[sig.Symbol] {
		return models.Position{}, fmt.Errorf("%w: %s", ErrSymbolBusy, sig.Symbol)
	}
	if !(req.Size > 0) || !(req.Leverage > 0) {
		return models.Position{}, fmt.Errorf("%w: size=%v leverage=%v", lifecycle.ErrInvalidInput, req.Size, req.Leverage)
	}

	fill, err := m.executor.Open(ctx, sig, req.Size, req.Leverage)
	if err != nil {
		m.metrics.RecordError("executor_open")
		return models.Position{}, fmt.Errorf("execute open %s: %w", sig.Symbol, err)
	}
	if fill.Size <= 0 {
		fill.Size = req.Size
	}
	tf := domrepo.NormalizeTimeframe(sig.Timeframe).Duration()
	p, err := m.machine.Open(sig, fill, req.Leverage, tf, req.DecisionID)
	if err != nil {
		return models.Position{}, fmt.Errorf("open position %s: %w", sig.Symbol, err)
	}

	m.mu.Lock()
	m.positions[p.ID] = p
	open := len(m.positions)
	m.mu.Unlock()

	m.metrics.RecordOpenPositions(open)
	m.persist(ctx, p, fill.Time)
	m.log.Info("position opened",
		applogger.String("id", p.ID),
		applogger.String("symbol", p.Symbol),
		applogger.String("direction", string(p.Direction)),
		applogger.Float64("entry", p.EntryPrice),
		applogger.Float64("stop", p.StopPrice),
		applogger.Float64("target", p.TargetPrice),
		applogger.Float64("leverage", p.Leverage),
		applogger.Float64("size", p.Size),
	)
	return p, nil
}

// Tick advances every open position with the candles closed since its last tick. forced maps
// position ids to closure requests. It returns the positions that reached CLOSED.
func (m *PositionManager) Tick(ctx context.Context, now time.Time, forced map[string]models.ForcedClose) ([]models.Position, error) {
	var (
		closed []models.Position
		errs   []error
	)
	for _, p := range m.Positions() {
		var fc *models.ForcedClose
		if f, ok := forced[p.ID]; ok {
			fc = &f
		}
		done, err := m.tickOne(ctx, p, now, fc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if done != nil {
			closed = append(closed, *done)
		}
	}
	m.metrics.RecordOpenPositions(m.Count())
	return closed, errors.Join(errs...)
}

func (m *PositionManager) tickOne(ctx context.Context, p models.Position, now time.Time, forced *models.ForcedClose) (*models.Position, error) {
	tf := domrepo.NormalizeTimeframe(p.Timeframe)
	elapsed := m.machine.Elapsed(p, now, tf.Duration())
	if elapsed == 0 && forced == nil {
		return nil, nil
	}

	mark, fresh, err := m.mark(ctx, p, tf, elapsed)
	if err != nil {
		return nil, err
	}
	if !fresh && forced == nil {
		// wait until the candles of the elapsed period are stored
		m.metrics.RecordSkip("mark_pending")
		return nil, nil
	}
	if !fresh {
		elapsed = 0
	}

	next, err := m.machine.Tick(p, mark, elapsed, forced)
	if err != nil {
		return nil, fmt.Errorf("tick %s: %w", p.ID, err)
	}

	if !next.State.Closing() {
		m.mu.Lock()
		m.positions[p.ID] = next
		m.mu.Unlock()
		if next.State != p.State {
			m.persist(ctx, next, now)
		}
		if err := m.trades.LogPositionUpdate(ctx, models.PositionUpdate{
			TradeID:       next.ID,
			Symbol:        next.Symbol,
			CurrentPrice:  mark.Price,
			UnrealizedPnL: next.UnrealizedPnL,
			CandlesHeld:   next.CandlesHeld,
			Timestamp:     now,
		}); err != nil {
			m.log.Warn("log position update", applogger.String("id", next.ID), applogger.Error(err))
		}
		return nil, nil
	}

	if p.State == models.StateOpen {
		// an exit on the first observation still passes through MONITORING
		monitoring := m.machine.Monitor(p, mark)
		m.mu.Lock()
		m.positions[p.ID] = monitoring
		m.mu.Unlock()
		m.persist(ctx, monitoring, now)
	}

	if _, err := m.executor.Close(ctx, next, next.ExitPrice); err != nil {
		m.metrics.RecordError("executor_close")
		return nil, fmt.Errorf("execute close %s (%s): %w", p.ID, next.ExitReason, err)
	}
	final, err := m.machine.Close(next)
	if err != nil {
		return nil, fmt.Errorf("close %s: %w", p.ID, err)
	}

	m.mu.Lock()
	delete(m.positions, p.ID)
	m.stats.Total++
	if final.RealizedPnL > 0 {
		m.stats.Wins++
	} else {
		m.stats.Losses++
	}
	m.stats.RealizedPnL += final.RealizedPnL
	m.mu.Unlock()

	m.metrics.RecordPositionClosed(string(final.ExitReason), final.RealizedPnL)
	m.persist(ctx, final, now)
	m.log.Info("position closed",
		applogger.String("id", final.ID),
		applogger.String("symbol", final.Symbol),
		applogger.String("reason", string(final.ExitReason)),
		applogger.String("note", final.ExitNote),
		applogger.Float64("exit", final.ExitPrice),
		applogger.Float64("pnl", final.RealizedPnL),
		applogger.Int("candles_held", final.CandlesHeld),
	)
	return &final, nil
}

// mark aggregates the candles closed since the last tick of p. The entry candle contributes
// only its close, since its range printed before the fill. fresh is false when none of the
// candles is stored yet; the mark then falls back to the latest stored close.
func (m *PositionManager) mark(ctx context.Context, p models.Position, tf domrepo.Timeframe, elapsed int) (lifecycle.Mark, bool, error) {
	n := elapsed + 1
	candles, err := m.candles.GetLatestNCandles(ctx, p.Symbol, n, tf)
	if err != nil {
		m.metrics.RecordError("candle_fetch")
		return lifecycle.Mark{}, false, fmt.Errorf("mark %s: %w", p.Symbol, err)
	}
	from := p.OpenedAtCandleIndex + int64(p.CandlesHeld)
	mark := lifecycle.Mark{Low: math.Inf(1), High: math.Inf(-1)}
	fresh := false
	for _, c := range candles {
		idx := util.CandleIndex(c.Bucket, tf.Duration())
		if idx < from {
			continue
		}
		fresh = true
		lo, hi := c.Low, c.High
		if idx == p.OpenedAtCandleIndex {
			lo, hi = c.Close, c.Close
		}
		mark.Low = math.Min(mark.Low, lo)
		mark.High = math.Max(mark.High, hi)
		mark.Price = c.Close
	}
	if fresh {
		return mark, true, nil
	}
	mark = lifecycle.Mark{}
	if len(candles) > 0 {
		mark.Price = candles[len(candles)-1].Close
	}
	if !(mark.Price > 0) {
		mark.Price = p.EntryPrice
	}
	return mark, false, nil
}

func (m *PositionManager) persist(ctx context.Context, p models.Position, at time.Time) {
	rec := models.NewTradeRecord(p, m.machine.TimeoutCandles(), at)
	if err := m.trades.SaveTrade(ctx, rec); err != nil {
		m.metrics.RecordError("trade_save")
		m.log.Error("persist trade", applogger.String("id", p.ID), applogger.String("state", string(p.State)), applogger.Error(err))
	}
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishPosition(ctx, rec); err != nil {
		m.metrics.RecordError("publish_position")
		m.log.Warn("publish position", applogger.String("id", p.ID), applogger.Error(err))
	}
}

// Positions returns the open positions ordered by opening time.
func (m *PositionManager) Positions() []models.Position {
	m.mu.RLock()
	out := make([]models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (m *PositionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

func (m *PositionManager) OpenSymbols() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.positions))
	for _, p := range m.positions {
		out[p.Symbol] = true
	}
	return out
}

// Resolve finds an open position by id, or by symbol when id is empty.
func (m *PositionManager) Resolve(id, symbol string) (models.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id != "" {
		p, ok := m.positions[id]
		return p, ok
	}
	for _, p := range m.positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return models.Position{}, false
}

func (m *PositionManager) Stats() TradeStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
