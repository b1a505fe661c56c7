package lifecycle

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"VPScalp/internal/domain/models"
	"VPScalp/pkg/util"
)

var (
	ErrTerminal     = errors.New("lifecycle: position is closing or closed")
	ErrNotClosing   = errors.New("lifecycle: position is not in a CLOSE state")
	ErrInvalidPrice = errors.New("lifecycle: invalid price")
	ErrInvalidInput = errors.New("lifecycle: invalid position parameters")
)

type Config struct {
	TimeoutCandles int
}

func DefaultConfig() Config {
	return Config{TimeoutCandles: 15}
}

// Mark is the market observation a position is ticked against. Low and High default to Price.
type Mark struct {
	Price float64
	Low   float64
	High  float64
}

func (m Mark) bounds() (float64, float64) {
	lo, hi := m.Low, m.High
	if lo <= 0 {
		lo = m.Price
	}
	if hi <= 0 {
		hi = m.Price
	}
	return math.Min(lo, m.Price), math.Max(hi, m.Price)
}

// Machine drives positions through OPEN, MONITORING, CLOSE_* and CLOSED. It never mutates its
// input: every transition returns a new Position value.
type Machine struct {
	cfg Config
}

func NewMachine(cfg Config) *Machine {
	if cfg.TimeoutCandles <= 0 {
		cfg.TimeoutCandles = DefaultConfig().TimeoutCandles
	}
	return &Machine{cfg: cfg}
}

func (m *Machine) TimeoutCandles() int { return m.cfg.TimeoutCandles }

// Open creates a position from a confirmed signal and its fill.
func (m *Machine) Open(sig models.Signal, fill models.Fill, leverage float64, tf time.Duration, decisionID string) (models.Position, error) {
	entry := fill.Price
	if entry <= 0 {
		entry = sig.EntryPrice
	}
	if entry <= 0 || fill.Size <= 0 || leverage <= 0 {
		return models.Position{}, fmt.Errorf("%w: entry=%v size=%v leverage=%v", ErrInvalidInput, entry, fill.Size, leverage)
	}
	at := fill.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return models.Position{
		ID:                  uuid.NewString(),
		DecisionID:          decisionID,
		Symbol:              sig.Symbol,
		Timeframe:           sig.Timeframe,
		Direction:           sig.Direction,
		EntryPrice:          entry,
		StopPrice:           sig.StopPrice,
		TargetPrice:         sig.TargetPrice,
		Leverage:            leverage,
		Size:                fill.Size,
		Confidence:          sig.Confidence,
		OpenedAtCandleIndex: util.CandleIndex(at, tf),
		OpenedAt:            at,
		State:               models.StateOpen,
	}, nil
}

// Restore rebuilds an open position from its persisted trade record.
func (m *Machine) Restore(rec models.TradeRecord, tf time.Duration) (models.Position, error) {
	if rec.Status != models.TradeOpen {
		return models.Position{}, fmt.Errorf("%w: trade %s has status %s", ErrTerminal, rec.ID, rec.Status)
	}
	if rec.EntryPrice <= 0 || rec.Size <= 0 || rec.Leverage <= 0 {
		return models.Position{}, fmt.Errorf("%w: trade %s", ErrInvalidInput, rec.ID)
	}
	dir := models.Long
	if rec.Action == models.Short.Action() {
		dir = models.Short
	}
	state := models.PositionState(rec.State)
	if state != models.StateOpen && state != models.StateMonitoring {
		state = models.StateMonitoring
	}
	return models.Position{
		ID:                  rec.ID,
		DecisionID:          rec.DecisionID,
		Symbol:              rec.Symbol,
		Timeframe:           rec.Timeframe,
		Direction:           dir,
		EntryPrice:          rec.EntryPrice,
		StopPrice:           rec.StopLoss,
		TargetPrice:         rec.TakeProfit,
		Leverage:            rec.Leverage,
		Size:                rec.Size,
		Confidence:          rec.Confidence,
		OpenedAtCandleIndex: util.CandleIndex(rec.OpenedAt, tf),
		OpenedAt:            rec.OpenedAt,
		CandlesHeld:         rec.CandlesHeld,
		State:               state,
		UnrealizedPnL:       rec.PnL,
	}, nil
}

// Elapsed is the number of candles between the last accounted candle of p and now.
func (m *Machine) Elapsed(p models.Position, now time.Time, tf time.Duration) int {
	n := util.CandleIndex(now, tf) - (p.OpenedAtCandleIndex + int64(p.CandlesHeld))
	if n < 0 {
		return 0
	}
	return int(n)
}

// Tick advances p by one observation. Priority: stop loss, take profit, timeout, forced close,
// otherwise the position keeps being monitored.
func (m *Machine) Tick(p models.Position, mark Mark, elapsed int, forced *models.ForcedClose) (models.Position, error) {
	if p.Terminal() || p.State.Closing() {
		return p, ErrTerminal
	}
	if !(mark.Price > 0) || math.IsInf(mark.Price, 0) {
		return p, fmt.Errorf("%w: %v", ErrInvalidPrice, mark.Price)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	lo, hi := mark.bounds()

	var slHit, tpHit bool
	if p.Direction == models.Short {
		slHit = hi >= p.StopPrice
		tpHit = lo <= p.TargetPrice
	} else {
		slHit = lo <= p.StopPrice
		tpHit = hi >= p.TargetPrice
	}

	held := p.CandlesHeld
	next := p
	next.CandlesHeld = held + elapsed
	switch {
	case slHit:
		return closeAt(next, models.StateCloseSL, models.ExitSL, p.StopPrice, ""), nil
	case tpHit:
		return closeAt(next, models.StateCloseTP, models.ExitTP, p.TargetPrice, ""), nil
	case held >= m.cfg.TimeoutCandles:
		return closeAt(next, models.StateCloseTimeout, models.ExitTimeout, mark.Price, ""), nil
	case forced != nil:
		price := forced.Price
		if price <= 0 {
			price = mark.Price
		}
		return closeAt(next, models.StateCloseManual, models.ExitManual, price, forced.Reason), nil
	}
	next.State = models.StateMonitoring
	next.UnrealizedPnL = PnL(p, mark.Price)
	return next, nil
}

// Monitor moves an OPEN position to MONITORING at the given mark without accounting any
// candle. Other states are returned unchanged.
func (m *Machine) Monitor(p models.Position, mark Mark) models.Position {
	if p.State != models.StateOpen {
		return p
	}
	p.State = models.StateMonitoring
	if mark.Price > 0 {
		p.UnrealizedPnL = PnL(p, mark.Price)
	}
	return p
}

// Close finalises a CLOSE_* position once the exit has been executed.
func (m *Machine) Close(p models.Position) (models.Position, error) {
	if !p.State.Closing() {
		return p, fmt.Errorf("%w: %s", ErrNotClosing, p.State)
	}
	p.State = models.StateClosed
	return p, nil
}

// PnL is the leveraged profit of p at the given price.
func PnL(p models.Position, price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) * p.Direction.Sign() * p.Size * p.Leverage / p.EntryPrice
}

func closeAt(p models.Position, state models.PositionState, reason models.ExitReason, price float64, note string) models.Position {
	p.State = state
	p.ExitReason = reason
	p.ExitPrice = price
	p.ExitNote = note
	p.RealizedPnL = PnL(p, price)
	p.UnrealizedPnL = 0
	return p
}
