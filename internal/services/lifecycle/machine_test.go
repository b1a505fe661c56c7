package lifecycle

import (
	"errors"
	"math"
	"testing"
	"time"

	"VPScalp/internal/domain/models"
)

var opened = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func longSignal() models.Signal {
	return models.Signal{
		Symbol: "BTC", Timeframe: "1m", Direction: models.Long,
		EntryPrice: 100, StopPrice: 98, TargetPrice: 103, Confidence: 80,
	}
}

func openLong(t *testing.T, m *Machine) models.Position {
	t.Helper()
	p, err := m.Open(longSignal(), models.Fill{Price: 100, Size: 1000, Time: opened}, 5, time.Minute, "dec-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return p
}

func TestOpen(t *testing.T) {
	m := NewMachine(DefaultConfig())
	p := openLong(t, m)
	if p.ID == "" || p.State != models.StateOpen || p.DecisionID != "dec-1" {
		t.Fatalf("unexpected position %+v", p)
	}
	if p.OpenedAtCandleIndex != opened.Unix()/60 {
		t.Fatalf("unexpected candle index %d", p.OpenedAtCandleIndex)
	}
	if _, err := m.Open(longSignal(), models.Fill{Price: 100}, 5, time.Minute, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero size, got %v", err)
	}
}

func TestStopLossWinsOverTakeProfit(t *testing.T) {
	m := NewMachine(DefaultConfig())
	p := openLong(t, m)
	next, err := m.Tick(p, Mark{Price: 100, Low: 97.5, High: 103.5}, 1, nil)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if next.State != models.StateCloseSL || next.ExitReason != models.ExitSL || next.ExitPrice != 98 {
		t.Fatalf("expected stop loss at 98, got %+v", next)
	}
	// 1000 * 5 * (98-100)/100 = -100
	if math.Abs(next.RealizedPnL+100) > 1e-9 {
		t.Fatalf("unexpected realized pnl %v", next.RealizedPnL)
	}
	if p.State != models.StateOpen {
		t.Fatalf("input position must not change")
	}
}

func TestTakeProfit(t *testing.T) {
	m := NewMachine(DefaultConfig())
	next, err := m.Tick(openLong(t, m), Mark{Price: 102.5, Low: 101, High: 103}, 1, nil)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if next.State != models.StateCloseTP || next.ExitPrice != 103 {
		t.Fatalf("expected take profit at 103, got %+v", next)
	}
	if math.Abs(next.RealizedPnL-150) > 1e-9 {
		t.Fatalf("unexpected realized pnl %v", next.RealizedPnL)
	}
}

func TestShortDirection(t *testing.T) {
	m := NewMachine(DefaultConfig())
	sig := models.Signal{Symbol: "ETH", Timeframe: "5m", Direction: models.Short, EntryPrice: 100, StopPrice: 102, TargetPrice: 97}
	p, err := m.Open(sig, models.Fill{Price: 100, Size: 1000, Time: opened}, 2, 5*time.Minute, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mon, err := m.Tick(p, Mark{Price: 99}, 1, nil)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if mon.State != models.StateMonitoring || math.Abs(mon.UnrealizedPnL-20) > 1e-9 {
		t.Fatalf("unexpected monitoring state %+v", mon)
	}
	sl, _ := m.Tick(mon, Mark{Price: 101, High: 102.1}, 1, nil)
	if sl.State != models.StateCloseSL {
		t.Fatalf("expected short stop loss, got %s", sl.State)
	}
}

func TestTimeoutBoundary(t *testing.T) {
	m := NewMachine(DefaultConfig())
	p := openLong(t, m)
	p.State = models.StateMonitoring

	p.CandlesHeld = 14
	next, err := m.Tick(p, Mark{Price: 100.5}, 1, nil)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if next.State != models.StateMonitoring || next.CandlesHeld != 15 {
		t.Fatalf("expected MONITORING with 15 candles, got %s %d", next.State, next.CandlesHeld)
	}

	final, err := m.Tick(next, Mark{Price: 100.5}, 1, nil)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if final.State != models.StateCloseTimeout || final.ExitPrice != 100.5 || final.ExitReason != models.ExitTimeout {
		t.Fatalf("expected timeout close at mark, got %+v", final)
	}
}

func TestForcedClose(t *testing.T) {
	m := NewMachine(DefaultConfig())
	p := openLong(t, m)
	next, err := m.Tick(p, Mark{Price: 101}, 0, &models.ForcedClose{Reason: "daily loss"})
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if next.State != models.StateCloseManual || next.ExitPrice != 101 || next.ExitNote != "daily loss" {
		t.Fatalf("unexpected forced close %+v", next)
	}
	priced, _ := m.Tick(p, Mark{Price: 101}, 0, &models.ForcedClose{Reason: "operator", Price: 100.2})
	if priced.ExitPrice != 100.2 {
		t.Fatalf("expected supplied price, got %v", priced.ExitPrice)
	}
	// protective exits still take priority
	sl, _ := m.Tick(p, Mark{Price: 97}, 0, &models.ForcedClose{Reason: "operator"})
	if sl.State != models.StateCloseSL {
		t.Fatalf("expected stop loss before forced close, got %s", sl.State)
	}
}

func TestCloseAndTerminal(t *testing.T) {
	m := NewMachine(DefaultConfig())
	p := openLong(t, m)

	if _, err := m.Close(p); !errors.Is(err, ErrNotClosing) {
		t.Fatalf("expected ErrNotClosing, got %v", err)
	}
	closing, _ := m.Tick(p, Mark{Price: 104}, 1, nil)
	if _, err := m.Tick(closing, Mark{Price: 90}, 1, nil); !errors.Is(err, ErrTerminal) {
		t.Fatalf("closing position must not tick, got %v", err)
	}
	closed, err := m.Close(closing)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed.Terminal() || closed.RealizedPnL != closing.RealizedPnL {
		t.Fatalf("unexpected closed position %+v", closed)
	}
	if _, err := m.Tick(closed, Mark{Price: 100}, 1, nil); !errors.Is(err, ErrTerminal) {
		t.Fatalf("closed position must be immutable, got %v", err)
	}
	if _, err := m.Tick(p, Mark{Price: 0}, 1, nil); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestElapsedAndRestore(t *testing.T) {
	m := NewMachine(DefaultConfig())
	p := openLong(t, m)
	if got := m.Elapsed(p, opened.Add(3*time.Minute+10*time.Second), time.Minute); got != 3 {
		t.Fatalf("expected 3 elapsed candles, got %d", got)
	}
	p.CandlesHeld = 3
	if got := m.Elapsed(p, opened.Add(3*time.Minute+50*time.Second), time.Minute); got != 0 {
		t.Fatalf("expected no new candles, got %d", got)
	}

	rec := models.NewTradeRecord(p, 15, opened)
	restored, err := m.Restore(rec, time.Minute)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.ID != p.ID || restored.Direction != models.Long || restored.StopPrice != 98 || restored.CandlesHeld != 3 {
		t.Fatalf("unexpected restored position %+v", restored)
	}
	rec.Status = models.TradeClosed
	if _, err := m.Restore(rec, time.Minute); err == nil {
		t.Fatalf("closed trades must not restore")
	}
}

func TestMonitorOnlyMovesOpenPositions(t *testing.T) {
	m := NewMachine(DefaultConfig())
	p := openLong(t, m)
	mon := m.Monitor(p, Mark{Price: 101})
	if mon.State != models.StateMonitoring || mon.CandlesHeld != 0 {
		t.Fatalf("expected MONITORING without accounted candles, got %+v", mon)
	}
	// 1000 * 5 * (101-100)/100 = 50
	if math.Abs(mon.UnrealizedPnL-50) > 1e-9 {
		t.Fatalf("unexpected unrealized pnl %v", mon.UnrealizedPnL)
	}
	closing, err := m.Tick(mon, Mark{Price: 97}, 1, nil)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if again := m.Monitor(closing, Mark{Price: 97}); again.State != models.StateCloseSL {
		t.Fatalf("closing position must not move back to MONITORING, got %s", again.State)
	}
}
