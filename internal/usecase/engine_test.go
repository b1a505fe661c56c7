package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"VPScalp/internal/domain/models"
	"VPScalp/internal/repository"
	"VPScalp/internal/services/decision"
	"VPScalp/internal/services/lifecycle"
	"VPScalp/internal/services/risk"
	"VPScalp/pkg/cache"
	"VPScalp/pkg/metrics"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC)

type rig struct {
	e       *Engine
	gate    *risk.Gate
	scanner *fakeScanner
	candles *fakeCandles
	trades  *fakeTrades
	exec    *fakeExecutor
	decider *fakeDecider
	pub     *fakePublisher
	state   *repository.CacheStateStore
	now     time.Time
}

func newRig(t *testing.T, limits risk.Limits) *rig {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	r := &rig{
		scanner: &fakeScanner{},
		candles: newFakeCandles(),
		trades:  &fakeTrades{},
		exec:    &fakeExecutor{balance: 5000, at: t0},
		decider: &fakeDecider{conf: models.Confirmation{Approved: true, DecisionID: "d-1", Model: "test"}},
		pub:     &fakePublisher{},
		state:   repository.NewCacheStateStore(mc),
		gate:    risk.NewGate(limits, 5000, nil),
		now:     t0,
	}
	pm := NewPositionManager(lifecycle.NewMachine(lifecycle.DefaultConfig()), r.exec, r.candles, r.trades, r.pub, metrics.Nop{}, nil)
	r.e = NewEngine(EngineConfig{
		USDSize:       1000,
		MinConfidence: 50,
		MinLeverage:   2,
		MaxLeverage:   20,
		CloseOnHalt:   true,
		LockTTL:       time.Minute,
	}, r.gate, r.scanner, pm, r.decider, r.exec, r.trades, r.state, r.pub, metrics.Nop{}, nil)
	r.e.now = func() time.Time { return r.now }
	return r
}

func (r *rig) cycle(t *testing.T) CycleReport {
	t.Helper()
	rep, err := r.e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	return rep
}

var defaultLimits = risk.Limits{MaxLossUSD: 200, MaxGainUSD: 500, MinimumBalanceUSD: 1000}

func btcSignal() models.Signal {
	return models.Signal{
		Symbol: "BTC", Timeframe: "1m", Direction: models.Long, EntryLevel: models.Level1Sigma,
		EntryPrice: 100, StopPrice: 98, TargetPrice: 103, RiskReward: 1.5, Confidence: 80, Leverage: 5,
	}
}

func ethSignal() models.Signal {
	return models.Signal{
		Symbol: "ETH", Timeframe: "1m", Direction: models.Long, EntryLevel: models.Level1Sigma,
		EntryPrice: 50, StopPrice: 49, TargetPrice: 51.5, RiskReward: 1.5, Confidence: 70, Leverage: 5,
	}
}

func bar(sym string, minute int, o, h, l, c float64) models.Candle {
	return models.Candle{
		Bucket: time.Date(2024, 3, 1, 10, minute, 0, 0, time.UTC), Symbol: sym, Timeframe: "1m",
		Open: o, High: h, Low: l, Close: c, Volume: 10,
	}
}

func TestCycleOpensApprovedSignal(t *testing.T) {
	r := newRig(t, defaultLimits)
	half := 50.0
	r.decider.conf.AdjustedSizePct = &half
	r.scanner.sigs = []models.Signal{btcSignal()}

	rep := r.cycle(t)
	if rep.Signals != 1 || rep.Opened != 1 || rep.State != models.GateActive {
		t.Fatalf("unexpected report %+v", rep)
	}
	ps := r.e.Positions()
	if len(ps) != 1 {
		t.Fatalf("expected one position, got %d", len(ps))
	}
	p := ps[0]
	if p.Size != 500 || p.Leverage != 5 || p.DecisionID != "d-1" || p.State != models.StateOpen {
		t.Fatalf("unexpected position %+v", p)
	}
	if len(r.trades.saved) != 1 || r.trades.saved[0].Status != models.TradeOpen {
		t.Fatalf("expected open trade persisted, got %+v", r.trades.saved)
	}
	if len(r.trades.decisions) != 1 || !r.trades.decisions[0].Approved {
		t.Fatalf("expected approved decision logged, got %+v", r.trades.decisions)
	}
	if len(r.trades.perf) != 1 || r.pub.signals != 1 || len(r.pub.positions) != 1 {
		t.Fatalf("unexpected side effects perf=%d signals=%d positions=%d", len(r.trades.perf), r.pub.signals, len(r.pub.positions))
	}
	recent, err := r.e.RecentSignals(context.Background(), 10)
	if err != nil || len(recent) != 1 || recent[0].Symbol != "BTC" {
		t.Fatalf("expected recent signal, got %v %v", recent, err)
	}

	r.cycle(t)
	if !r.scanner.skip["BTC"] || r.exec.opens != 1 {
		t.Fatalf("symbol with open position must be skipped")
	}
}

func TestLowQualitySignalIsNotAutoApproved(t *testing.T) {
	r := newRig(t, defaultLimits)
	r.e.decider = decision.RuleConfirmer{MinConfidence: 50}
	sig := btcSignal()
	sig.LowQuality = true
	sig.RiskReward = 0.78
	r.scanner.sigs = []models.Signal{sig}

	rep := r.cycle(t)
	if rep.Signals != 1 || rep.Opened != 0 || r.exec.opens != 0 {
		t.Fatalf("low-quality signal must not open a position: %+v", rep)
	}
	if len(r.trades.decisions) != 1 || r.trades.decisions[0].Approved {
		t.Fatalf("expected a logged rejection, got %+v", r.trades.decisions)
	}
}

func TestDecisionFailureRejects(t *testing.T) {
	r := newRig(t, defaultLimits)
	r.decider.err = errDown
	r.scanner.sigs = []models.Signal{btcSignal()}

	rep := r.cycle(t)
	if rep.Opened != 0 || len(r.e.Positions()) != 0 {
		t.Fatalf("failed decision must reject")
	}
	if d := r.trades.decisions; len(d) != 1 || d[0].Approved || !strings.Contains(d[0].Reasoning, "decision unavailable") {
		t.Fatalf("unexpected decision log %+v", d)
	}
}

func TestBalanceFailureLeavesStateUntouched(t *testing.T) {
	r := newRig(t, defaultLimits)
	r.scanner.sigs = []models.Signal{btcSignal()}
	r.cycle(t)
	r.scanner.sigs = nil
	before := r.gate.Snapshot()

	if err := r.e.Submit(models.Command{Type: models.CmdClosePosition, Symbol: "BTC"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	r.exec.balanceErr = errDown
	r.now = t0.Add(2 * time.Minute)
	if _, err := r.e.RunCycle(context.Background()); !errors.Is(err, errDown) {
		t.Fatalf("expected balance error, got %v", err)
	}
	if ps := r.e.Positions(); len(ps) != 1 || ps[0].State != models.StateOpen || ps[0].CandlesHeld != 0 {
		t.Fatalf("positions must be unchanged, got %+v", ps)
	}
	if after := r.gate.Snapshot(); after.State != before.State || after.Risk != before.Risk {
		t.Fatalf("risk state changed: %+v -> %+v", before, after)
	}
	if r.exec.closes != 0 || len(r.e.inbox) != 1 {
		t.Fatalf("command must stay queued, closes=%d inbox=%d", r.exec.closes, len(r.e.inbox))
	}

	r.exec.balanceErr = nil
	r.candles.add(bar("BTC", 1, 100, 100.4, 99.8, 100.1))
	rep := r.cycle(t)
	if rep.Closed != 1 || r.exec.closes != 1 || len(r.e.Positions()) != 0 {
		t.Fatalf("queued close must apply on the next cycle: %+v", rep)
	}
	last := r.trades.saved[len(r.trades.saved)-1]
	if last.ExitReason != models.ExitManual || last.ExitPrice != 100.1 || last.Status != models.TradeClosed {
		t.Fatalf("unexpected close record %+v", last)
	}
}

func TestExecutorCloseFailureKeepsPosition(t *testing.T) {
	r := newRig(t, risk.Limits{MaxLossUSD: 40, MaxGainUSD: 1000, MinimumBalanceUSD: 100})
	r.scanner.sigs = []models.Signal{btcSignal()}
	r.cycle(t)
	r.scanner.sigs = nil

	r.candles.add(bar("BTC", 1, 100, 100.2, 97.5, 98.5))
	r.now = time.Date(2024, 3, 1, 10, 2, 5, 0, time.UTC)
	r.exec.closeErr = errDown
	rep := r.cycle(t)
	if rep.Closed != 0 || rep.State != models.GateActive {
		t.Fatalf("failed close must not commit: %+v", rep)
	}
	if ps := r.e.Positions(); len(ps) != 1 || ps[0].State != models.StateMonitoring || ps[0].CandlesHeld != 0 {
		t.Fatalf("failed close must leave the position monitored with no candle accounted, got %+v", ps)
	}
	if rs := r.gate.RiskState(); rs.CumulativePnLToday != 0 {
		t.Fatalf("ledger must be unchanged, got %v", rs.CumulativePnLToday)
	}

	r.exec.closeErr = nil
	rep = r.cycle(t)
	if rep.Closed != 1 || rep.State != models.GateHaltedLoss {
		t.Fatalf("expected stop loss close and halt, got %+v", rep)
	}
	if rs := r.gate.RiskState(); rs.CumulativePnLToday != -100 {
		t.Fatalf("expected -100 in ledger, got %v", rs.CumulativePnLToday)
	}
	last := r.trades.saved[len(r.trades.saved)-1]
	if last.ExitReason != models.ExitSL || last.PnL != -100 || last.State != string(models.StateClosed) {
		t.Fatalf("unexpected close record %+v", last)
	}
	if len(r.pub.risk) != 1 || r.pub.risk[0].State != models.GateHaltedLoss {
		t.Fatalf("expected one risk publication, got %+v", r.pub.risk)
	}

	calls := r.scanner.calls
	r.cycle(t)
	if r.scanner.calls != calls {
		t.Fatalf("halted gate must block scanning")
	}
}

func TestCloseOnHaltForcesOpenPositions(t *testing.T) {
	r := newRig(t, risk.Limits{MaxLossUSD: 40, MaxGainUSD: 1000, MinimumBalanceUSD: 100})
	r.scanner.sigs = []models.Signal{btcSignal(), ethSignal()}
	if rep := r.cycle(t); rep.Opened != 2 {
		t.Fatalf("expected two positions, got %+v", rep)
	}
	r.scanner.sigs = nil

	r.candles.add(bar("BTC", 1, 100, 100.2, 97.5, 98.5))
	r.candles.add(bar("ETH", 1, 50, 50.2, 49.8, 50.1))
	r.now = time.Date(2024, 3, 1, 10, 2, 5, 0, time.UTC)
	rep := r.cycle(t)
	if rep.Closed != 1 || rep.State != models.GateHaltedLoss {
		t.Fatalf("expected BTC stop and halt, got %+v", rep)
	}
	if ps := r.e.Positions(); len(ps) != 1 || ps[0].Symbol != "ETH" || ps[0].State != models.StateMonitoring {
		t.Fatalf("expected ETH monitoring, got %+v", ps)
	}

	rep = r.cycle(t)
	if rep.Closed != 1 || len(r.e.Positions()) != 0 {
		t.Fatalf("halt must force-close remaining positions, got %+v", rep)
	}
	last := r.trades.saved[len(r.trades.saved)-1]
	if last.Symbol != "ETH" || last.ExitReason != models.ExitManual || last.ExitPrice != 50.1 {
		t.Fatalf("unexpected forced close record %+v", last)
	}
}

func TestSubmitValidation(t *testing.T) {
	r := newRig(t, defaultLimits)
	if err := r.e.Submit(models.Command{Type: "pause"}); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if err := r.e.Submit(models.Command{Type: models.CmdClosePosition}); err == nil {
		t.Fatalf("close without target must fail")
	}
	r.e.inbox = make(chan models.Command, 1)
	if err := r.e.Submit(models.Command{Type: models.CmdResetRisk}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := r.e.Submit(models.Command{Type: models.CmdResetRisk}); !errors.Is(err, ErrInboxFull) {
		t.Fatalf("expected ErrInboxFull, got %v", err)
	}
}

func TestResetCommandClearsHalt(t *testing.T) {
	r := newRig(t, risk.Limits{MaxLossUSD: 40, MaxGainUSD: 1000, MinimumBalanceUSD: 100})
	r.cycle(t)
	r.gate.RecordRealized(-50)
	if rep := r.cycle(t); rep.State != models.GateHaltedLoss {
		t.Fatalf("expected halt, got %s", rep.State)
	}
	if err := r.e.Submit(models.Command{Type: models.CmdResetRisk, Reason: "operator"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rep := r.cycle(t); rep.State != models.GateActive {
		t.Fatalf("expected ACTIVE after reset, got %s", rep.State)
	}
}

func TestCycleLockSkips(t *testing.T) {
	r := newRig(t, defaultLimits)
	ok, err := r.state.AcquireCycleLock(context.Background(), time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	rep := r.cycle(t)
	if !rep.Skipped || r.scanner.calls != 0 {
		t.Fatalf("locked cycle must be skipped, got %+v", rep)
	}
}

func TestRestoreAndDailyReset(t *testing.T) {
	r := newRig(t, defaultLimits)
	ctx := context.Background()
	p := models.Position{
		ID: "p-1", Symbol: "BTC", Timeframe: "1m", Direction: models.Long,
		EntryPrice: 100, StopPrice: 98, TargetPrice: 103, Leverage: 5, Size: 1000,
		OpenedAt: t0.Add(-time.Minute), State: models.StateMonitoring,
	}
	r.trades.open = []models.TradeRecord{models.NewTradeRecord(p, 15, t0)}
	snap := models.RiskSnapshot{
		State: models.GateHaltedLoss, Reason: "daily loss", Day: "2024-03-01", UpdatedAt: t0.Add(-time.Hour),
		Risk: models.RiskState{PortfolioValue: 5000, CumulativePnLToday: -250, Halted: true},
	}
	if err := r.state.SaveRisk(ctx, snap); err != nil {
		t.Fatalf("save risk: %v", err)
	}

	if err := r.e.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if ps := r.e.Positions(); len(ps) != 1 || ps[0].ID != "p-1" {
		t.Fatalf("expected restored position, got %+v", ps)
	}
	if rep := r.cycle(t); rep.State != models.GateHaltedLoss || r.scanner.calls != 0 {
		t.Fatalf("restored halt must persist within the day, got %+v", rep)
	}

	r.now = time.Date(2024, 3, 2, 0, 0, 30, 0, time.UTC)
	if rep := r.cycle(t); rep.State != models.GateActive || r.scanner.calls != 1 {
		t.Fatalf("daily reset must reactivate the gate, got %+v", rep)
	}
	if rs := r.gate.RiskState(); rs.CumulativePnLToday != 0 {
		t.Fatalf("ledger must be cleared, got %v", rs.CumulativePnLToday)
	}
}

func TestRestoreKeepsHaltUntilResetHour(t *testing.T) {
	r := newRig(t, defaultLimits)
	r.e.cfg.ResetHourUTC = 8
	ctx := context.Background()
	snap := models.RiskSnapshot{
		State: models.GateHaltedLoss, Reason: "daily loss", Day: "2024-03-01",
		UpdatedAt: time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC),
		Risk:      models.RiskState{PortfolioValue: 5000, CumulativePnLToday: -250, Halted: true},
	}
	if err := r.state.SaveRisk(ctx, snap); err != nil {
		t.Fatalf("save risk: %v", err)
	}

	r.now = time.Date(2024, 3, 2, 2, 0, 0, 0, time.UTC)
	if err := r.e.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if rep := r.cycle(t); rep.State != models.GateHaltedLoss || r.scanner.calls != 0 {
		t.Fatalf("halt must survive a restart before the reset hour, got %+v scans=%d", rep, r.scanner.calls)
	}
	if rs := r.gate.RiskState(); rs.CumulativePnLToday != -250 {
		t.Fatalf("ledger must be kept, got %v", rs.CumulativePnLToday)
	}

	r.now = time.Date(2024, 3, 2, 8, 0, 30, 0, time.UTC)
	if rep := r.cycle(t); rep.State != models.GateActive || r.scanner.calls != 1 {
		t.Fatalf("reset hour must reactivate the gate, got %+v", rep)
	}
}

func TestSignalCandleIsActedOnOnce(t *testing.T) {
	r := newRig(t, defaultLimits)
	ctx := context.Background()
	sig := btcSignal()
	sig.Timeframe = "5m"
	sig.CandleTime = time.Date(2024, 3, 1, 9, 55, 0, 0, time.UTC)
	r.scanner.sigs = []models.Signal{sig}

	if rep := r.cycle(t); rep.Opened != 1 {
		t.Fatalf("expected an entry, got %+v", rep)
	}
	if err := r.e.Submit(models.Command{Type: models.CmdClosePosition, Symbol: "BTC", Price: 101}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	r.now = t0.Add(time.Minute)
	if rep := r.cycle(t); rep.Closed != 1 {
		t.Fatalf("expected manual close, got %+v", rep)
	}

	r.now = t0.Add(2 * time.Minute)
	rep := r.cycle(t)
	if rep.Signals != 0 || rep.Opened != 0 {
		t.Fatalf("signal from a handled candle must be skipped, got %+v", rep)
	}
	if r.exec.opens != 1 || r.decider.calls != 1 || len(r.trades.decisions) != 1 || r.pub.signals != 1 {
		t.Fatalf("stale candle re-traded: opens=%d decisions=%d published=%d", r.exec.opens, r.decider.calls, r.pub.signals)
	}

	handled, err := r.state.LoadHandledCandles(ctx)
	if err != nil || !handled["BTC|5m"].Equal(sig.CandleTime) {
		t.Fatalf("handled candle not persisted: %v %v", handled, err)
	}
	restarted := NewEngine(r.e.cfg, r.gate, r.scanner, r.e.positions, r.decider, r.exec, r.trades, r.state, r.pub, metrics.Nop{}, nil)
	restarted.now = func() time.Time { return t0.Add(3 * time.Minute) }
	if err := restarted.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := restarted.RunCycle(ctx); err != nil || r.exec.opens != 1 {
		t.Fatalf("restart must not re-trade a handled candle: opens=%d err=%v", r.exec.opens, err)
	}

	r.scanner.sigs[0].CandleTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r.now = t0.Add(5 * time.Minute)
	if rep := r.cycle(t); rep.Opened != 1 || r.exec.opens != 2 {
		t.Fatalf("next candle must be traded, got %+v", rep)
	}
}

func TestEntryCandleRangeBeforeFillIsIgnored(t *testing.T) {
	r := newRig(t, defaultLimits)
	r.scanner.sigs = []models.Signal{btcSignal()}
	r.cycle(t)
	r.scanner.sigs = nil

	// the 10:00 bar dipped to 97 before the 10:00:30 fill and closed back at entry
	r.candles.add(bar("BTC", 0, 100, 100.5, 97, 100))
	r.now = time.Date(2024, 3, 1, 10, 1, 5, 0, time.UTC)
	if rep := r.cycle(t); rep.Closed != 0 {
		t.Fatalf("pre-fill low must not trigger the stop, got %+v", rep)
	}
	ps := r.e.Positions()
	if len(ps) != 1 || ps[0].State != models.StateMonitoring || ps[0].CandlesHeld != 1 {
		t.Fatalf("expected monitored position, got %+v", ps)
	}

	r.candles.add(bar("BTC", 1, 100, 100.2, 97.9, 98.2))
	r.now = time.Date(2024, 3, 1, 10, 2, 5, 0, time.UTC)
	if rep := r.cycle(t); rep.Closed != 1 {
		t.Fatalf("stop within a post-fill candle must close, got %+v", rep)
	}
	last := r.trades.saved[len(r.trades.saved)-1]
	if last.ExitReason != models.ExitSL || last.ExitPrice != 98 {
		t.Fatalf("unexpected close record %+v", last)
	}
}

func TestFirstTickExitPassesThroughMonitoring(t *testing.T) {
	r := newRig(t, defaultLimits)
	r.scanner.sigs = []models.Signal{btcSignal()}
	r.cycle(t)
	r.scanner.sigs = nil

	r.candles.add(bar("BTC", 1, 100, 103.4, 99.5, 103.1))
	r.now = time.Date(2024, 3, 1, 10, 2, 5, 0, time.UTC)
	if rep := r.cycle(t); rep.Closed != 1 {
		t.Fatalf("expected take profit, got %+v", rep)
	}
	var states []string
	for _, rec := range r.trades.saved {
		states = append(states, rec.State)
	}
	want := []string{string(models.StateOpen), string(models.StateMonitoring), string(models.StateClosed)}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Fatalf("expected persisted states %v, got %v", want, states)
	}
	if n := len(r.pub.positions); n != 3 {
		t.Fatalf("expected three position events, got %d", n)
	}
	if last := r.trades.saved[2]; last.ExitReason != models.ExitTP || last.ExitPrice != 103 {
		t.Fatalf("unexpected close record %+v", last)
	}
}

func TestRejectLowQualityGuardsApprovedSignals(t *testing.T) {
	r := newRig(t, defaultLimits)
	sig := btcSignal()
	sig.LowQuality = true
	r.scanner.sigs = []models.Signal{sig}

	r.e.cfg.RejectLowQuality = true
	rep := r.cycle(t)
	if rep.Signals != 1 || rep.Opened != 0 || r.decider.calls != 0 {
		t.Fatalf("low-quality signal must be refused before the decision call: %+v calls=%d", rep, r.decider.calls)
	}

	r.e.cfg.RejectLowQuality = false
	if rep := r.cycle(t); rep.Opened != 1 || r.decider.calls != 1 {
		t.Fatalf("without the guard the decision service is trusted: %+v calls=%d", rep, r.decider.calls)
	}
}
