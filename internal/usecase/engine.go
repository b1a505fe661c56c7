package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"VPScalp/internal/domain/models"
	domrepo "VPScalp/internal/domain/repository"
	domsvc "VPScalp/internal/domain/service"
	"VPScalp/internal/services/risk"
	applogger "VPScalp/pkg/logger"
	"VPScalp/pkg/util"
)

var (
	ErrInboxFull      = errors.New("engine: command inbox full")
	ErrUnknownCommand = errors.New("engine: unknown command")
)

// SignalSource produces the entry candidates of one cycle.
type SignalSource interface {
	Scan(ctx context.Context, skip map[string]bool) ([]models.Signal, error)
}

type EngineConfig struct {
	CycleInterval time.Duration
	CycleTimeout  time.Duration
	USDSize       float64
	MinConfidence float64
	// RejectLowQuality refuses low-quality signals before the decision collaborator is asked.
	RejectLowQuality bool
	MinLeverage      int
	MaxLeverage      int
	ResetHourUTC     int
	CloseOnHalt      bool
	RecentSignals    int
	LockTTL          time.Duration
	InboxSize        int
}

// CycleReport summarises one engine cycle.
type CycleReport struct {
	Skipped  bool
	Signals  int
	Opened   int
	Closed   int
	State    models.GateState
	Reason   string
	Duration time.Duration
}

// Engine runs the trading cycle: risk gate, detection over every symbol and timeframe, then
// a tick of every open position. Cycles never overlap and operator commands are applied at
// the start of the next cycle.
type Engine struct {
	cfg       EngineConfig
	gate      *risk.Gate
	scanner   SignalSource
	positions *PositionManager
	decider   domsvc.DecisionMaker
	executor  domsvc.Executor
	trades    domrepo.TradeStore
	state     domrepo.StateStore
	publisher domrepo.EventPublisher
	metrics   domrepo.Metrics
	log       *applogger.Logger

	inbox     chan models.Command
	cycleMu   sync.Mutex
	lastReset time.Time
	now       func() time.Time

	// handled is the last signal candle acted on per symbol|timeframe.
	handled      map[string]time.Time
	handledDirty bool
}

func NewEngine(
	cfg EngineConfig,
	gate *risk.Gate,
	scanner SignalSource,
	positions *PositionManager,
	decider domsvc.DecisionMaker,
	executor domsvc.Executor,
	trades domrepo.TradeStore,
	state domrepo.StateStore,
	publisher domrepo.EventPublisher,
	metrics domrepo.Metrics,
	log *applogger.Logger,
) *Engine {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Minute
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}
	if cfg.RecentSignals <= 0 {
		cfg.RecentSignals = 100
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &Engine{
		cfg:       cfg,
		gate:      gate,
		scanner:   scanner,
		positions: positions,
		decider:   decider,
		executor:  executor,
		trades:    trades,
		state:     state,
		publisher: publisher,
		metrics:   metrics,
		log:       log.Component("engine"),
		inbox:     make(chan models.Command, cfg.InboxSize),
		now:       func() time.Time { return time.Now().UTC() },
		handled:   make(map[string]time.Time),
	}
}

// Restore reloads the risk snapshot and open positions persisted by a previous run.
func (e *Engine) Restore(ctx context.Context) error {
	now := e.now()
	e.lastReset = now
	var errs []error
	if e.state != nil {
		snap, err := e.state.LoadRisk(ctx)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("load risk snapshot: %w", err))
		case snap != nil && e.gate.Restore(*snap, util.ResetBoundary(now, e.cfg.ResetHourUTC)):
			e.lastReset = snap.UpdatedAt
			e.log.Info("risk snapshot restored",
				applogger.String("state", string(snap.State)),
				applogger.Float64("pnl_today", snap.Risk.CumulativePnLToday),
			)
		}
		handled, err := e.state.LoadHandledCandles(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("load handled candles: %w", err))
		}
		for k, v := range handled {
			e.handled[k] = v
		}
	}
	n, err := e.positions.Restore(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	e.log.Info("engine restored", applogger.Int("positions", n))
	return errors.Join(errs...)
}

// Run executes cycles every CycleInterval until ctx is cancelled. A cycle in progress
// always completes.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		if _, err := e.RunCycle(ctx); err != nil {
			e.log.Error("cycle failed", applogger.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Submit queues an operator command for the next cycle.
func (e *Engine) Submit(cmd models.Command) error {
	switch cmd.Type {
	case models.CmdClosePosition:
		if cmd.PositionID == "" && cmd.Symbol == "" {
			return fmt.Errorf("%w: close_position needs a position id or symbol", ErrUnknownCommand)
		}
	case models.CmdResetRisk:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = e.now()
	}
	select {
	case e.inbox <- cmd:
		return nil
	default:
		return ErrInboxFull
	}
}

// RunCycle performs one cycle. Cancellation of ctx is not observed inside the cycle; the
// cycle is bounded by CycleTimeout instead.
func (e *Engine) RunCycle(parent context.Context) (CycleReport, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	ctx := context.WithoutCancel(parent)
	if e.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CycleTimeout)
		defer cancel()
	}

	start := time.Now()
	report, err := e.cycle(ctx)
	report.Duration = time.Since(start)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case report.Skipped:
		outcome = "skipped"
	}
	e.metrics.RecordCycle(outcome, report.Duration.Seconds())
	return report, err
}

func (e *Engine) cycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	now := e.now()

	if e.state != nil && e.cfg.LockTTL > 0 {
		ok, err := e.state.AcquireCycleLock(ctx, e.cfg.LockTTL)
		if err != nil {
			return report, fmt.Errorf("cycle lock: %w", err)
		}
		if !ok {
			e.metrics.RecordSkip("cycle_locked")
			report.Skipped = true
			return report, nil
		}
		defer func() {
			if err := e.state.ReleaseCycleLock(context.WithoutCancel(ctx)); err != nil {
				e.log.Warn("release cycle lock", applogger.Error(err))
			}
		}()
	}

	balance, err := e.executor.Balance(ctx)
	if err != nil {
		e.metrics.RecordError("executor_balance")
		return report, fmt.Errorf("balance: %w", err)
	}

	forced := e.applyCommands(now)
	if util.ResetDue(e.lastReset, now, e.cfg.ResetHourUTC) {
		e.gate.Reset(now, "daily reset")
		e.lastReset = now
	}
	e.gate.UpdatePortfolio(balance)
	state, reason, changed := e.gate.Evaluate(now)

	if state.Halted() && e.cfg.CloseOnHalt {
		for _, p := range e.positions.Positions() {
			if _, ok := forced[p.ID]; !ok {
				forced[p.ID] = models.ForcedClose{Reason: reason}
			}
		}
	}

	if e.gate.AllowsEntries() {
		report.Signals, report.Opened = e.scanAndEnter(ctx, now)
	} else {
		e.metrics.RecordSkip("gate_" + string(state))
	}

	closed, err := e.positions.Tick(ctx, now, forced)
	if err != nil {
		e.log.Error("position tick", applogger.Error(err))
	}
	for _, p := range closed {
		e.gate.RecordRealized(p.RealizedPnL)
	}
	report.Closed = len(closed)

	if bal, err := e.executor.Balance(ctx); err == nil {
		e.gate.UpdatePortfolio(bal)
	}
	var changedAgain bool
	state, reason, changedAgain = e.gate.Evaluate(now)
	report.State, report.Reason = state, reason

	e.finish(ctx, now, changed || changedAgain)
	return report, nil
}

// applyCommands drains the inbox and returns the forced closures it requested.
func (e *Engine) applyCommands(now time.Time) map[string]models.ForcedClose {
	forced := make(map[string]models.ForcedClose)
	for {
		select {
		case cmd := <-e.inbox:
			switch cmd.Type {
			case models.CmdResetRisk:
				reason := cmd.Reason
				if reason == "" {
					reason = "operator reset"
				}
				e.gate.Reset(now, reason)
			case models.CmdClosePosition:
				p, ok := e.positions.Resolve(cmd.PositionID, cmd.Symbol)
				if !ok {
					e.log.Warn("close command for unknown position",
						applogger.String("id", cmd.PositionID),
						applogger.String("symbol", cmd.Symbol),
					)
					continue
				}
				reason := cmd.Reason
				if reason == "" {
					reason = "manual close"
				}
				forced[p.ID] = models.ForcedClose{Reason: reason, Price: cmd.Price}
			}
		default:
			return forced
		}
	}
}

func (e *Engine) scanAndEnter(ctx context.Context, now time.Time) (signals, opened int) {
	sigs, err := e.scanner.Scan(ctx, e.positions.OpenSymbols())
	if err != nil {
		e.log.Warn("scan incomplete", applogger.Error(err))
	}
	for _, sig := range sigs {
		if !e.claimCandle(sig) {
			e.metrics.RecordSkip("candle_handled")
			continue
		}
		signals++
		e.metrics.RecordSignal(sig.Symbol, string(sig.Direction), sig.LowQuality)
		e.recordSignal(ctx, sig)

		if sig.Confidence < e.cfg.MinConfidence {
			e.metrics.RecordSkip("low_confidence")
			continue
		}
		if sig.LowQuality && e.cfg.RejectLowQuality {
			e.metrics.RecordSkip("low_quality")
			continue
		}
		conf := e.confirm(ctx, sig, now)
		if !conf.Approved {
			e.metrics.RecordSkip("rejected")
			continue
		}

		leverage := float64(sig.Leverage)
		if conf.AdjustedLeverage != nil {
			leverage = *conf.AdjustedLeverage
		}
		leverage = clamp(leverage, float64(e.cfg.MinLeverage), float64(e.cfg.MaxLeverage))
		sizePct := 100.0
		if conf.AdjustedSizePct != nil {
			sizePct = clamp(*conf.AdjustedSizePct, 0, 100)
		}

		if _, err := e.positions.Open(ctx, OpenRequest{
			Signal:     sig,
			Size:       e.cfg.USDSize * sizePct / 100,
			Leverage:   leverage,
			DecisionID: conf.DecisionID,
		}); err != nil {
			e.log.Error("open position", applogger.String("symbol", sig.Symbol), applogger.Error(err))
			continue
		}
		opened++
	}
	return signals, opened
}

// claimCandle reports whether sig comes from a candle not acted on yet for its symbol and
// timeframe, and marks it. A closed candle keeps producing the same signal until the next
// one closes.
func (e *Engine) claimCandle(sig models.Signal) bool {
	if sig.CandleTime.IsZero() {
		return true
	}
	key := sig.Symbol + "|" + sig.Timeframe
	if last, ok := e.handled[key]; ok && !sig.CandleTime.After(last) {
		return false
	}
	e.handled[key] = sig.CandleTime
	e.handledDirty = true
	return true
}

func (e *Engine) recordSignal(ctx context.Context, sig models.Signal) {
	e.log.Info("signal",
		applogger.String("symbol", sig.Symbol),
		applogger.String("tf", sig.Timeframe),
		applogger.String("direction", string(sig.Direction)),
		applogger.String("level", string(sig.EntryLevel)),
		applogger.Float64("entry", sig.EntryPrice),
		applogger.Float64("rr", sig.RiskReward),
		applogger.Float64("confidence", sig.Confidence),
		applogger.Bool("low_quality", sig.LowQuality),
	)
	if e.publisher != nil {
		if err := e.publisher.PublishSignal(ctx, sig); err != nil {
			e.metrics.RecordError("publish_signal")
			e.log.Warn("publish signal", applogger.Error(err))
		}
	}
	if e.state != nil {
		if err := e.state.PushSignal(ctx, sig, e.cfg.RecentSignals); err != nil {
			e.log.Warn("push recent signal", applogger.Error(err))
		}
	}
}

// confirm asks the decision collaborator. A failed call is a rejection.
func (e *Engine) confirm(ctx context.Context, sig models.Signal, now time.Time) models.Confirmation {
	rs := e.gate.RiskState()
	start := time.Now()
	conf, err := e.decider.Confirm(ctx, sig, rs)
	e.metrics.RecordLatency("decision", time.Since(start).Seconds())
	if err != nil {
		e.metrics.RecordError("decision")
		conf = models.Confirmation{Reasoning: "decision unavailable: " + err.Error()}
	}
	if conf.DecisionID == "" {
		conf.DecisionID = uuid.NewString()
	}
	if err := e.trades.LogDecision(ctx, models.DecisionRecord{
		ID:        conf.DecisionID,
		Symbol:    sig.Symbol,
		Signal:    sig,
		Approved:  conf.Approved,
		Reasoning: conf.Reasoning,
		Model:     conf.Model,
		Capital:   rs.PortfolioValue,
		Timestamp: now,
	}); err != nil {
		e.log.Warn("log decision", applogger.Error(err))
	}
	return conf
}

func (e *Engine) finish(ctx context.Context, now time.Time, changed bool) {
	snap := e.gate.Snapshot()
	e.metrics.RecordRiskState(string(snap.State))
	e.metrics.RecordOpenPositions(e.positions.Count())

	if e.state != nil {
		if err := e.state.SaveRisk(ctx, snap); err != nil {
			e.log.Warn("save risk snapshot", applogger.Error(err))
		}
		if e.handledDirty {
			if err := e.state.SaveHandledCandles(ctx, e.handled); err != nil {
				e.log.Warn("save handled candles", applogger.Error(err))
			} else {
				e.handledDirty = false
			}
		}
	}
	if changed && e.publisher != nil {
		if err := e.publisher.PublishRisk(ctx, snap); err != nil {
			e.metrics.RecordError("publish_risk")
			e.log.Warn("publish risk", applogger.Error(err))
		}
	}

	st := e.positions.Stats()
	if err := e.trades.LogPerformance(ctx, models.PerformanceRecord{
		Capital:       snap.Risk.PortfolioValue,
		TotalTrades:   st.Total,
		WinningTrades: st.Wins,
		LosingTrades:  st.Losses,
		RealizedPnL:   st.RealizedPnL,
		PnLToday:      snap.Risk.CumulativePnLToday,
		GateState:     snap.State,
		Timestamp:     now,
	}); err != nil {
		e.log.Warn("log performance", applogger.Error(err))
	}
}

// RiskSnapshot returns the current gate view.
func (e *Engine) RiskSnapshot() models.RiskSnapshot { return e.gate.Snapshot() }

// Positions returns the open positions.
func (e *Engine) Positions() []models.Position { return e.positions.Positions() }

// RecentSignals returns the latest published signals, newest first.
func (e *Engine) RecentSignals(ctx context.Context, limit int) ([]models.Signal, error) {
	if e.state == nil {
		return nil, nil
	}
	return e.state.RecentSignals(ctx, limit)
}

// TradeHistory returns the latest trades from storage.
func (e *Engine) TradeHistory(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	return e.trades.History(ctx, limit)
}

func clamp(v, lo, hi float64) float64 {
	if hi > 0 && v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}
