package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"VPScalp/internal/domain/models"
	"VPScalp/pkg/logger"
)

// Limits are the daily circuit-breaker thresholds in USD.
type Limits struct {
	MaxLossUSD        float64
	MaxGainUSD        float64
	MinimumBalanceUSD float64
}

// Evaluate maps a risk state to a gate state. Loss takes precedence over the balance floor, and
// both take precedence over the gain review.
func Evaluate(rs models.RiskState, l Limits) (models.GateState, string) {
	switch {
	case rs.CumulativePnLToday <= -l.MaxLossUSD:
		return models.GateHaltedLoss, fmt.Sprintf("daily loss %.2f reached limit -%.2f", rs.CumulativePnLToday, l.MaxLossUSD)
	case rs.PortfolioValue < l.MinimumBalanceUSD:
		return models.GateHaltedMinBalance, fmt.Sprintf("portfolio %.2f below minimum balance %.2f", rs.PortfolioValue, l.MinimumBalanceUSD)
	case rs.CumulativePnLToday >= l.MaxGainUSD:
		return models.GateReviewGain, fmt.Sprintf("daily gain %.2f reached review threshold %.2f", rs.CumulativePnLToday, l.MaxGainUSD)
	default:
		return models.GateActive, ""
	}
}

// Gate is the stateful circuit breaker. A non-active state sticks until Reset, though a review
// may still escalate to a halt.
type Gate struct {
	mu        sync.RWMutex
	limits    Limits
	log       *logger.Logger
	state     models.GateState
	reason    string
	pnl       decimal.Decimal
	portfolio float64
	day       string
	updatedAt time.Time
}

func NewGate(limits Limits, initialCapital float64, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.Nop()
	}
	return &Gate{
		limits:    limits,
		log:       log,
		state:     models.GateActive,
		pnl:       decimal.Zero,
		portfolio: initialCapital,
	}
}

// UpdatePortfolio records the latest account value.
func (g *Gate) UpdatePortfolio(value float64) {
	g.mu.Lock()
	g.portfolio = value
	g.mu.Unlock()
}

// RecordRealized adds realized pnl to today's ledger.
func (g *Gate) RecordRealized(pnl float64) {
	if pnl == 0 {
		return
	}
	g.mu.Lock()
	g.pnl = g.pnl.Add(decimal.NewFromFloat(pnl))
	g.mu.Unlock()
}

// Evaluate re-derives the gate state from the current ledger and reports whether it changed.
func (g *Gate) Evaluate(now time.Time) (models.GateState, string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next, reason := Evaluate(g.riskStateLocked(), g.limits)
	prev := g.state
	switch {
	case next == prev:
	case prev == models.GateActive:
		g.state, g.reason = next, reason
	case prev == models.GateReviewGain && next.Halted():
		g.state, g.reason = next, reason
	}
	if g.day == "" {
		g.day = now.UTC().Format("2006-01-02")
	}
	g.updatedAt = now
	if g.state != prev {
		g.log.Warn("risk gate transition",
			logger.String("from", string(prev)),
			logger.String("to", string(g.state)),
			logger.String("reason", g.reason),
			logger.Float64("pnl_today", g.pnl.InexactFloat64()),
			logger.Float64("portfolio", g.portfolio),
		)
		return g.state, g.reason, true
	}
	return g.state, g.reason, false
}

// Reset is the explicit daily reset: the ledger is cleared and the gate returns to ACTIVE.
func (g *Gate) Reset(now time.Time, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.state
	g.state = models.GateActive
	g.reason = ""
	g.pnl = decimal.Zero
	g.day = now.UTC().Format("2006-01-02")
	g.updatedAt = now
	g.log.Info("risk gate reset",
		logger.String("previous", string(prev)),
		logger.String("reason", reason),
		logger.String("day", g.day),
	)
}

// Day returns the UTC day the ledger belongs to.
func (g *Gate) Day() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.day
}

func (g *Gate) State() (models.GateState, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state, g.reason
}

// AllowsEntries reports whether new positions may be opened.
func (g *Gate) AllowsEntries() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state == models.GateActive
}

func (g *Gate) RiskState() models.RiskState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.riskStateLocked()
}

func (g *Gate) Snapshot() models.RiskSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return models.RiskSnapshot{
		State:     g.state,
		Reason:    g.reason,
		Risk:      g.riskStateLocked(),
		Day:       g.day,
		UpdatedAt: g.updatedAt,
	}
}

// Restore loads a persisted snapshot. A snapshot last updated before the most recent reset
// boundary belongs to a finished trading day and is ignored.
func (g *Gate) Restore(s models.RiskSnapshot, boundary time.Time) bool {
	if s.UpdatedAt.IsZero() || s.UpdatedAt.Before(boundary) {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = s.State
	g.reason = s.Reason
	g.pnl = decimal.NewFromFloat(s.Risk.CumulativePnLToday)
	g.portfolio = s.Risk.PortfolioValue
	g.day = s.Day
	g.updatedAt = s.UpdatedAt
	return true
}

func (g *Gate) riskStateLocked() models.RiskState {
	return models.RiskState{
		PortfolioValue:     g.portfolio,
		CumulativePnLToday: g.pnl.InexactFloat64(),
		Halted:             g.state.Halted(),
		HaltReason:         g.reason,
	}
}
