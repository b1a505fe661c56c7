package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"VPScalp/internal/domain/models"
	domrepo "VPScalp/internal/domain/repository"
	pkgch "VPScalp/pkg/clickhouse"
	applogger "VPScalp/pkg/logger"
)

// CHTradeStore implements TradeStore on ClickHouse. Trades are versioned rows in a
// ReplacingMergeTree so every transition is an insert and reads use FINAL.
type CHTradeStore struct {
	db *sql.DB
	ns string
	l  *applogger.Logger
}

var _ domrepo.TradeStore = (*CHTradeStore)(nil)

func NewCHTradeStore(ch *pkgch.Client, database string, l *applogger.Logger) *CHTradeStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHTradeStore{db: ch.DB(), ns: database, l: l.Component("trade-store")}
}

const tradeColumns = `id, decision_id, symbol, tf, action, size, leverage, entry_price, stop_loss, take_profit,
	confidence, status, state, pnl, exit_price, exit_reason, candles_held, timeout_candles, opened_at, ts`

func (s *CHTradeStore) SaveTrade(ctx context.Context, rec models.TradeRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s.trades (%s, version) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ns, tradeColumns)
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.DecisionID, rec.Symbol, rec.Timeframe, rec.Action,
		rec.Size, rec.Leverage, rec.EntryPrice, rec.StopLoss, rec.TakeProfit,
		rec.Confidence, string(rec.Status), rec.State, rec.PnL, rec.ExitPrice, string(rec.ExitReason),
		uint32(rec.CandlesHeld), uint32(rec.TimeoutCandles), rec.OpenedAt.UTC(), ts.UTC(),
		uint64(ts.UnixNano()),
	)
	if err != nil {
		s.l.Error("clickhouse save trade error",
			applogger.String("trade_id", rec.ID),
			applogger.String("state", rec.State),
			applogger.Error(err),
		)
		return fmt.Errorf("save trade %s: %w", rec.ID, err)
	}
	return nil
}

func (s *CHTradeStore) LogPositionUpdate(ctx context.Context, u models.PositionUpdate) error {
	q := fmt.Sprintf(`INSERT INTO %s.position_updates (trade_id, symbol, price, unrealized_pnl, candles_held, ts) VALUES (?, ?, ?, ?, ?, ?)`, s.ns)
	if _, err := s.db.ExecContext(ctx, q, u.TradeID, u.Symbol, u.CurrentPrice, u.UnrealizedPnL, uint32(u.CandlesHeld), u.Timestamp.UTC()); err != nil {
		return fmt.Errorf("log position update %s: %w", u.TradeID, err)
	}
	return nil
}

func (s *CHTradeStore) LogDecision(ctx context.Context, d models.DecisionRecord) error {
	raw, err := json.Marshal(d.Signal)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s.ai_decisions (id, symbol, direction, entry_price, confidence, low_quality, approved, reasoning, model, capital, signal, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.ns)
	_, err = s.db.ExecContext(ctx, q,
		d.ID, d.Symbol, string(d.Signal.Direction), d.Signal.EntryPrice, d.Signal.Confidence,
		boolToUInt8(d.Signal.LowQuality), boolToUInt8(d.Approved), d.Reasoning, d.Model, d.Capital,
		string(raw), d.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("log decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *CHTradeStore) LogPerformance(ctx context.Context, p models.PerformanceRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s.performance_log (capital, total_trades, winning_trades, losing_trades, realized_pnl, pnl_today, gate_state, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.ns)
	_, err := s.db.ExecContext(ctx, q,
		p.Capital, uint32(p.TotalTrades), uint32(p.WinningTrades), uint32(p.LosingTrades),
		p.RealizedPnL, p.PnLToday, string(p.GateState), p.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("log performance: %w", err)
	}
	return nil
}

// OpenTrades returns the latest version of every trade still open.
func (s *CHTradeStore) OpenTrades(ctx context.Context) ([]models.TradeRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s.trades FINAL WHERE status = ? ORDER BY opened_at ASC`, tradeColumns, s.ns)
	return s.queryTrades(ctx, q, string(models.TradeOpen))
}

// History returns the latest version of the most recent trades.
func (s *CHTradeStore) History(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s.trades FINAL ORDER BY ts DESC LIMIT ?`, tradeColumns, s.ns)
	return s.queryTrades(ctx, q, limit)
}

func (s *CHTradeStore) queryTrades(ctx context.Context, q string, args ...interface{}) ([]models.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var (
			r                    models.TradeRecord
			status, reason       string
			held, timeoutCandles uint32
		)
		if err := rows.Scan(
			&r.ID, &r.DecisionID, &r.Symbol, &r.Timeframe, &r.Action,
			&r.Size, &r.Leverage, &r.EntryPrice, &r.StopLoss, &r.TakeProfit,
			&r.Confidence, &status, &r.State, &r.PnL, &r.ExitPrice, &reason,
			&held, &timeoutCandles, &r.OpenedAt, &r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		r.Status = models.TradeStatus(status)
		r.ExitReason = models.ExitReason(reason)
		r.CandlesHeld = int(held)
		r.TimeoutCandles = int(timeoutCandles)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
