package models

import "time"

type PositionState string

const (
	StateOpen         PositionState = "OPEN"
	StateMonitoring   PositionState = "MONITORING"
	StateCloseTP      PositionState = "CLOSE_TP"
	StateCloseSL      PositionState = "CLOSE_SL"
	StateCloseTimeout PositionState = "CLOSE_TIMEOUT"
	StateCloseManual  PositionState = "CLOSE_MANUAL"
	StateClosed       PositionState = "CLOSED"
)

// Closing reports whether the state is one of the CLOSE_* states.
func (s PositionState) Closing() bool {
	switch s {
	case StateCloseTP, StateCloseSL, StateCloseTimeout, StateCloseManual:
		return true
	default:
		return false
	}
}

type ExitReason string

const (
	ExitNone    ExitReason = ""
	ExitTP      ExitReason = "tp"
	ExitSL      ExitReason = "sl"
	ExitTimeout ExitReason = "timeout"
	ExitManual  ExitReason = "manual"
)

type TradeStatus string

const (
	TradeOpen      TradeStatus = "open"
	TradeClosed    TradeStatus = "closed"
	TradeCancelled TradeStatus = "cancelled"
)

// Position is owned by the lifecycle state machine until it reaches CLOSED.
type Position struct {
	ID                  string        `json:"id"`
	DecisionID          string        `json:"decision_id,omitempty"`
	Symbol              string        `json:"symbol"`
	Timeframe           string        `json:"timeframe"`
	Direction           Direction     `json:"direction"`
	EntryPrice          float64       `json:"entry_price"`
	StopPrice           float64       `json:"stop_price"`
	TargetPrice         float64       `json:"target_price"`
	Leverage            float64       `json:"leverage"`
	Size                float64       `json:"size"`
	Confidence          float64       `json:"confidence"`
	OpenedAtCandleIndex int64         `json:"opened_at_candle_index"`
	OpenedAt            time.Time     `json:"opened_at"`
	CandlesHeld         int           `json:"candles_held"`
	State               PositionState `json:"state"`
	ExitPrice           float64       `json:"exit_price,omitempty"`
	ExitReason          ExitReason    `json:"exit_reason,omitempty"`
	ExitNote            string        `json:"exit_note,omitempty"`
	UnrealizedPnL       float64       `json:"unrealized_pnl"`
	RealizedPnL         float64       `json:"realized_pnl"`
}

// Terminal reports whether the position can no longer change.
func (p Position) Terminal() bool { return p.State == StateClosed }

// ForcedClose is an external request to close a position at the next tick.
type ForcedClose struct {
	Reason string
	Price  float64 // zero means the current price
}

// TradeRecord is the row handed to the persistence collaborator on every transition.
type TradeRecord struct {
	ID             string      `json:"id"`
	DecisionID     string      `json:"decision_id"`
	Symbol         string      `json:"symbol"`
	Timeframe      string      `json:"timeframe"`
	Action         string      `json:"action"`
	Size           float64     `json:"size"`
	Leverage       float64     `json:"leverage"`
	EntryPrice     float64     `json:"entry_price"`
	StopLoss       float64     `json:"stop_loss"`
	TakeProfit     float64     `json:"take_profit"`
	Confidence     float64     `json:"confidence"`
	Status         TradeStatus `json:"status"`
	State          string      `json:"state"`
	PnL            float64     `json:"pnl"`
	ExitPrice      float64     `json:"exit_price"`
	ExitReason     ExitReason  `json:"exit_reason"`
	CandlesHeld    int         `json:"candles_held"`
	TimeoutCandles int         `json:"timeout_candles"`
	OpenedAt       time.Time   `json:"opened_at"`
	Timestamp      time.Time   `json:"timestamp"`
}

// NewTradeRecord converts a position into its persisted form.
func NewTradeRecord(p Position, timeoutCandles int, at time.Time) TradeRecord {
	status := TradeOpen
	pnl := p.UnrealizedPnL
	if p.State == StateClosed || p.State.Closing() {
		status = TradeClosed
		pnl = p.RealizedPnL
	}
	return TradeRecord{
		ID:             p.ID,
		DecisionID:     p.DecisionID,
		Symbol:         p.Symbol,
		Timeframe:      p.Timeframe,
		Action:         p.Direction.Action(),
		Size:           p.Size,
		Leverage:       p.Leverage,
		EntryPrice:     p.EntryPrice,
		StopLoss:       p.StopPrice,
		TakeProfit:     p.TargetPrice,
		Confidence:     p.Confidence,
		Status:         status,
		State:          string(p.State),
		PnL:            pnl,
		ExitPrice:      p.ExitPrice,
		ExitReason:     p.ExitReason,
		CandlesHeld:    p.CandlesHeld,
		TimeoutCandles: timeoutCandles,
		OpenedAt:       p.OpenedAt,
		Timestamp:      at,
	}
}

// PositionUpdate is a monitoring snapshot of an open position.
type PositionUpdate struct {
	TradeID       string    `json:"trade_id"`
	Symbol        string    `json:"symbol"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	CandlesHeld   int       `json:"candles_held"`
	Timestamp     time.Time `json:"timestamp"`
}
