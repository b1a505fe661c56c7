package models

import "time"

// Confirmation is the outcome of the decision collaborator for one signal.
type Confirmation struct {
	Approved         bool     `json:"approved"`
	Reasoning        string   `json:"reasoning"`
	Confidence       float64  `json:"confidence"`
	AdjustedLeverage *float64 `json:"adjusted_leverage,omitempty"`
	AdjustedSizePct  *float64 `json:"adjusted_size_pct,omitempty"`
	DecisionID       string   `json:"decision_id"`
	Model            string   `json:"model"`
}

// DecisionRecord is the audit row for one confirmation request.
type DecisionRecord struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Signal    Signal    `json:"signal"`
	Approved  bool      `json:"approved"`
	Reasoning string    `json:"reasoning"`
	Model     string    `json:"model"`
	Capital   float64   `json:"capital"`
	Timestamp time.Time `json:"timestamp"`
}

// Fill is the execution collaborator's report of an order.
type Fill struct {
	OrderID string    `json:"order_id"`
	Symbol  string    `json:"symbol"`
	Price   float64   `json:"price"`
	Size    float64   `json:"size"`
	Time    time.Time `json:"time"`
}

// PerformanceRecord summarises the portfolio after a cycle.
type PerformanceRecord struct {
	Capital       float64   `json:"capital"`
	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	RealizedPnL   float64   `json:"realized_pnl"`
	PnLToday      float64   `json:"pnl_today"`
	GateState     GateState `json:"gate_state"`
	Timestamp     time.Time `json:"timestamp"`
}
