package models

import "time"

type GateState string

const (
	GateActive           GateState = "ACTIVE"
	GateHaltedLoss       GateState = "HALTED_LOSS"
	GateHaltedMinBalance GateState = "HALTED_MIN_BALANCE"
	GateReviewGain       GateState = "REVIEW_GAIN"
)

// Halted reports whether the state forbids opening positions because of a loss or low balance.
func (s GateState) Halted() bool {
	return s == GateHaltedLoss || s == GateHaltedMinBalance
}

// RiskState is the process-wide portfolio state owned by the risk gate.
type RiskState struct {
	PortfolioValue     float64 `json:"portfolio_value"`
	CumulativePnLToday float64 `json:"cumulative_pnl_today"`
	Halted             bool    `json:"halted"`
	HaltReason         string  `json:"halt_reason"`
}

// RiskSnapshot is the operator-facing view of the gate.
type RiskSnapshot struct {
	State     GateState `json:"state"`
	Reason    string    `json:"reason"`
	Risk      RiskState `json:"risk"`
	Day       string    `json:"day"`
	UpdatedAt time.Time `json:"updated_at"`
}
