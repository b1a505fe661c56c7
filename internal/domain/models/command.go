package models

import "time"

type CommandType string

const (
	CmdClosePosition CommandType = "close_position"
	CmdResetRisk     CommandType = "reset_risk"
)

// Command is an operator request applied at the next cycle boundary.
type Command struct {
	Type       CommandType `json:"type" validate:"required,oneof=close_position reset_risk"`
	PositionID string      `json:"position_id,omitempty"`
	Symbol     string      `json:"symbol,omitempty" validate:"max=20"`
	Price      float64     `json:"price,omitempty" validate:"gte=0"`
	Reason     string      `json:"reason,omitempty" validate:"max=200"`
	IssuedAt   time.Time   `json:"issued_at"`
}
