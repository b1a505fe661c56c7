package service

import (
	"context"

	"VPScalp/internal/domain/models"
)

// DecisionMaker confirms or rejects a signal before a position is opened.
type DecisionMaker interface {
	Confirm(ctx context.Context, sig models.Signal, risk models.RiskState) (models.Confirmation, error)
}

// Executor places entry and exit orders and reports the account balance.
type Executor interface {
	Open(ctx context.Context, sig models.Signal, size, leverage float64) (models.Fill, error)
	Close(ctx context.Context, p models.Position, price float64) (models.Fill, error)
	Balance(ctx context.Context) (float64, error)
}
