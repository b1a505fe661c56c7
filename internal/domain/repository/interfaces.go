package repository

import (
	"context"
	"time"

	"VPScalp/internal/domain/models"
)

// CandleStore is the market-data collaborator: closed candles per symbol and timeframe.
type CandleStore interface {
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Candle, error)
	StoreBatch(ctx context.Context, candles []models.Candle) error
}

// MarketStream delivers closed candles from a live exchange feed.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.Candle, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// TradeStore is the persistence collaborator.
type TradeStore interface {
	SaveTrade(ctx context.Context, rec models.TradeRecord) error
	LogPositionUpdate(ctx context.Context, u models.PositionUpdate) error
	LogDecision(ctx context.Context, d models.DecisionRecord) error
	LogPerformance(ctx context.Context, p models.PerformanceRecord) error
	OpenTrades(ctx context.Context) ([]models.TradeRecord, error)
	History(ctx context.Context, limit int) ([]models.TradeRecord, error)
}

// EventPublisher fans out signals, position transitions and risk changes.
type EventPublisher interface {
	PublishSignal(ctx context.Context, s models.Signal) error
	PublishPosition(ctx context.Context, rec models.TradeRecord) error
	PublishRisk(ctx context.Context, snap models.RiskSnapshot) error
	Close() error
}

// StateStore keeps small pieces of engine state outside the process.
type StateStore interface {
	LoadRisk(ctx context.Context) (*models.RiskSnapshot, error)
	SaveRisk(ctx context.Context, snap models.RiskSnapshot) error
	PushSignal(ctx context.Context, s models.Signal, keep int) error
	RecentSignals(ctx context.Context, limit int) ([]models.Signal, error)
	LoadHandledCandles(ctx context.Context) (map[string]time.Time, error)
	SaveHandledCandles(ctx context.Context, handled map[string]time.Time) error
	AcquireCycleLock(ctx context.Context, ttl time.Duration) (bool, error)
	ReleaseCycleLock(ctx context.Context) error
}

type Metrics interface {
	RecordCycle(outcome string, seconds float64)
	RecordSignal(symbol string, direction string, lowQuality bool)
	RecordSkip(reason string)
	RecordRiskState(state string)
	RecordOpenPositions(n int)
	RecordPositionClosed(reason string, pnl float64)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
