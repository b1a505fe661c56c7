package models

import "time"

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for LONG and -1 for SHORT.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Action is the order side used in trade records.
func (d Direction) Action() string {
	if d == Short {
		return "sell"
	}
	return "buy"
}

type EntryLevel string

const (
	Level1Sigma EntryLevel = "1σ"
	Level2Sigma EntryLevel = "2σ"
)

// Signal is an immutable mean-reversion trade candidate.
type Signal struct {
	Symbol      string     `json:"symbol"`
	Timeframe   string     `json:"timeframe"`
	Direction   Direction  `json:"direction"`
	EntryLevel  EntryLevel `json:"entry_level"`
	EntryPrice  float64    `json:"entry_price"`
	StopPrice   float64    `json:"stop_price"`
	TargetPrice float64    `json:"target_price"`
	RiskReward  float64    `json:"risk_reward"`
	ATRPct      float64    `json:"atr_pct"`
	Confidence  float64    `json:"confidence"`
	Leverage    int        `json:"leverage"`
	LowQuality  bool       `json:"low_quality"`
	Reasoning   string     `json:"reasoning"`
	POC         float64    `json:"poc"`
	Lookback    int        `json:"lookback"`
	CandleTime  time.Time  `json:"candle_time"`
}
