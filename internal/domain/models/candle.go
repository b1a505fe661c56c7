package models

import "time"

// Candle represents one closed OHLCV bar for a symbol and timeframe.
type Candle struct {
	Bucket    time.Time `json:"t"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"tf"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

// TypicalPrice is (H+L+C)/3, the price a candle's volume is attributed to.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}
