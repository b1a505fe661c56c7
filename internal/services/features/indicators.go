package features

import (
	"math"

	"VPScalp/internal/domain/models"
)

// TrueRanges returns max(H-L, |H-prevC|, |L-prevC|) for every candle after the first.
// It returns nil if fewer than two candles are provided.
func TrueRanges(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		c := candles[i]
		prev := candles[i-1].Close
		tr := c.High - c.Low
		tr = math.Max(tr, math.Abs(c.High-prev))
		tr = math.Max(tr, math.Abs(c.Low-prev))
		out = append(out, tr)
	}
	return out
}

// ATR is the simple mean of the last `period` true ranges, or 0 with insufficient data.
func ATR(candles []models.Candle, period int) float64 {
	if period <= 0 {
		return 0
	}
	trs := TrueRanges(candles)
	if len(trs) < period {
		return 0
	}
	sum := 0.0
	for _, tr := range trs[len(trs)-period:] {
		sum += tr
	}
	return sum / float64(period)
}

// ATRPercent expresses ATR as a percentage of the last close.
func ATRPercent(candles []models.Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	last := candles[len(candles)-1].Close
	if last <= 0 {
		return 0
	}
	return ATR(candles, period) / last * 100
}

// PriceRange returns the lowest low and highest high across candles.
func PriceRange(candles []models.Candle) (lo, hi float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	lo, hi = candles[0].Low, candles[0].High
	for _, c := range candles[1:] {
		if c.Low < lo {
			lo = c.Low
		}
		if c.High > hi {
			hi = c.High
		}
	}
	return lo, hi
}
