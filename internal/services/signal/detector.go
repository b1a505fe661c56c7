package signal

import (
	"errors"
	"fmt"
	"math"

	"VPScalp/internal/domain/models"
)

// Reasons for not emitting a signal. All of them are normal outcomes.
var (
	ErrNotDeveloped     = errors.New("signal: profile not developed")
	ErrVolatilityFilter = errors.New("signal: atr outside allowed range")
	ErrDegenerateBands  = errors.New("signal: degenerate bands")
	ErrNoCandles        = errors.New("signal: no candles")
	ErrNoTouch          = errors.New("signal: no band touch")
	ErrAmbiguousCandle  = errors.New("signal: long and short triggered on the same candle")
	ErrNoRoom           = errors.New("signal: close already beyond poc")
	ErrLowQuality       = errors.New("signal: risk/reward below floor")
)

type Config struct {
	ATRMinPct          float64
	ATRMaxPct          float64
	TPFraction         float64
	StopBufferPct      float64
	MinRiskReward      float64
	MinLeverage        int
	MaxLeverage        int
	SuppressLowQuality bool
}

func DefaultConfig() Config {
	return Config{
		ATRMinPct:     0.15,
		ATRMaxPct:     0.55,
		TPFraction:    0.9,
		StopBufferPct: 0.02,
		MinRiskReward: 2.0,
		MinLeverage:   2,
		MaxLeverage:   20,
	}
}

// Detector evaluates mean-reversion entry geometry on the last candle of a profiled window.
type Detector struct {
	cfg Config
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Detect returns a signal for the most recent candle of the window, or one of the package
// errors explaining why there is none.
func (d *Detector) Detect(p *models.VolumeProfile, candles []models.Candle, atrPct float64) (*models.Signal, error) {
	if p == nil || !p.Developed {
		return nil, ErrNotDeveloped
	}
	if atrPct < d.cfg.ATRMinPct || atrPct > d.cfg.ATRMaxPct {
		return nil, ErrVolatilityFilter
	}
	if p.Band1Low == p.Band2Low || p.Band1High == p.Band2High || p.Band1Low >= p.Band1High {
		return nil, ErrDegenerateBands
	}
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}
	c := candles[len(candles)-1]

	closedInside := c.Close >= p.Band1Low && c.Close <= p.Band1High
	long := closedInside && c.Low <= p.Band1Low
	short := closedInside && c.High >= p.Band1High
	switch {
	case long && short:
		return nil, ErrAmbiguousCandle
	case !long && !short:
		return nil, ErrNoTouch
	}

	sig := &models.Signal{
		Symbol:     c.Symbol,
		Timeframe:  c.Timeframe,
		EntryPrice: c.Close,
		ATRPct:     atrPct,
		Confidence: p.DevelopmentScore,
		POC:        p.POC,
		Lookback:   p.Lookback,
		CandleTime: c.Bucket,
	}
	buf := d.cfg.StopBufferPct / 100
	wick := c.Low
	if long {
		sig.Direction = models.Long
		sig.EntryLevel = models.Level1Sigma
		if c.Low <= p.Band2Low {
			sig.EntryLevel = models.Level2Sigma
		}
		sig.StopPrice = p.Band2Low * (1 - buf)
	} else {
		sig.Direction = models.Short
		sig.EntryLevel = models.Level1Sigma
		if c.High >= p.Band2High {
			sig.EntryLevel = models.Level2Sigma
		}
		sig.StopPrice = p.Band2High * (1 + buf)
		wick = c.High
	}

	sign := sig.Direction.Sign()
	if (p.POC-sig.EntryPrice)*sign <= 0 {
		return nil, ErrNoRoom
	}
	sig.TargetPrice = sig.EntryPrice + d.cfg.TPFraction*(p.POC-sig.EntryPrice)

	risk := math.Abs(sig.StopPrice - sig.EntryPrice)
	if risk == 0 {
		return nil, ErrDegenerateBands
	}
	sig.RiskReward = math.Abs(sig.TargetPrice-sig.EntryPrice) / risk
	if sig.RiskReward < d.cfg.MinRiskReward {
		if d.cfg.SuppressLowQuality {
			return nil, ErrLowQuality
		}
		sig.LowQuality = true
	}
	sig.Leverage = d.Leverage(sig.Confidence, atrPct)
	sig.Reasoning = fmt.Sprintf(
		"Price wicked to %s (%.2f) and closed back inside value area at %.2f. POC at %.2f. Development score %.1f. ATR %.3f%%. R:R %.2f.",
		sig.EntryLevel, wick, sig.EntryPrice, p.POC, p.DevelopmentScore, atrPct, sig.RiskReward,
	)
	return sig, nil
}

// Leverage proposes an integer leverage that grows with confidence and shrinks with volatility.
func (d *Detector) Leverage(confidence, atrPct float64) int {
	lo, hi := d.cfg.MinLeverage, d.cfg.MaxLeverage
	if atrPct <= 0 {
		return lo
	}
	q := math.Max(0, math.Min(1, confidence/100))
	v := math.Min(1, d.cfg.ATRMinPct/atrPct)
	lev := int(math.Floor(float64(lo) + float64(hi-lo)*q*v))
	if lev < lo {
		return lo
	}
	if lev > hi {
		return hi
	}
	return lev
}
