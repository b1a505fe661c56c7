package profile

import (
	"errors"
	"math"

	"VPScalp/internal/domain/models"
	"VPScalp/internal/services/features"
)

// Skip conditions. None of them is a failure: the caller simply has no profile this cycle.
var (
	ErrLookbackRange    = errors.New("profile: lookback out of range")
	ErrInsufficientData = errors.New("profile: insufficient candles")
	ErrFlatWindow       = errors.New("profile: zero variance window")
	ErrMalformed        = errors.New("profile: malformed profile")
)

// Config holds the profile construction and development thresholds.
type Config struct {
	MinLookback     int
	MaxLookback     int
	MaxBuckets      int
	MaxDriftPct     float64
	MaxAbsSkew      float64
	MinKurtosis     float64
	MaxKurtosis     float64
	ValueAreaTarget float64
	MinScore        float64
}

// DefaultConfig returns the thresholds used in production.
func DefaultConfig() Config {
	return Config{
		MinLookback:     50,
		MaxLookback:     120,
		MaxBuckets:      50,
		MaxDriftPct:     0.3,
		MaxAbsSkew:      0.25,
		MinKurtosis:     2.5,
		MaxKurtosis:     3.5,
		ValueAreaTarget: 0.65,
		MinScore:        75,
	}
}

// Builder turns candle windows into volume profiles. It holds no mutable state.
type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build computes the profile of the last `lookback` candles.
func (b *Builder) Build(candles []models.Candle, lookback int) (*models.VolumeProfile, error) {
	if lookback < b.cfg.MinLookback || lookback > b.cfg.MaxLookback {
		return nil, ErrLookbackRange
	}
	if len(candles) < lookback {
		return nil, ErrInsufficientData
	}
	window := candles[len(candles)-lookback:]

	lo, hi := features.PriceRange(window)
	if !(hi > lo) {
		return nil, ErrFlatWindow
	}
	n := b.bucketCount(lookback)
	width := (hi - lo) / float64(n)

	g := grid{lo: lo, width: width, n: n}
	poc, ok := g.poc(window)
	if !ok {
		return nil, ErrFlatWindow
	}

	mom, ok := weightedMoments(window)
	if !ok {
		return nil, ErrFlatWindow
	}

	p := &models.VolumeProfile{
		Lookback:    lookback,
		BucketWidth: width,
		POC:         poc,
		Mean:        mom.mean,
		Std:         mom.std,
		Band1Low:    mom.mean - mom.std,
		Band1High:   mom.mean + mom.std,
		Band2Low:    mom.mean - 2*mom.std,
		Band2High:   mom.mean + 2*mom.std,
		Skewness:    mom.skew,
		Kurtosis:    mom.kurt,
	}
	if !(p.Band2Low <= p.Band1Low && p.Band1Low <= p.POC && p.POC <= p.Band1High && p.Band1High <= p.Band2High) {
		return nil, ErrMalformed
	}

	half := lookback / 2
	first, ok1 := g.poc(window[:half])
	second, ok2 := g.poc(window[half:])
	if !ok1 || !ok2 {
		return nil, ErrMalformed
	}
	p.Drift = math.Abs(second-first) / mom.mean * 100
	p.ValueAreaShare = valueAreaShare(window, p.Band1Low, p.Band1High, mom.volume)

	p.DevelopmentScore = (driftScore(p.Drift, b.cfg.MaxDriftPct) +
		skewScore(p.Skewness, b.cfg.MaxAbsSkew) +
		kurtosisScore(p.Kurtosis, b.cfg.MinKurtosis, b.cfg.MaxKurtosis) +
		valueAreaScore(p.ValueAreaShare, b.cfg.ValueAreaTarget)) / 4
	p.Developed = p.DevelopmentScore > b.cfg.MinScore &&
		p.Drift < b.cfg.MaxDriftPct &&
		math.Abs(p.Skewness) <= b.cfg.MaxAbsSkew &&
		p.Kurtosis >= b.cfg.MinKurtosis && p.Kurtosis <= b.cfg.MaxKurtosis
	return p, nil
}

// Sweep builds a profile for every lookback in [MinLookback, MaxLookback] stepping by `step`
// and returns the developed profile with the highest score. When no lookback yields a developed
// profile the best-scoring undeveloped one is returned so the caller can report it.
func (b *Builder) Sweep(candles []models.Candle, step int) (*models.VolumeProfile, error) {
	if step <= 0 {
		step = 10
	}
	var best, bestRaw *models.VolumeProfile
	var lastErr error = ErrInsufficientData
	for lb := b.cfg.MinLookback; lb <= b.cfg.MaxLookback; lb += step {
		p, err := b.Build(candles, lb)
		if err != nil {
			lastErr = err
			continue
		}
		if bestRaw == nil || p.DevelopmentScore > bestRaw.DevelopmentScore {
			bestRaw = p
		}
		if p.Developed && (best == nil || p.DevelopmentScore > best.DevelopmentScore) {
			best = p
		}
	}
	switch {
	case best != nil:
		return best, nil
	case bestRaw != nil:
		return bestRaw, nil
	default:
		return nil, lastErr
	}
}

func (b *Builder) bucketCount(lookback int) int {
	n := lookback / 2
	if b.cfg.MaxBuckets > 0 && n > b.cfg.MaxBuckets {
		n = b.cfg.MaxBuckets
	}
	if n < 1 {
		n = 1
	}
	return n
}

// grid is a fixed partition of [lo, lo+n*width].
type grid struct {
	lo    float64
	width float64
	n     int
}

func (g grid) index(price float64) int {
	i := int((price - g.lo) / g.width)
	if i < 0 {
		return 0
	}
	if i >= g.n {
		return g.n - 1
	}
	return i
}

// poc returns the centre of the heaviest bucket; the lowest bucket wins ties.
func (g grid) poc(candles []models.Candle) (float64, bool) {
	vols := make([]float64, g.n)
	for _, c := range candles {
		if c.Volume > 0 {
			vols[g.index(c.TypicalPrice())] += c.Volume
		}
	}
	best := -1
	for i, v := range vols {
		if v > 0 && (best < 0 || v > vols[best]) {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	return g.lo + (float64(best)+0.5)*g.width, true
}

type moments struct {
	volume float64
	mean   float64
	std    float64
	skew   float64
	kurt   float64
}

func weightedMoments(candles []models.Candle) (moments, bool) {
	var m moments
	var sum float64
	for _, c := range candles {
		if c.Volume <= 0 {
			continue
		}
		m.volume += c.Volume
		sum += c.Volume * c.TypicalPrice()
	}
	if m.volume == 0 {
		return m, false
	}
	m.mean = sum / m.volume

	var m2, m3, m4 float64
	for _, c := range candles {
		if c.Volume <= 0 {
			continue
		}
		d := c.TypicalPrice() - m.mean
		d2 := d * d
		m2 += c.Volume * d2
		m3 += c.Volume * d2 * d
		m4 += c.Volume * d2 * d2
	}
	m2 /= m.volume
	m3 /= m.volume
	m4 /= m.volume
	m.std = math.Sqrt(m2)
	if m.std == 0 || math.IsNaN(m.std) || math.IsInf(m.std, 0) {
		return m, false
	}
	m.skew = m3 / (m2 * m.std)
	m.kurt = m4 / (m2 * m2)
	return m, true
}

func valueAreaShare(candles []models.Candle, low, high, total float64) float64 {
	var in float64
	for _, c := range candles {
		if c.Volume <= 0 {
			continue
		}
		if tp := c.TypicalPrice(); tp >= low && tp <= high {
			in += c.Volume
		}
	}
	return in / total
}

func clampScore(s float64) float64 {
	return math.Max(0, math.Min(100, s))
}

func driftScore(driftPct, limit float64) float64 {
	if driftPct < limit {
		return 100
	}
	return clampScore(100 - (driftPct-limit)*200)
}

func skewScore(skew, limit float64) float64 {
	a := math.Abs(skew)
	if a <= limit {
		return 100
	}
	return clampScore(100 - (a-limit)*200)
}

func kurtosisScore(k, lo, hi float64) float64 {
	if k >= lo && k <= hi {
		return 100
	}
	return clampScore(100 - math.Abs(k-3)*50)
}

func valueAreaScore(share, target float64) float64 {
	if share >= target {
		return 100
	}
	return clampScore(share * 100 / target)
}
