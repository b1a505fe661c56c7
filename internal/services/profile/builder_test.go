package profile

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"VPScalp/internal/domain/models"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func level(i int, price, vol float64) models.Candle {
	return models.Candle{
		Bucket: t0.Add(time.Duration(i) * time.Minute),
		Symbol: "BTC",
		Open:   price,
		High:   price + 0.05,
		Low:    price - 0.05,
		Close:  price,
		Volume: vol,
	}
}

// bellWindow returns 60 candles whose volume by price follows binomial(6) weights
// around 100 in steps of 0.1, with both halves carrying the same distribution.
func bellWindow() []models.Candle {
	type lvl struct {
		k     int
		count int
		vol   float64
	}
	half := []lvl{{-3, 2, 5}, {-2, 4, 15}, {-1, 5, 30}, {0, 8, 25}, {1, 5, 30}, {2, 4, 15}, {3, 2, 5}}
	out := make([]models.Candle, 0, 60)
	for h := 0; h < 2; h++ {
		for _, l := range half {
			for j := 0; j < l.count; j++ {
				out = append(out, level(len(out), 100+float64(l.k)*0.1, l.vol))
			}
		}
	}
	return out
}

func TestBuildDeterministic(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	cs := bellWindow()
	p1, err := b.Build(cs, 60)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i := 0; i < 5; i++ {
		p2, err := b.Build(cs, 60)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if *p1 != *p2 {
			t.Fatalf("profiles differ between calls:\n%+v\n%+v", p1, p2)
		}
	}
}

func TestBuildDevelopedBell(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	p, err := b.Build(bellWindow(), 60)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if math.Abs(p.Mean-100) > 1e-6 {
		t.Fatalf("unexpected mean %v", p.Mean)
	}
	if math.Abs(p.Std-math.Sqrt(0.015)) > 1e-6 {
		t.Fatalf("unexpected std %v", p.Std)
	}
	if math.Abs(p.Skewness) > 1e-6 {
		t.Fatalf("expected symmetric profile, skew=%v", p.Skewness)
	}
	if math.Abs(p.Kurtosis-8.0/3.0) > 1e-6 {
		t.Fatalf("unexpected kurtosis %v", p.Kurtosis)
	}
	if p.Drift != 0 {
		t.Fatalf("expected zero drift, got %v", p.Drift)
	}
	if p.DevelopmentScore != 100 || !p.Developed {
		t.Fatalf("expected developed profile, score=%v developed=%v", p.DevelopmentScore, p.Developed)
	}
	if math.Abs(p.POC-100) > p.BucketWidth {
		t.Fatalf("poc %v too far from 100", p.POC)
	}
}

func TestBandOrderingInvariant(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	rng := rand.New(rand.NewSource(7))
	built := 0
	for trial := 0; trial < 200; trial++ {
		n := 50 + rng.Intn(71)
		cs := make([]models.Candle, 0, n)
		price := 100.0
		for i := 0; i < n; i++ {
			price += rng.NormFloat64() * 0.2
			c := level(i, price, 1+rng.Float64()*10)
			c.High = price + rng.Float64()*0.3
			c.Low = price - rng.Float64()*0.3
			cs = append(cs, c)
		}
		p, err := b.Build(cs, n)
		if err != nil {
			if !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrFlatWindow) {
				t.Fatalf("unexpected error %v", err)
			}
			continue
		}
		built++
		if p.Std <= 0 {
			t.Fatalf("std must be positive, got %v", p.Std)
		}
		if !(p.Band2Low <= p.Band1Low && p.Band1Low <= p.POC && p.POC <= p.Band1High && p.Band1High <= p.Band2High) {
			t.Fatalf("band ordering violated: %+v", p)
		}
		if p.DevelopmentScore < 0 || p.DevelopmentScore > 100 {
			t.Fatalf("score out of range: %v", p.DevelopmentScore)
		}
	}
	if built == 0 {
		t.Fatalf("expected at least one profile to build")
	}
}

func TestBuildSkips(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	cs := bellWindow()

	if _, err := b.Build(cs, 49); !errors.Is(err, ErrLookbackRange) {
		t.Fatalf("expected ErrLookbackRange, got %v", err)
	}
	if _, err := b.Build(cs, 121); !errors.Is(err, ErrLookbackRange) {
		t.Fatalf("expected ErrLookbackRange, got %v", err)
	}
	if _, err := b.Build(cs[:55], 60); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}

	flat := make([]models.Candle, 60)
	for i := range flat {
		flat[i] = models.Candle{Bucket: t0.Add(time.Duration(i) * time.Minute), Open: 5, High: 5, Low: 5, Close: 5, Volume: 3}
	}
	if _, err := b.Build(flat, 60); !errors.Is(err, ErrFlatWindow) {
		t.Fatalf("expected ErrFlatWindow, got %v", err)
	}

	noVol := bellWindow()
	for i := range noVol {
		noVol[i].Volume = 0
	}
	if _, err := b.Build(noVol, 60); !errors.Is(err, ErrFlatWindow) {
		t.Fatalf("expected ErrFlatWindow for zero volume, got %v", err)
	}
}

func TestBuildMalformedWhenPOCOutsideValueArea(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	cs := make([]models.Candle, 0, 50)
	for i := 0; i < 49; i++ {
		cs = append(cs, level(i, 90+float64(i)*20/48, 1))
	}
	cs = append(cs, level(49, 130, 20))
	if _, err := b.Build(cs, 50); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestSweepPicksDevelopedProfile(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	p, err := b.Sweep(bellWindow(), 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !p.Developed {
		t.Fatalf("expected a developed profile, got %+v", p)
	}
	if p.Lookback != 50 && p.Lookback != 60 {
		t.Fatalf("unexpected lookback %d", p.Lookback)
	}
}

func TestSweepInsufficientData(t *testing.T) {
	b := NewBuilder(DefaultConfig())
	if _, err := b.Sweep(bellWindow()[:20], 10); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}
