package signal

import (
	"errors"
	"math"
	"testing"
	"time"

	"VPScalp/internal/domain/models"
)

func btcProfile() *models.VolumeProfile {
	return &models.VolumeProfile{
		Lookback:         80,
		POC:              45100,
		Mean:             45100,
		Std:              200,
		Band1Low:         44900,
		Band1High:        45300,
		Band2Low:         44700,
		Band2High:        45500,
		DevelopmentScore: 80,
		Developed:        true,
	}
}

// btcWindow returns 80 quiet candles followed by the given last candle.
func btcWindow(last models.Candle) []models.Candle {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cs := make([]models.Candle, 0, 80)
	for i := 0; i < 79; i++ {
		cs = append(cs, models.Candle{
			Bucket: start.Add(time.Duration(i) * time.Minute), Symbol: "BTC", Timeframe: "1m",
			Open: 45100, High: 45150, Low: 45050, Close: 45100, Volume: 10,
		})
	}
	last.Bucket = start.Add(79 * time.Minute)
	last.Symbol = "BTC"
	last.Timeframe = "1m"
	return append(cs, last)
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestDetectBTCLongScenario(t *testing.T) {
	d := NewDetector(DefaultConfig())
	cs := btcWindow(models.Candle{Open: 44800, High: 44950, Low: 44720, Close: 44910, Volume: 50})

	sig, err := d.Detect(btcProfile(), cs, 0.3)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if sig.Direction != models.Long || sig.EntryLevel != models.Level1Sigma {
		t.Fatalf("unexpected direction/level %s %s", sig.Direction, sig.EntryLevel)
	}
	if sig.EntryPrice != 44910 {
		t.Fatalf("unexpected entry %v", sig.EntryPrice)
	}
	if !near(sig.TargetPrice, 45081, 1e-6) {
		t.Fatalf("unexpected target %v", sig.TargetPrice)
	}
	if !near(sig.StopPrice, 44690, 2) || sig.StopPrice >= 44700 {
		t.Fatalf("unexpected stop %v", sig.StopPrice)
	}
	if !near(sig.RiskReward, 0.78, 0.01) {
		t.Fatalf("unexpected risk/reward %v", sig.RiskReward)
	}
	if !sig.LowQuality {
		t.Fatalf("expected low-quality flag for R:R %v", sig.RiskReward)
	}
	if sig.Leverage != 9 {
		t.Fatalf("unexpected leverage %d", sig.Leverage)
	}
	if sig.Symbol != "BTC" || sig.Timeframe != "1m" || sig.Confidence != 80 {
		t.Fatalf("unexpected metadata %+v", sig)
	}
}

func TestDetectSuppressesLowQualityWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SuppressLowQuality = true
	d := NewDetector(cfg)
	cs := btcWindow(models.Candle{Open: 44800, High: 44950, Low: 44720, Close: 44910, Volume: 50})
	if _, err := d.Detect(btcProfile(), cs, 0.3); !errors.Is(err, ErrLowQuality) {
		t.Fatalf("expected ErrLowQuality, got %v", err)
	}
}

func TestDetectVolatilityFilter(t *testing.T) {
	d := NewDetector(DefaultConfig())
	cs := btcWindow(models.Candle{Open: 44800, High: 44950, Low: 44720, Close: 44910, Volume: 50})
	for _, atr := range []float64{0, 0.1, 0.149, 0.551, 0.6, 2} {
		if sig, err := d.Detect(btcProfile(), cs, atr); sig != nil || !errors.Is(err, ErrVolatilityFilter) {
			t.Fatalf("atr %v: expected volatility filter, got %v %v", atr, sig, err)
		}
	}
	for _, atr := range []float64{0.15, 0.55} {
		if _, err := d.Detect(btcProfile(), cs, atr); err != nil {
			t.Fatalf("atr %v: expected signal, got %v", atr, err)
		}
	}
}

func TestDetectTwoSigmaTakesPrecedence(t *testing.T) {
	d := NewDetector(DefaultConfig())
	cs := btcWindow(models.Candle{Open: 44800, High: 44950, Low: 44650, Close: 44920, Volume: 50})
	sig, err := d.Detect(btcProfile(), cs, 0.3)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if sig.EntryLevel != models.Level2Sigma {
		t.Fatalf("expected 2σ entry, got %s", sig.EntryLevel)
	}
	if sig.StopPrice >= 44700 {
		t.Fatalf("stop must sit beyond band2, got %v", sig.StopPrice)
	}
}

func TestDetectShort(t *testing.T) {
	d := NewDetector(DefaultConfig())
	cs := btcWindow(models.Candle{Open: 45300, High: 45480, Low: 45250, Close: 45290, Volume: 50})
	sig, err := d.Detect(btcProfile(), cs, 0.3)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if sig.Direction != models.Short || sig.EntryLevel != models.Level1Sigma {
		t.Fatalf("unexpected %s %s", sig.Direction, sig.EntryLevel)
	}
	if !near(sig.TargetPrice, 45119, 1e-6) {
		t.Fatalf("unexpected target %v", sig.TargetPrice)
	}
	if sig.StopPrice <= 45500 {
		t.Fatalf("stop must sit above band2_high, got %v", sig.StopPrice)
	}
	if sig.TargetPrice >= sig.EntryPrice || sig.StopPrice <= sig.EntryPrice {
		t.Fatalf("short geometry inverted: %+v", sig)
	}
}

func TestDetectNoSignalCases(t *testing.T) {
	d := NewDetector(DefaultConfig())
	tests := []struct {
		name    string
		profile func() *models.VolumeProfile
		last    models.Candle
		want    error
	}{
		{
			name:    "ambiguous candle",
			profile: btcProfile,
			last:    models.Candle{Open: 45000, High: 45350, Low: 44850, Close: 45000, Volume: 1},
			want:    ErrAmbiguousCandle,
		},
		{
			name:    "no touch",
			profile: btcProfile,
			last:    models.Candle{Open: 45100, High: 45200, Low: 45000, Close: 45100, Volume: 1},
			want:    ErrNoTouch,
		},
		{
			name:    "close outside value area",
			profile: btcProfile,
			last:    models.Candle{Open: 44800, High: 44890, Low: 44720, Close: 44850, Volume: 1},
			want:    ErrNoTouch,
		},
		{
			name: "degenerate lower bands",
			profile: func() *models.VolumeProfile {
				p := btcProfile()
				p.Band2Low = p.Band1Low
				return p
			},
			last: models.Candle{Open: 44800, High: 44950, Low: 44720, Close: 44910, Volume: 1},
			want: ErrDegenerateBands,
		},
		{
			name: "undeveloped profile",
			profile: func() *models.VolumeProfile {
				p := btcProfile()
				p.Developed = false
				return p
			},
			last: models.Candle{Open: 44800, High: 44950, Low: 44720, Close: 44910, Volume: 1},
			want: ErrNotDeveloped,
		},
		{
			name: "close beyond poc",
			profile: func() *models.VolumeProfile {
				p := btcProfile()
				p.POC = 44950
				return p
			},
			last: models.Candle{Open: 44800, High: 45000, Low: 44880, Close: 44990, Volume: 1},
			want: ErrNoRoom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := d.Detect(tt.profile(), btcWindow(tt.last), 0.3)
			if sig != nil || !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v %v", tt.want, sig, err)
			}
		})
	}
}

func TestRiskRewardFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRiskReward = 1.5
	d := NewDetector(cfg)
	p := &models.VolumeProfile{
		Lookback: 60, POC: 100.9, Mean: 100, Std: 1,
		Band1Low: 99, Band1High: 101, Band2Low: 98, Band2High: 102,
		DevelopmentScore: 90, Developed: true,
	}
	flagged, clean := 0, 0
	for close := 99.0; close <= 100.8; close += 0.05 {
		cs := []models.Candle{{Symbol: "ETH", Timeframe: "5m", Open: close, High: close + 0.1, Low: 98.95, Close: close, Volume: 1}}
		sig, err := d.Detect(p, cs, 0.2)
		if err != nil {
			continue
		}
		if sig.LowQuality {
			flagged++
			if sig.RiskReward >= cfg.MinRiskReward {
				t.Fatalf("flagged signal with R:R %v above floor", sig.RiskReward)
			}
			continue
		}
		clean++
		if sig.RiskReward < cfg.MinRiskReward {
			t.Fatalf("unflagged signal with R:R %v below floor", sig.RiskReward)
		}
	}
	if flagged == 0 || clean == 0 {
		t.Fatalf("expected both flagged and clean signals, got flagged=%d clean=%d", flagged, clean)
	}
}

func TestLeverageMonotoneAndBounded(t *testing.T) {
	d := NewDetector(DefaultConfig())
	prev := 0
	for conf := 0.0; conf <= 100; conf += 5 {
		lev := d.Leverage(conf, 0.2)
		if lev < 2 || lev > 20 {
			t.Fatalf("leverage %d out of bounds", lev)
		}
		if lev < prev {
			t.Fatalf("leverage decreased with confidence: %d < %d", lev, prev)
		}
		prev = lev
	}
	prev = 21
	for atr := 0.15; atr <= 0.55; atr += 0.05 {
		lev := d.Leverage(90, atr)
		if lev > prev {
			t.Fatalf("leverage increased with atr: %d > %d", lev, prev)
		}
		prev = lev
	}
	if got := d.Leverage(100, 0.15); got != 20 {
		t.Fatalf("expected max leverage, got %d", got)
	}
	if got := d.Leverage(0, 0.3); got != 2 {
		t.Fatalf("expected min leverage, got %d", got)
	}
}
