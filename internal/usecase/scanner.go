package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"VPScalp/internal/domain/models"
	domrepo "VPScalp/internal/domain/repository"
	"VPScalp/internal/services/features"
	"VPScalp/internal/services/profile"
	"VPScalp/internal/services/signal"
	applogger "VPScalp/pkg/logger"
)

// ProfileSweeper picks the best developed profile of a candle window.
type ProfileSweeper interface {
	Sweep(candles []models.Candle, step int) (*models.VolumeProfile, error)
}

// SignalDetector evaluates the last candle of a window against a profile.
type SignalDetector interface {
	Detect(p *models.VolumeProfile, candles []models.Candle, atrPct float64) (*models.Signal, error)
}

var (
	_ ProfileSweeper = (*profile.Builder)(nil)
	_ SignalDetector = (*signal.Detector)(nil)
)

type ScanConfig struct {
	Symbols      []string
	Timeframes   []domrepo.Timeframe
	MaxLookback  int
	LookbackStep int
	ATRPeriod    int
}

// Scanner runs profile and signal detection over every symbol and timeframe.
type Scanner struct {
	cfg      ScanConfig
	store    domrepo.CandleStore
	sweeper  ProfileSweeper
	detector SignalDetector
	metrics  domrepo.Metrics
	log      *applogger.Logger
}

func NewScanner(cfg ScanConfig, store domrepo.CandleStore, sweeper ProfileSweeper, detector SignalDetector, metrics domrepo.Metrics, log *applogger.Logger) *Scanner {
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.MaxLookback <= 0 {
		cfg.MaxLookback = 120
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &Scanner{cfg: cfg, store: store, sweeper: sweeper, detector: detector, metrics: metrics, log: log.Component("scanner")}
}

// Scan returns at most one signal per symbol, the one with the highest confidence across
// timeframes. Symbols in skip are not scanned. Candle store failures are joined into the
// returned error; signals found for other pairs are still returned.
func (s *Scanner) Scan(ctx context.Context, skip map[string]bool) ([]models.Signal, error) {
	limit := s.cfg.MaxLookback
	if n := s.cfg.ATRPeriod + 1; n > limit {
		limit = n
	}

	var (
		out  []models.Signal
		errs []error
	)
	for _, sym := range s.cfg.Symbols {
		if skip[sym] {
			s.metrics.RecordSkip("position_open")
			continue
		}
		var best *models.Signal
		for _, tf := range s.cfg.Timeframes {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			sig, err := s.scanPair(ctx, sym, tf, limit)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if sig != nil && (best == nil || sig.Confidence > best.Confidence) {
				best = sig
			}
		}
		if best != nil {
			out = append(out, *best)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, errors.Join(errs...)
}

// scanPair returns nil, nil for every normal no-signal outcome.
func (s *Scanner) scanPair(ctx context.Context, sym string, tf domrepo.Timeframe, limit int) (*models.Signal, error) {
	candles, err := s.store.GetLatestNCandles(ctx, sym, limit, tf)
	if err != nil {
		s.metrics.RecordError("candle_fetch")
		return nil, fmt.Errorf("candles %s/%s: %w", sym, tf, err)
	}
	if len(candles) < s.cfg.ATRPeriod+1 {
		s.metrics.RecordSkip("insufficient_data")
		return nil, nil
	}

	p, err := s.sweeper.Sweep(candles, s.cfg.LookbackStep)
	if err != nil {
		s.metrics.RecordSkip(skipReason(err))
		return nil, nil
	}
	atr := features.ATRPercent(candles, s.cfg.ATRPeriod)
	sig, err := s.detector.Detect(p, candles, atr)
	if err != nil {
		s.metrics.RecordSkip(skipReason(err))
		s.log.Debug("no signal",
			applogger.String("symbol", sym),
			applogger.String("tf", string(tf)),
			applogger.Float64("score", p.DevelopmentScore),
			applogger.Float64("atr_pct", atr),
			applogger.String("reason", err.Error()),
		)
		return nil, nil
	}
	if sig.Symbol == "" {
		sig.Symbol = sym
	}
	if sig.Timeframe == "" {
		sig.Timeframe = string(tf)
	}
	return sig, nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, profile.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, profile.ErrFlatWindow), errors.Is(err, profile.ErrMalformed):
		return "malformed_profile"
	case errors.Is(err, signal.ErrNotDeveloped):
		return "not_developed"
	case errors.Is(err, signal.ErrVolatilityFilter):
		return "volatility_filter"
	case errors.Is(err, signal.ErrAmbiguousCandle):
		return "ambiguous_candle"
	case errors.Is(err, signal.ErrNoTouch):
		return "no_touch"
	case errors.Is(err, signal.ErrNoRoom):
		return "no_room"
	case errors.Is(err, signal.ErrLowQuality):
		return "low_quality"
	default:
		return "other"
	}
}
