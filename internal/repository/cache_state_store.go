package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"VPScalp/internal/domain/models"
	domrepo "VPScalp/internal/domain/repository"
	"VPScalp/pkg/cache"
)

var (
	riskKey      = cache.Key("risk", "snapshot")
	signalsKey   = cache.Key("signals", "recent")
	handledKey   = cache.Key("signals", "handled")
	cycleLockKey = cache.Key("lock", "cycle")
)

// CacheStateStore keeps the risk snapshot, recent signals and the single-runner lock in a
// cache.Service (Redis in production, memory otherwise).
type CacheStateStore struct {
	c       cache.Service
	riskTTL time.Duration
}

var _ domrepo.StateStore = (*CacheStateStore)(nil)

func NewCacheStateStore(c cache.Service) *CacheStateStore {
	return &CacheStateStore{c: c, riskTTL: 48 * time.Hour}
}

// LoadRisk returns the persisted snapshot, or nil when there is none.
func (s *CacheStateStore) LoadRisk(ctx context.Context) (*models.RiskSnapshot, error) {
	var snap models.RiskSnapshot
	if err := s.c.Get(ctx, riskKey, &snap); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load risk snapshot: %w", err)
	}
	return &snap, nil
}

func (s *CacheStateStore) SaveRisk(ctx context.Context, snap models.RiskSnapshot) error {
	if err := s.c.Set(ctx, riskKey, snap, s.riskTTL); err != nil {
		return fmt.Errorf("save risk snapshot: %w", err)
	}
	return nil
}

func (s *CacheStateStore) PushSignal(ctx context.Context, sig models.Signal, keep int) error {
	if err := s.c.PushCapped(ctx, signalsKey, sig, keep); err != nil {
		return fmt.Errorf("push signal: %w", err)
	}
	return nil
}

func (s *CacheStateStore) RecentSignals(ctx context.Context, limit int) ([]models.Signal, error) {
	sigs, err := cache.RangeTyped[models.Signal](ctx, s.c, signalsKey, limit)
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	return sigs, nil
}

// LoadHandledCandles returns the last candle acted on per symbol and timeframe.
func (s *CacheStateStore) LoadHandledCandles(ctx context.Context) (map[string]time.Time, error) {
	handled := make(map[string]time.Time)
	if err := s.c.Get(ctx, handledKey, &handled); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return handled, nil
		}
		return nil, fmt.Errorf("load handled candles: %w", err)
	}
	return handled, nil
}

func (s *CacheStateStore) SaveHandledCandles(ctx context.Context, handled map[string]time.Time) error {
	if err := s.c.Set(ctx, handledKey, handled, s.riskTTL); err != nil {
		return fmt.Errorf("save handled candles: %w", err)
	}
	return nil
}

func (s *CacheStateStore) AcquireCycleLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return s.c.TryLock(ctx, cycleLockKey, ttl)
}

func (s *CacheStateStore) ReleaseCycleLock(ctx context.Context) error {
	return s.c.Unlock(ctx, cycleLockKey)
}
