package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"VPScalp/internal/domain/models"
	domrepo "VPScalp/internal/domain/repository"
)

// Proc is the downstream the pipeline forwards accepted candles to.
type Proc interface {
	Process(ctx context.Context, c models.Candle) error
}

// CandlePipeline sits between the market stream and candle storage. It validates candles,
// drops duplicates and out-of-order bars, and buffers candles while downstream is failing.
type CandlePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	bufSize int
	bufCh   chan models.Candle
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
	last    map[string]time.Time // latest accepted bucket per symbol/timeframe
}

type PipelineOption func(*CandlePipeline)

// WithBufferSize sets the retry buffer size used when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *CandlePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

func NewCandlePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *CandlePipeline {
	p := &CandlePipeline{
		proc:    proc,
		metrics: metrics,
		bufSize: 1000,
		stopCh:  make(chan struct{}),
		last:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.Candle, p.bufSize)
	return p
}

// Start launches the background retry of buffered candles.
func (p *CandlePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case c := <-p.bufCh:
				if err := p.proc.Process(ctx, c); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					select {
					case <-time.After(backoff):
					case <-p.stopCh:
						return
					}
					select {
					case p.bufCh <- c:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
					continue
				}
				backoff = 50 * time.Millisecond
			}
		}
	}()
}

// Stop stops the background retry loop.
func (p *CandlePipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Buffered is the number of candles waiting for a retry.
func (p *CandlePipeline) Buffered() int { return len(p.bufCh) }

// Process validates c and forwards it. Duplicates are dropped silently. On downstream
// failure the candle is buffered and the error returned.
func (p *CandlePipeline) Process(ctx context.Context, c models.Candle) error {
	start := time.Now()
	if err := validateCandle(c); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.accept(c) {
		p.metrics.RecordSkip("duplicate_candle")
		return nil
	}
	p.metrics.RecordLastPrice(c.Symbol, c.Close)

	if err := p.proc.Process(ctx, c); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- c:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func (p *CandlePipeline) accept(c models.Candle) bool {
	key := c.Symbol + "|" + c.Timeframe
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.last[key]; ok && !c.Bucket.After(last) {
		return false
	}
	p.last[key] = c.Bucket
	return true
}

func validateCandle(c models.Candle) error {
	switch {
	case c.Symbol == "" || c.Timeframe == "":
		return fmt.Errorf("candle without symbol or timeframe")
	case c.Bucket.IsZero():
		return fmt.Errorf("candle %s without time", c.Symbol)
	case !(c.Low > 0) || c.Volume < 0:
		return fmt.Errorf("candle %s: non-positive price or negative volume", c.Symbol)
	case c.High < c.Low || c.Open > c.High || c.Open < c.Low || c.Close > c.High || c.Close < c.Low:
		return fmt.Errorf("candle %s: inconsistent ohlc", c.Symbol)
	}
	return nil
}
