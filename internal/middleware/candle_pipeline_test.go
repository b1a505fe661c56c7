package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"VPScalp/internal/domain/models"
	"VPScalp/pkg/metrics"
)

type recordingProc struct {
	mu   sync.Mutex
	fail bool
	got  []models.Candle
}

func (r *recordingProc) Process(_ context.Context, c models.Candle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("store down")
	}
	r.got = append(r.got, c)
	return nil
}

func (r *recordingProc) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func candleAt(min int) models.Candle {
	return models.Candle{
		Bucket: time.Date(2024, 3, 1, 10, min, 0, 0, time.UTC), Symbol: "BTC", Timeframe: "1m",
		Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10,
	}
}

func TestPipelineDropsDuplicatesAndInvalid(t *testing.T) {
	proc := &recordingProc{}
	p := NewCandlePipeline(proc, metrics.Nop{})
	ctx := context.Background()

	for _, c := range []models.Candle{candleAt(1), candleAt(1), candleAt(0), candleAt(2)} {
		if err := p.Process(ctx, c); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if proc.count() != 2 {
		t.Fatalf("expected 2 forwarded candles, got %d", proc.count())
	}

	bad := candleAt(3)
	bad.High = 99.5
	if err := p.Process(ctx, bad); err == nil {
		t.Fatalf("expected validation error for inconsistent ohlc")
	}
}

func TestPipelineBuffersAndRetries(t *testing.T) {
	proc := &recordingProc{fail: true}
	p := NewCandlePipeline(proc, metrics.Nop{}, WithBufferSize(4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Process(ctx, candleAt(5)); err == nil {
		t.Fatalf("expected downstream error")
	}
	if p.Buffered() != 1 {
		t.Fatalf("expected 1 buffered candle, got %d", p.Buffered())
	}

	proc.mu.Lock()
	proc.fail = false
	proc.mu.Unlock()
	p.Start(ctx)
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for proc.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if proc.count() != 1 {
		t.Fatalf("buffered candle was not retried")
	}
}
