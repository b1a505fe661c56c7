package usecase

import (
	"context"
	"fmt"
	"time"

	"VPScalp/internal/domain/models"
	drepo "VPScalp/internal/domain/repository"
	mid "VPScalp/internal/middleware"
	applogger "VPScalp/pkg/logger"
)

// CandleWriter stores accepted candles. It is the downstream of the candle pipeline.
type CandleWriter struct {
	store   drepo.CandleStore
	metrics drepo.Metrics
}

var _ mid.Proc = (*CandleWriter)(nil)

func NewCandleWriter(store drepo.CandleStore, metrics drepo.Metrics) *CandleWriter {
	return &CandleWriter{store: store, metrics: metrics}
}

func (w *CandleWriter) Process(ctx context.Context, c models.Candle) error {
	start := time.Now()
	if err := w.store.StoreBatch(ctx, []models.Candle{c}); err != nil {
		w.metrics.RecordError("candle_store")
		return fmt.Errorf("store candle %s/%s: %w", c.Symbol, c.Timeframe, err)
	}
	w.metrics.RecordLatency("candle_store", time.Since(start).Seconds())
	return nil
}

// CandleCollector pumps closed candles from the market stream through the pipeline.
type CandleCollector struct {
	stream  drepo.MarketStream
	pipe    *mid.CandlePipeline
	metrics drepo.Metrics
	log     *applogger.Logger
}

func NewCandleCollector(stream drepo.MarketStream, pipe *mid.CandlePipeline, metrics drepo.Metrics, log *applogger.Logger) *CandleCollector {
	if log == nil {
		log = applogger.Nop()
	}
	return &CandleCollector{stream: stream, pipe: pipe, metrics: metrics, log: log.Component("candle-collector")}
}

// IsConnected returns true if the market stream is connected.
func (c *CandleCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects the stream and consumes it in the background until ctx ends.
func (c *CandleCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	go c.consume(ctx)
	return nil
}

func (c *CandleCollector) consume(ctx context.Context) {
	for {
		candles, errs := c.stream.Read(ctx)
		c.drain(ctx, candles, errs)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		for {
			err := c.stream.Reconnect(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("stream reconnect failed", applogger.Error(err))
		}
		c.log.Info("stream reconnected")
	}
}

// drain forwards candles until the read loop ends.
func (c *CandleCollector) drain(ctx context.Context, candles <-chan models.Candle, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				c.log.Warn("stream read", applogger.Error(err))
			}
			if !ok {
				errs = nil
			}
		case cd, ok := <-candles:
			if !ok {
				return
			}
			if err := c.pipe.Process(ctx, cd); err != nil {
				c.log.Warn("candle pipeline", applogger.String("symbol", cd.Symbol), applogger.Error(err))
			}
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *CandleCollector) Shutdown() error {
	c.pipe.Stop()
	return c.stream.Close()
}
