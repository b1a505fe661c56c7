package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"VPScalp/internal/usecase"
	"VPScalp/pkg/config"
	xhttp "VPScalp/pkg/http"
	pkgkafka "VPScalp/pkg/kafka"
	applogger "VPScalp/pkg/logger"
)

// Engine is the trading loop driven by the app.
type Engine interface {
	Restore(ctx context.Context) error
	Run(ctx context.Context) error
}

// Collector feeds market data into candle storage.
type Collector interface {
	Start(ctx context.Context) error
	Shutdown() error
}

// Resource is an infrastructure client closed on shutdown, in registration order.
type Resource struct {
	Name  string
	Close func() error
}

var (
	_ Engine    = (*usecase.Engine)(nil)
	_ Collector = (*usecase.CandleCollector)(nil)
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	engine     Engine
	collector  Collector
	consumer   *pkgkafka.Consumer
	commands   pkgkafka.MessageHandler
	httpServer *xhttp.Server
	resources  []Resource
}

// New creates a new App. consumer and commands may be nil when Kafka is disabled.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	engine Engine,
	collector Collector,
	consumer *pkgkafka.Consumer,
	commands pkgkafka.MessageHandler,
	httpServer *xhttp.Server,
	resources ...Resource,
) *App {
	if log == nil {
		log = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		log:        log.Component("app"),
		engine:     engine,
		collector:  collector,
		consumer:   consumer,
		commands:   commands,
		httpServer: httpServer,
		resources:  resources,
	}
}

// Run starts every component and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is cancelled, then shuts down.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.engine.Restore(runCtx); err != nil {
		a.log.Warn("restore incomplete", applogger.Error(err))
	}

	if a.collector != nil {
		if err := a.collector.Start(runCtx); err != nil {
			a.log.Error("candle collector start", applogger.Error(err))
		} else {
			a.log.Info("candle collector started",
				applogger.Strings("symbols", a.cfg.Trading.Symbols),
				applogger.Strings("timeframes", a.cfg.Trading.Timeframes),
			)
		}
	}

	if a.consumer != nil && a.commands != nil {
		a.consumer.RegisterHandler(a.commands)
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start", applogger.Error(err))
		}
	}

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	engineDone := make(chan error, 1)
	go func() { engineDone <- a.engine.Run(runCtx) }()
	a.log.Info("engine started",
		applogger.String("env", a.cfg.Environment),
		applogger.Duration("cycle", a.cfg.Trading.CycleInterval),
	)

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-engineDone:
		a.log.Error("engine stopped", applogger.Error(err))
		engineDone <- err
	}
	cancel()
	return a.shutdown(engineDone)
}

// shutdown lets the running cycle finish, then stops inputs before closing storage.
func (a *App) shutdown(engineDone <-chan error) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	select {
	case err := <-engineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("engine: %w", err))
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("engine did not stop: %w", ctx.Err()))
	}

	if a.collector != nil {
		if err := a.collector.Shutdown(); err != nil {
			a.log.Warn("collector stop", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop", applogger.Error(err))
		}
	}
	if err := a.httpServer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, r := range a.resources {
		if r.Close == nil {
			continue
		}
		if err := r.Close(); err != nil {
			a.log.Warn("close resource", applogger.String("resource", r.Name), applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
