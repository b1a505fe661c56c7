package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	domrepo "VPScalp/internal/domain/repository"
	domsvc "VPScalp/internal/domain/service"
	"VPScalp/internal/handler/api"
	mid "VPScalp/internal/middleware"
	internalrepo "VPScalp/internal/repository"
	"VPScalp/internal/service/ratelimit"
	"VPScalp/internal/service/stream"
	"VPScalp/internal/services/decision"
	"VPScalp/internal/services/execution"
	"VPScalp/internal/services/lifecycle"
	"VPScalp/internal/services/profile"
	"VPScalp/internal/services/risk"
	"VPScalp/internal/services/signal"
	"VPScalp/internal/usecase"
	"VPScalp/pkg/cache"
	pkgch "VPScalp/pkg/clickhouse"
	"VPScalp/pkg/config"
	xhttp "VPScalp/pkg/http"
	pkgkafka "VPScalp/pkg/kafka"
	applogger "VPScalp/pkg/logger"
	"VPScalp/pkg/metrics"
	"VPScalp/pkg/server"
)

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopics(cfg.Environment == "development"),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the root logger. Error logs are shipped to the logs topic when
// collection is enabled and a producer exists.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.Collect && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			Service:        "vpscalp",
			TimeInterval:   cfg.Logging.CollectEvery,
			CountThreshold: cfg.Logging.CollectMaxLogs,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      producer,
			MinLevel:       cfg.Logging.CollectLevel,
		})
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates the Prometheus recorder on the default registry.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideClickHouseClient connects and applies the schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.Schema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideCache returns Redis when enabled, otherwise an in-process cache. The cycle lock is
// only exclusive across processes with Redis.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(context.Background(),
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, cfg.Redis.Timeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

func ProvideCandleStore(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) domrepo.CandleStore {
	return internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.Database, l)
}

func ProvideTradeStore(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) domrepo.TradeStore {
	return internalrepo.NewCHTradeStore(ch, cfg.ClickHouse.Database, l)
}

func ProvideStateStore(c cache.Service) domrepo.StateStore {
	return internalrepo.NewCacheStateStore(c)
}

// ProvideEventPublisher returns nil when Kafka is disabled; the engine then skips publishing.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) domrepo.EventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, internalrepo.Topics{
		Signals:   cfg.Kafka.Topics.Signals,
		Positions: cfg.Kafka.Topics.Positions,
		Risk:      cfg.Kafka.Topics.Risk,
	})
}

func ProvideLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideDecisionMaker uses the remote decision service when configured and local rules otherwise.
func ProvideDecisionMaker(cfg *config.Config, limiter *ratelimit.Limiter, l *applogger.Logger) domsvc.DecisionMaker {
	if cfg.Decision.ServiceURL == "" {
		l.Warn("no decision service configured, using rule confirmer")
		return decision.RuleConfirmer{MinConfidence: cfg.Trading.MinConfidence}
	}
	return decision.NewHTTPConfirmer(decision.HTTPConfig{
		BaseURL:    cfg.Decision.ServiceURL,
		Model:      cfg.Decision.Model,
		Timeout:    cfg.Decision.Timeout,
		Attempts:   cfg.Decision.Attempts,
		RatePerSec: cfg.Decision.RatePerSec,
		Burst:      cfg.Decision.Burst,
	}, limiter, l)
}

func ProvideExecutor(cfg *config.Config, l *applogger.Logger) domsvc.Executor {
	return execution.NewPaperExecutor(execution.PaperConfig{
		InitialBalance: cfg.Risk.InitialCapital,
		SlippageBps:    cfg.Execution.SlippageBps,
		FeeBps:         cfg.Execution.FeeBps,
	}, l)
}

func ProvideGate(cfg *config.Config, l *applogger.Logger) *risk.Gate {
	return risk.NewGate(risk.Limits{
		MaxLossUSD:        cfg.Risk.MaxLossUSD,
		MaxGainUSD:        cfg.Risk.MaxGainUSD,
		MinimumBalanceUSD: cfg.Risk.MinimumBalanceUSD,
	}, cfg.Risk.InitialCapital, l.Component("risk-gate"))
}

func ProvideMachine(cfg *config.Config) *lifecycle.Machine {
	return lifecycle.NewMachine(lifecycle.Config{TimeoutCandles: cfg.Strategy.TimeoutCandles})
}

// ProvideScanner builds the profile builder and signal detector from the strategy section.
func ProvideScanner(cfg *config.Config, store domrepo.CandleStore, m domrepo.Metrics, l *applogger.Logger) *usecase.Scanner {
	s := cfg.Strategy
	pc := profile.DefaultConfig()
	pc.MinLookback = s.LookbackMin
	pc.MaxLookback = s.LookbackMax
	pc.MinScore = s.MinDevelopment

	sc := signal.Config{
		ATRMinPct:          s.ATRMinPct,
		ATRMaxPct:          s.ATRMaxPct,
		TPFraction:         s.TPFraction,
		StopBufferPct:      s.StopBufferPct,
		MinRiskReward:      s.MinRiskReward,
		MinLeverage:        s.MinLeverage,
		MaxLeverage:        s.MaxLeverage,
		SuppressLowQuality: s.SuppressLowQuality,
	}

	tfs := make([]domrepo.Timeframe, 0, len(cfg.Trading.Timeframes))
	for _, tf := range cfg.Trading.Timeframes {
		tfs = append(tfs, domrepo.NormalizeTimeframe(tf))
	}
	return usecase.NewScanner(usecase.ScanConfig{
		Symbols:      cfg.Trading.Symbols,
		Timeframes:   tfs,
		MaxLookback:  s.LookbackMax,
		LookbackStep: s.LookbackStep,
		ATRPeriod:    s.ATRPeriod,
	}, store, profile.NewBuilder(pc), signal.NewDetector(sc), m, l)
}

func ProvidePositionManager(
	machine *lifecycle.Machine,
	executor domsvc.Executor,
	candles domrepo.CandleStore,
	trades domrepo.TradeStore,
	publisher domrepo.EventPublisher,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.PositionManager {
	return usecase.NewPositionManager(machine, executor, candles, trades, publisher, m, l)
}

func ProvideEngine(
	cfg *config.Config,
	gate *risk.Gate,
	scanner *usecase.Scanner,
	positions *usecase.PositionManager,
	decider domsvc.DecisionMaker,
	executor domsvc.Executor,
	trades domrepo.TradeStore,
	state domrepo.StateStore,
	publisher domrepo.EventPublisher,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.Engine {
	return usecase.NewEngine(usecase.EngineConfig{
		CycleInterval:    cfg.Trading.CycleInterval,
		CycleTimeout:     cfg.Trading.CycleTimeout,
		USDSize:          cfg.Trading.USDSize,
		MinConfidence:    cfg.Trading.MinConfidence,
		RejectLowQuality: cfg.Trading.RejectLowQuality,
		MinLeverage:      cfg.Strategy.MinLeverage,
		MaxLeverage:      cfg.Strategy.MaxLeverage,
		ResetHourUTC:     cfg.Risk.ResetHourUTC,
		CloseOnHalt:      cfg.Risk.CloseOnHalt,
		RecentSignals:    cfg.Trading.RecentSignals,
		LockTTL:          cfg.Trading.CycleInterval,
		InboxSize:        cfg.Trading.InboxSize,
	}, gate, scanner, positions, decider, executor, trades, state, publisher, m, l)
}

func ProvideMarketStream(cfg *config.Config, l *applogger.Logger) domrepo.MarketStream {
	return stream.NewBinanceKlineStream(stream.Config{
		URL:            cfg.Market.WebSocketURL,
		Symbols:        cfg.Trading.Symbols,
		Timeframes:     cfg.Trading.Timeframes,
		Quote:          cfg.Market.Quote,
		ReconnectDelay: cfg.Market.ReconnectDelay,
		PingInterval:   cfg.Market.PingInterval,
	}, l)
}

// ProvideCandleCollector builds the pipeline between the websocket and candle storage.
func ProvideCandleCollector(
	cfg *config.Config,
	s domrepo.MarketStream,
	store domrepo.CandleStore,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.CandleCollector {
	pipe := mid.NewCandlePipeline(usecase.NewCandleWriter(store, m), m,
		mid.WithBufferSize(cfg.Market.BufferSize),
	)
	return usecase.NewCandleCollector(s, pipe, m, l)
}

// ProvideKafkaConsumer creates the command consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithHook(pkgkafka.LoggingHook{Log: l.Component("kafka-hook")})
	return consumer, nil
}

func ProvideCommandHandler(cfg *config.Config, engine *usecase.Engine, l *applogger.Logger) *usecase.CommandHandler {
	return usecase.NewCommandHandler(cfg.Kafka.Topics.Commands, engine, l)
}

func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	engine *usecase.Engine,
	collector *usecase.CandleCollector,
	limiter *ratelimit.Limiter,
) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	h := api.NewOperatorEchoHandler(l, engine, collector.IsConnected, limiter)
	return xhttp.NewServer(l, []xhttp.Handler{h},
		xhttp.WithAddress(cfg.Server.Host, cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithCORS(cfg.Server.CORS, cfg.Server.AllowOrigins...),
		xhttp.WithMetricsPath(metricsPath),
	)
}

// ProvideApp assembles the application and the resources it closes on shutdown.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	engine *usecase.Engine,
	collector *usecase.CandleCollector,
	consumer *pkgkafka.Consumer,
	commands *usecase.CommandHandler,
	httpServer *xhttp.Server,
	publisher domrepo.EventPublisher,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	c cache.Service,
) *server.App {
	var resources []server.Resource
	resources = append(resources, server.Resource{Name: "log-collector", Close: func() error {
		l.RemoveCollector()
		return nil
	}})
	switch {
	case publisher != nil:
		resources = append(resources, server.Resource{Name: "kafka-publisher", Close: publisher.Close})
	case producer != nil:
		resources = append(resources, server.Resource{Name: "kafka-producer", Close: producer.Close})
	}
	resources = append(resources,
		server.Resource{Name: "clickhouse", Close: ch.Close},
		server.Resource{Name: "cache", Close: c.Close},
	)

	var handler pkgkafka.MessageHandler
	if consumer != nil {
		handler = commands
	}
	return server.New(cfg, l, engine, collector, consumer, handler, httpServer, resources...)
}
