package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"VPScalp/pkg/util"
)

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
	CORS            bool          `yaml:"cors"`
	AllowOrigins    []string      `yaml:"allow_origins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
	Output string `yaml:"output" default:"stdout"`
	// Collect ships aggregated error logs to the Kafka logs topic.
	Collect        bool          `yaml:"collect"`
	CollectEvery   time.Duration `yaml:"collect_every" default:"30s"`
	CollectMaxLogs int           `yaml:"collect_max_logs" default:"100"`
	CollectLevel   string        `yaml:"collect_level" default:"error" validate:"oneof=warn error"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"/metrics"`
}

type TradingConfig struct {
	Symbols       []string      `yaml:"symbols" validate:"required,min=1,dive,required"`
	Timeframes    []string      `yaml:"timeframes" validate:"required,min=1,dive,oneof=1m 5m 15m 1h"`
	CycleInterval time.Duration `yaml:"cycle_interval" default:"60s"`
	CycleTimeout  time.Duration `yaml:"cycle_timeout" default:"50s"`
	USDSize       float64       `yaml:"usd_size" default:"1000" validate:"gt=0"`
	MinConfidence float64       `yaml:"min_confidence" default:"50" validate:"gte=0,lte=100"`
	RecentSignals int           `yaml:"recent_signals" default:"100" validate:"gte=1"`
	InboxSize     int           `yaml:"inbox_size" default:"64" validate:"gte=1"`
	// RejectLowQuality refuses low-quality signals even when the decision service approves them.
	RejectLowQuality bool `yaml:"reject_low_quality"`
}

type StrategyConfig struct {
	LookbackMin        int     `yaml:"lookback_min" default:"50" validate:"gte=50"`
	LookbackMax        int     `yaml:"lookback_max" default:"120" validate:"lte=120"`
	LookbackStep       int     `yaml:"lookback_step" default:"10" validate:"gte=1"`
	TPFraction         float64 `yaml:"tp_fraction" default:"0.9" validate:"gt=0,lte=1"`
	ATRPeriod          int     `yaml:"atr_period" default:"14" validate:"gte=1"`
	ATRMinPct          float64 `yaml:"atr_min_pct" default:"0.15" validate:"gte=0"`
	ATRMaxPct          float64 `yaml:"atr_max_pct" default:"0.55" validate:"gt=0"`
	StopBufferPct      float64 `yaml:"stop_buffer_pct" default:"0.02" validate:"gte=0"`
	MinRiskReward      float64 `yaml:"min_risk_reward" default:"2.0" validate:"gte=0"`
	TimeoutCandles     int     `yaml:"timeout_candles" default:"15" validate:"gte=1"`
	MinLeverage        int     `yaml:"min_leverage" default:"2" validate:"gte=1"`
	MaxLeverage        int     `yaml:"max_leverage" default:"20" validate:"gte=1"`
	SuppressLowQuality bool    `yaml:"suppress_low_quality"`
	MinDevelopment     float64 `yaml:"min_development_score" default:"75" validate:"gte=0,lte=100"`
}

type RiskConfig struct {
	MaxLossUSD        float64 `yaml:"max_loss_usd" default:"200" validate:"gt=0"`
	MaxGainUSD        float64 `yaml:"max_gain_usd" default:"500" validate:"gt=0"`
	MinimumBalanceUSD float64 `yaml:"minimum_balance_usd" default:"1000" validate:"gte=0"`
	InitialCapital    float64 `yaml:"initial_capital" default:"10000" validate:"gt=0"`
	ResetHourUTC      int     `yaml:"reset_hour_utc" validate:"gte=0,lte=23"`
	CloseOnHalt       bool    `yaml:"close_on_halt"`
}

type DecisionConfig struct {
	ServiceURL string        `yaml:"service_url" validate:"omitempty,url"`
	Model      string        `yaml:"model" default:"default"`
	Timeout    time.Duration `yaml:"timeout" default:"10s"`
	Attempts   int           `yaml:"attempts" default:"3" validate:"gte=1,lte=10"`
	RatePerSec float64       `yaml:"rate_per_sec" default:"1" validate:"gt=0"`
	Burst      float64       `yaml:"burst" default:"3" validate:"gte=1"`
}

type ExecutionConfig struct {
	SlippageBps float64 `yaml:"slippage_bps" default:"2" validate:"gte=0"`
	FeeBps      float64 `yaml:"fee_bps" default:"4" validate:"gte=0"`
}

type MarketConfig struct {
	WebSocketURL   string        `yaml:"websocket_url" default:"wss://stream.binance.com:9443/ws" validate:"url"`
	Quote          string        `yaml:"quote" default:"USDT"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	BufferSize     int           `yaml:"buffer_size" default:"1000" validate:"gte=1"`
}

type KafkaTopics struct {
	Signals   string `yaml:"signals" default:"vpscalp.signals"`
	Positions string `yaml:"positions" default:"vpscalp.positions"`
	Risk      string `yaml:"risk" default:"vpscalp.risk"`
	Commands  string `yaml:"commands" default:"vpscalp.commands"`
	Logs      string `yaml:"logs" default:"vpscalp.logs"`
}

type KafkaProducerConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"5"`
	Linger       time.Duration `yaml:"linger" default:"50ms"`
	BatchSize    int           `yaml:"batch_size" default:"100"`
	BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
	Async        bool          `yaml:"async"`
}

type KafkaConsumerConfig struct {
	GroupID    string        `yaml:"group_id" default:"vpscalp"`
	Workers    int           `yaml:"workers" default:"1"`
	BufferSize int           `yaml:"buffer_size" default:"16"`
	RetryMax   int           `yaml:"retry_max" default:"3"`
	BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
	BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
	DLQTopic   string        `yaml:"dlq_topic"`
	MinBytes   int           `yaml:"min_bytes" default:"1"`
	MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
}

type KafkaConfig struct {
	Enabled      bool                `yaml:"enabled"`
	Brokers      []string            `yaml:"brokers"`
	RequiredAcks int                 `yaml:"required_acks" default:"1"`
	Compression  string              `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Topics       KafkaTopics         `yaml:"topics"`
	Producer     KafkaProducerConfig `yaml:"producer"`
	Consumer     KafkaConsumerConfig `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost" validate:"required"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"vpscalp" validate:"required"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix" default:"vpscalp"`
	PoolSize int           `yaml:"pool_size" default:"10"`
	Timeout  time.Duration `yaml:"timeout" default:"3s"`
}

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"oneof=development staging production"`
	Server      ServerConfig     `yaml:"server"`
	Logging     LoggingConfig    `yaml:"logging"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Trading     TradingConfig    `yaml:"trading"`
	Strategy    StrategyConfig   `yaml:"strategy"`
	Risk        RiskConfig       `yaml:"risk"`
	Decision    DecisionConfig   `yaml:"decision"`
	Execution   ExecutionConfig  `yaml:"execution"`
	Market      MarketConfig     `yaml:"market"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Redis       RedisConfig      `yaml:"redis"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.finalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.finalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) finalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Trading.Symbols = util.SplitCSV(v)
	}
	if v := getenv("TIMEFRAMES"); v != "" {
		c.Trading.Timeframes = util.SplitCSV(v)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
		c.Kafka.Enabled = true
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	c.Redis.DB = util.ParseIntDefault(getenv("REDIS_DB"), c.Redis.DB)
	c.ClickHouse.Port = util.ParseIntDefault(getenv("CLICKHOUSE_PORT"), c.ClickHouse.Port)
	c.Risk.MaxLossUSD = util.ParseFloatDefault(getenv("MAX_LOSS_USD"), c.Risk.MaxLossUSD)
	if v := getenv("DECISION_SERVICE_URL"); v != "" {
		c.Decision.ServiceURL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("USD_SIZE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("USD_SIZE: %w", err)
		}
		c.Trading.USDSize = f
	}
	return nil
}

// Validate checks constraints spanning several fields.
func (c *Config) Validate() error {
	var errs []error
	if c.Strategy.LookbackMin > c.Strategy.LookbackMax {
		errs = append(errs, fmt.Errorf("strategy.lookback_min %d exceeds lookback_max %d", c.Strategy.LookbackMin, c.Strategy.LookbackMax))
	}
	if c.Strategy.ATRMinPct >= c.Strategy.ATRMaxPct {
		errs = append(errs, fmt.Errorf("strategy.atr_min_pct must be below atr_max_pct"))
	}
	if c.Strategy.MinLeverage > c.Strategy.MaxLeverage {
		errs = append(errs, fmt.Errorf("strategy.min_leverage exceeds max_leverage"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka.brokers required when kafka is enabled"))
	}
	if c.Trading.CycleTimeout >= c.Trading.CycleInterval {
		errs = append(errs, fmt.Errorf("trading.cycle_timeout must be shorter than cycle_interval"))
	}
	return errors.Join(errs...)
}
