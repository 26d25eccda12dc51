package ops

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketstream/internal/candle"
	"marketstream/internal/model/enum"
	"marketstream/internal/stream"
	"marketstream/pkg/exception"
)

// EnvPrefix prefixes every environment override, e.g. STREAM_BUFFERSIZE.
const EnvPrefix = "STREAM"

// FileConfig mirrors the config file layout.
type FileConfig struct {
	BufferSize            int              `mapstructure:"bufferSize"`
	ThrottleMs            int              `mapstructure:"throttleMs"`
	BatchSize             int              `mapstructure:"batchSize"`
	MaxMemoryMB           float64          `mapstructure:"maxMemoryMB"`
	BackPressureThreshold float64          `mapstructure:"backPressureThreshold"`
	PriorityCategories    []string         `mapstructure:"priorityCategories"`
	EnableCache           *bool            `mapstructure:"enableCache"`
	CacheTTLMs            int              `mapstructure:"cacheTTLMs"`
	MemoryCheckIntervalMs int              `mapstructure:"memoryCheckIntervalMs"`
	DynamicSizingEnabled  *bool            `mapstructure:"dynamicSizingEnabled"`
	Symbols               []string         `mapstructure:"symbols"`
	Categories            []string         `mapstructure:"categories"`
	Timeframes            []string         `mapstructure:"timeframes"`
	OrderBookDepth        *int             `mapstructure:"orderBookDepth"`
	TickerDedupThreshold  *float64         `mapstructure:"tickerDedupThreshold"`
	DropPolicy            DropPolicyConfig `mapstructure:"dropPolicy"`

	HTTP      HTTPConfig      `mapstructure:"http"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// DropPolicyConfig holds the ratios above which tickers and liquidations are
// dropped under backpressure.
type DropPolicyConfig struct {
	TickerAbove      float64 `mapstructure:"tickerAbove"`
	LiquidationAbove float64 `mapstructure:"liquidationAbove"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"keyPrefix"`
	TTLMs     int    `mapstructure:"ttlMs"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type PostgresConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"sslMode"`
	MaxOpenConns int    `mapstructure:"maxOpenConns"`
	MaxIdleConns int    `mapstructure:"maxIdleConns"`
	QueueSize    int    `mapstructure:"queueSize"`

	ApplicationName  string `mapstructure:"applicationName"`
	ConnectTimeoutMs int    `mapstructure:"connectTimeoutMs"`
}

type FeedConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	URL     string   `mapstructure:"url"`
	Streams []string `mapstructure:"streams"`
}

// JournalConfig controls capture of ingested feed events to disk.
type JournalConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Dir                  string `mapstructure:"dir"`
	SegmentMaxBytes      int64  `mapstructure:"segmentMaxBytes"`
	SegmentMaxDurationMs int    `mapstructure:"segmentMaxDurationMs"`
	QueueSize            int    `mapstructure:"queueSize"`
	FlushIntervalMs      int    `mapstructure:"flushIntervalMs"`
}

type ProfilingConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ServerAddress   string `mapstructure:"serverAddress"`
	ApplicationName string `mapstructure:"applicationName"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Stream    stream.Config
	HTTP      HTTPConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Postgres  PostgresConfig
	Feed      FeedConfig
	Journal   JournalConfig
	Profiling ProfilingConfig
}

var collaboratorDefaults = map[string]any{
	"http.enabled":              true,
	"http.addr":                 ":8080",
	"redis.enabled":             false,
	"redis.addr":                "localhost:6379",
	"redis.db":                  0,
	"redis.keyPrefix":           "marketstream",
	"redis.ttlMs":               60_000,
	"kafka.enabled":             false,
	"kafka.brokers":             []string{"localhost:9092"},
	"kafka.topic":               "candles",
	"postgres.enabled":          false,
	"postgres.host":             "localhost",
	"postgres.port":             5432,
	"postgres.sslMode":          "disable",
	"postgres.applicationName":  "marketstream",
	"postgres.connectTimeoutMs": 5000,
	"postgres.maxOpenConns":     10,
	"postgres.maxIdleConns":     2,
	"postgres.queueSize":        1024,
	"feed.enabled":              false,
	"feed.url":                  "wss://stream.binance.com:9443/stream",
	"feed.streams":              []string{"trade", "ticker"},
	"journal.enabled":           false,
	"journal.dir":               "data/journal",
	"journal.flushIntervalMs":   1000,
	"profiling.enabled":         false,
	"profiling.serverAddress":   "http://localhost:4040",
	"profiling.applicationName": "marketstream",
}

// envKeys are bound explicitly so flat environment variables reach nested
// keys that have no default.
var envKeys = []string{
	"bufferSize", "throttleMs", "batchSize", "maxMemoryMB", "backPressureThreshold",
	"priorityCategories", "enableCache", "cacheTTLMs", "memoryCheckIntervalMs",
	"dynamicSizingEnabled", "symbols", "categories", "timeframes", "orderBookDepth",
	"tickerDedupThreshold", "dropPolicy.tickerAbove", "dropPolicy.liquidationAbove",
	"redis.password", "postgres.user", "postgres.password", "postgres.database",
}

// Load reads an optional .env file, an optional config file at path and
// STREAM_ prefixed environment overrides. A missing file is not an error.
func Load(path string) (Loaded, error) {
	if err := godotenv.Load(); err != nil {
		logs.Debugf("no .env file loaded, err: %+v", err)
	}

	v := viper.New()
	for key, value := range collaboratorDefaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return Loaded{}, errors.Wrapf(err, "bind env %s", key)
		}
	}

	if len(path) != 0 {
		if _, err := os.Stat(path); err != nil {
			logs.Warnf("config file %s not readable, use defaults, err: %+v", path, err)
		} else {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return Loaded{}, errors.Wrap(exception.ErrInvalidConfig, err.Error()).With("path", path)
			}
		}
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return Loaded{}, errors.Wrap(exception.ErrInvalidConfig, err.Error())
	}
	return Resolve(cfg)
}

// Resolve converts a file config into runtime configuration, filling defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	sc, err := resolveStream(cfg)
	if err != nil {
		return Loaded{}, err
	}
	if err := sc.Validate(); err != nil {
		return Loaded{}, err
	}
	return Loaded{
		Stream:    sc,
		HTTP:      cfg.HTTP,
		Redis:     cfg.Redis,
		Kafka:     cfg.Kafka,
		Postgres:  cfg.Postgres,
		Feed:      cfg.Feed,
		Journal:   cfg.Journal,
		Profiling: cfg.Profiling,
	}, nil
}

func resolveStream(cfg FileConfig) (stream.Config, error) {
	sc := stream.DefaultConfig()
	if cfg.BufferSize != 0 {
		sc.BufferSize = cfg.BufferSize
	}
	if cfg.ThrottleMs != 0 {
		sc.Throttle = millis(cfg.ThrottleMs)
	}
	if cfg.BatchSize != 0 {
		sc.BatchSize = cfg.BatchSize
	}
	if cfg.MaxMemoryMB != 0 {
		sc.MaxMemoryMB = cfg.MaxMemoryMB
	}
	if cfg.BackPressureThreshold != 0 {
		sc.BackPressureThreshold = cfg.BackPressureThreshold
	}
	if cfg.CacheTTLMs != 0 {
		sc.CacheTTL = millis(cfg.CacheTTLMs)
	}
	if cfg.MemoryCheckIntervalMs != 0 {
		sc.MemoryCheckInterval = millis(cfg.MemoryCheckIntervalMs)
	}
	if cfg.EnableCache != nil {
		sc.EnableCache = *cfg.EnableCache
	}
	if cfg.DynamicSizingEnabled != nil {
		sc.DynamicSizing = *cfg.DynamicSizingEnabled
	}
	if cfg.OrderBookDepth != nil {
		sc.OrderBookDepth = *cfg.OrderBookDepth
	}
	if cfg.TickerDedupThreshold != nil {
		sc.TickerDedupThreshold = *cfg.TickerDedupThreshold
	}
	if cfg.DropPolicy.TickerAbove != 0 {
		sc.Drop.TickerAbove = cfg.DropPolicy.TickerAbove
	}
	if cfg.DropPolicy.LiquidationAbove != 0 {
		sc.Drop.LiquidationAbove = cfg.DropPolicy.LiquidationAbove
	}

	for _, sym := range cfg.Symbols {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); len(sym) != 0 {
			sc.Symbols = append(sc.Symbols, sym)
		}
	}

	var err error
	if len(cfg.PriorityCategories) != 0 {
		if sc.PriorityCategories, err = parseCategories(cfg.PriorityCategories); err != nil {
			return stream.Config{}, err
		}
	}
	if len(cfg.Categories) != 0 {
		if sc.Categories, err = parseCategories(cfg.Categories); err != nil {
			return stream.Config{}, err
		}
	}

	if len(cfg.Timeframes) != 0 {
		sc.Timeframes = sc.Timeframes[:0:0]
		for _, s := range cfg.Timeframes {
			tf, err := candle.ParseTimeframe(s)
			if err != nil {
				return stream.Config{}, errors.Wrap(exception.ErrInvalidConfig, err.Error())
			}
			sc.Timeframes = append(sc.Timeframes, tf)
		}
	}
	return sc, nil
}

func parseCategories(names []string) ([]enum.Category, error) {
	cats := make([]enum.Category, 0, len(names))
	for _, name := range names {
		cat, ok := enum.ParseCategory(name)
		if !ok {
			return nil, errors.Wrapf(exception.ErrInvalidConfig, "unknown category %q", name)
		}
		cats = append(cats, cat)
	}
	return cats, nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
