package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sabarim/stockharvest/internal/export"
	"github.com/sabarim/stockharvest/internal/fetcher"
	"github.com/sabarim/stockharvest/internal/historical"
	"github.com/sabarim/stockharvest/internal/lock"
	"github.com/sabarim/stockharvest/internal/notify"
	"github.com/sabarim/stockharvest/internal/pipeline"
	"github.com/sabarim/stockharvest/internal/ratelimit"
	"github.com/sabarim/stockharvest/internal/retry"
	"github.com/sabarim/stockharvest/internal/storage"
	"github.com/sabarim/stockharvest/internal/writer"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HARVEST"

// Config defines the application configuration structure
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Writer   WriterConfig   `mapstructure:"writer" yaml:"writer"`
	Source   SourceConfig   `mapstructure:"source" yaml:"source"`
	Storage  storage.Config `mapstructure:"storage" yaml:"storage"`
	Lock     lock.Config    `mapstructure:"lock" yaml:"lock"`
	Notify   notify.Config  `mapstructure:"notify" yaml:"notify"`
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
	Export   export.Config  `mapstructure:"export" yaml:"export"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// PipelineConfig defines concurrency, planning and fetch retry settings
type PipelineConfig struct {
	MaxConcurrentSymbols         int           `mapstructure:"max_concurrent_symbols" yaml:"max_concurrent_symbols"`
	MaxConcurrentChunksPerSymbol int           `mapstructure:"max_concurrent_chunks_per_symbol" yaml:"max_concurrent_chunks_per_symbol"`
	GlobalAdmissionLimit         int64         `mapstructure:"global_admission_limit" yaml:"global_admission_limit"`
	GlobalRequestRate            float64       `mapstructure:"global_request_rate" yaml:"global_request_rate"`
	MinRequestInterval           time.Duration `mapstructure:"min_request_interval" yaml:"min_request_interval"`
	MaxChunkDays                 int           `mapstructure:"max_chunk_days" yaml:"max_chunk_days"`
	LookbackYears                int           `mapstructure:"lookback_years" yaml:"lookback_years"`
	FetchRetryCount              int           `mapstructure:"fetch_retry_count" yaml:"fetch_retry_count"`
	FetchRetryBackoffBase        time.Duration `mapstructure:"fetch_retry_backoff_base" yaml:"fetch_retry_backoff_base"`
	LivenessWindow               time.Duration `mapstructure:"liveness_window" yaml:"liveness_window"`
}

// WriterConfig defines the batch writer settings
type WriterConfig struct {
	BatchFlushSize        int           `mapstructure:"batch_flush_size" yaml:"batch_flush_size"`
	QueueCapacity         int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	WriteRetryCount       int           `mapstructure:"write_retry_count" yaml:"write_retry_count"`
	WriteRetryBackoffBase time.Duration `mapstructure:"write_retry_backoff_base" yaml:"write_retry_backoff_base"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	DrainTimeout          time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	EnqueueBatchSize      int           `mapstructure:"enqueue_batch_size" yaml:"enqueue_batch_size"`
}

// SourceConfig defines the external history source
type SourceConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	SymbolsURL     string        `mapstructure:"symbols_url" yaml:"symbols_url"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

// ScheduleConfig defines periodic runs
type ScheduleConfig struct {
	Cron       string `mapstructure:"cron" yaml:"cron"`
	StatusAddr string `mapstructure:"status_addr" yaml:"status_addr"`
}

// LogConfig defines log output
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// envBindings maps nested keys to their environment variables.
var envBindings = []string{
	"pipeline.max_concurrent_symbols",
	"pipeline.max_concurrent_chunks_per_symbol",
	"pipeline.global_admission_limit",
	"pipeline.global_request_rate",
	"pipeline.min_request_interval",
	"pipeline.max_chunk_days",
	"pipeline.lookback_years",
	"pipeline.fetch_retry_count",
	"pipeline.fetch_retry_backoff_base",
	"pipeline.liveness_window",
	"writer.batch_flush_size",
	"writer.queue_capacity",
	"writer.write_retry_count",
	"writer.write_retry_backoff_base",
	"writer.idle_timeout",
	"writer.drain_timeout",
	"writer.enqueue_batch_size",
	"source.base_url",
	"source.symbols_url",
	"source.user_agent",
	"source.connect_timeout",
	"source.read_timeout",
	"storage.driver",
	"storage.postgres_dsn",
	"storage.sqlite_path",
	"lock.redis_addr",
	"lock.redis_password",
	"lock.redis_db",
	"lock.key",
	"lock.ttl",
	"notify.amqp_url",
	"notify.exchange",
	"schedule.cron",
	"schedule.status_addr",
	"export.format",
	"export.dir",
	"log.level",
	"log.format",
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadConfig loads configuration from file and overrides with environment variables.
// A missing file is not an error; defaults and environment values are used instead.
func LoadConfig(path string, log *logrus.Entry) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)

	for _, key := range envBindings {
		if err := v.BindEnv(key, EnvName(key)); err != nil {
			return Config{}, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), isNotExist(err):
			log.WithField("path", path).Info("Config file not found, using defaults and environment")
		default:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		log.WithField("path", v.ConfigFileUsed()).Info("Loaded config file")
	}

	// environment values take precedence over the file
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults sets default values for any config values not set from file or environment
func applyDefaults(cfg *Config) {
	p := &cfg.Pipeline
	if p.MaxConcurrentSymbols == 0 {
		p.MaxConcurrentSymbols = pipeline.DefaultSymbolWorkers()
	}
	if p.MaxConcurrentChunksPerSymbol == 0 {
		p.MaxConcurrentChunksPerSymbol = 3
	}
	if p.GlobalAdmissionLimit == 0 {
		p.GlobalAdmissionLimit = int64(p.MaxConcurrentSymbols * p.MaxConcurrentChunksPerSymbol)
	}
	if p.MinRequestInterval == 0 {
		p.MinRequestInterval = 500 * time.Millisecond
	}
	if p.MaxChunkDays == 0 {
		p.MaxChunkDays = historical.DefaultMaxChunkDays
	}
	if p.LookbackYears == 0 {
		p.LookbackYears = historical.DefaultLookbackYears
	}
	if p.FetchRetryCount == 0 {
		p.FetchRetryCount = 3
	}
	if p.FetchRetryBackoffBase == 0 {
		p.FetchRetryBackoffBase = 500 * time.Millisecond
	}
	if p.LivenessWindow == 0 {
		p.LivenessWindow = 30 * time.Second
	}

	w := &cfg.Writer
	if w.BatchFlushSize == 0 {
		w.BatchFlushSize = 5000
	}
	if w.QueueCapacity == 0 {
		w.QueueCapacity = 100
	}
	if w.WriteRetryCount == 0 {
		w.WriteRetryCount = 3
	}
	if w.WriteRetryBackoffBase == 0 {
		w.WriteRetryBackoffBase = 200 * time.Millisecond
	}
	if w.IdleTimeout == 0 {
		w.IdleTimeout = 5 * time.Second
	}
	if w.DrainTimeout == 0 {
		w.DrainTimeout = 5 * time.Minute
	}
	if w.EnqueueBatchSize == 0 {
		w.EnqueueBatchSize = 2500
	}

	s := &cfg.Source
	if s.BaseURL == "" {
		s.BaseURL = "https://www.mse.mk/en/stats/symbolhistory"
	}
	if s.SymbolsURL == "" {
		s.SymbolsURL = "https://www.mse.mk/en/stats/symbolhistory/adin"
	}
	if s.UserAgent == "" {
		s.UserAgent = "stockharvest/1.0"
	}
	if s.ConnectTimeout == 0 {
		s.ConnectTimeout = 5 * time.Second
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 15 * time.Second
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = storage.DriverSQLite
	}
	if cfg.Storage.Driver == storage.DriverSQLite && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "./stockharvest.db"
	}

	if cfg.Lock.Key == "" {
		cfg.Lock.Key = "stockharvest:run"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 2 * time.Hour
	}

	if cfg.Notify.Exchange == "" {
		cfg.Notify.Exchange = "stockharvest.runs"
	}

	if cfg.Schedule.Cron == "" {
		cfg.Schedule.Cron = "0 30 18 * * MON-FRI"
	}
	if cfg.Schedule.StatusAddr == "" {
		cfg.Schedule.StatusAddr = ":8080"
	}

	if cfg.Export.Format == "" {
		cfg.Export.Format = export.FormatParquet
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "./export"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.MaxConcurrentSymbols < 1 || p.MaxConcurrentSymbols > pipeline.MaxSymbolWorkers:
		return fmt.Errorf("pipeline.max_concurrent_symbols must be between 1 and %d, got %d",
			pipeline.MaxSymbolWorkers, p.MaxConcurrentSymbols)
	case p.MaxConcurrentChunksPerSymbol < 1:
		return fmt.Errorf("pipeline.max_concurrent_chunks_per_symbol must be positive, got %d", p.MaxConcurrentChunksPerSymbol)
	case p.GlobalAdmissionLimit < 1:
		return fmt.Errorf("pipeline.global_admission_limit must be positive, got %d", p.GlobalAdmissionLimit)
	case p.GlobalRequestRate < 0:
		return fmt.Errorf("pipeline.global_request_rate must not be negative, got %g", p.GlobalRequestRate)
	case p.MinRequestInterval < 0:
		return fmt.Errorf("pipeline.min_request_interval must not be negative, got %s", p.MinRequestInterval)
	case p.MaxChunkDays < 1:
		return fmt.Errorf("pipeline.max_chunk_days must be positive, got %d", p.MaxChunkDays)
	case p.LookbackYears < 1:
		return fmt.Errorf("pipeline.lookback_years must be positive, got %d", p.LookbackYears)
	case p.FetchRetryCount < 1:
		return fmt.Errorf("pipeline.fetch_retry_count must be positive, got %d", p.FetchRetryCount)
	case p.FetchRetryBackoffBase < 0:
		return fmt.Errorf("pipeline.fetch_retry_backoff_base must not be negative, got %s", p.FetchRetryBackoffBase)
	}

	w := c.Writer
	switch {
	case w.BatchFlushSize < 1:
		return fmt.Errorf("writer.batch_flush_size must be positive, got %d", w.BatchFlushSize)
	case w.QueueCapacity < 1:
		return fmt.Errorf("writer.queue_capacity must be positive, got %d", w.QueueCapacity)
	case w.WriteRetryCount < 1:
		return fmt.Errorf("writer.write_retry_count must be positive, got %d", w.WriteRetryCount)
	case w.WriteRetryBackoffBase < 0:
		return fmt.Errorf("writer.write_retry_backoff_base must not be negative, got %s", w.WriteRetryBackoffBase)
	case w.EnqueueBatchSize < 1:
		return fmt.Errorf("writer.enqueue_batch_size must be positive, got %d", w.EnqueueBatchSize)
	}

	if c.Source.BaseURL == "" {
		return errors.New("source.base_url is required")
	}

	switch c.Storage.Driver {
	case storage.DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	case storage.DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", storage.DriverSQLite, storage.DriverPostgres, c.Storage.Driver)
	}

	switch c.Export.Format {
	case export.FormatParquet, export.FormatCSV:
	default:
		return fmt.Errorf("export.format must be %q or %q, got %q", export.FormatParquet, export.FormatCSV, c.Export.Format)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

const redacted = "<redacted>"

// Redacted returns a copy with credentials masked.
func (c Config) Redacted() Config {
	if c.Storage.PostgresDSN != "" {
		c.Storage.PostgresDSN = redacted
	}
	if c.Lock.RedisPassword != "" {
		c.Lock.RedisPassword = redacted
	}
	if c.Notify.AMQPURL != "" {
		c.Notify.AMQPURL = redacted
	}
	return c
}

// Render returns the configuration as YAML with credentials masked.
func (c Config) Render() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return out, nil
}

// PipelineOptions returns the orchestrator settings.
func (c Config) PipelineOptions() pipeline.Config {
	return pipeline.Config{
		MaxConcurrentSymbols:         c.Pipeline.MaxConcurrentSymbols,
		MaxConcurrentChunksPerSymbol: c.Pipeline.MaxConcurrentChunksPerSymbol,
		EnqueueBatchSize:             c.Writer.EnqueueBatchSize,
		LivenessWindow:               c.Pipeline.LivenessWindow,
		DrainTimeout:                 c.Writer.DrainTimeout,
	}
}

// LimiterOptions returns the rate limiter settings.
func (c Config) LimiterOptions() ratelimit.Config {
	return ratelimit.Config{
		MinInterval:    c.Pipeline.MinRequestInterval,
		AdmissionLimit: c.Pipeline.GlobalAdmissionLimit,
		RequestRate:    c.Pipeline.GlobalRequestRate,
	}
}

// FetcherOptions returns the fetch worker settings. Fetch backoff doubles per attempt.
func (c Config) FetcherOptions() fetcher.Config {
	return fetcher.Config{
		BaseURL:        c.Source.BaseURL,
		UserAgent:      c.Source.UserAgent,
		ConnectTimeout: c.Source.ConnectTimeout,
		ReadTimeout:    c.Source.ReadTimeout,
		Retry: retry.Policy{
			MaxAttempts: c.Pipeline.FetchRetryCount,
			BaseDelay:   c.Pipeline.FetchRetryBackoffBase,
			Multiplier:  2,
		},
	}
}

// WriterOptions returns the batch writer settings.
func (c Config) WriterOptions() writer.Config {
	return writer.Config{
		FlushSize:     c.Writer.BatchFlushSize,
		QueueCapacity: c.Writer.QueueCapacity,
		IdleTimeout:   c.Writer.IdleTimeout,
		Retry: retry.Policy{
			MaxAttempts: c.Writer.WriteRetryCount,
			BaseDelay:   c.Writer.WriteRetryBackoffBase,
			Multiplier:  1.5,
		},
	}
}
