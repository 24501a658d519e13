package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Generator GeneratorConfig `mapstructure:"generator"`
}

type AppConfig struct {
	Port            string        `mapstructure:"port"`
	Env             string        `mapstructure:"env"` // e.g., "local", "prod"
	MetricsPath     string        `mapstructure:"metrics_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// BroadcastConfig drives the price fan-out engine.
type BroadcastConfig struct {
	// Interval between broadcast cycles. Defaults to 5s and must be positive.
	Interval time.Duration `mapstructure:"interval"`
	// PingInterval between liveness frames. Must be shorter than Interval.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// ResolveTimeout bounds every single quote lookup.
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
	// MaxConcurrentResolves caps in-flight lookups per cycle; 0 means one per distinct symbol.
	MaxConcurrentResolves int `mapstructure:"max_concurrent_resolves"`
	// BatchUpdates sends one "updates" frame per subscriber instead of one frame per symbol.
	BatchUpdates bool `mapstructure:"batch_updates"`
}

type ResolverConfig struct {
	MaxQuoteAge        time.Duration `mapstructure:"max_quote_age"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
}

type GatewayConfig struct {
	ValidTickers         []string      `mapstructure:"valid_tickers"` // empty accepts any symbol
	MaxSymbolsPerClient  int           `mapstructure:"max_symbols_per_client"`
	SendBuffer           int           `mapstructure:"send_buffer"`
	WriteWait            time.Duration `mapstructure:"write_wait"`
	PongWait             time.Duration `mapstructure:"pong_wait"`
	WSPingPeriod         time.Duration `mapstructure:"ws_ping_period"`
	MessagesPerSecond    float64       `mapstructure:"messages_per_second"`
	MessageBurst         int           `mapstructure:"message_burst"`
	ConnectionsPerSecond float64       `mapstructure:"connections_per_second_per_ip"`
}

type ProcessorConfig struct {
	NumWorkers  int           `mapstructure:"num_workers"`
	QueueSize   int           `mapstructure:"queue_size"` // per-worker buffer; full queues drop ticks
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
}

type GeneratorConfig struct {
	Tickers      []string           `mapstructure:"tickers"`
	Partitions   int                `mapstructure:"partitions"`
	BasePrices   map[string]float64 `mapstructure:"base_prices"`
	TickInterval time.Duration      `mapstructure:"tick_interval"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// .env values become real env vars, so APP_PORT etc. are visible to viper below.
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// "app.port" -> "APP_PORT"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper only maps flat env vars onto nested keys it already knows about.
	bindEnv(v, "app.port", "app.env", "app.metrics_path", "app.shutdown_timeout")
	bindEnv(v, "logger.level", "logger.format")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id")
	bindEnv(v, "broadcast.interval", "broadcast.ping_interval", "broadcast.resolve_timeout",
		"broadcast.max_concurrent_resolves", "broadcast.batch_updates")
	bindEnv(v, "resolver.max_quote_age", "resolver.breaker_max_failures", "resolver.breaker_open_timeout")
	bindEnv(v, "gateway.valid_tickers", "gateway.max_symbols_per_client", "gateway.send_buffer",
		"gateway.write_wait", "gateway.pong_wait", "gateway.ws_ping_period",
		"gateway.messages_per_second", "gateway.message_burst", "gateway.connections_per_second_per_ip")
	bindEnv(v, "processor.num_workers", "processor.queue_size", "processor.snapshot_ttl", "processor.metrics_addr")
	bindEnv(v, "generator.tickers", "generator.partitions", "generator.tick_interval")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.metrics_path", "/metrics")
	v.SetDefault("app.shutdown_timeout", 10*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_ticks")
	v.SetDefault("kafka.group_id", "stock-processor-group")

	v.SetDefault("broadcast.interval", 5*time.Second)
	v.SetDefault("broadcast.ping_interval", 2*time.Second)
	v.SetDefault("broadcast.resolve_timeout", 2*time.Second)
	v.SetDefault("broadcast.max_concurrent_resolves", 0)
	v.SetDefault("broadcast.batch_updates", true)

	v.SetDefault("resolver.max_quote_age", time.Minute)
	v.SetDefault("resolver.breaker_max_failures", 5)
	v.SetDefault("resolver.breaker_open_timeout", 30*time.Second)

	v.SetDefault("gateway.valid_tickers", []string{})
	v.SetDefault("gateway.max_symbols_per_client", 100)
	v.SetDefault("gateway.send_buffer", 256)
	v.SetDefault("gateway.write_wait", 5*time.Second)
	v.SetDefault("gateway.pong_wait", 60*time.Second)
	v.SetDefault("gateway.ws_ping_period", 50*time.Second)
	v.SetDefault("gateway.messages_per_second", 10.0)
	v.SetDefault("gateway.message_burst", 20)
	v.SetDefault("gateway.connections_per_second_per_ip", 5.0)

	v.SetDefault("processor.num_workers", 4)
	v.SetDefault("processor.queue_size", 100)
	v.SetDefault("processor.snapshot_ttl", time.Hour)
	v.SetDefault("processor.metrics_addr", ":9101")

	v.SetDefault("generator.tickers", []string{"AAPL", "GOOG", "TSLA", "AMZN", "MSFT"})
	v.SetDefault("generator.base_prices", map[string]float64{
		"AAPL": 150.0, "GOOG": 2800.0, "TSLA": 700.0, "AMZN": 3400.0, "MSFT": 300.0,
	})
	v.SetDefault("generator.partitions", 4)
	v.SetDefault("generator.tick_interval", 100*time.Millisecond)
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.Broadcast.Interval <= 0 {
		return fmt.Errorf("broadcast.interval must be positive, got %s", c.Broadcast.Interval)
	}
	if c.Broadcast.PingInterval <= 0 {
		return fmt.Errorf("broadcast.ping_interval must be positive, got %s", c.Broadcast.PingInterval)
	}
	if c.Broadcast.PingInterval >= c.Broadcast.Interval {
		return fmt.Errorf("broadcast.ping_interval (%s) must be shorter than broadcast.interval (%s)",
			c.Broadcast.PingInterval, c.Broadcast.Interval)
	}
	if c.Broadcast.ResolveTimeout <= 0 {
		return fmt.Errorf("broadcast.resolve_timeout must be positive, got %s", c.Broadcast.ResolveTimeout)
	}
	if c.Broadcast.MaxConcurrentResolves < 0 {
		return fmt.Errorf("broadcast.max_concurrent_resolves cannot be negative")
	}
	if c.Processor.NumWorkers <= 0 {
		return fmt.Errorf("processor.num_workers must be positive, got %d", c.Processor.NumWorkers)
	}
	if c.Gateway.SendBuffer <= 0 {
		return fmt.Errorf("gateway.send_buffer must be positive, got %d", c.Gateway.SendBuffer)
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
