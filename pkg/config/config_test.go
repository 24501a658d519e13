package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.Port)
	assert.Equal(t, 5*time.Second, cfg.Broadcast.Interval)
	assert.Equal(t, 2*time.Second, cfg.Broadcast.PingInterval)
	assert.Equal(t, 2*time.Second, cfg.Broadcast.ResolveTimeout)
	assert.True(t, cfg.Broadcast.BatchUpdates)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 4, cfg.Processor.NumWorkers)
	assert.NotEmpty(t, cfg.Generator.BasePrices)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BROADCAST_INTERVAL", "10s")
	t.Setenv("BROADCAST_PING_INTERVAL", "3s")
	t.Setenv("BROADCAST_RESOLVE_TIMEOUT", "750ms")
	t.Setenv("GATEWAY_VALID_TICKERS", "AAPL,MSFT")
	t.Setenv("APP_PORT", ":9000")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.App.Port)
	assert.Equal(t, 10*time.Second, cfg.Broadcast.Interval)
	assert.Equal(t, 3*time.Second, cfg.Broadcast.PingInterval)
	assert.Equal(t, 750*time.Millisecond, cfg.Broadcast.ResolveTimeout)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Gateway.ValidTickers)
}

func TestLoadConfig_RejectsPingSlowerThanBroadcast(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BROADCAST_INTERVAL", "2s")
	t.Setenv("BROADCAST_PING_INTERVAL", "5s")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping_interval")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Kafka:     KafkaConfig{Brokers: []string{"b:9092"}},
			Broadcast: BroadcastConfig{Interval: 5 * time.Second, PingInterval: time.Second, ResolveTimeout: time.Second},
			Processor: ProcessorConfig{NumWorkers: 1},
			Gateway:   GatewayConfig{SendBuffer: 8},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"zero interval", func(c *Config) { c.Broadcast.Interval = 0 }},
		{"zero ping", func(c *Config) { c.Broadcast.PingInterval = 0 }},
		{"zero resolve timeout", func(c *Config) { c.Broadcast.ResolveTimeout = 0 }},
		{"negative concurrency", func(c *Config) { c.Broadcast.MaxConcurrentResolves = -1 }},
		{"no workers", func(c *Config) { c.Processor.NumWorkers = 0 }},
		{"no send buffer", func(c *Config) { c.Gateway.SendBuffer = 0 }},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
