package config

import (
	"fmt"
	"os"
	"time"

	"relaycast/pkg/utils"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Scheduler struct {
		SweepInterval      time.Duration `yaml:"sweep_interval"`
		MaxPromoteAttempts int           `yaml:"max_promote_attempts"`
	} `yaml:"scheduler"`

	Realtime struct {
		SnapshotInterval time.Duration `yaml:"snapshot_interval"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		PongTimeout      time.Duration `yaml:"pong_timeout"`
	} `yaml:"realtime"`

	Transmitter struct {
		FFmpegPath  string        `yaml:"ffmpeg_path"`
		IngestURL   string        `yaml:"ingest_url"`
		StopTimeout time.Duration `yaml:"stop_timeout"`
	} `yaml:"transmitter"`

	Storage struct {
		DownloadDir    string        `yaml:"download_dir"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"storage"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Scheduler.SweepInterval <= 0 {
		return fmt.Errorf("scheduler.sweep_interval must be > 0")
	}
	if c.Scheduler.MaxPromoteAttempts <= 0 {
		return fmt.Errorf("scheduler.max_promote_attempts must be > 0")
	}

	if c.Realtime.SnapshotInterval <= 0 {
		return fmt.Errorf("realtime.snapshot_interval must be > 0")
	}
	if c.Realtime.PingInterval <= 0 {
		return fmt.Errorf("realtime.ping_interval must be > 0")
	}
	if c.Realtime.WriteTimeout <= 0 {
		return fmt.Errorf("realtime.write_timeout must be > 0")
	}
	if c.Realtime.PongTimeout <= 0 {
		return fmt.Errorf("realtime.pong_timeout must be > 0")
	}

	if c.Transmitter.FFmpegPath == "" {
		return fmt.Errorf("transmitter.ffmpeg_path must not be empty")
	}
	if c.Transmitter.StopTimeout <= 0 {
		return fmt.Errorf("transmitter.stop_timeout must be > 0")
	}

	if c.Storage.DownloadDir == "" {
		return fmt.Errorf("storage.download_dir must not be empty")
	}
	if c.Storage.RequestTimeout <= 0 {
		return fmt.Errorf("storage.request_timeout must be > 0")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8000"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Scheduler.SweepInterval = 5 * time.Second
	cfg.Scheduler.MaxPromoteAttempts = 5

	cfg.Realtime.SnapshotInterval = 5 * time.Second
	cfg.Realtime.PingInterval = 30 * time.Second
	cfg.Realtime.WriteTimeout = 10 * time.Second
	cfg.Realtime.PongTimeout = 60 * time.Second

	cfg.Transmitter.FFmpegPath = "ffmpeg"
	cfg.Transmitter.IngestURL = "rtmp://127.0.0.1:1935/live"
	cfg.Transmitter.StopTimeout = 10 * time.Second

	cfg.Storage.DownloadDir = "downloads"
	cfg.Storage.RequestTimeout = 10 * time.Minute

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "relaycast"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("RELAYCAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("RELAYCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv("RELAYCAST_DOWNLOAD_DIR"); dir != "" {
		c.Storage.DownloadDir = dir
	}
	if path := os.Getenv("RELAYCAST_FFMPEG_PATH"); path != "" {
		c.Transmitter.FFmpegPath = path
	}
	if addr := os.Getenv("RELAYCAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if interval := os.Getenv("RELAYCAST_SWEEP_INTERVAL"); interval != "" {
		c.Scheduler.SweepInterval = utils.ParseDurationSafe(interval, c.Scheduler.SweepInterval)
	}
}
