package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Betstream    BetstreamConfig    `yaml:"betstream"`
	Stream       StreamConfig       `yaml:"stream"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Auth         AuthConfig         `yaml:"auth"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

type BetstreamConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type StreamConfig struct {
	Endpoint        string          `yaml:"endpoint"`
	DialTimeout     time.Duration   `yaml:"dial_timeout"`
	ReadBufferBytes int             `yaml:"read_buffer_bytes"`
	WriteRateLimit  RateLimitConfig `yaml:"write_rate_limit"`
	Reconnect       ReconnectConfig `yaml:"reconnect"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Factor      float64       `yaml:"factor"`
}

type SubscriptionConfig struct {
	HeartbeatMs         int64              `yaml:"heartbeat_ms"`
	ConflateMs          int64              `yaml:"conflate_ms"`
	SegmentationEnabled bool               `yaml:"segmentation_enabled"`
	LadderLevels        int                `yaml:"ladder_levels"`
	Fields              []string           `yaml:"fields"`
	MarketIDs           []string           `yaml:"market_ids"`
	EventTypeIDs        []string           `yaml:"event_type_ids"`
	CountryCodes        []string           `yaml:"country_codes"`
	MarketTypes         []string           `yaml:"market_types"`
	Orders              OrderStreamConfig  `yaml:"orders"`
}

type OrderStreamConfig struct {
	Enabled                bool `yaml:"enabled"`
	IncludeOverallPosition bool `yaml:"include_overall_position"`
}

type AuthConfig struct {
	AppKey          string `yaml:"app_key"`
	SessionToken    string `yaml:"session_token"`
	SessionTokenEnv string `yaml:"session_token_env"`
}

type ChannelsConfig struct {
	DecodedBuffer int `yaml:"decoded_buffer"`
	RawBuffer     int `yaml:"raw_buffer"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

type MetricsConfig struct {
	CloudWatch     bool          `yaml:"cloudwatch"`
	Region         string        `yaml:"region"`
	Namespace      string        `yaml:"namespace"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// Default endpoints per environment; an explicit stream.endpoint wins.
var defaultEndpoints = map[string]string{
	environmentProduction:  "stream-api.betfair.com:443",
	environmentStaging:     "stream-api-integration.betfair.com:443",
	environmentDevelopment: "stream-api-integration.betfair.com:443",
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Stream: StreamConfig{
			DialTimeout:     10 * time.Second,
			ReadBufferBytes: 8 * 1024 * 1024,
			WriteRateLimit:  RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5},
			Reconnect: ReconnectConfig{
				MaxAttempts: 10,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    30 * time.Second,
				Factor:      2,
			},
		},
		Subscription: SubscriptionConfig{
			HeartbeatMs: 5000,
		},
		Channels: ChannelsConfig{DecodedBuffer: 1024, RawBuffer: 256},
		Metrics:  MetricsConfig{ReportInterval: time.Minute},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Stream.Endpoint == "" {
		config.Stream.Endpoint = defaultEndpoints[getAppEnvironment()]
	}

	// Credentials prefer the environment over the file.
	if v := os.Getenv("APP_KEY"); v != "" {
		config.Auth.AppKey = strings.TrimSpace(v)
	}
	if config.Auth.SessionTokenEnv == "" {
		config.Auth.SessionTokenEnv = "SESSION_TOKEN"
	}
	if v := os.Getenv(config.Auth.SessionTokenEnv); v != "" {
		config.Auth.SessionToken = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Betstream.Name == "" {
		return fmt.Errorf("betstream.name is required")
	}
	if cfg.Betstream.Version == "" {
		return fmt.Errorf("betstream.version is required")
	}

	if cfg.Stream.Endpoint == "" {
		return fmt.Errorf("stream.endpoint is required")
	}
	if cfg.Stream.ReadBufferBytes <= 0 {
		return fmt.Errorf("stream.read_buffer_bytes must be greater than 0")
	}
	if cfg.Stream.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("stream.reconnect.max_attempts must be greater than 0")
	}
	if cfg.Stream.Reconnect.BaseDelay <= 0 || cfg.Stream.Reconnect.MaxDelay < cfg.Stream.Reconnect.BaseDelay {
		return fmt.Errorf("stream.reconnect delays are invalid")
	}

	if cfg.Subscription.HeartbeatMs < 500 || cfg.Subscription.HeartbeatMs > 5000 {
		return fmt.Errorf("subscription.heartbeat_ms must be between 500 and 5000")
	}
	if cfg.Subscription.ConflateMs < 0 {
		return fmt.Errorf("subscription.conflate_ms must not be negative")
	}
	if cfg.Subscription.LadderLevels < 0 || cfg.Subscription.LadderLevels > 10 {
		return fmt.Errorf("subscription.ladder_levels must be between 1 and 10")
	}

	if cfg.Channels.DecodedBuffer <= 0 {
		return fmt.Errorf("channels.decoded_buffer must be greater than 0")
	}
	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}

	if cfg.Auth.AppKey == "" && IsProductionLike(getAppEnvironment()) {
		return fmt.Errorf("auth.app_key is required (set APP_KEY or auth.app_key)")
	}

	return nil
}
