package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/spf13/viper"
)

// Storage backends
const (
	StorageBackendMemory = "memory"
	StorageBackendRedis  = "redis"
)

// Pool creation policies for wager-tiered games
const (
	PoolCreationDefault       = "default"
	PoolCreationWagerBasedAll = "wager_based_all"
	PoolCreationWagerBasedMax = "wager_based_max"
)

// Kafka topic keys looked up in KafkaConfig.Topics
const (
	TopicProgressiveEvents = "progressive_events"
	TopicLinkedHost        = "linked_host"
)

// Config holds all application configuration
type Config struct {
	Environment      string                 `mapstructure:"environment"`
	Server           ServerConfig           `mapstructure:"server"`
	Redis            RedisConfig            `mapstructure:"redis"`
	Kafka            KafkaConfig            `mapstructure:"kafka"`
	JWT              JWTConfig              `mapstructure:"jwt"`
	Logging          logging.Config         `mapstructure:"logging"`
	Storage          StorageConfig          `mapstructure:"storage"`
	Progressive      ProgressiveConfig      `mapstructure:"progressive"`
	ExternalServices ExternalServicesConfig `mapstructure:"external_services"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// RequestTimeout bounds each API request except the notification streams.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// AllowOrigins enables CORS for the operator console when not empty.
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers       []string          `mapstructure:"brokers"`
	ConsumerGroup string            `mapstructure:"consumer_group"`
	Topics        map[string]string `mapstructure:"topics"`
}

// JWTConfig holds JWT configuration for operator endpoints
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

// StorageConfig selects the persistence backend for progressive blocks
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ProgressiveConfig holds the progressive engine settings
type ProgressiveConfig struct {
	// PoolCreationType is one of default, wager_based_all, wager_based_max.
	PoolCreationType string `mapstructure:"pool_creation_type"`
	// MonitorInterval is the linked level expiration scan period.
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	// ClaimTimeout is how long a linked host has to claim a hit before CommitTimeout is raised.
	ClaimTimeout time.Duration `mapstructure:"claim_timeout"`
	// ManifestPath is a YAML file or directory describing games and progressive packs.
	ManifestPath string `mapstructure:"manifest_path"`
}

// ExternalServicesConfig holds external service configurations
type ExternalServicesConfig struct {
	HistoryService ServiceConfig `mapstructure:"history_service"`
}

// ServiceConfig holds external service configuration
type ServiceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load loads configuration from YAML file using Viper
func Load(filename string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(filename)
	v.SetConfigType("yaml")

	// Enable environment variable substitution
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	var config Config
	config.setDefaults()
	return &config
}

// setDefaults sets default values for missing configuration
func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "progressived"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendMemory
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "progressive"
	}
	if c.Progressive.PoolCreationType == "" {
		c.Progressive.PoolCreationType = PoolCreationDefault
	}
	if c.Progressive.MonitorInterval == 0 {
		c.Progressive.MonitorInterval = 250 * time.Millisecond
	}
	if c.Progressive.ClaimTimeout == 0 {
		c.Progressive.ClaimTimeout = 30 * time.Second
	}
	if c.ExternalServices.HistoryService.Timeout == 0 {
		c.ExternalServices.HistoryService.Timeout = 10 * time.Second
	}
	if c.JWT.Expiration == 0 {
		c.JWT.Expiration = 12 * time.Hour
	}
}

// Validate checks enumerated settings
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageBackendMemory, StorageBackendRedis:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Progressive.PoolCreationType {
	case PoolCreationDefault, PoolCreationWagerBasedAll, PoolCreationWagerBasedMax:
	default:
		return fmt.Errorf("unknown pool creation type %q", c.Progressive.PoolCreationType)
	}
	return nil
}

// Topic returns the configured topic name for key, or key itself when unset.
func (c *KafkaConfig) Topic(key string) string {
	if name, ok := c.Topics[key]; ok && name != "" {
		return name
	}
	return key
}

// IsDevelopment returns true if environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsProduction returns true if environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
