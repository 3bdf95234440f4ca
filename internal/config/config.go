package config

import (
	"fmt"
	"time"
)

// Config represents the complete shell configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Control    ControlConfig    `mapstructure:"control"`
	Activity   ActivityConfig   `mapstructure:"activity"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig represents the local HTTP API the UI talks to
type ServerConfig struct {
	Host     string `mapstructure:"host"`      // Bind address, loopback by default
	HTTPPort int    `mapstructure:"http_port"` // HTTP API port
}

// PathsConfig locates the shell's own files
type PathsConfig struct {
	AppConfig string `mapstructure:"app_config"` // Global application document (JSON)
	DataRoot  string `mapstructure:"data_root"`  // Parent dir proposed for new instance data dirs
}

// SupervisorConfig configures worker process supervision
type SupervisorConfig struct {
	WorkerBinary string        `mapstructure:"worker_binary"` // Worker executable, overridable per application config
	GracePeriod  time.Duration `mapstructure:"grace_period"`  // Wait after stopping a worker during restart
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`  // SIGINT -> SIGKILL escalation delay
	StopOnExit   bool          `mapstructure:"stop_on_exit"`  // Stop children when the shell exits
}

// ControlConfig configures the per-instance control channel
type ControlConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	BackoffMaxDelay time.Duration `mapstructure:"backoff_max_delay"`
}

// ActivityConfig configures the per-instance activity log and its feed
type ActivityConfig struct {
	Capacity int        `mapstructure:"capacity"`
	Feed     FeedConfig `mapstructure:"feed"`
}

// FeedConfig selects where activity events are mirrored to
type FeedConfig struct {
	Type          string `mapstructure:"type"`           // none (default), memory, nats, redis, kafka
	URL           string `mapstructure:"url"`            // nats://..., redis://...
	SubjectPrefix string `mapstructure:"subject_prefix"` // Subject/topic prefix, instance id appended
	Password      string `mapstructure:"password"`       // Optional authentication

	// Redis-specific options
	RedisDB     int    `mapstructure:"redis_db"`
	RedisStream string `mapstructure:"redis_stream"`

	// Kafka-specific options
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaGroupID string   `mapstructure:"kafka_group_id"`
}

// AuthConfig represents authentication configuration of the HTTP API
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`  // Enable/disable API key authentication
	APIKeys []string `mapstructure:"api_keys"` // List of valid API keys
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, Unix, Kitchen
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Paths.Validate(); err != nil {
		return fmt.Errorf("paths config: %w", err)
	}

	if err := c.Supervisor.Validate(); err != nil {
		return fmt.Errorf("supervisor config: %w", err)
	}

	if err := c.Activity.Validate(); err != nil {
		return fmt.Errorf("activity config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}
	return nil
}

// Validate validates paths configuration
func (c *PathsConfig) Validate() error {
	if c.AppConfig == "" {
		return fmt.Errorf("app_config is required")
	}
	return nil
}

// Validate validates supervisor configuration
func (c *SupervisorConfig) Validate() error {
	if c.GracePeriod < 0 {
		return fmt.Errorf("supervisor.grace_period must not be negative")
	}

	if c.StopTimeout <= 0 {
		return fmt.Errorf("supervisor.stop_timeout must be positive")
	}

	return nil
}

// Validate validates activity configuration
func (c *ActivityConfig) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("activity.capacity must be at least 1")
	}

	validFeeds := map[string]bool{
		"":       true,
		"none":   true,
		"memory": true,
		"nats":   true,
		"redis":  true,
		"kafka":  true,
	}

	if !validFeeds[c.Feed.Type] {
		return fmt.Errorf("activity.feed.type must be one of: none, memory, nats, redis, kafka")
	}

	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}
