package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/craftstudio/craftstudio/internal/utils"
	"github.com/spf13/viper"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if dir := shellConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
	}

	setDefaults(v)

	v.SetEnvPrefix("CRAFTSTUDIO")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.http_port", def.Server.HTTPPort)

	v.SetDefault("paths.app_config", def.Paths.AppConfig)
	v.SetDefault("paths.data_root", def.Paths.DataRoot)

	v.SetDefault("supervisor.worker_binary", def.Supervisor.WorkerBinary)
	v.SetDefault("supervisor.grace_period", def.Supervisor.GracePeriod.String())
	v.SetDefault("supervisor.stop_timeout", def.Supervisor.StopTimeout.String())
	v.SetDefault("supervisor.stop_on_exit", def.Supervisor.StopOnExit)

	v.SetDefault("control.request_timeout", def.Control.RequestTimeout.String())
	v.SetDefault("control.backoff_max_delay", def.Control.BackoffMaxDelay.String())

	v.SetDefault("activity.capacity", def.Activity.Capacity)
	v.SetDefault("activity.feed.type", def.Activity.Feed.Type)
	v.SetDefault("activity.feed.subject_prefix", def.Activity.Feed.SubjectPrefix)
	v.SetDefault("activity.feed.redis_stream", def.Activity.Feed.RedisStream)

	v.SetDefault("auth.enabled", def.Auth.Enabled)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.output_path", def.Logging.OutputPath)
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Paths.AppConfig = ExpandHome(cfg.Paths.AppConfig)
	cfg.Paths.DataRoot = ExpandHome(cfg.Paths.DataRoot)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			HTTPPort: 7410,
		},
		Paths: PathsConfig{
			AppConfig: defaultAppConfigPath(),
			DataRoot:  defaultDataRoot(),
		},
		Supervisor: SupervisorConfig{
			WorkerBinary: "craftworker",
			GracePeriod:  utils.DefaultRestartGracePeriod,
			StopTimeout:  utils.DefaultStopTimeout,
			StopOnExit:   false,
		},
		Control: ControlConfig{
			RequestTimeout:  utils.ControlRequestTimeout,
			BackoffMaxDelay: utils.ControlBackoffMaxDelay,
		},
		Activity: ActivityConfig{
			Capacity: utils.DefaultActivityCapacity,
			Feed: FeedConfig{
				Type:          string(utils.QueueTypeNone),
				SubjectPrefix: utils.ActivitySubjectPrefix,
				RedisStream:   "craftstudio",
			},
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stderr",
		},
	}
}

// RequestTimeoutOrDefault returns the control request timeout with a floor
func (c *ControlConfig) RequestTimeoutOrDefault() time.Duration {
	if c.RequestTimeout <= 0 {
		return utils.ControlRequestTimeout
	}
	return c.RequestTimeout
}
