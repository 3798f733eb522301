package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "ROOMRELAY"
	envConfigDefaultPath = "ROOMRELAY_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, configPath, err
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("static_dir", cfg.StaticDir)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("max_rooms", cfg.MaxRooms)
	v.SetDefault("max_users_per_room", cfg.MaxUsersPerRoom)
	v.SetDefault("pending_ttl", cfg.PendingTTL)
	v.SetDefault("sweep_interval", cfg.SweepInterval)
	v.SetDefault("write_failure_limit", cfg.WriteFailureLimit)
	v.SetDefault("write_timeout", cfg.WriteTimeout)
	v.SetDefault("write_queue", cfg.WriteQueue)
	v.SetDefault("ping_period", cfg.PingPeriod)
	v.SetDefault("pong_wait", cfg.PongWait)
	v.SetDefault("max_message_bytes", cfg.MaxMessageBytes)
	v.SetDefault("messages_per_minute", cfg.MessagesPerMinute)
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MaxRooms <= 0:
		return fmt.Errorf("max_rooms must be positive, got %d", c.MaxRooms)
	case c.MaxUsersPerRoom <= 0:
		return fmt.Errorf("max_users_per_room must be positive, got %d", c.MaxUsersPerRoom)
	case c.WriteQueue <= 0:
		return fmt.Errorf("write_queue must be positive, got %d", c.WriteQueue)
	case c.PendingTTL > 0 && c.SweepInterval <= 0:
		return fmt.Errorf("sweep_interval must be positive when pending_ttl is set, got %s", c.SweepInterval)
	case c.PingPeriod > 0 && c.PongWait <= c.PingPeriod:
		return fmt.Errorf("pong_wait (%s) must exceed ping_period (%s)", c.PongWait, c.PingPeriod)
	}
	return nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
