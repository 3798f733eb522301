package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	StaticDir         string        `mapstructure:"static_dir" yaml:"static_dir"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`

	MaxRooms          int           `mapstructure:"max_rooms" yaml:"max_rooms"`
	MaxUsersPerRoom   int           `mapstructure:"max_users_per_room" yaml:"max_users_per_room"`
	PendingTTL        time.Duration `mapstructure:"pending_ttl" yaml:"pending_ttl"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	WriteFailureLimit int           `mapstructure:"write_failure_limit" yaml:"write_failure_limit"`

	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	WriteQueue        int           `mapstructure:"write_queue" yaml:"write_queue"`
	PingPeriod        time.Duration `mapstructure:"ping_period" yaml:"ping_period"`
	PongWait          time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MessagesPerMinute int           `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":5432",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",

		MaxRooms:          100,
		MaxUsersPerRoom:   100,
		PendingTTL:        2 * time.Minute,
		SweepInterval:     30 * time.Second,
		WriteFailureLimit: 3,

		WriteTimeout:      10 * time.Second,
		WriteQueue:        64,
		PingPeriod:        30 * time.Second,
		PongWait:          60 * time.Second,
		MaxMessageBytes:   64 << 10,
		MessagesPerMinute: 120,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.StaticDir != "" {
		c.StaticDir = other.StaticDir
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}
