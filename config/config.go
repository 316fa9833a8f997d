package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Session  SessionConfig  `mapstructure:"session"`
	Examples ExamplesConfig `mapstructure:"examples"`
}

// ServerConfig holds MCP server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// APIConfig holds the HTTP JSON API configuration
type APIConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Port           int     `mapstructure:"port"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	ClientRPS      float64 `mapstructure:"client_rps"`
	ClientBurst    int     `mapstructure:"client_burst"`
	MaxConcurrent  int     `mapstructure:"max_concurrent"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// ExecutorConfig holds the execution defaults
type ExecutorConfig struct {
	TimeoutMs        int   `mapstructure:"timeout_ms"`
	MaxTimeoutMs     int   `mapstructure:"max_timeout_ms"`
	MaxMemoryBytes   int64 `mapstructure:"max_memory_bytes"`
	MaxCodeLength    int   `mapstructure:"max_code_length"`
	MaxOutputEntries int   `mapstructure:"max_output_entries"`
	MaxCallStackSize int   `mapstructure:"max_call_stack_size"`

	// AllowedGlobals and DisallowedPatterns replace the built-in lists when set.
	AllowedGlobals     []string `mapstructure:"allowed_globals"`
	DisallowedPatterns []string `mapstructure:"disallowed_patterns"`

	ProgramCacheSize int           `mapstructure:"program_cache_size"`
	ProgramCacheTTL  time.Duration `mapstructure:"program_cache_ttl"`
}

// SessionConfig holds the playground session configuration
type SessionConfig struct {
	EnableConsole bool `mapstructure:"enable_console"`
	EnableMetrics bool `mapstructure:"enable_metrics"`
	HistoryLimit  int  `mapstructure:"history_limit"`
	ConsoleLimit  int  `mapstructure:"console_limit"`
}

// ExamplesConfig holds the example catalog configuration
type ExamplesConfig struct {
	File string `mapstructure:"file"`
}

// New loads and validates the application configuration from config.yaml in
// the working directory or ./config, falling back to defaults.
func New() (*Config, error) {
	return Load("")
}

// Load reads configuration from path, or searches for config.yaml when path is
// empty. PLAYGROUND_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("PLAYGROUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.rate_limit_rps", 20.0)
	v.SetDefault("api.rate_limit_burst", 40)
	v.SetDefault("api.client_rps", 5.0)
	v.SetDefault("api.client_burst", 10)
	v.SetDefault("api.max_concurrent", 4)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("executor.timeout_ms", 5000)
	v.SetDefault("executor.max_timeout_ms", 30000)
	v.SetDefault("executor.max_memory_bytes", 50*1024*1024)
	v.SetDefault("executor.max_code_length", 100000)
	v.SetDefault("executor.max_output_entries", 1000)
	v.SetDefault("executor.max_call_stack_size", 500)
	v.SetDefault("executor.program_cache_size", 256)
	v.SetDefault("executor.program_cache_ttl", 10*time.Minute)

	v.SetDefault("session.enable_console", true)
	v.SetDefault("session.enable_metrics", true)
	v.SetDefault("session.history_limit", 100)
	v.SetDefault("session.console_limit", 1000)

	v.SetDefault("examples.file", "")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port must be positive, got: %d", c.Server.HTTPPort)
	}

	if c.API.Enabled {
		if c.API.Port <= 0 {
			return fmt.Errorf("api.port must be positive, got: %d", c.API.Port)
		}
		if c.Server.Transport == "http" && c.API.Port == c.Server.HTTPPort {
			return fmt.Errorf("api.port must differ from server.http_port, both are: %d", c.API.Port)
		}
		if c.API.RateLimitRPS <= 0 || c.API.ClientRPS <= 0 {
			return fmt.Errorf("api rate limits must be positive, got: %v and %v", c.API.RateLimitRPS, c.API.ClientRPS)
		}
		if c.API.MaxConcurrent <= 0 {
			return fmt.Errorf("api.max_concurrent must be positive, got: %d", c.API.MaxConcurrent)
		}
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.Executor.TimeoutMs <= 0 {
		return fmt.Errorf("executor.timeout_ms must be positive, got: %d", c.Executor.TimeoutMs)
	}

	if c.Executor.MaxTimeoutMs < c.Executor.TimeoutMs {
		return fmt.Errorf("executor.max_timeout_ms must be at least executor.timeout_ms (%d), got: %d",
			c.Executor.TimeoutMs, c.Executor.MaxTimeoutMs)
	}

	if c.Executor.MaxMemoryBytes <= 0 {
		return fmt.Errorf("executor.max_memory_bytes must be positive, got: %d", c.Executor.MaxMemoryBytes)
	}

	if c.Executor.MaxCodeLength <= 0 {
		return fmt.Errorf("executor.max_code_length must be positive, got: %d", c.Executor.MaxCodeLength)
	}

	if c.Executor.MaxOutputEntries < 2 {
		return fmt.Errorf("executor.max_output_entries must be at least 2, got: %d", c.Executor.MaxOutputEntries)
	}

	if c.Executor.ProgramCacheSize <= 0 {
		return fmt.Errorf("executor.program_cache_size must be positive, got: %d", c.Executor.ProgramCacheSize)
	}

	for _, pattern := range c.Executor.DisallowedPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid executor.disallowed_patterns entry %q: %w", pattern, err)
		}
	}

	if c.Session.HistoryLimit < 2 {
		return fmt.Errorf("session.history_limit must be at least 2, got: %d", c.Session.HistoryLimit)
	}

	if c.Session.ConsoleLimit < 2 {
		return fmt.Errorf("session.console_limit must be at least 2, got: %d", c.Session.ConsoleLimit)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutMs) * time.Millisecond
}

// GetMaxTimeout returns the largest per-call timeout a client may request.
// It is never below the default timeout.
func (c *Config) GetMaxTimeout() time.Duration {
	if c.Executor.MaxTimeoutMs < c.Executor.TimeoutMs {
		return c.GetTimeout()
	}
	return time.Duration(c.Executor.MaxTimeoutMs) * time.Millisecond
}
