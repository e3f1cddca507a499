package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Lark      LarkConfig      `mapstructure:"lark"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	ChatID    string `mapstructure:"chat_id"`
	BaseURL   string `mapstructure:"base_url"`
}

// AgentsConfig holds agent loop and retry configuration
type AgentsConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Interval            time.Duration `mapstructure:"interval"`
	BatchSize           int           `mapstructure:"batch_size"`
	ExecuteTimeout      time.Duration `mapstructure:"execute_timeout"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryInitialBackoff time.Duration `mapstructure:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `mapstructure:"retry_max_backoff"`
}

// WorkspaceConfig holds where agent-written files land
type WorkspaceConfig struct {
	Dir string `mapstructure:"dir"`
}

// PromptsConfig holds the prompt file location
type PromptsConfig struct {
	Path string `mapstructure:"path"`
}

// WorkflowsConfig holds workflow seeding and caching configuration
type WorkflowsConfig struct {
	Dir         string        `mapstructure:"dir"`
	CacheExpiry time.Duration `mapstructure:"cache_expiry"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file and environment variables.
// An empty configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CODEMAESTRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/codemaestro.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	// OpenAI defaults
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.max_tokens", 4096)

	// Agent defaults
	v.SetDefault("agents.enabled", true)
	v.SetDefault("agents.interval", 15*time.Second)
	v.SetDefault("agents.batch_size", 5)
	v.SetDefault("agents.execute_timeout", 2*time.Minute)
	v.SetDefault("agents.retry_attempts", 3)
	v.SetDefault("agents.retry_initial_backoff", 2*time.Second)
	v.SetDefault("agents.retry_max_backoff", 30*time.Second)

	v.SetDefault("workspace.dir", "workspace")
	v.SetDefault("prompts.path", "configs/prompts.yaml")
	v.SetDefault("workflows.dir", "configs/workflows")
	v.SetDefault("workflows.cache_expiry", 30*time.Minute)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("metrics.enabled", true)
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	// Sensitive credentials from environment
	return errors.Join(
		v.BindEnv("openai.api_key", "OPENAI_API_KEY"),
		v.BindEnv("openai.base_url", "OPENAI_BASE_URL"),
		v.BindEnv("lark.app_id", "LARK_APP_ID"),
		v.BindEnv("lark.app_secret", "LARK_APP_SECRET"),
		v.BindEnv("lark.chat_id", "LARK_CHAT_ID"),
	)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Workspace.Dir == "" {
		return fmt.Errorf("workspace.dir is required")
	}

	// Agents need the LLM and their prompts
	if c.Agents.Enabled {
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key is required when agents are enabled")
		}
		if c.Prompts.Path == "" {
			return fmt.Errorf("prompts.path is required when agents are enabled")
		}
		if c.Agents.RetryAttempts < 1 {
			return fmt.Errorf("agents.retry_attempts must be at least 1")
		}
	}

	// Validate Lark credentials
	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required when lark is enabled")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required when lark is enabled")
		}
		if c.Lark.ChatID == "" {
			return fmt.Errorf("lark.chat_id is required when lark is enabled")
		}
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}

	return nil
}
