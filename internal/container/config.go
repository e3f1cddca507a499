// Package container provides dependency injection and lifecycle management
// for the orchestrator following Clean Architecture principles.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// OpenAI configuration
	OpenAI OpenAIConfig

	// Lark notification configuration
	Lark LarkConfig

	// Agent loop configuration
	Agents AgentsConfig

	// Storage configuration
	Storage StorageConfig

	// Workflow configuration
	Workflows WorkflowsConfig

	// Server configuration
	Server ServerConfig

	// MetricsEnabled mounts /metrics and records engine measurements
	MetricsEnabled bool

	// Version is reported by /health
	Version string
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key
	APIKey string

	// BaseURL overrides the API endpoint (proxies, compatible servers)
	BaseURL string

	// Model is the model to use (e.g., "gpt-4o")
	Model string

	// Temperature controls randomness (0.0-1.0)
	Temperature float32

	// MaxTokens limits response length
	MaxTokens int
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	Enabled   bool
	AppID     string
	AppSecret string
	ChatID    string
	BaseURL   string
}

// AgentsConfig holds agent loop settings.
type AgentsConfig struct {
	// Enabled starts the agent loop; without it subtasks only move via the API
	Enabled bool

	Interval       time.Duration
	BatchSize      int
	ExecuteTimeout time.Duration

	// PromptsPath is the prompts.yaml the role prompts are read from
	PromptsPath string

	RetryAttempts       int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
}

// StorageConfig holds file storage settings.
type StorageConfig struct {
	// WorkspaceDir is where agent-written files land
	WorkspaceDir string
}

// WorkflowsConfig holds workflow definition settings.
type WorkflowsConfig struct {
	// SeedDir holds workflow YAML files stored by Seed
	SeedDir string

	// CacheExpiry bounds how long a loaded definition is reused
	CacheExpiry time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/codemaestro.db",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Hour,
		},
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o",
			Temperature: 0.2,
			MaxTokens:   4096,
		},
		Agents: AgentsConfig{
			Interval:            15 * time.Second,
			BatchSize:           5,
			ExecuteTimeout:      2 * time.Minute,
			PromptsPath:         "configs/prompts.yaml",
			RetryAttempts:       3,
			RetryInitialBackoff: 2 * time.Second,
			RetryMaxBackoff:     30 * time.Second,
		},
		Storage: StorageConfig{
			WorkspaceDir: "workspace",
		},
		Workflows: WorkflowsConfig{
			SeedDir:     "configs/workflows",
			CacheExpiry: 30 * time.Minute,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MetricsEnabled: true,
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Storage.WorkspaceDir == "" {
		return fmt.Errorf("storage.workspace_dir is required")
	}

	if c.Agents.Enabled {
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key is required")
		}
		if c.Agents.PromptsPath == "" {
			return fmt.Errorf("agents.prompts_path is required")
		}
	}

	if c.Lark.Enabled && (c.Lark.AppID == "" || c.Lark.AppSecret == "" || c.Lark.ChatID == "") {
		return fmt.Errorf("lark app_id, app_secret and chat_id are required")
	}

	return nil
}
