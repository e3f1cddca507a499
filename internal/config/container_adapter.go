package config

import (
	"github.com/feilong2k/codemaestro/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig(version string) *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		OpenAI: container.OpenAIConfig{
			APIKey:      c.OpenAI.APIKey,
			BaseURL:     c.OpenAI.BaseURL,
			Model:       c.OpenAI.Model,
			Temperature: c.OpenAI.Temperature,
			MaxTokens:   c.OpenAI.MaxTokens,
		},
		Lark: container.LarkConfig{
			Enabled:   c.Lark.Enabled,
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
			ChatID:    c.Lark.ChatID,
			BaseURL:   c.Lark.BaseURL,
		},
		Agents: container.AgentsConfig{
			Enabled:             c.Agents.Enabled,
			Interval:            c.Agents.Interval,
			BatchSize:           c.Agents.BatchSize,
			ExecuteTimeout:      c.Agents.ExecuteTimeout,
			PromptsPath:         c.Prompts.Path,
			RetryAttempts:       c.Agents.RetryAttempts,
			RetryInitialBackoff: c.Agents.RetryInitialBackoff,
			RetryMaxBackoff:     c.Agents.RetryMaxBackoff,
		},
		Storage: container.StorageConfig{
			WorkspaceDir: c.Workspace.Dir,
		},
		Workflows: container.WorkflowsConfig{
			SeedDir:     c.Workflows.Dir,
			CacheExpiry: c.Workflows.CacheExpiry,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		MetricsEnabled: c.Metrics.Enabled,
		Version:        version,
	}
}
