package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FileDefaultsAndEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CODEMAESTRO_SERVER_PORT", "9090")

	path := writeConfig(t, `
server:
  port: 8081
database:
  path: /tmp/cm.db
agents:
  interval: 5s
workflows:
  dir: seeds
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/cm.db", cfg.Database.Path)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, 5*time.Second, cfg.Agents.Interval)
	assert.Equal(t, 3, cfg.Agents.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.Agents.RetryMaxBackoff)
	assert.Equal(t, "seeds", cfg.Workflows.Dir)
	assert.Equal(t, 30*time.Minute, cfg.Workflows.CacheExpiry)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Lark.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_AgentsRequireAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load(writeConfig(t, "agents:\n  enabled: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai.api_key")

	cfg, err := Load(writeConfig(t, "agents:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Agents.Enabled)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Port: 8080},
			Database:  DatabaseConfig{Path: "db"},
			OpenAI:    OpenAIConfig{APIKey: "k"},
			Agents:    AgentsConfig{Enabled: true, RetryAttempts: 3},
			Workspace: WorkspaceConfig{Dir: "ws"},
			Prompts:   PromptsConfig{Path: "p.yaml"},
			Logger:    LoggerConfig{Format: "json"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"workspace", func(c *Config) { c.Workspace.Dir = "" }, "workspace.dir"},
		{"prompts", func(c *Config) { c.Prompts.Path = "" }, "prompts.path"},
		{"retry", func(c *Config) { c.Agents.RetryAttempts = 0 }, "retry_attempts"},
		{"lark app", func(c *Config) { c.Lark.Enabled = true }, "lark.app_id"},
		{"lark chat", func(c *Config) { c.Lark = LarkConfig{Enabled: true, AppID: "a", AppSecret: "s"} }, "lark.chat_id"},
		{"format", func(c *Config) { c.Logger.Format = "xml" }, "logger.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
