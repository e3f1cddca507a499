package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainwf "github.com/feilong2k/codemaestro/internal/domain/workflow"
)

const seedYAML = `
name: tdd
initial: red
states:
  red:
    on:
      TESTS_WRITTEN: green
  green:
    type: final
`

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "data", "test.db")
	cfg.Storage.WorkspaceDir = filepath.Join(dir, "workspace")
	cfg.Workflows.SeedDir = filepath.Join(dir, "workflows")
	cfg.Version = "test"
	return cfg
}

func TestNewContainer_Validation(t *testing.T) {
	logger := zap.NewNop()

	_, err := NewContainer(nil, logger)
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Agents.Enabled = true
	_, err = NewContainer(cfg, logger)
	assert.ErrorContains(t, err, "openai.api_key")
}

func TestContainer_Lifecycle(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Workflows.SeedDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Workflows.SeedDir, "tdd.yaml"), []byte(seedYAML), 0o644))

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(ctx), "second start must fail")

	require.NoError(t, c.EnsureWorkflows(ctx))

	lifecycle, err := c.Repositories().Workflow.GetByName(ctx, domainwf.SubtaskLifecycleName)
	require.NoError(t, err)
	require.NotNil(t, lifecycle)

	tdd, err := c.Repositories().Workflow.GetByName(ctx, "tdd")
	require.NoError(t, err)
	require.NotNil(t, tdd)

	next, err := c.WorkflowEngine().Transition(ctx, "tdd", "red", "TESTS_WRITTEN", nil)
	require.NoError(t, err)
	assert.Equal(t, "green", next)

	health := c.Health()
	assert.True(t, health.Components["database"].Healthy)
	assert.True(t, health.Components["engine"].Healthy)
	assert.NotNil(t, c.MetricsHandler())
	assert.NotNil(t, c.HTTPServer())

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(ctx))
}

func TestSeedWorkflows_MissingDir(t *testing.T) {
	cfg := testConfig(t)

	bundle, err := ProvideDatabase(&cfg.Database, zap.NewNop())
	require.NoError(t, err)
	defer bundle.DB.Close()

	repos, err := ProvideRepositories(bundle.DB, zap.NewNop())
	require.NoError(t, err)

	result, err := SeedWorkflows(context.Background(), repos.Workflow, cfg.Workflows.SeedDir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{domainwf.SubtaskLifecycleName}, result.Workflows)
}
