package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/domain/entity"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
	"github.com/feilong2k/codemaestro/internal/infrastructure/persistence/sqlite"
	"github.com/feilong2k/codemaestro/pkg/database"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "codemaestro.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, zap.NewNop()).RunMigrations()
	require.NoError(t, err)
	return db.DB
}

func TestSubtaskRepository_StateRoundTrip(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewSubtaskRepository(db, zap.NewNop())

	state, err := repo.GetState(ctx, "2-1")
	require.NoError(t, err)
	assert.Equal(t, "", state)

	require.NoError(t, repo.SaveState(ctx, "2-1", "red"))
	require.NoError(t, repo.SaveState(ctx, "2-1", "green"))

	// a second repository over the same file sees the same state
	other := NewSubtaskRepository(db, zap.NewNop())
	state, err = other.GetState(ctx, "2-1")
	require.NoError(t, err)
	assert.Equal(t, "green", state)

	err = repo.UpdateState(ctx, "missing", "red")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestSubtaskRepository_CRUD(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewSubtaskRepository(db, zap.NewNop())

	require.NoError(t, repo.Create(ctx, &entity.Subtask{ID: "a", Title: "Login form", Description: "build it", State: "pending"}))
	require.NoError(t, repo.Create(ctx, &entity.Subtask{ID: "b", Title: "Logout", State: "red"}))

	got, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Login form", got.Title)
	assert.Equal(t, "", got.AssignedAgent)

	missing, err := repo.GetByID(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.AssignAgent(ctx, "a", "tara"))
	require.NoError(t, repo.UpdateState(ctx, "a", "in_progress"))
	got, _ = repo.GetByID(ctx, "a")
	assert.Equal(t, "tara", got.AssignedAgent)
	assert.Equal(t, "in_progress", got.State)

	all, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := repo.ListByStates(ctx, []string{"red", "green"}, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].ID)

	none, err := repo.ListByStates(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.ErrorIs(t, repo.AssignAgent(ctx, "zzz", "devon"), workflow.ErrNotFound)
}

func TestWorkflowRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewWorkflowRepository(db, zap.NewNop())

	got, err := repo.GetByName(ctx, "tdd")
	require.NoError(t, err)
	assert.Nil(t, got)

	record := &entity.WorkflowRecord{
		Name:       "tdd",
		Definition: json.RawMessage(`{"name":"tdd","initial":"red","states":{"red":{}}}`),
		Metadata:   json.RawMessage(`{"version":"1"}`),
	}
	require.NoError(t, repo.Save(ctx, record))
	assert.Equal(t, 1, record.Version)
	require.NoError(t, repo.Save(ctx, record))
	assert.Equal(t, 2, record.Version)

	err = repo.UpdateDefinition(ctx, "tdd", json.RawMessage(`{"name":"tdd","initial":"green","states":{"green":{}}}`), nil)
	require.NoError(t, err)

	got, err = repo.GetByName(ctx, "tdd")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Version)
	assert.JSONEq(t, `{"name":"tdd","initial":"green","states":{"green":{}}}`, string(got.Definition))
	assert.Nil(t, got.Metadata)

	err = repo.UpdateDefinition(ctx, "unknown", json.RawMessage(`{}`), nil)
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOutcomeRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewOutcomeRepository(db, zap.NewNop())

	base := time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, &entity.WorkflowOutcome{ID: "1", WorkflowID: "tdd", Success: true, CreatedAt: base}))
	require.NoError(t, repo.Create(ctx, &entity.WorkflowOutcome{
		ID: "2", WorkflowID: "tdd", Success: false,
		Metrics:   map[string]any{"reason": "timeout", "duration": 1.5},
		CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, repo.Create(ctx, &entity.WorkflowOutcome{ID: "3", WorkflowID: "deploy", Success: true, CreatedAt: base.Add(2 * time.Minute)}))

	tdd, err := repo.ListByWorkflow(ctx, "tdd")
	require.NoError(t, err)
	require.Len(t, tdd, 2)
	assert.True(t, tdd[0].Success)
	assert.NotNil(t, tdd[0].Metrics)
	assert.False(t, tdd[1].Success)
	assert.Equal(t, "timeout", tdd[1].Metrics["reason"])
	assert.Equal(t, 1.5, tdd[1].Metrics["duration"])

	recent, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].ID)
}

func TestHistoryRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewHistoryRepository(db, zap.NewNop())

	h := &entity.TransitionHistory{SubtaskID: "a", WorkflowName: "subtask_lifecycle", PreviousState: "pending", NewState: "in_progress", Event: "START", Actor: "orion"}
	require.NoError(t, repo.Create(ctx, h))
	assert.NotZero(t, h.ID)
	require.NoError(t, repo.Create(ctx, &entity.TransitionHistory{WorkflowName: "tdd", PreviousState: "red", NewState: "green", Event: "PASS", Actor: "system"}))

	bySubtask, err := repo.ListBySubtask(ctx, "a")
	require.NoError(t, err)
	require.Len(t, bySubtask, 1)
	assert.Equal(t, "orion", bySubtask[0].Actor)

	recent, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "tdd", recent[0].WorkflowName)
	assert.Equal(t, "", recent[0].SubtaskID)
}

func TestTransactionRollback(t *testing.T) {
	sqlDB := setupDB(t)
	ctx := context.Background()
	tx := sqlite.NewDB(sqlDB, zap.NewNop())
	subtasks := NewSubtaskRepository(sqlDB, zap.NewNop())
	history := NewHistoryRepository(sqlDB, zap.NewNop())

	require.NoError(t, subtasks.SaveState(ctx, "a", "pending"))

	boom := errors.New("boom")
	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, subtasks.UpdateState(ctx, "a", "in_progress"))
		require.NoError(t, history.Create(ctx, &entity.TransitionHistory{SubtaskID: "a", WorkflowName: "subtask_lifecycle", PreviousState: "pending", NewState: "in_progress", Event: "START", Actor: "system"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	state, err := subtasks.GetState(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "pending", state)

	records, err := history.ListBySubtask(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, records)

	err = tx.WithTransaction(ctx, func(ctx context.Context) error {
		return subtasks.UpdateState(ctx, "a", "in_progress")
	})
	require.NoError(t, err)
	state, _ = subtasks.GetState(ctx, "a")
	assert.Equal(t, "in_progress", state)
}
