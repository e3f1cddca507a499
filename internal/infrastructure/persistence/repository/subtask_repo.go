package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

const subtaskColumns = `id, title, description, state, assigned_agent, created_at, updated_at`

// SubtaskRepository implements port.SubtaskRepository
type SubtaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSubtaskRepository creates a new subtask repository
func NewSubtaskRepository(db *sql.DB, logger *zap.Logger) port.SubtaskRepository {
	return &SubtaskRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new subtask
func (r *SubtaskRepository) Create(ctx context.Context, subtask *entity.Subtask) error {
	query := `
		INSERT INTO subtasks (id, title, description, state, assigned_agent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	if subtask.CreatedAt.IsZero() {
		subtask.CreatedAt = now
	}
	if subtask.UpdatedAt.IsZero() {
		subtask.UpdatedAt = now
	}

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		subtask.ID,
		subtask.Title,
		subtask.Description,
		subtask.State,
		nullString(subtask.AssignedAgent),
		subtask.CreatedAt,
		subtask.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create subtask", zap.String("id", subtask.ID), zap.Error(err))
		return fmt.Errorf("failed to create subtask: %w", err)
	}
	return nil
}

// GetByID returns nil when the subtask does not exist
func (r *SubtaskRepository) GetByID(ctx context.Context, id string) (*entity.Subtask, error) {
	query := `SELECT ` + subtaskColumns + ` FROM subtasks WHERE id = ?`

	subtask, err := scanSubtask(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get subtask", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get subtask: %w", err)
	}
	return subtask, nil
}

// List returns subtasks ordered by creation time
func (r *SubtaskRepository) List(ctx context.Context, limit, offset int) ([]*entity.Subtask, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + subtaskColumns + ` FROM subtasks ORDER BY created_at, id LIMIT ? OFFSET ?`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list subtasks", zap.Error(err))
		return nil, fmt.Errorf("failed to list subtasks: %w", err)
	}
	defer rows.Close()

	return collectSubtasks(rows)
}

// ListByStates returns subtasks in any of the given states, oldest update first
func (r *SubtaskRepository) ListByStates(ctx context.Context, states []string, limit int) ([]*entity.Subtask, error) {
	if len(states) == 0 {
		return []*entity.Subtask{}, nil
	}
	if limit <= 0 {
		limit = 100
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	query := `SELECT ` + subtaskColumns + ` FROM subtasks WHERE state IN (` + placeholders + `) ORDER BY updated_at, id LIMIT ?`

	args := make([]interface{}, 0, len(states)+1)
	for _, s := range states {
		args = append(args, s)
	}
	args = append(args, limit)

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list subtasks by state", zap.Strings("states", states), zap.Error(err))
		return nil, fmt.Errorf("failed to list subtasks: %w", err)
	}
	defer rows.Close()

	return collectSubtasks(rows)
}

// GetState returns "" when the subtask does not exist
func (r *SubtaskRepository) GetState(ctx context.Context, id string) (string, error) {
	var state string
	err := getExecutor(ctx, r.db).QueryRowContext(ctx, `SELECT state FROM subtasks WHERE id = ?`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		r.logger.Error("Failed to get subtask state", zap.String("id", id), zap.Error(err))
		return "", fmt.Errorf("failed to get subtask state: %w", err)
	}
	return state, nil
}

// SaveState upserts the state, creating a bare subtask row when missing
func (r *SubtaskRepository) SaveState(ctx context.Context, id, state string) error {
	query := `
		INSERT INTO subtasks (id, state, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`

	now := time.Now()
	if _, err := getExecutor(ctx, r.db).ExecContext(ctx, query, id, state, now, now); err != nil {
		r.logger.Error("Failed to save subtask state", zap.String("id", id), zap.String("state", state), zap.Error(err))
		return fmt.Errorf("failed to save subtask state: %w", err)
	}
	return nil
}

// UpdateState changes the state of an existing subtask
func (r *SubtaskRepository) UpdateState(ctx context.Context, id, state string) error {
	result, err := getExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE subtasks SET state = ?, updated_at = ? WHERE id = ?`, state, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to update subtask state", zap.String("id", id), zap.String("state", state), zap.Error(err))
		return fmt.Errorf("failed to update subtask state: %w", err)
	}
	return requireAffected(result, "subtask", id)
}

// AssignAgent records the agent working on the subtask
func (r *SubtaskRepository) AssignAgent(ctx context.Context, id, agent string) error {
	result, err := getExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE subtasks SET assigned_agent = ?, updated_at = ? WHERE id = ?`, agent, time.Now(), id)
	if err != nil {
		r.logger.Error("Failed to assign agent", zap.String("id", id), zap.String("agent", agent), zap.Error(err))
		return fmt.Errorf("failed to assign agent: %w", err)
	}
	return requireAffected(result, "subtask", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubtask(row rowScanner) (*entity.Subtask, error) {
	var s entity.Subtask
	var agent sql.NullString
	if err := row.Scan(&s.ID, &s.Title, &s.Description, &s.State, &agent, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.AssignedAgent = agent.String
	return &s, nil
}

func collectSubtasks(rows *sql.Rows) ([]*entity.Subtask, error) {
	subtasks := []*entity.Subtask{}
	for rows.Next() {
		s, err := scanSubtask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subtask: %w", err)
		}
		subtasks = append(subtasks, s)
	}
	return subtasks, rows.Err()
}

func requireAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", workflow.ErrNotFound, kind, id)
	}
	return nil
}

// Verify interface compliance
var _ port.SubtaskRepository = (*SubtaskRepository)(nil)
