package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new history record
func (r *HistoryRepository) Create(ctx context.Context, history *entity.TransitionHistory) error {
	query := `
		INSERT INTO transition_history (
			subtask_id, workflow_name, previous_state, new_state, event, actor, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now()
	}

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		nullString(history.SubtaskID),
		history.WorkflowName,
		history.PreviousState,
		history.NewState,
		history.Event,
		history.Actor,
		history.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	history.ID = id
	return nil
}

// ListBySubtask retrieves all history records for a subtask, oldest first
func (r *HistoryRepository) ListBySubtask(ctx context.Context, subtaskID string) ([]*entity.TransitionHistory, error) {
	query := `
		SELECT id, subtask_id, workflow_name, previous_state, new_state, event, actor, created_at
		FROM transition_history
		WHERE subtask_id = ?
		ORDER BY id ASC
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, subtaskID)
	if err != nil {
		r.logger.Error("Failed to get history by subtask", zap.String("subtask_id", subtaskID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	return collectHistory(rows)
}

// ListRecent returns the latest records, newest first
func (r *HistoryRepository) ListRecent(ctx context.Context, limit int) ([]*entity.TransitionHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, subtask_id, workflow_name, previous_state, new_state, event, actor, created_at
		FROM transition_history
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list recent history", zap.Error(err))
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	return collectHistory(rows)
}

func collectHistory(rows *sql.Rows) ([]*entity.TransitionHistory, error) {
	records := []*entity.TransitionHistory{}
	for rows.Next() {
		var record entity.TransitionHistory
		var subtaskID sql.NullString
		err := rows.Scan(
			&record.ID,
			&subtaskID,
			&record.WorkflowName,
			&record.PreviousState,
			&record.NewState,
			&record.Event,
			&record.Actor,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		record.SubtaskID = subtaskID.String
		records = append(records, &record)
	}

	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
