package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
)

// OutcomeRepository implements port.OutcomeRepository
type OutcomeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOutcomeRepository creates a new outcome repository
func NewOutcomeRepository(db *sql.DB, logger *zap.Logger) port.OutcomeRepository {
	return &OutcomeRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores one workflow execution outcome
func (r *OutcomeRepository) Create(ctx context.Context, outcome *entity.WorkflowOutcome) error {
	metrics, err := json.Marshal(outcome.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode outcome metrics: %w", err)
	}
	if outcome.CreatedAt.IsZero() {
		outcome.CreatedAt = time.Now()
	}

	query := `INSERT INTO workflow_outcomes (id, workflow_id, success, metrics, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err = getExecutor(ctx, r.db).ExecContext(ctx, query,
		outcome.ID,
		outcome.WorkflowID,
		outcome.Success,
		string(metrics),
		outcome.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create outcome", zap.String("workflow_id", outcome.WorkflowID), zap.Error(err))
		return fmt.Errorf("failed to create outcome: %w", err)
	}
	return nil
}

// ListByWorkflow returns all outcomes of one workflow, oldest first
func (r *OutcomeRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.WorkflowOutcome, error) {
	query := `
		SELECT id, workflow_id, success, metrics, created_at
		FROM workflow_outcomes
		WHERE workflow_id = ?
		ORDER BY created_at ASC
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, workflowID)
	if err != nil {
		r.logger.Error("Failed to list outcomes", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	return collectOutcomes(rows)
}

// ListRecent returns the latest outcomes across all workflows, newest first
func (r *OutcomeRepository) ListRecent(ctx context.Context, limit int) ([]*entity.WorkflowOutcome, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT id, workflow_id, success, metrics, created_at
		FROM workflow_outcomes
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list recent outcomes", zap.Error(err))
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	return collectOutcomes(rows)
}

func collectOutcomes(rows *sql.Rows) ([]*entity.WorkflowOutcome, error) {
	outcomes := []*entity.WorkflowOutcome{}
	for rows.Next() {
		var o entity.WorkflowOutcome
		var metrics sql.NullString
		if err := rows.Scan(&o.ID, &o.WorkflowID, &o.Success, &metrics, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Metrics = map[string]any{}
		if metrics.Valid && metrics.String != "" && metrics.String != "null" {
			if err := json.Unmarshal([]byte(metrics.String), &o.Metrics); err != nil {
				return nil, fmt.Errorf("failed to decode outcome metrics: %w", err)
			}
		}
		outcomes = append(outcomes, &o)
	}
	return outcomes, rows.Err()
}

// Verify interface compliance
var _ port.OutcomeRepository = (*OutcomeRepository)(nil)
