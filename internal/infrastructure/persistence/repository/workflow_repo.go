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

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// GetByName returns nil when the workflow does not exist
func (r *WorkflowRepository) GetByName(ctx context.Context, name string) (*entity.WorkflowRecord, error) {
	query := `SELECT name, definition, metadata, version, updated_at FROM workflows WHERE name = ?`

	record, err := scanWorkflow(getExecutor(ctx, r.db).QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return record, nil
}

// List returns every stored workflow ordered by name
func (r *WorkflowRepository) List(ctx context.Context) ([]*entity.WorkflowRecord, error) {
	query := `SELECT name, definition, metadata, version, updated_at FROM workflows ORDER BY name`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list workflows", zap.Error(err))
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	records := []*entity.WorkflowRecord{}
	for rows.Next() {
		record, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Save inserts or replaces the record, bumping its version
func (r *WorkflowRepository) Save(ctx context.Context, record *entity.WorkflowRecord) error {
	query := `
		INSERT INTO workflows (name, definition, metadata, version, updated_at) VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET
			definition = excluded.definition,
			metadata = excluded.metadata,
			version = workflows.version + 1,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	exec := getExecutor(ctx, r.db)
	if _, err := exec.ExecContext(ctx, query, record.Name, string(record.Definition), nullJSON(record.Metadata), now); err != nil {
		r.logger.Error("Failed to save workflow", zap.String("name", record.Name), zap.Error(err))
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	if err := exec.QueryRowContext(ctx, `SELECT version FROM workflows WHERE name = ?`, record.Name).Scan(&record.Version); err != nil {
		return fmt.Errorf("failed to read workflow version: %w", err)
	}
	record.UpdatedAt = now
	return nil
}

// UpdateDefinition replaces definition and metadata of an existing workflow
func (r *WorkflowRepository) UpdateDefinition(ctx context.Context, name string, definition, metadata json.RawMessage) error {
	query := `
		UPDATE workflows
		SET definition = ?, metadata = ?, version = version + 1, updated_at = ?
		WHERE name = ?
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, string(definition), nullJSON(metadata), time.Now(), name)
	if err != nil {
		r.logger.Error("Failed to update workflow definition", zap.String("name", name), zap.Error(err))
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return requireAffected(result, "workflow", name)
}

func scanWorkflow(row rowScanner) (*entity.WorkflowRecord, error) {
	var record entity.WorkflowRecord
	var definition string
	var metadata sql.NullString
	if err := row.Scan(&record.Name, &definition, &metadata, &record.Version, &record.UpdatedAt); err != nil {
		return nil, err
	}
	record.Definition = json.RawMessage(definition)
	if metadata.Valid {
		record.Metadata = json.RawMessage(metadata.String)
	}
	return &record, nil
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// Verify interface compliance
var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
