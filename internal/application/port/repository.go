package port

import (
	"context"
	"encoding/json"

	"github.com/feilong2k/codemaestro/internal/domain/entity"
)

// SubtaskRepository defines persistence operations for Subtask
type SubtaskRepository interface {
	Create(ctx context.Context, subtask *entity.Subtask) error
	GetByID(ctx context.Context, id string) (*entity.Subtask, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Subtask, error)
	ListByStates(ctx context.Context, states []string, limit int) ([]*entity.Subtask, error)

	// GetState returns "" when the subtask does not exist
	GetState(ctx context.Context, id string) (string, error)

	// SaveState upserts the state, creating a bare subtask row when missing
	SaveState(ctx context.Context, id, state string) error

	// UpdateState changes the state of an existing subtask, ErrNotFound on zero rows
	UpdateState(ctx context.Context, id, state string) error

	AssignAgent(ctx context.Context, id, agent string) error
}

// WorkflowRepository defines persistence operations for workflow definitions
type WorkflowRepository interface {
	GetByName(ctx context.Context, name string) (*entity.WorkflowRecord, error)
	List(ctx context.Context) ([]*entity.WorkflowRecord, error)

	// Save inserts or replaces the record, bumping its version
	Save(ctx context.Context, record *entity.WorkflowRecord) error

	// UpdateDefinition replaces definition and metadata of an existing workflow.
	// Returns ErrNotFound when zero rows are affected.
	UpdateDefinition(ctx context.Context, name string, definition, metadata json.RawMessage) error
}

// OutcomeRepository defines persistence operations for WorkflowOutcome
type OutcomeRepository interface {
	Create(ctx context.Context, outcome *entity.WorkflowOutcome) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.WorkflowOutcome, error)
	ListRecent(ctx context.Context, limit int) ([]*entity.WorkflowOutcome, error)
}

// HistoryRepository defines persistence operations for TransitionHistory
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.TransitionHistory) error
	ListBySubtask(ctx context.Context, subtaskID string) ([]*entity.TransitionHistory, error)
	ListRecent(ctx context.Context, limit int) ([]*entity.TransitionHistory, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
