package service

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

// mockSubtaskRepo is map-backed; func fields override behaviour
type mockSubtaskRepo struct {
	mu       sync.Mutex
	subtasks map[string]*entity.Subtask

	updateStateFunc func(ctx context.Context, id, state string) error
	updateCalls     int
	assigned        map[string]string
}

func newMockSubtaskRepo() *mockSubtaskRepo {
	return &mockSubtaskRepo{subtasks: make(map[string]*entity.Subtask), assigned: make(map[string]string)}
}

func (m *mockSubtaskRepo) Create(ctx context.Context, subtask *entity.Subtask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *subtask
	m.subtasks[subtask.ID] = &cp
	return nil
}

func (m *mockSubtaskRepo) GetByID(ctx context.Context, id string) (*entity.Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subtasks[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSubtaskRepo) List(ctx context.Context, limit, offset int) ([]*entity.Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entity.Subtask, 0, len(m.subtasks))
	for _, s := range m.subtasks {
		out = append(out, s)
	}
	return out, nil
}

func (m *mockSubtaskRepo) ListByStates(ctx context.Context, states []string, limit int) ([]*entity.Subtask, error) {
	return nil, nil
}

func (m *mockSubtaskRepo) GetState(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subtasks[id]; ok {
		return s.State, nil
	}
	return "", nil
}

func (m *mockSubtaskRepo) SaveState(ctx context.Context, id, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subtasks[id]; ok {
		s.State = state
		return nil
	}
	m.subtasks[id] = &entity.Subtask{ID: id, State: state}
	return nil
}

func (m *mockSubtaskRepo) UpdateState(ctx context.Context, id, state string) error {
	m.mu.Lock()
	m.updateCalls++
	m.mu.Unlock()
	if m.updateStateFunc != nil {
		return m.updateStateFunc(ctx, id, state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subtasks[id]
	if !ok {
		return workflow.ErrNotFound
	}
	s.State = state
	return nil
}

func (m *mockSubtaskRepo) AssignAgent(ctx context.Context, id, agent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assigned[id] = agent
	return nil
}

type mockHistoryRepo struct {
	mu        sync.Mutex
	histories []*entity.TransitionHistory
	createErr error
}

func (m *mockHistoryRepo) Create(ctx context.Context, history *entity.TransitionHistory) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories = append(m.histories, history)
	return nil
}

func (m *mockHistoryRepo) ListBySubtask(ctx context.Context, subtaskID string) ([]*entity.TransitionHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.TransitionHistory
	for _, h := range m.histories {
		if h.SubtaskID == subtaskID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *mockHistoryRepo) ListRecent(ctx context.Context, limit int) ([]*entity.TransitionHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.histories) {
		limit = len(m.histories)
	}
	return m.histories[len(m.histories)-limit:], nil
}

type mockTxManager struct {
	calls int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

type mockNotifier struct {
	notifyFunc func(ctx context.Context, subtaskID, newState string) error
	calls      []string
}

func (m *mockNotifier) NotifyAgent(ctx context.Context, subtaskID, newState string) error {
	m.calls = append(m.calls, subtaskID+":"+newState)
	if m.notifyFunc != nil {
		return m.notifyFunc(ctx, subtaskID, newState)
	}
	return nil
}

type mockFileStorage struct {
	files   map[string][]byte
	saveErr error
}

func (m *mockFileStorage) Save(ctx context.Context, path string, content []byte) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.files[path] = content
	return nil
}

func (m *mockFileStorage) Read(ctx context.Context, path string) ([]byte, error) {
	return m.files[path], nil
}

func (m *mockFileStorage) Exists(ctx context.Context, path string) bool {
	_, ok := m.files[path]
	return ok
}

func (m *mockFileStorage) Delete(ctx context.Context, path string) error {
	delete(m.files, path)
	return nil
}

func (m *mockFileStorage) GetFullPath(relativePath string) string {
	return "/workspace/" + relativePath
}

type mockOutcomeRepo struct {
	outcomes  []*entity.WorkflowOutcome
	createErr error
}

func (m *mockOutcomeRepo) Create(ctx context.Context, outcome *entity.WorkflowOutcome) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

func (m *mockOutcomeRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.WorkflowOutcome, error) {
	var out []*entity.WorkflowOutcome
	for _, o := range m.outcomes {
		if o.WorkflowID == workflowID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockOutcomeRepo) ListRecent(ctx context.Context, limit int) ([]*entity.WorkflowOutcome, error) {
	return m.outcomes, nil
}

type mockWorkflowRepo struct {
	records    map[string]*entity.WorkflowRecord
	updateFunc func(ctx context.Context, name string, definition, metadata json.RawMessage) error
}

func (m *mockWorkflowRepo) GetByName(ctx context.Context, name string) (*entity.WorkflowRecord, error) {
	return m.records[name], nil
}

func (m *mockWorkflowRepo) List(ctx context.Context) ([]*entity.WorkflowRecord, error) {
	return nil, nil
}

func (m *mockWorkflowRepo) Save(ctx context.Context, record *entity.WorkflowRecord) error {
	m.records[record.Name] = record
	return nil
}

func (m *mockWorkflowRepo) UpdateDefinition(ctx context.Context, name string, definition, metadata json.RawMessage) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, name, definition, metadata)
	}
	r, ok := m.records[name]
	if !ok {
		return workflow.ErrNotFound
	}
	r.Definition = definition
	r.Metadata = metadata
	r.Version++
	return nil
}

type mockInvalidator struct {
	invalidated []string
}

func (m *mockInvalidator) InvalidateWorkflow(name string) {
	m.invalidated = append(m.invalidated, name)
}

type mockReportWriter struct {
	stats []port.WorkflowStats
}

func (m *mockReportWriter) WriteOutcomeReport(w io.Writer, stats []port.WorkflowStats) error {
	m.stats = stats
	_, err := io.WriteString(w, "report")
	return err
}
