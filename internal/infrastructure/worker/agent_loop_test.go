package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/agent"
	"github.com/feilong2k/codemaestro/internal/application/service"
	"github.com/feilong2k/codemaestro/internal/domain/action"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
)

type fakeAgent struct {
	name    string
	execute func(ctx context.Context, actx *agent.Context) (*agent.Result, error)

	mu   sync.Mutex
	seen []*agent.Context
}

func (f *fakeAgent) Name() string   { return f.name }
func (f *fakeAgent) Role() string   { return "fake" }
func (f *fakeAgent) Prompt() string { return "prompt" }

func (f *fakeAgent) Execute(ctx context.Context, actx *agent.Context) (*agent.Result, error) {
	f.mu.Lock()
	f.seen = append(f.seen, actx)
	f.mu.Unlock()
	if f.execute != nil {
		return f.execute(ctx, actx)
	}
	return &agent.Result{Agent: f.name}, nil
}

type fakeLister struct {
	subtasks []*entity.Subtask
	err      error
	states   []string
}

func (f *fakeLister) ListByStates(ctx context.Context, states []string, limit int) ([]*entity.Subtask, error) {
	f.states = states
	if f.err != nil {
		return nil, f.err
	}
	if len(f.subtasks) > limit {
		return f.subtasks[:limit], nil
	}
	return f.subtasks, nil
}

type fakeStates struct {
	states map[string]string
	err    error
}

func (f *fakeStates) GetSubtaskState(ctx context.Context, id string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.states[id], nil
}

type fakeActions struct {
	dispatch func(subtaskID, agentName string, actions []action.Action) error
	calls    []string
}

func (f *fakeActions) Dispatch(ctx context.Context, subtaskID, agentName string, actions []action.Action) ([]service.DispatchResult, error) {
	f.calls = append(f.calls, subtaskID+":"+agentName)
	if f.dispatch != nil {
		return nil, f.dispatch(subtaskID, agentName, actions)
	}
	return nil, nil
}

type fakePause struct{ paused bool }

func (f *fakePause) IsPaused() bool { return f.paused }

type fakeMetrics struct {
	mu         sync.Mutex
	executions map[string]int
}

func (f *fakeMetrics) ObserveTransition(workflow, from, to string, err error, elapsed time.Duration) {}
func (f *fakeMetrics) SetPaused(paused bool)                                                         {}

func (f *fakeMetrics) ObserveAgentExecution(agentName string, actions int, err error, elapsed time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.executions == nil {
		f.executions = make(map[string]int)
	}
	f.executions[agentName]++
}

type loopFixture struct {
	loop    *AgentLoop
	orion   *fakeAgent
	tara    *fakeAgent
	devon   *fakeAgent
	lister  *fakeLister
	states  *fakeStates
	actions *fakeActions
	pause   *fakePause
	metrics *fakeMetrics
}

func newLoopFixture(subtasks ...*entity.Subtask) *loopFixture {
	f := &loopFixture{
		orion:   &fakeAgent{name: "Orion"},
		tara:    &fakeAgent{name: "Tara"},
		devon:   &fakeAgent{name: "Devon"},
		lister:  &fakeLister{subtasks: subtasks},
		states:  &fakeStates{states: map[string]string{}},
		actions: &fakeActions{},
		pause:   &fakePause{},
		metrics: &fakeMetrics{},
	}
	roster := agent.NewRoster(f.orion, f.tara, f.devon)
	f.loop = NewAgentLoop(AgentLoopConfig{Interval: 10 * time.Millisecond, BatchSize: 10, ExecuteTimeout: time.Second},
		f.lister, f.states, roster, f.actions, f.pause, f.metrics, zap.NewNop())
	return f
}

func TestAgentLoop_RoutesSubtasksToOwningAgent(t *testing.T) {
	f := newLoopFixture(
		&entity.Subtask{ID: "s1", State: "in_progress"},
		&entity.Subtask{ID: "s2", State: "red"},
		&entity.Subtask{ID: "s3", State: "verification"},
	)
	f.tara.execute = func(ctx context.Context, actx *agent.Context) (*agent.Result, error) {
		if actx.CurrentTask.State == "verification" {
			return &agent.Result{Actions: []action.Action{verificationReport(true)}}, nil
		}
		return &agent.Result{Actions: []action.Action{action.Transition("in_progress", "red", "tests written")}}, nil
	}
	f.states.states = map[string]string{"s1": "red", "s2": "red", "s3": "verification"}

	results, err := f.loop.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "Tara", results[0].Agent)
	assert.Equal(t, "in_progress", results[0].From)
	assert.Equal(t, "red", results[0].To)
	assert.Equal(t, 1, results[0].Actions)
	assert.Equal(t, PhaseVerify, results[0].Phase)

	assert.Equal(t, "Devon", results[1].Agent)
	assert.Equal(t, "Orion", results[2].Agent)

	assert.Equal(t, []string{"s1:Tara", "s2:Devon", "s3:Tara", "s3:Orion"}, f.actions.calls)
	require.Len(t, f.orion.seen, 1)
	assert.True(t, f.orion.seen[0].ReadyForReview)
	assert.Empty(t, f.orion.seen[0].RejectionReason)
	assert.Equal(t, []string{"Orion", "Tara", "Devon"}, f.orion.seen[0].AvailableAgents)
	require.Len(t, f.tara.seen, 2)
	assert.False(t, f.tara.seen[0].ReadyForReview)
	assert.Equal(t, 1, results[2].Actions)

	assert.Contains(t, f.lister.states, "pending")
	assert.Contains(t, f.lister.states, "blocked")
	assert.NotContains(t, f.lister.states, "completed")
	assert.NotContains(t, f.lister.states, "failed")

	assert.Equal(t, 2, f.metrics.executions["Tara"])
	status := f.loop.Status()
	assert.Equal(t, 3, status.ProcessedCount)
	assert.Zero(t, status.FailedCount)
	assert.False(t, status.LastRun.IsZero())
}

func verificationReport(passed bool) action.Action {
	return action.New(action.TypeReportVerification, map[string]any{"passed": passed})
}

func TestAgentLoop_FailedVerificationRejectsReview(t *testing.T) {
	f := newLoopFixture(&entity.Subtask{ID: "s1", State: "verification"})
	f.states.states["s1"] = "verification"
	f.tara.execute = func(ctx context.Context, actx *agent.Context) (*agent.Result, error) {
		return &agent.Result{Actions: []action.Action{verificationReport(false)}}, nil
	}

	results, err := f.loop.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "Orion", results[0].Agent)
	assert.Equal(t, []string{"s1:Tara", "s1:Orion"}, f.actions.calls)
	require.Len(t, f.orion.seen, 1)
	assert.True(t, f.orion.seen[0].ReadyForReview)
	assert.True(t, f.orion.seen[0].TestsFailing)
	assert.Equal(t, "verification failed", f.orion.seen[0].RejectionReason)
}

func TestAgentLoop_MissingReportCountsAsFailed(t *testing.T) {
	f := newLoopFixture(&entity.Subtask{ID: "s1", State: "verification"})
	f.states.states["s1"] = "verification"

	_, err := f.loop.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, f.orion.seen, 1)
	assert.Equal(t, "verification failed", f.orion.seen[0].RejectionReason)
}

func TestAgentLoop_VerifierMovesSubtaskSkipsReview(t *testing.T) {
	f := newLoopFixture(&entity.Subtask{ID: "s1", State: "verification"})
	f.states.states["s1"] = "failed"

	results, err := f.loop.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "Tara", results[0].Agent)
	assert.Equal(t, "failed", results[0].To)
	assert.Empty(t, f.orion.seen)
	assert.Equal(t, []string{"s1:Tara"}, f.actions.calls)
}

func TestAgentLoop_VerifierErrorStopsStep(t *testing.T) {
	f := newLoopFixture(&entity.Subtask{ID: "s1", State: "verification"})
	f.tara.execute = func(ctx context.Context, actx *agent.Context) (*agent.Result, error) {
		return nil, errors.New("llm down")
	}

	results, err := f.loop.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, PhaseError, results[0].Phase)
	assert.Equal(t, "Tara", results[0].Agent)
	assert.Empty(t, f.orion.seen)
	assert.Empty(t, f.actions.calls)
}

func TestAgentLoop_PausedSkipsPass(t *testing.T) {
	f := newLoopFixture(&entity.Subtask{ID: "s1", State: "pending"})
	f.pause.paused = true

	results, err := f.loop.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, f.orion.seen)
	assert.Empty(t, f.actions.calls)
}

func TestAgentLoop_AgentErrorSkipsDispatch(t *testing.T) {
	f := newLoopFixture(&entity.Subtask{ID: "s1", State: "red"})
	f.devon.execute = func(ctx context.Context, actx *agent.Context) (*agent.Result, error) {
		return nil, agent.ErrUnauthorized
	}

	results, err := f.loop.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, PhaseError, results[0].Phase)
	assert.ErrorIs(t, results[0].Err, agent.ErrUnauthorized)
	assert.Empty(t, f.actions.calls)

	status := f.loop.Status()
	assert.Equal(t, 1, status.FailedCount)
	assert.Equal(t, PhaseError, status.Phase)
	assert.Contains(t, status.LastError, "unauthorized")
}

func TestAgentLoop_DispatchErrorStillVerifies(t *testing.T) {
	f := newLoopFixture(&entity.Subtask{ID: "s1", State: "green"})
	dispatchErr := errors.New("storage down")
	f.actions.dispatch = func(subtaskID, agentName string, actions []action.Action) error {
		return dispatchErr
	}
	f.states.states["s1"] = "refactor"

	results, err := f.loop.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, PhaseVerify, results[0].Phase)
	assert.Equal(t, "refactor", results[0].To)
	assert.ErrorIs(t, results[0].Err, dispatchErr)

	status := f.loop.Status()
	assert.Equal(t, 1, status.ProcessedCount)
	assert.Equal(t, 1, status.FailedCount)
}

func TestAgentLoop_VerifyFailure(t *testing.T) {
	f := newLoopFixture(&entity.Subtask{ID: "s1", State: "pending"})
	f.states.err = errors.New("db gone")

	results, err := f.loop.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, PhaseError, results[0].Phase)
	assert.EqualError(t, results[0].Err, "db gone")
}

func TestAgentLoop_InvalidAndOwnerlessStates(t *testing.T) {
	f := newLoopFixture(
		&entity.Subtask{ID: "bad", State: "banana"},
		&entity.Subtask{ID: "done", State: "completed"},
	)

	results, err := f.loop.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, PhaseError, results[0].Phase)
	assert.Error(t, results[0].Err)
	assert.Equal(t, PhaseWait, results[1].Phase)
	assert.NoError(t, results[1].Err)
	assert.Empty(t, f.actions.calls)
}

func TestAgentLoop_ObserveFailure(t *testing.T) {
	f := newLoopFixture()
	f.lister.err = errors.New("list failed")

	_, err := f.loop.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observe subtasks")
	assert.Equal(t, "list failed", f.loop.Status().LastError)
}

func TestAgentLoop_StartStop(t *testing.T) {
	f := newLoopFixture(&entity.Subtask{ID: "s1", State: "pending"})
	f.states.states["s1"] = "pending"

	require.NoError(t, f.loop.Start(context.Background()))
	assert.Error(t, f.loop.Start(context.Background()))
	assert.True(t, f.loop.Status().Running)

	require.Eventually(t, func() bool {
		return f.loop.Status().ProcessedCount >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.loop.Stop())
	require.NoError(t, f.loop.Stop())
	assert.False(t, f.loop.Status().Running)
	assert.Equal(t, "AgentLoop", f.loop.Name())
}
