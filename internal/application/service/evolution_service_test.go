package service

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feilong2k/codemaestro/internal/application/port"
	appwf "github.com/feilong2k/codemaestro/internal/application/workflow"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

const reviewWorkflow = `
name: code_review
initial: draft
states:
  draft:
    on:
      SUBMIT: review
  review:
    on:
      APPROVE: merged
      REJECT: draft
  merged:
    type: final
metadata:
  version: "3"
`

func newWorkflowRepo(t *testing.T, yamlDefs ...string) *mockWorkflowRepo {
	t.Helper()
	repo := &mockWorkflowRepo{records: map[string]*entity.WorkflowRecord{}}
	for _, y := range yamlDefs {
		def, err := workflow.ParseDefinitionYAML([]byte(y))
		require.NoError(t, err)
		record, err := appwf.EncodeDefinition(def)
		require.NoError(t, err)
		record.Version = 1
		repo.records[def.Name] = record
	}
	return repo
}

// newEvolution leaves the optional collaborators unset when inv or reporter is nil,
// so the service sees a nil interface rather than a nil pointer.
func newEvolution(outcomes *mockOutcomeRepo, workflows *mockWorkflowRepo, inv *mockInvalidator, reporter *mockReportWriter) EvolutionService {
	var invalidator WorkflowInvalidator
	if inv != nil {
		invalidator = inv
	}
	var writer port.ReportWriter
	if reporter != nil {
		writer = reporter
	}
	return NewEvolutionService(outcomes, workflows, &mockTxManager{}, invalidator, writer, nil, nopLogger{})
}

func TestEvolution_SuccessRate(t *testing.T) {
	outcomes := &mockOutcomeRepo{}
	svc := newEvolution(outcomes, newWorkflowRepo(t), nil, nil)
	ctx := context.Background()

	rate, err := svc.CalculateSuccessRate(ctx, "code_review")
	require.NoError(t, err)
	assert.Equal(t, 0.0, rate)

	for _, ok := range []bool{true, false, true} {
		require.NoError(t, svc.LogOutcome(ctx, "code_review", ok, nil))
	}

	rate, err = svc.CalculateSuccessRate(ctx, "code_review")
	require.NoError(t, err)
	assert.Equal(t, 0.6667, rate)

	require.Len(t, outcomes.outcomes, 3)
	assert.NotEmpty(t, outcomes.outcomes[0].ID)
	assert.NotNil(t, outcomes.outcomes[0].Metrics)
}

func TestEvolution_AnalyzeEmptyHistory(t *testing.T) {
	svc := newEvolution(&mockOutcomeRepo{}, newWorkflowRepo(t), nil, nil)

	analysis, err := svc.AnalyzePatterns(context.Background())
	require.NoError(t, err)
	require.NotNil(t, analysis.Patterns)
	assert.Empty(t, analysis.Patterns)

	body, err := json.Marshal(analysis)
	require.NoError(t, err)
	assert.JSONEq(t, `{"patterns":[],"details":[]}`, string(body))

	opt, err := svc.ProposeOptimization(context.Background())
	require.NoError(t, err)
	assert.Nil(t, opt)
}

func TestEvolution_DetectsPatterns(t *testing.T) {
	outcomes := &mockOutcomeRepo{}
	svc := newEvolution(outcomes, newWorkflowRepo(t), nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.LogOutcome(ctx, "code_review", false, map[string]any{"reason": "Timeout"}))
	require.NoError(t, svc.LogOutcome(ctx, "code_review", false, map[string]any{"error": "timeout "}))
	require.NoError(t, svc.LogOutcome(ctx, "code_review", true, nil))
	require.NoError(t, svc.LogOutcome(ctx, "deploy", false, map[string]any{"failureReason": "flaky"}))

	analysis, err := svc.AnalyzePatterns(ctx)
	require.NoError(t, err)
	require.Len(t, analysis.Details, 2)
	assert.Equal(t, PatternHighFailureRate, analysis.Details[0].Kind)
	assert.Equal(t, PatternRepeatedTimeouts, analysis.Details[1].Kind)
	assert.Equal(t, 2, analysis.Details[1].Count)
	assert.Len(t, analysis.Patterns, 2)
}

func TestEvolution_ProposeAndApplyRecovery(t *testing.T) {
	outcomes := &mockOutcomeRepo{}
	workflows := newWorkflowRepo(t, reviewWorkflow)
	inv := &mockInvalidator{}
	svc := newEvolution(outcomes, workflows, inv, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.LogOutcome(ctx, "code_review", false, map[string]any{"reason": "timeout"}))
	}

	opt, err := svc.ProposeOptimization(ctx)
	require.NoError(t, err)
	require.NotNil(t, opt)
	assert.Equal(t, "code_review", opt.WorkflowID)
	assert.Contains(t, opt.Patch.States, "recovery")
	assert.Contains(t, opt.Patch.States, "draft")
	assert.NotContains(t, opt.Patch.States, "merged")

	require.NoError(t, svc.ApplyOptimization(ctx, opt.WorkflowID, opt.Patch))
	assert.Equal(t, []string{"code_review"}, inv.invalidated)

	def, err := appwf.DecodeRecord(workflows.records["code_review"])
	require.NoError(t, err)
	assert.Equal(t, "4", def.Metadata.Version)
	assert.Equal(t, "retryLastStep", def.Metadata.AutoActions["recovery"])

	target, err := def.Lookup("review", "TIMEOUT")
	require.NoError(t, err)
	assert.Equal(t, "recovery", target.Target)

	target, err = def.Lookup("review", "APPROVE")
	require.NoError(t, err)
	assert.Equal(t, "merged", target.Target)

	target, err = def.Lookup("recovery", "RETRY")
	require.NoError(t, err)
	assert.Equal(t, "draft", target.Target)

	// already has a recovery state
	opt, err = svc.ProposeOptimization(ctx)
	require.NoError(t, err)
	assert.Nil(t, opt)
}

func TestEvolution_ProposeErrorEscape(t *testing.T) {
	outcomes := &mockOutcomeRepo{}
	workflows := newWorkflowRepo(t, reviewWorkflow)
	svc := newEvolution(outcomes, workflows, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.LogOutcome(ctx, "code_review", false, nil))
	}

	opt, err := svc.ProposeOptimization(ctx)
	require.NoError(t, err)
	require.NotNil(t, opt)
	assert.Equal(t, "ERROR", opt.Patch.States["draft"].On["ERROR_OCCURRED"].Target)
	assert.True(t, opt.Patch.States["ERROR"].IsFinal())

	require.NoError(t, svc.ApplyOptimization(ctx, "code_review", opt.Patch))

	def, err := appwf.DecodeRecord(workflows.records["code_review"])
	require.NoError(t, err)
	assert.True(t, def.HasState("ERROR"))

	opt, err = svc.ProposeOptimization(ctx)
	require.NoError(t, err)
	assert.Nil(t, opt)
}

func TestEvolution_ApplyErrors(t *testing.T) {
	workflows := newWorkflowRepo(t, reviewWorkflow)
	inv := &mockInvalidator{}
	svc := newEvolution(&mockOutcomeRepo{}, workflows, inv, nil)
	ctx := context.Background()

	err := svc.ApplyOptimization(ctx, "missing", WorkflowPatch{})
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	// patch pointing to an undeclared state
	err = svc.ApplyOptimization(ctx, "code_review", WorkflowPatch{
		States: map[string]workflow.StateSpec{
			"draft": {On: map[string]workflow.TransitionSpec{"SKIP": {Target: "nowhere"}}},
		},
	})
	assert.ErrorIs(t, err, workflow.ErrInvalidDefinition)

	workflows.updateFunc = func(ctx context.Context, name string, definition, metadata json.RawMessage) error {
		return workflow.ErrNotFound
	}
	err = svc.ApplyOptimization(ctx, "code_review", WorkflowPatch{})
	assert.ErrorIs(t, err, workflow.ErrNotFound)
	assert.Empty(t, inv.invalidated)
}

func TestEvolution_StatsAndReport(t *testing.T) {
	now := time.Now()
	outcomes := &mockOutcomeRepo{outcomes: []*entity.WorkflowOutcome{
		{ID: "1", WorkflowID: "b", Success: true, CreatedAt: now.Add(-time.Hour)},
		{ID: "2", WorkflowID: "a", Success: false, Metrics: map[string]any{"reason": "lint"}, CreatedAt: now},
		{ID: "3", WorkflowID: "a", Success: false, Metrics: map[string]any{"reason": "lint"}, CreatedAt: now.Add(-time.Minute)},
		{ID: "4", WorkflowID: "a", Success: true, CreatedAt: now.Add(-2 * time.Minute)},
	}}
	reporter := &mockReportWriter{}
	svc := newEvolution(outcomes, newWorkflowRepo(t), nil, reporter)
	ctx := context.Background()

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "a", stats[0].WorkflowID)
	assert.Equal(t, 3, stats[0].Total)
	assert.Equal(t, 2, stats[0].Failures)
	assert.Equal(t, 0.3333, stats[0].SuccessRate)
	assert.Equal(t, []string{"lint"}, stats[0].TopFailures)
	assert.True(t, stats[0].LastOutcome.Equal(now))

	var buf bytes.Buffer
	require.NoError(t, svc.ExportReport(ctx, &buf))
	assert.Equal(t, "report", buf.String())
	assert.Len(t, reporter.stats, 2)

	noReporter := newEvolution(outcomes, newWorkflowRepo(t), nil, nil)
	assert.Error(t, noReporter.ExportReport(ctx, &buf))
}
