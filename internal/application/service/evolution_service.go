package service

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feilong2k/codemaestro/internal/application/dispatcher"
	"github.com/feilong2k/codemaestro/internal/application/port"
	appwf "github.com/feilong2k/codemaestro/internal/application/workflow"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
	"github.com/feilong2k/codemaestro/internal/domain/event"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

// Pattern kinds
const (
	PatternHighFailureRate  = "high_failure_rate"
	PatternRepeatedTimeouts = "repeated_timeouts"
	PatternRepeatedFailure  = "repeated_failure"
)

const (
	// analysisWindow bounds how many recent outcomes are aggregated
	analysisWindow = 1000

	minOutcomesForRate   = 3
	highFailureThreshold = 0.5
	minRepeats           = 2

	recoveryState  = "recovery"
	recoveryAction = "retryLastStep"
	timeoutEvent   = "TIMEOUT"
	retryEvent     = "RETRY"
	errorState     = "ERROR"
)

// Pattern is one finding over the outcome history
type Pattern struct {
	WorkflowID  string `json:"workflow_id"`
	Kind        string `json:"kind"`
	Count       int    `json:"count"`
	Description string `json:"description"`
}

// PatternAnalysis summarises the outcome history
type PatternAnalysis struct {
	Patterns []string  `json:"patterns"`
	Details  []Pattern `json:"details"`
}

// WorkflowPatch is merged into a stored definition. States are merged per
// state (transitions added or replaced); metadata auto-actions are merged.
type WorkflowPatch struct {
	States   map[string]workflow.StateSpec `json:"states,omitempty"`
	Metadata *workflow.Metadata            `json:"metadata,omitempty"`
}

// Optimization is a proposed patch with its rationale
type Optimization struct {
	WorkflowID string        `json:"workflowId"`
	Patch      WorkflowPatch `json:"patch"`
	Reason     string        `json:"reason"`
}

// WorkflowInvalidator drops cached definitions after they are patched
type WorkflowInvalidator interface {
	InvalidateWorkflow(name string)
}

// EvolutionService is the feedback loop over workflow execution outcomes
type EvolutionService interface {
	LogOutcome(ctx context.Context, workflowID string, success bool, metrics map[string]any) error
	AnalyzePatterns(ctx context.Context) (*PatternAnalysis, error)

	// ProposeOptimization returns nil when the history shows nothing to fix
	ProposeOptimization(ctx context.Context) (*Optimization, error)

	// ApplyOptimization fails with ErrNotFound when the workflow does not exist
	ApplyOptimization(ctx context.Context, workflowID string, patch WorkflowPatch) error

	// CalculateSuccessRate returns 0 for no outcomes, rounded to 4 decimals
	CalculateSuccessRate(ctx context.Context, workflowID string) (float64, error)

	Stats(ctx context.Context) ([]port.WorkflowStats, error)
	ExportReport(ctx context.Context, w io.Writer) error
}

type evolutionServiceImpl struct {
	outcomeRepo  port.OutcomeRepository
	workflowRepo port.WorkflowRepository
	txManager    port.TransactionManager
	invalidator  WorkflowInvalidator
	reporter     port.ReportWriter
	dispatcher   dispatcher.Dispatcher
	logger       Logger
}

// NewEvolutionService creates a new EvolutionService. invalidator, reporter
// and d may be nil.
func NewEvolutionService(
	outcomeRepo port.OutcomeRepository,
	workflowRepo port.WorkflowRepository,
	txManager port.TransactionManager,
	invalidator WorkflowInvalidator,
	reporter port.ReportWriter,
	d dispatcher.Dispatcher,
	logger Logger,
) EvolutionService {
	return &evolutionServiceImpl{
		outcomeRepo:  outcomeRepo,
		workflowRepo: workflowRepo,
		txManager:    txManager,
		invalidator:  invalidator,
		reporter:     reporter,
		dispatcher:   d,
		logger:       logger,
	}
}

func (s *evolutionServiceImpl) LogOutcome(ctx context.Context, workflowID string, success bool, metrics map[string]any) error {
	if metrics == nil {
		metrics = map[string]any{}
	}

	outcome := &entity.WorkflowOutcome{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Success:    success,
		Metrics:    metrics,
		CreatedAt:  time.Now(),
	}

	if err := s.outcomeRepo.Create(ctx, outcome); err != nil {
		s.logger.Error("Failed to log outcome", "error", err, "workflow_id", workflowID)
		return fmt.Errorf("log outcome: %w", err)
	}
	return nil
}

func (s *evolutionServiceImpl) AnalyzePatterns(ctx context.Context) (*PatternAnalysis, error) {
	outcomes, err := s.outcomeRepo.ListRecent(ctx, analysisWindow)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}

	analysis := &PatternAnalysis{Patterns: []string{}, Details: []Pattern{}}
	for _, group := range groupOutcomes(outcomes) {
		for _, p := range detectPatterns(group.workflowID, group.outcomes) {
			analysis.Details = append(analysis.Details, p)
			analysis.Patterns = append(analysis.Patterns, p.Description)
		}
	}

	return analysis, nil
}

func (s *evolutionServiceImpl) ProposeOptimization(ctx context.Context) (*Optimization, error) {
	analysis, err := s.AnalyzePatterns(ctx)
	if err != nil {
		return nil, err
	}

	// Timeouts first: a recovery state is the more specific fix
	sort.SliceStable(analysis.Details, func(i, j int) bool {
		return analysis.Details[i].Kind == PatternRepeatedTimeouts && analysis.Details[j].Kind != PatternRepeatedTimeouts
	})

	for _, p := range analysis.Details {
		record, err := s.workflowRepo.GetByName(ctx, p.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("load workflow %s: %w", p.WorkflowID, err)
		}
		if record == nil {
			continue
		}
		def, err := appwf.DecodeRecord(record)
		if err != nil {
			s.logger.Error("Skipping undecodable workflow", "workflow_id", p.WorkflowID, "error", err)
			continue
		}

		var opt *Optimization
		switch p.Kind {
		case PatternRepeatedTimeouts:
			opt = proposeRecoveryState(def, p)
		default:
			opt = proposeErrorEscape(def, p)
		}
		if opt != nil {
			return opt, nil
		}
	}

	return nil, nil
}

func (s *evolutionServiceImpl) ApplyOptimization(ctx context.Context, workflowID string, patch WorkflowPatch) error {
	record, err := s.workflowRepo.GetByName(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if record == nil {
		return fmt.Errorf("%w: workflow %s", workflow.ErrNotFound, workflowID)
	}

	def, err := appwf.DecodeRecord(record)
	if err != nil {
		return err
	}
	merged := mergePatch(def, patch)
	if err := merged.Validate(); err != nil {
		return err
	}

	updated, err := appwf.EncodeDefinition(merged)
	if err != nil {
		return err
	}

	write := func(txCtx context.Context) error {
		return s.workflowRepo.UpdateDefinition(txCtx, workflowID, updated.Definition, updated.Metadata)
	}
	if s.txManager != nil {
		err = s.txManager.WithTransaction(ctx, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		s.logger.Error("Failed to apply optimization", "error", err, "workflow_id", workflowID)
		return err
	}

	if s.invalidator != nil {
		s.invalidator.InvalidateWorkflow(workflowID)
	}
	if s.dispatcher != nil {
		s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeOptimizationApplied, "", map[string]any{
			"workflow": workflowID,
			"version":  merged.Metadata.Version,
		}))
	}

	s.logger.Info("Optimization applied", "workflow_id", workflowID, "version", merged.Metadata.Version)
	return nil
}

func (s *evolutionServiceImpl) CalculateSuccessRate(ctx context.Context, workflowID string) (float64, error) {
	outcomes, err := s.outcomeRepo.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return 0, fmt.Errorf("list outcomes: %w", err)
	}
	successes := 0
	for _, o := range outcomes {
		if o.Success {
			successes++
		}
	}
	return successRate(successes, len(outcomes)), nil
}

func (s *evolutionServiceImpl) Stats(ctx context.Context) ([]port.WorkflowStats, error) {
	outcomes, err := s.outcomeRepo.ListRecent(ctx, analysisWindow)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}

	groups := groupOutcomes(outcomes)
	stats := make([]port.WorkflowStats, 0, len(groups))
	for _, g := range groups {
		st := port.WorkflowStats{WorkflowID: g.workflowID, Total: len(g.outcomes)}
		for _, o := range g.outcomes {
			if o.Success {
				st.Successes++
			}
			if o.CreatedAt.After(st.LastOutcome) {
				st.LastOutcome = o.CreatedAt
			}
		}
		st.Failures = st.Total - st.Successes
		st.SuccessRate = successRate(st.Successes, st.Total)
		st.TopFailures = topFailureReasons(g.outcomes, 3)
		stats = append(stats, st)
	}

	return stats, nil
}

func (s *evolutionServiceImpl) ExportReport(ctx context.Context, w io.Writer) error {
	if s.reporter == nil {
		return fmt.Errorf("no report writer configured")
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	return s.reporter.WriteOutcomeReport(w, stats)
}

func successRate(successes, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(successes)/float64(total)*10000) / 10000
}

type outcomeGroup struct {
	workflowID string
	outcomes   []*entity.WorkflowOutcome
}

// groupOutcomes groups by workflow, ordered by workflow id
func groupOutcomes(outcomes []*entity.WorkflowOutcome) []outcomeGroup {
	byWorkflow := make(map[string][]*entity.WorkflowOutcome)
	for _, o := range outcomes {
		byWorkflow[o.WorkflowID] = append(byWorkflow[o.WorkflowID], o)
	}

	groups := make([]outcomeGroup, 0, len(byWorkflow))
	for id, list := range byWorkflow {
		groups = append(groups, outcomeGroup{workflowID: id, outcomes: list})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].workflowID < groups[j].workflowID })
	return groups
}

func detectPatterns(workflowID string, outcomes []*entity.WorkflowOutcome) []Pattern {
	var patterns []Pattern

	failures := 0
	for _, o := range outcomes {
		if !o.Success {
			failures++
		}
	}
	if len(outcomes) >= minOutcomesForRate && float64(failures)/float64(len(outcomes)) >= highFailureThreshold {
		patterns = append(patterns, Pattern{
			WorkflowID:  workflowID,
			Kind:        PatternHighFailureRate,
			Count:       failures,
			Description: fmt.Sprintf("%s: %d of %d executions failed", workflowID, failures, len(outcomes)),
		})
	}

	reasons := failureReasons(outcomes)
	keys := make([]string, 0, len(reasons))
	for reason := range reasons {
		keys = append(keys, reason)
	}
	sort.Strings(keys)

	for _, reason := range keys {
		count := reasons[reason]
		if count < minRepeats {
			continue
		}
		kind := PatternRepeatedFailure
		if strings.Contains(reason, "timeout") {
			kind = PatternRepeatedTimeouts
		}
		patterns = append(patterns, Pattern{
			WorkflowID:  workflowID,
			Kind:        kind,
			Count:       count,
			Description: fmt.Sprintf("%s: repeated failure %q (%d times)", workflowID, reason, count),
		})
	}

	return patterns
}

// failureReasons counts normalised failure reasons from outcome metrics
func failureReasons(outcomes []*entity.WorkflowOutcome) map[string]int {
	reasons := make(map[string]int)
	for _, o := range outcomes {
		if o.Success {
			continue
		}
		for _, key := range []string{"reason", "error", "failureReason"} {
			if v, ok := o.Metrics[key].(string); ok && strings.TrimSpace(v) != "" {
				reasons[strings.ToLower(strings.TrimSpace(v))]++
				break
			}
		}
	}
	return reasons
}

func topFailureReasons(outcomes []*entity.WorkflowOutcome, n int) []string {
	reasons := failureReasons(outcomes)
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if reasons[keys[i]] != reasons[keys[j]] {
			return reasons[keys[i]] > reasons[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// proposeRecoveryState routes TIMEOUT from every non-final state into a
// recovery state that retries from the initial state
func proposeRecoveryState(def *workflow.Definition, p Pattern) *Optimization {
	if def.HasState(recoveryState) {
		return nil
	}

	states := map[string]workflow.StateSpec{
		recoveryState: {On: map[string]workflow.TransitionSpec{retryEvent: {Target: def.Initial}}},
	}
	for _, name := range def.StateNames() {
		spec := def.States[name]
		if spec.IsFinal() {
			continue
		}
		if _, exists := spec.On[timeoutEvent]; exists {
			continue
		}
		states[name] = workflow.StateSpec{On: map[string]workflow.TransitionSpec{timeoutEvent: {Target: recoveryState}}}
	}

	return &Optimization{
		WorkflowID: def.Name,
		Patch: WorkflowPatch{
			States:   states,
			Metadata: &workflow.Metadata{AutoActions: map[string]string{recoveryState: recoveryAction}},
		},
		Reason: fmt.Sprintf("add a recovery state for repeated timeouts (%d)", p.Count),
	}
}

// proposeErrorEscape adds an ERROR_OCCURRED escape hatch to states missing one
func proposeErrorEscape(def *workflow.Definition, p Pattern) *Optimization {
	states := make(map[string]workflow.StateSpec)
	for _, name := range def.StateNames() {
		spec := def.States[name]
		if spec.IsFinal() {
			continue
		}
		if _, exists := spec.On[workflow.EventErrorOccurred]; exists {
			continue
		}
		states[name] = workflow.StateSpec{On: map[string]workflow.TransitionSpec{workflow.EventErrorOccurred: {Target: errorState}}}
	}
	if len(states) == 0 {
		return nil
	}
	if !def.HasState(errorState) {
		states[errorState] = workflow.StateSpec{Type: workflow.StateTypeFinal}
	}

	return &Optimization{
		WorkflowID: def.Name,
		Patch:      WorkflowPatch{States: states},
		Reason:     fmt.Sprintf("add an %s escape hatch after %s", workflow.EventErrorOccurred, p.Description),
	}
}

// mergePatch returns a new definition with the patch applied and the version bumped
func mergePatch(def *workflow.Definition, patch WorkflowPatch) *workflow.Definition {
	merged := def.Clone()

	for name, ps := range patch.States {
		spec, exists := merged.States[name]
		if !exists {
			merged.States[name] = ps
			continue
		}
		if len(ps.On) > 0 && spec.On == nil {
			spec.On = make(map[string]workflow.TransitionSpec, len(ps.On))
		}
		for evt, t := range ps.On {
			spec.On[evt] = t
		}
		if ps.Entry != nil {
			spec.Entry = ps.Entry
		}
		if ps.Exit != nil {
			spec.Exit = ps.Exit
		}
		if ps.Type != "" {
			spec.Type = ps.Type
		}
		merged.States[name] = spec
	}

	if patch.Metadata != nil {
		if patch.Metadata.Description != "" {
			merged.Metadata.Description = patch.Metadata.Description
		}
		if len(patch.Metadata.AutoActions) > 0 && merged.Metadata.AutoActions == nil {
			merged.Metadata.AutoActions = make(map[string]string, len(patch.Metadata.AutoActions))
		}
		for state, id := range patch.Metadata.AutoActions {
			merged.Metadata.AutoActions[state] = id
		}
	}

	merged.Metadata.Version = nextVersion(merged.Metadata.Version)
	return merged
}

func nextVersion(v string) string {
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return "2"
	}
	return fmt.Sprintf("%d", n+1)
}
