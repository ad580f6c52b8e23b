// Package task is the per-instance composition root: it owns exactly one
// StateMachine, one Interceptor, one Compressor, one Submit-Review Gate
// and one guidance Escalator, wires the capability-port relationships
// between them, and exposes the handful of methods a caller needs to run
// one SWE-bench instance end to end. There is no package-level mutable
// state; a Task is an explicitly constructed, explicitly destroyed handle
// threaded through whatever owns the agent loop, rather than a
// process-wide "current task" variable.
package task

import (
	"context"
	"regexp"
	"strings"

	"policyengine.dev/core/common/id"
	"policyengine.dev/core/internal/llmclient"
	"policyengine.dev/core/internal/policy/clock"
	"policyengine.dev/core/internal/policy/compressor"
	"policyengine.dev/core/internal/policy/exploration"
	"policyengine.dev/core/internal/policy/interceptor"
	"policyengine.dev/core/internal/policy/pathmap"
	"policyengine.dev/core/internal/policy/reporegistry"
	"policyengine.dev/core/internal/policy/statemachine"
	"policyengine.dev/core/internal/policy/submitgate"
	"policyengine.dev/core/internal/policy/transcript"
)

// Config supplies a Task's collaborators. Clock, Mapper and IDGen default
// to production values when left zero; LLMClient has no default since
// summarisation cannot run without one.
type Config struct {
	InstanceID string
	Clock      clock.Clock
	Mapper     pathmap.Mapper
	LLMClient  llmclient.Client
	IDGen      compressor.IDGen
}

// Task owns one instance's worth of engine state.
type Task struct {
	instanceID string
	clock      clock.Clock
	mapper     pathmap.Mapper
	idGen      compressor.IDGen
	llmClient  llmclient.Client
	repo       reporegistry.Config

	sm        *statemachine.Machine
	ic        *interceptor.Interceptor
	cp        *compressor.Compressor
	gate      *submitgate.Gate
	escalator *exploration.Escalator

	readCalls int
	testCalls int
	flags     exploration.Flags
}

// New constructs a Task at its start-of-instance state.
func New(cfg Config) *Task {
	t := newTask(cfg)
	t.sm = statemachine.New()
	t.ic = interceptor.New(t.clock, t.mapper, t.sm)
	t.cp = compressor.New(t.llmClient, t.idGen, t.sm)
	t.gate = submitgate.New()
	return t
}

func newTask(cfg Config) *Task {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}
	mapper := cfg.Mapper
	if mapper == (pathmap.Mapper{}) {
		mapper = pathmap.NewDefault()
	}
	idGen := cfg.IDGen
	if idGen == nil {
		idGen = compressor.NewSnowflakeIDGen(id.New)
	}
	return &Task{
		instanceID: cfg.InstanceID,
		clock:      clk,
		mapper:     mapper,
		idGen:      idGen,
		llmClient:  cfg.LLMClient,
		repo:       reporegistry.GetRepositoryConfig(cfg.InstanceID),
		escalator:  exploration.NewEscalator(clk),
	}
}

// Reset restores the start-of-instance state for every owned collaborator
// but keeps the repository configuration, matching the explicit lifecycle
// rule: a reset instance still knows which repository it's working in.
func (t *Task) Reset() {
	t.sm = statemachine.New()
	t.ic = interceptor.New(t.clock, t.mapper, t.sm)
	t.cp = compressor.New(t.llmClient, t.idGen, t.sm)
	t.gate = submitgate.New()
	t.escalator = exploration.NewEscalator(t.clock)
	t.readCalls = 0
	t.testCalls = 0
	t.flags = exploration.Flags{}
}

// ExplorationState is the serialisable slice of exploration bookkeeping a
// Task carries outside the StateMachine proper.
type ExplorationState struct {
	ReadCalls int               `json:"read_calls"`
	TestCalls int               `json:"test_calls"`
	Flags     exploration.Flags `json:"flags"`
}

// Snapshot is the stable JSON-compatible encoding of a Task's state,
// suitable for crash recovery or a debug inspection endpoint.
type Snapshot struct {
	InstanceID      string                       `json:"instance_id"`
	State           statemachine.State           `json:"state"`
	ReasoningConfig statemachine.ReasoningConfig `json:"reasoning_config"`
	Exploration     ExplorationState             `json:"exploration"`
	Executions      []interceptor.ExecutionRecord `json:"executions"`
	Outputs         []interceptor.OutputRecord    `json:"outputs"`
	GateFired       bool                         `json:"gate_fired"`
}

// Snapshot captures the current state for persistence or inspection.
func (t *Task) Snapshot() Snapshot {
	return Snapshot{
		InstanceID:      t.instanceID,
		State:           t.sm.GetState(),
		ReasoningConfig: t.sm.GetCurrentReasoningConfig(),
		Exploration:     ExplorationState{ReadCalls: t.readCalls, TestCalls: t.testCalls, Flags: t.flags},
		Executions:      t.ic.Executions(),
		Outputs:         t.ic.Outputs(),
		GateFired:       t.gate.Fired(),
	}
}

// Restore rebuilds a Task from a previously captured Snapshot. Per the
// restore rule, jinnang streak counters reset to zero even though every
// other counter and history is carried over verbatim.
func Restore(cfg Config, snap Snapshot) *Task {
	t := newTask(cfg)
	t.sm = statemachine.FromState(snap.State)
	t.ic = interceptor.New(t.clock, t.mapper, t.sm)
	t.ic.Restore(snap.Executions, snap.Outputs)
	t.cp = compressor.New(t.llmClient, t.idGen, t.sm)
	t.gate = submitgate.Restore(snap.GateFired)
	t.readCalls = snap.Exploration.ReadCalls
	t.testCalls = snap.Exploration.TestCalls
	t.flags = snap.Exploration.Flags
	return t
}

const firstModificationGuidance = "This is the first code change in the analysis phase. Confirm the failure has " +
	"been reproduced and the root cause located before modifying code, so there is a clear before/after to compare " +
	"against."

// Validate runs a proposed tool call through the Interceptor and layers
// two composition-level, one-shot advisories on top: the first-edit
// reminder in the analysis phase, and the submit-review reminder at the
// first completion attempt. Both fire at most once per instance and are
// independent of each other and of the Interceptor's own jinnang guidance.
func (t *Task) Validate(tool string, params map[string]string) interceptor.Decision {
	decision := t.ic.Validate(tool, params)

	if tool == "apply_diff" && t.sm.ShouldShowFirstModificationGuidance() {
		decision.Reason = appendNote(decision.Reason, firstModificationGuidance)
		decision.Guidance = appendNote(decision.Guidance, firstModificationGuidance)
		t.sm.MarkFirstModificationGuidanceShown()
	}

	if note, fired := t.gate.Observe(tool); fired {
		decision.Guidance = appendNote(decision.Guidance, note)
	}

	return decision
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + " " + note
}

// ApplyPathMapping rewrites path-bearing parameters before a validated
// call is handed to the execution environment.
func (t *Task) ApplyPathMapping(tool string, params map[string]string) map[string]string {
	return t.ic.ApplyPathMappingToParams(tool, params)
}

// RecordToolExecution folds a completed call's outcome into the
// Interceptor's bounded histories and the StateMachine's counters, and
// separately updates the exploration signals the Escalator and scorer
// read from.
func (t *Task) RecordToolExecution(tool string, params map[string]string, output string) interceptor.ExecutionOutcome {
	t.updateExploration(tool, params)
	return t.ic.RecordToolExecution(tool, params, output)
}

var testPathHint = regexp.MustCompile(`(?i)(^|/)tests?(/|$)|test_|_test\.|\.test\.`)

func paramPath(params map[string]string) string {
	if p := params["path"]; p != "" {
		return p
	}
	return params["file_path"]
}

func isProjectRoot(path string) bool {
	p := strings.Trim(path, "/")
	return p == "" || p == "." || !strings.Contains(p, "/")
}

// updateExploration derives the four advisory exploration flags and the
// two raw counters the Escalator and scorer consume, from the tool being
// invoked and its parameters. There is no prescribed algorithm for this;
// the heuristics below are deliberately conservative (they only ever set
// a flag, never clear one).
func (t *Task) updateExploration(tool string, params map[string]string) {
	path := paramPath(params)

	switch tool {
	case "read_file":
		t.readCalls++
		if strings.Contains(strings.ToLower(path), "readme") {
			t.flags.ReadmeRead = true
		}
		if testPathHint.MatchString(path) || matchesAnyPattern(t.repo.TestPatterns, path) {
			t.flags.TargetTestsLocated = true
		}
	case "list_files":
		if isProjectRoot(path) {
			t.flags.ProjectExplored = true
		}
		if testPathHint.MatchString(path) {
			t.flags.TestStructureExplored = true
		}
	case "search_files":
		pattern := params["pattern"]
		if testPathHint.MatchString(path) || testPathHint.MatchString(pattern) {
			t.flags.TestStructureExplored = true
			t.flags.TargetTestsLocated = true
		}
	case "execute_command":
		t.testCalls++
	}
}

func matchesAnyPattern(patterns []string, s string) bool {
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil && re.MatchString(s) {
			return true
		}
	}
	return false
}

// ExplorationReport is one call's worth of exploration feedback: where the
// understanding score currently sits, what to do next, and how insistent
// the next guidance message should be.
type ExplorationReport struct {
	Score           int
	Bucket          exploration.Bucket
	Recommendations []exploration.Recommendation
	EscalationLevel int
}

// ExplorationReport assesses current understanding of the repository and
// advances the Escalator's re-appearance tracking.
func (t *Task) ExplorationReport() ExplorationReport {
	snap := exploration.Snapshot{ReadCalls: t.readCalls, TestCalls: t.testCalls, Flags: t.flags}
	return ExplorationReport{
		Score:           exploration.Score(snap),
		Bucket:          exploration.BucketFor(exploration.Score(snap)),
		Recommendations: exploration.Recommend(snap),
		EscalationLevel: t.escalator.Observe(snap),
	}
}

// Compress runs the Context Compressor over messages under the given
// budget parameters.
func (t *Task) Compress(ctx context.Context, messages []transcript.Message, p compressor.Params) compressor.Outcome {
	return t.cp.Compress(ctx, messages, p)
}

// GetState returns the current StateMachine state.
func (t *Task) GetState() statemachine.State { return t.sm.GetState() }

// ReasoningConfig returns the StateMachine's current reasoning-budget
// configuration.
func (t *Task) ReasoningConfig() statemachine.ReasoningConfig { return t.sm.GetCurrentReasoningConfig() }

// RepositoryConfig returns the configuration resolved at construction.
func (t *Task) RepositoryConfig() reporegistry.Config { return t.repo }

// InstanceID returns the instance this Task was constructed for.
func (t *Task) InstanceID() string { return t.instanceID }

// ConsecutiveApplyDiffs reports the current unverified apply_diff streak.
func (t *Task) ConsecutiveApplyDiffs() int { return t.ic.ConsecutiveApplyDiffs() }
