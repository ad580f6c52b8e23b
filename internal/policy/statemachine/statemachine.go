// Package statemachine implements the State Machine: the
// ANALYZE→MODIFY→VERIFY workflow, its per-phase tool allow-lists, and the
// reasoning-budget scaling that rides alongside phase and tool-call
// counters.
package statemachine

import (
	"fmt"
	"log/slog"
)

// Phase is a stage in the workflow state machine.
type Phase string

const (
	PhaseAnalyze Phase = "ANALYZE"
	PhaseModify  Phase = "MODIFY"
	PhaseVerify  Phase = "VERIFY"
)

// VerifyThresholdCommands is the number of execute_command calls after the
// first modification required to cross MODIFY→VERIFY.
const VerifyThresholdCommands = 6

// BudgetStepCalls is the tool-call stride at which the reasoning-budget
// scale increases.
const BudgetStepCalls = 50

var budgetMax = map[Phase]int{
	PhaseAnalyze: 16384,
	PhaseModify:  8192,
	PhaseVerify:  16384,
}

var effortLevel = map[Phase]string{
	PhaseAnalyze: "high",
	PhaseModify:  "medium",
	PhaseVerify:  "high",
}

var allowList = map[Phase]map[string]bool{
	PhaseAnalyze: set("read_file", "list_files", "search_files", "execute_command", "use_mcp_tool", "access_mcp_resource"),
	PhaseModify:  set("read_file", "list_files", "search_files", "execute_command", "use_mcp_tool", "access_mcp_resource", "apply_diff", "write_to_file"),
	PhaseVerify:  set("read_file", "list_files", "search_files", "execute_command", "use_mcp_tool", "access_mcp_resource", "apply_diff", "write_to_file", "attempt_completion"),
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Counters are the monotonically non-decreasing counts the machine tracks.
type Counters struct {
	ToolCallsTotal  int  `json:"tool_calls_total"`
	ModificationCount int `json:"modification_count"`
	TestCallsCount  int  `json:"test_calls_count"` // execute_command calls observed after the first modification
	HasRunTests     bool `json:"has_run_tests"`
}

// ReasoningConfig is the effective per-turn budget for the current phase.
type ReasoningConfig struct {
	Phase           Phase  `json:"phase"`
	MaxBudget       int    `json:"max_budget"`
	Effort          string `json:"effort"`
	EffectiveBudget int    `json:"effective_budget"`
}

// State is the StateMachine's owned, JSON-serialisable state.
type State struct {
	Phase                          Phase    `json:"phase"`
	Counters                       Counters `json:"counters"`
	ModifiedFiles                  []string `json:"modified_files"`
	FirstModificationGuidanceShown bool     `json:"first_modification_guidance_shown"`
}

// Ports is the capability surface the Interceptor and Compressor consult:
// they hold this by value/handle and never write directly.
type Ports interface {
	GetState() State
	GetBlockReason(tool string) (string, bool)
	IsToolAllowed(tool string) bool
	RecordToolUse(tool string, params map[string]string, output string)
	GetCurrentReasoningConfig() ReasoningConfig
}

// Machine is the per-task StateMachine instance.
type Machine struct {
	state State
}

// New constructs a Machine starting in ANALYZE with zeroed counters.
func New() *Machine {
	return &Machine{state: State{Phase: PhaseAnalyze}}
}

// FromState restores a Machine from a previously serialised State. The
// apply-diff streak counter lives in the Interceptor, not here, so nothing
// in State itself needs resetting on restore.
func FromState(s State) *Machine {
	return &Machine{state: s}
}

// GetState returns a copy of the current state.
func (m *Machine) GetState() State { return m.state }

// IsToolAllowed implements the per-phase tool allow-lists, including the
// ANALYZE apply_diff exception.
func (m *Machine) IsToolAllowed(tool string) bool {
	if tool == "apply_diff" && m.state.Phase == PhaseAnalyze {
		return m.state.Counters.ModificationCount > 0 || m.state.Counters.HasRunTests
	}
	return allowList[m.state.Phase][tool]
}

// GetBlockReason returns the block message for tool, if any, given the
// current phase.
func (m *Machine) GetBlockReason(tool string) (string, bool) {
	if tool == "attempt_completion" && m.state.Phase != PhaseVerify {
		msg := fmt.Sprintf("attempt_completion is not allowed in phase %s; finish verification first.", m.state.Phase)
		if m.state.Phase == PhaseModify {
			remaining := VerifyThresholdCommands - m.state.Counters.TestCallsCount
			if remaining < 0 {
				remaining = 0
			}
			msg += fmt.Sprintf(
				" %d more execute_command call(s) are required to reach VERIFY. Before attempting completion, review:"+
					" 1) inspect the diff, 2) check behaviour/edge-case/regression impact,"+
					" 3) run FAIL_TO_PASS tests then PASS_TO_PASS tests, 4) inspect the test logs.",
				remaining,
			)
		}
		return msg, true
	}
	if !m.IsToolAllowed(tool) {
		return fmt.Sprintf("%q is not allowed in phase %s", tool, m.state.Phase), true
	}
	return "", false
}

// RecordToolUse updates counters, transitions phase if warranted, and
// recomputes the reasoning budget. Tool outputs are not interpreted here
// beyond what the phase transition rule requires.
func (m *Machine) RecordToolUse(tool string, params map[string]string, output string) {
	c := &m.state.Counters
	c.ToolCallsTotal++

	switch tool {
	case "apply_diff", "write_to_file":
		c.ModificationCount++
		if p := modifiedPath(params); p != "" {
			m.addModifiedFile(p)
		}
	case "execute_command":
		c.HasRunTests = true
		if c.ModificationCount > 0 {
			c.TestCallsCount++
		}
	}

	m.maybeTransition(tool)
}

func modifiedPath(params map[string]string) string {
	if p, ok := params["path"]; ok && p != "" {
		return p
	}
	return params["file_path"]
}

func (m *Machine) addModifiedFile(path string) {
	for _, existing := range m.state.ModifiedFiles {
		if existing == path {
			return
		}
	}
	m.state.ModifiedFiles = append(m.state.ModifiedFiles, path)
}

// maybeTransition applies the ANALYZE→MODIFY and MODIFY→VERIFY rules.
// VERIFY has no automatic transition.
func (m *Machine) maybeTransition(tool string) {
	switch m.state.Phase {
	case PhaseAnalyze:
		if tool == "execute_command" {
			m.state.Phase = PhaseModify
		}
	case PhaseModify:
		if m.state.Counters.ModificationCount >= 1 && m.state.Counters.TestCallsCount >= VerifyThresholdCommands {
			m.state.Phase = PhaseVerify
		}
	}
}

// CanTransitionTo exposes the transition gate without mutating state.
func (m *Machine) CanTransitionTo(p Phase) bool {
	switch p {
	case PhaseAnalyze:
		return true
	case PhaseModify:
		return m.state.Phase == PhaseAnalyze && m.state.Counters.HasRunTests
	case PhaseVerify:
		return m.state.Phase == PhaseModify && m.state.Counters.ModificationCount >= 1
	default:
		return false
	}
}

// ForcePhase is the explicit recovery escape hatch:
// invariants are not re-checked, the transition always applies, and the
// bypass is logged.
func (m *Machine) ForcePhase(p Phase) {
	if !m.CanTransitionTo(p) {
		slog.Warn("statemachine: forced phase transition violates invariants", "from", m.state.Phase, "to", p)
	}
	m.state.Phase = p
}

// ShouldShowFirstModificationGuidance reports whether the one-shot
// first-modification guidance latch should fire now.
func (m *Machine) ShouldShowFirstModificationGuidance() bool {
	return m.state.Phase == PhaseAnalyze && !m.state.Counters.HasRunTests && !m.state.FirstModificationGuidanceShown
}

// MarkFirstModificationGuidanceShown flips the one-shot latch.
func (m *Machine) MarkFirstModificationGuidanceShown() {
	m.state.FirstModificationGuidanceShown = true
}

// GetCurrentReasoningConfig recomputes the effective budget for the
// current phase from tool_calls_total.
func (m *Machine) GetCurrentReasoningConfig() ReasoningConfig {
	max := budgetMax[m.state.Phase]
	scale := 0.5 + 0.5*float64(m.state.Counters.ToolCallsTotal/BudgetStepCalls)
	if scale > 1.0 {
		scale = 1.0
	}
	return ReasoningConfig{
		Phase:           m.state.Phase,
		MaxBudget:       max,
		Effort:          effortLevel[m.state.Phase],
		EffectiveBudget: int(float64(max) * scale),
	}
}
