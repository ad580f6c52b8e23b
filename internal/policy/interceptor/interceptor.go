// Package interceptor implements the Tool Interceptor: the
// deterministic per-call pipeline of hard bans, rate limiting, loop
// detection and phase gating that every tool invocation passes through,
// plus the post-execution bookkeeping that feeds the State Machine.
package interceptor

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"policyengine.dev/core/internal/policy/clock"
	"policyengine.dev/core/internal/policy/pathmap"
	"policyengine.dev/core/internal/policy/statemachine"
)

// Fixed constants governing history retention and loop detection.
const (
	MaxHistorySize          = 50
	MaxOutputHistorySize    = 20
	MaxConsecutiveApplyDiff = 3
	StagnationThreshold     = 5 * time.Minute
	BudgetStepCalls         = statemachine.BudgetStepCalls
)

// ExecutionRecord is one entry in the bounded tool-execution history.
type ExecutionRecord struct {
	Tool       string
	Params     map[string]string
	Output     string
	Normalized string
	Success    bool
	Timestamp  time.Time
}

// OutputRecord is one entry in the bounded output-signature history used
// by the output-loop detectors.
type OutputRecord struct {
	Signature string
	Length    int
	Timestamp time.Time
}

// Decision is the outcome of validating a tool call before execution.
type Decision struct {
	Allow     bool
	Reason    string // populated when Allow is false
	Guidance  string // non-blocking advisory, may be set even when Allow is true
	JinnangTriggered bool
}

// ExecutionOutcome is returned after recording a completed tool execution.
type ExecutionOutcome struct {
	Notices []string
}

// Interceptor is the per-task instance owning both bounded histories and
// the apply-diff streak counter.
type Interceptor struct {
	clock  clock.Clock
	mapper pathmap.Mapper
	sm     statemachine.Ports

	executions []ExecutionRecord
	outputs    []OutputRecord

	consecutiveApplyDiff int
	applyDiffTotal       int
	secondJinnangFired   bool
	lastBudgetNoticeAt   int

	lastToolTS    time.Time
	hasLastToolTS bool
}

// New constructs an Interceptor bound to sm (capability ports into the
// StateMachine) and mapper (path rewriting).
func New(clk clock.Clock, mapper pathmap.Mapper, sm statemachine.Ports) *Interceptor {
	return &Interceptor{clock: clk, mapper: mapper, sm: sm}
}

// Reset clears the apply-diff streak counter.
func (ic *Interceptor) Reset() {
	ic.consecutiveApplyDiff = 0
}

// Restore re-seeds the Interceptor's bounded histories after a snapshot
// reload. The apply-diff streak is reset on restore, even though the
// executions and outputs history carries over verbatim.
func (ic *Interceptor) Restore(executions []ExecutionRecord, outputs []OutputRecord) {
	ic.executions = executions
	ic.outputs = outputs
	ic.consecutiveApplyDiff = 0
}

// ConsecutiveApplyDiffs reports the current unverified apply_diff streak,
// for jinnang diagnostics in logs.
func (ic *Interceptor) ConsecutiveApplyDiffs() int {
	return ic.consecutiveApplyDiff
}

// Validate runs the deterministic six-step pipeline and
// decides whether tool may proceed.
func (ic *Interceptor) Validate(tool string, params map[string]string) Decision {
	if d, blocked := checkHardBans(tool, params); blocked {
		return d
	}

	if d, handled := ic.checkApplyDiffRateLimit(tool, params); handled {
		return d
	}

	if tool == "attempt_completion" {
		return ic.phaseGate(tool)
	}

	guidance := ""
	if tool == "write_to_file" {
		guidance = writeToFileGuidance(params)
	}

	if d, blocked := ic.checkLoopDetectors(tool); blocked {
		return d
	}

	decision := ic.phaseGate(tool)
	if decision.Allow && guidance != "" {
		decision.Guidance = guidance
	}
	return decision
}

// phaseGate is the final step: the StateMachine's phase-based allow/block
// decision.
func (ic *Interceptor) phaseGate(tool string) Decision {
	if reason, blocked := ic.sm.GetBlockReason(tool); blocked {
		return Decision{Allow: false, Reason: reason}
	}
	if !ic.sm.IsToolAllowed(tool) {
		return Decision{Allow: false, Reason: fmt.Sprintf("%q is not allowed in the current phase", tool)}
	}
	return Decision{Allow: true}
}

// --- Step 1: hard bans ---

var gitSwitchPattern = regexp.MustCompile(`\bgit\s+switch\b`)
var gitCheckoutPattern = regexp.MustCompile(`\bgit\s+checkout\b`)

func checkHardBans(tool string, params map[string]string) (Decision, bool) {
	if tool != "execute_command" {
		return Decision{}, false
	}
	cmd := params["command"]

	if gitSwitchPattern.MatchString(cmd) {
		return Decision{Allow: false, Reason: "Do NOT switch git branches. This task must be completed on the current branch."}, true
	}
	if gitCheckoutPattern.MatchString(cmd) && !strings.Contains(cmd, "--") {
		return Decision{Allow: false, Reason: "Do NOT switch git branches. Use `git checkout -- <path>` to restore a file, not to switch branches."}, true
	}
	return Decision{}, false
}

// --- Step 2: apply-diff rate limit ---

const firstJinnangMessage = "Jinnang Triggered: you have applied three diffs in a row without verifying any of " +
	"them. Before the next patch, invoke a stepwise-reasoning tool and take one non-patch verification action " +
	"(e.g. read the changed file back, or run the relevant tests)."

func isStepwiseReasoningTool(tool string, params map[string]string) bool {
	return tool == "use_mcp_tool" && params["tool_name"] == "sequentialthinking"
}

func (ic *Interceptor) checkApplyDiffRateLimit(tool string, params map[string]string) (Decision, bool) {
	if isStepwiseReasoningTool(tool, params) {
		ic.consecutiveApplyDiff = 0
		return Decision{}, false
	}
	if tool == "apply_diff" && ic.consecutiveApplyDiff >= MaxConsecutiveApplyDiff {
		ic.consecutiveApplyDiff = 0
		return Decision{Allow: false, Reason: firstJinnangMessage, JinnangTriggered: true}, true
	}
	return Decision{}, false
}

// --- Step 4: write_to_file phase rule guidance ---

var testFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)test_[^/]+\.py$`),
	regexp.MustCompile(`(^|/)[^/]+_test\.py$`),
	regexp.MustCompile(`(^|/)[^/]+\.test\.(js|ts|jsx|tsx)$`),
	regexp.MustCompile(`(^|/)[^/]+_test\.go$`),
}

func writeToFileGuidance(params map[string]string) string {
	path := params["path"]
	if path == "" {
		path = params["file_path"]
	}
	for _, p := range testFilePatterns {
		if p.MatchString(path) {
			return "This path looks like a test file. Modifying tests to make them pass, rather than fixing the " +
				"underlying code, will not satisfy FAIL_TO_PASS/PASS_TO_PASS verification."
		}
	}
	return ""
}

// --- Step 5: loop detection ---

func (ic *Interceptor) checkLoopDetectors(tool string) (Decision, bool) {
	if d, blocked := ic.outputLoop(); blocked {
		return d, true
	}
	if ic.sm.GetState().Phase == statemachine.PhaseVerify {
		if d, blocked := ic.severeOutputLoop(); blocked {
			return d, true
		}
	}
	if d, blocked := ic.stagnation(); blocked {
		return d, true
	}
	if d, blocked := ic.repeatedIdenticalFailures(); blocked {
		return d, true
	}
	if tool == "execute_command" {
		if d, blocked := ic.repeatedIdenticalRepeats(); blocked {
			return d, true
		}
	}
	return Decision{}, false
}

func (ic *Interceptor) outputLoop() (Decision, bool) {
	return loopOnDistinctSignatures(ic.outputs, 10, 80)
}

func (ic *Interceptor) severeOutputLoop() (Decision, bool) {
	return loopOnDistinctSignatures(ic.outputs, 12, 200)
}

func loopOnDistinctSignatures(records []OutputRecord, window, minLen int) (Decision, bool) {
	if len(records) < window {
		return Decision{}, false
	}
	recent := records[len(records)-window:]
	distinct := map[string]bool{}
	for _, r := range recent {
		if r.Length < minLen {
			return Decision{}, false
		}
		distinct[r.Signature] = true
	}
	limit := 2
	if window == 12 {
		limit = 1
	}
	if len(distinct) <= limit {
		return Decision{Allow: false, Reason: "The last few tool outputs are nearly identical; this looks like a stuck loop. Try a different approach."}, true
	}
	return Decision{}, false
}

func (ic *Interceptor) stagnation() (Decision, bool) {
	if !ic.hasLastToolTS {
		return Decision{}, false
	}
	if ic.clock.Now().Sub(ic.lastToolTS) > StagnationThreshold {
		return Decision{Allow: false, Reason: "No tool activity for over 5 minutes; resume making progress."}, true
	}
	return Decision{}, false
}

func (ic *Interceptor) repeatedIdenticalFailures() (Decision, bool) {
	n := len(ic.executions)
	if n < 3 {
		return Decision{}, false
	}
	last := ic.executions[n-1]
	if last.Success {
		return Decision{}, false
	}
	run := 1
	for i := n - 2; i >= 0; i-- {
		r := ic.executions[i]
		if r.Success || r.Tool != last.Tool || paramSignature(r.Params) != paramSignature(last.Params) || r.Normalized != last.Normalized {
			break
		}
		run++
	}
	if run >= 3 {
		return Decision{Allow: false, Reason: "The same tool call has failed identically three times in a row; try a different approach instead of repeating it."}, true
	}
	return Decision{}, false
}

func (ic *Interceptor) repeatedIdenticalRepeats() (Decision, bool) {
	n := len(ic.executions)
	if n < 3 {
		return Decision{}, false
	}
	last := ic.executions[n-1]
	if last.Tool != "execute_command" || last.Success {
		return Decision{}, false
	}
	lastCmd := normalizeCommand(last.Params["command"])
	lastExit, _ := extractExitCode(last.Normalized)
	lastStderr := normalizeStderr(last.Normalized)

	run := 1
	for i := n - 2; i >= 0; i-- {
		r := ic.executions[i]
		if r.Tool != "execute_command" {
			break
		}
		cmd := normalizeCommand(r.Params["command"])
		exit, _ := extractExitCode(r.Normalized)
		stderr := normalizeStderr(r.Normalized)
		if r.Success || cmd != lastCmd || exit != lastExit || stderr != lastStderr {
			break
		}
		run++
	}
	if run >= 3 {
		return Decision{Allow: false, Reason: "The same command has been repeated three times in a row with the same exit code and errors; try a different approach."}, true
	}
	return Decision{}, false
}

func paramSignature(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
		b.WriteByte(';')
	}
	return b.String()
}

// --- Output normalisation ---

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
var pidPattern = regexp.MustCompile(`\bpid\s+\d+\b`)
var datePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
var durationPattern = regexp.MustCompile(`\b\d+(\.\d+)?s\b`)
var exitCodePattern = regexp.MustCompile(`(?i)exit code:\s*(-?\d+)`)

// normalizeOutput strips ANSI escapes, lowercases, and substitutes known
// noisy tokens so transient output differences do not defeat loop
// detectors.
func normalizeOutput(output string) string {
	s := ansiPattern.ReplaceAllString(output, "")
	s = strings.ToLower(s)
	s = pidPattern.ReplaceAllString(s, "pid <n>")
	s = datePattern.ReplaceAllString(s, "<date>")
	s = durationPattern.ReplaceAllString(s, "<duration>")
	return s
}

func normalizeCommand(cmd string) string {
	return strings.Join(strings.Fields(strings.ToLower(cmd)), " ")
}

func normalizeStderr(normalizedOutput string) string {
	return normalizedOutput
}

func extractExitCode(normalizedOutput string) (int, bool) {
	m := exitCodePattern.FindStringSubmatch(normalizedOutput)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

var successPattern = regexp.MustCompile(`(?i)\b(\d+)\s+passed\b|\bok\b|exit code:\s*0\b`)
var failurePattern = regexp.MustCompile(`(?i)\bfailed\b|\berror\b|exit code:\s*[1-9]`)

// inferSuccess treats an output carrying a failure marker as failed. Other
// execute_command outputs need a success marker; any other tool's output
// (e.g. "applied" from apply_diff) counts as successful.
func inferSuccess(tool, normalizedOutput string) bool {
	if failurePattern.MatchString(normalizedOutput) {
		return false
	}
	if tool != "execute_command" {
		return true
	}
	return successPattern.MatchString(normalizedOutput)
}

// --- Path mapping (pure) ---

// ApplyPathMappingToParams rewrites path-bearing parameters from the
// source prefix to the target prefix before a call is handed to the
// outside world. Pure: it never mutates Interceptor state.
func (ic *Interceptor) ApplyPathMappingToParams(tool string, params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch k {
		case "path", "file_path", "cwd":
			out[k] = ic.mapper.MapSourceToTarget(v)
		case "args":
			out[k] = ic.mapper.RewriteArgsSourceToTarget(v)
		default:
			out[k] = v
		}
	}
	return out
}

// --- Post-execution recording ---

const secondJinnangMessage = "You've now applied two diffs. Before continuing, run the relevant tests to confirm " +
	"the first change actually works."

func budgetIncreaseNotice(total int) string {
	return fmt.Sprintf("Reasoning budget has scaled up after %d tool calls.", total)
}

// RecordToolExecution normalises output, scores success, appends to both
// bounded histories, forwards to the StateMachine, and returns any
// one-shot notices that should be surfaced to the agent.
func (ic *Interceptor) RecordToolExecution(tool string, params map[string]string, output string) ExecutionOutcome {
	now := ic.clock.Now()
	normalized := normalizeOutput(output)
	success := inferSuccess(tool, normalized)

	ic.appendExecution(ExecutionRecord{
		Tool: tool, Params: params, Output: output, Normalized: normalized, Success: success, Timestamp: now,
	})
	ic.appendOutput(OutputRecord{Signature: normalized, Length: len(normalized), Timestamp: now})

	ic.lastToolTS = now
	ic.hasLastToolTS = true

	if tool == "apply_diff" {
		ic.consecutiveApplyDiff++
		ic.applyDiffTotal++
	}

	ic.sm.RecordToolUse(tool, params, output)

	var notices []string
	if ic.applyDiffTotal == 2 && !ic.secondJinnangFired {
		ic.secondJinnangFired = true
		notices = append(notices, secondJinnangMessage)
	}
	total := ic.sm.GetState().Counters.ToolCallsTotal
	if total > 0 && total%BudgetStepCalls == 0 && total != ic.lastBudgetNoticeAt {
		ic.lastBudgetNoticeAt = total
		notices = append(notices, budgetIncreaseNotice(total))
	}

	return ExecutionOutcome{Notices: notices}
}

func (ic *Interceptor) appendExecution(r ExecutionRecord) {
	ic.executions = append(ic.executions, r)
	if len(ic.executions) > MaxHistorySize {
		ic.executions = ic.executions[len(ic.executions)-MaxHistorySize:]
	}
}

func (ic *Interceptor) appendOutput(r OutputRecord) {
	ic.outputs = append(ic.outputs, r)
	if len(ic.outputs) > MaxOutputHistorySize {
		ic.outputs = ic.outputs[len(ic.outputs)-MaxOutputHistorySize:]
	}
}

// Executions returns a copy of the bounded execution history, for
// serialisation.
func (ic *Interceptor) Executions() []ExecutionRecord {
	out := make([]ExecutionRecord, len(ic.executions))
	copy(out, ic.executions)
	return out
}

// Outputs returns a copy of the bounded output-signature history, for
// serialisation.
func (ic *Interceptor) Outputs() []OutputRecord {
	out := make([]OutputRecord, len(ic.outputs))
	copy(out, ic.outputs)
	return out
}
