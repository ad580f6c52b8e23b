// Package compressor implements the Context Compressor: it
// decides when transcript token pressure crosses the condensation
// threshold, summarises the prefix of messages outside the keep-set
// through the LLM, and rebuilds a transcript that never grows and always
// preserves tool_use/tool_result pairing.
package compressor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"policyengine.dev/core/internal/llmclient"
	"policyengine.dev/core/internal/policy/statemachine"
	"policyengine.dev/core/internal/policy/transcript"
)

// Fixed constants governing the budget and condensation thresholds.
const (
	TokenBufferPct                = 0.10
	CondenseThresholdPct          = 0.70
	KeepToolResults               = 4
	KeepToolResultsAggressive     = 2
	MaxToolResultLength           = 8000
	MaxToolResultLengthAggressive = 4000
	MaxToolUseInputLength         = 2000
	MinSummaryTokens              = 2000
	MaxSummaryEnhancementAttempts = 3
	MinMessagesBetweenSummaries   = 20
	PostCondenseTargetUtilization = 0.40
)

const fallbackSummaryText = "[context compression fallback: only the task statement and the last two messages were retained; earlier context was dropped without a detailed summary]"

// IDGen mints a fresh condense_id. The composition root supplies one
// backed by common/id.New (snowflake); tests supply a deterministic stub.
type IDGen func() string

// Outcome is the result of one Compress call.
type Outcome struct {
	Messages   []transcript.Message
	Compressed bool
	Warnings   []string
}

// Compressor holds the LLM client and ID generator; it owns no per-task
// mutable state beyond what is threaded through Compress's arguments.
type Compressor struct {
	client llmclient.Client
	idGen  IDGen
	ports  statemachine.Ports // optional; nil if no progress-assessment section is desired
}

// New constructs a Compressor. ports may be nil.
func New(client llmclient.Client, idGen IDGen, ports statemachine.Ports) *Compressor {
	return &Compressor{client: client, idGen: idGen, ports: ports}
}

// Params are the trigger inputs derived from the caller's next LLM call.
type Params struct {
	ContextWindow       int
	MaxCompletionTokens int
	SystemPromptTokens  int
}

// usable computes the usable context budget.
func usable(p Params) int {
	return int(float64(p.ContextWindow)*(1-TokenBufferPct)) - p.MaxCompletionTokens
}

// ShouldCondense reports whether condensation should run before the next
// LLM call, given the active (non-dropped) message token total and the
// trailing message's own token count.
func ShouldCondense(p Params, totalTokens, lastMessageTokens int) bool {
	u := usable(p)
	if u <= 0 {
		return false
	}
	return float64(totalTokens+lastMessageTokens)/float64(u) >= CondenseThresholdPct
}

// Compress inspects messages (the full, ever-growing log, some of which
// may already carry condense_parent tags from a prior run) and, if
// warranted, returns a new log with a fresh summary spliced in and the
// newly-dropped originals tagged. If condensation does not run or both
// strategies fail, the original messages are returned unchanged with
// Compressed = false.
func (c *Compressor) Compress(ctx context.Context, messages []transcript.Message, p Params) Outcome {
	active, activeIdx := activeView(messages)
	if len(active) < 3 {
		return Outcome{Messages: messages, Compressed: false}
	}
	if c.client == nil {
		return Outcome{Messages: messages, Compressed: false, Warnings: []string{"no LLM client configured; condensation skipped"}}
	}

	originalTokens := c.sumTokens(ctx, active) + p.SystemPromptTokens
	lastTokens := c.sumTokens(ctx, active[len(active)-1:])
	if !ShouldCondense(p, originalTokens-p.SystemPromptTokens, lastTokens) {
		return Outcome{Messages: messages, Compressed: false}
	}

	if recentSummaryPresent(active) {
		return Outcome{Messages: messages, Compressed: false, Warnings: []string{"a summary already exists within the minimum spacing window"}}
	}

	condenseID := c.idGen()

	cand, warnings := c.attempt(ctx, active, activeIdx, KeepToolResults, MaxToolResultLength, p)

	u := usable(p)
	if !guardOK(cand.tokens, originalTokens) || float64(cand.tokens) > float64(u)*PostCondenseTargetUtilization {
		aggressive, w2 := c.attempt(ctx, active, activeIdx, KeepToolResultsAggressive, MaxToolResultLengthAggressive, p)
		warnings = append(warnings, w2...)
		cand = aggressive
	}

	if !guardOK(cand.tokens, originalTokens) || cand.tokens > u {
		fb := c.fallback(active, activeIdx, condenseID)
		if !guardOK(fb.tokens, originalTokens) {
			warnings = append(warnings, "both standard and fallback compression failed")
			return Outcome{Messages: messages, Compressed: false, Warnings: warnings}
		}
		cand = fb
	}

	rebuilt := spliceIntoFullLog(messages, cand, condenseID)
	return Outcome{Messages: rebuilt, Compressed: true, Warnings: warnings}
}

func guardOK(condensedTokens, originalTokens int) bool {
	return condensedTokens < originalTokens
}

// activeView returns the currently-visible messages (those with no
// condense_parent tag) and their original indices, so the caller can
// splice condensation results back into the full log.
func activeView(messages []transcript.Message) ([]transcript.Message, []int) {
	var active []transcript.Message
	var idx []int
	for i, m := range messages {
		if m.CondenseParent == "" {
			active = append(active, m)
			idx = append(idx, i)
		}
	}
	return active, idx
}

func recentSummaryPresent(active []transcript.Message) bool {
	start := len(active) - MinMessagesBetweenSummaries
	if start < 0 {
		start = 0
	}
	for _, m := range active[start:] {
		if m.IsSummary {
			return true
		}
	}
	return false
}

func (c *Compressor) sumTokens(ctx context.Context, msgs []transcript.Message) int {
	total := 0
	for _, m := range msgs {
		n, err := c.client.CountTokens(ctx, m.Content)
		if err == nil {
			total += n
		}
	}
	return total
}

// step is one assistant tool_use / user tool_result conversation pair,
// identified within active's own index space.
type step struct {
	assistantIdx int
	userIdx      int
}

// partition identifies the keep-set for one condensation attempt: the
// first message, the last message, and the most recent keepSteps paired
// tool_use/tool_result conversation turns.
func partition(active []transcript.Message, keepSteps int) map[int]bool {
	var steps []step
	for i := 0; i+1 < len(active); i++ {
		a := active[i]
		u := active[i+1]
		if a.Role != transcript.RoleAssistant || u.Role != transcript.RoleUser {
			continue
		}
		uses := a.ToolUseBlocks()
		results := u.ToolResultBlocks()
		if len(uses) == 0 || len(results) == 0 {
			continue
		}
		if pairedByID(uses, results) {
			steps = append(steps, step{assistantIdx: i, userIdx: i + 1})
		}
	}

	if len(steps) > keepSteps {
		steps = steps[len(steps)-keepSteps:]
	}

	keep := map[int]bool{0: true, len(active) - 1: true}
	for _, s := range steps {
		keep[s.assistantIdx] = true
		keep[s.userIdx] = true
	}
	return keep
}

func pairedByID(uses, results []transcript.ContentBlock) bool {
	ids := map[string]bool{}
	for _, u := range uses {
		ids[u.ToolUseID] = true
	}
	for _, r := range results {
		if ids[r.ToolResultForID] {
			return true
		}
	}
	return false
}

// condensation is one tier's output: which full-log messages survive
// (keyed by their index in the pre-activeView log), the generated summary
// text, and the resulting token total.
type condensation struct {
	keptFull    map[int]transcript.Message
	summaryText string
	tokens      int
}

// attempt runs one condensation tier (standard or aggressive).
func (c *Compressor) attempt(ctx context.Context, active []transcript.Message, activeIdx []int, keepSteps, maxResultLen int, p Params) (condensation, []string) {
	keep := partition(active, keepSteps)

	var dropped []transcript.Message
	for i, m := range active {
		if !keep[i] {
			dropped = append(dropped, m)
		}
	}

	summaryText, warnings := c.summarize(ctx, dropped, p)

	keptFull := map[int]transcript.Message{}
	var rebuilt []transcript.Message
	for i, m := range active {
		if keep[i] {
			t := truncateKept(m, maxResultLen)
			keptFull[activeIdx[i]] = t
			rebuilt = append(rebuilt, t)
		}
	}
	rebuilt = append(rebuilt, transcript.NewText(transcript.RoleUser, summaryText, time.Time{}))

	tokens := c.sumTokens(ctx, rebuilt) + p.SystemPromptTokens
	return condensation{keptFull: keptFull, summaryText: summaryText, tokens: tokens}, warnings
}

func truncateKept(m transcript.Message, maxResultLen int) transcript.Message {
	out := m
	out.Content = make([]transcript.ContentBlock, len(m.Content))
	for i, b := range m.Content {
		switch b.Type {
		case transcript.BlockToolUse:
			b.ToolInput = truncateWithMarker(b.ToolInput, MaxToolUseInputLength)
		case transcript.BlockToolResult:
			b.ToolResult = truncateWithMarker(b.ToolResult, maxResultLen)
		}
		out.Content[i] = b
	}
	return out
}

func truncateWithMarker(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	marker := "\n...[truncated]...\n"
	if maxLen <= len(marker) {
		if maxLen <= 0 {
			return ""
		}
		return marker[:maxLen]
	}
	budget := maxLen - len(marker)
	head := budget / 2
	tail := budget - head
	return s[:head] + marker + s[len(s)-tail:]
}

// fallback retains only the first message and the last two, truncating
// tool results to the aggressive limit, and inserts a synthetic summary
// stating fallback was used.
func (c *Compressor) fallback(active []transcript.Message, activeIdx []int, condenseID string) condensation {
	n := len(active)
	keepFrom := n - 2
	if keepFrom < 1 {
		keepFrom = 1
	}

	keptFull := map[int]transcript.Message{}
	first := truncateKept(active[0], MaxToolResultLengthAggressive)
	keptFull[activeIdx[0]] = first
	rebuilt := []transcript.Message{first}
	for i := keepFrom; i < n; i++ {
		t := truncateKept(active[i], MaxToolResultLengthAggressive)
		keptFull[activeIdx[i]] = t
		rebuilt = append(rebuilt, t)
	}

	tokens := 0
	for _, m := range rebuilt {
		for _, b := range m.Content {
			tokens += len(b.Text)/4 + len(b.ToolResult)/4 + len(b.ToolInput)/4
		}
	}
	tokens += len(fallbackSummaryText) / 4

	return condensation{keptFull: keptFull, summaryText: fallbackSummaryText, tokens: tokens}
}

// spliceIntoFullLog rebuilds the complete (non-active) message log: kept
// messages stay in place, a single fresh summary is inserted at the
// position of the first newly-dropped message, and every newly-dropped
// original message keeps its place in the log but is tagged with
// condense_parent so a later run can recognise and skip it without destroying history.
func spliceIntoFullLog(full []transcript.Message, cond condensation, condenseID string) []transcript.Message {
	summary := transcript.Message{
		Role:       transcript.RoleUser,
		Content:    []transcript.ContentBlock{transcript.Text(cond.summaryText)},
		IsSummary:  true,
		CondenseID: condenseID,
	}

	var out []transcript.Message
	insertedSummary := false
	for i, m := range full {
		if m.CondenseParent != "" {
			out = append(out, m)
			continue
		}
		if kept, ok := cond.keptFull[i]; ok {
			out = append(out, kept)
			continue
		}
		if !insertedSummary {
			out = append(out, summary)
			insertedSummary = true
		}
		tagged := m
		tagged.CondenseParent = condenseID
		out = append(out, tagged)
	}
	if !insertedSummary {
		out = append(out, summary)
	}
	return out
}

// summarize sends dropped to the LLM with the mandated structured prompt,
// retrying up to MaxSummaryEnhancementAttempts times until the response
// reaches MIN_SUMMARY_TOKENS.
func (c *Compressor) summarize(ctx context.Context, dropped []transcript.Message, p Params) (string, []string) {
	if len(dropped) == 0 {
		return "[no prior context to summarise]", nil
	}

	prompt := buildSummaryPrompt(dropped, c.progressAssessment())
	var best string
	var warnings []string

	for attempt := 0; attempt < MaxSummaryEnhancementAttempts; attempt++ {
		stream, err := c.client.CreateMessage(ctx, "", []transcript.Message{transcript.NewText(transcript.RoleUser, prompt, time.Time{})})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("summary generation failed: %v", err))
			continue
		}
		text, _, err := llmclient.CollectText(stream)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("summary generation failed: %v", err))
			continue
		}
		if len(text) > len(best) {
			best = text
		}
		tokens, _ := c.client.CountTokens(ctx, []transcript.ContentBlock{transcript.Text(text)})
		if tokens >= MinSummaryTokens {
			return text, warnings
		}
	}

	if best == "" {
		best = "[summary generation produced no usable output]"
	} else {
		warnings = append(warnings, "summary did not reach the minimum token target after all retries")
	}
	return best, warnings
}

func (c *Compressor) progressAssessment() string {
	if c.ports == nil {
		return ""
	}
	s := c.ports.GetState()
	return fmt.Sprintf(
		"phase=%s tool_calls_total=%d modification_count=%d test_calls_count=%d has_run_tests=%v",
		s.Phase, s.Counters.ToolCallsTotal, s.Counters.ModificationCount, s.Counters.TestCallsCount, s.Counters.HasRunTests,
	)
}

func buildSummaryPrompt(dropped []transcript.Message, progress string) string {
	var b strings.Builder
	b.WriteString("Summarise the following conversation excerpt. Produce exactly these sections, in order:\n")
	b.WriteString("USER_CONTEXT, CONSTRAINTS, TASK_TRACKING, CODE_STATE, TESTS, CHANGES, ERRORS, NEXT_STEPS.\n")
	b.WriteString("Preserve test names and shell commands verbatim. Never include raw diffs.\n")
	if progress != "" {
		b.WriteString("Progress assessment to embed under TASK_TRACKING: ")
		b.WriteString(progress)
		b.WriteString("\n")
	}
	b.WriteString("\n--- conversation excerpt ---\n")
	for _, m := range dropped {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.PlainText())
		for _, u := range m.ToolUseBlocks() {
			b.WriteString(fmt.Sprintf(" [tool_use %s: %s]", u.ToolName, truncateWithMarker(u.ToolInput, MaxToolUseInputLength)))
		}
		for _, r := range m.ToolResultBlocks() {
			b.WriteString(fmt.Sprintf(" [tool_result: %s]", truncateWithMarker(r.ToolResult, MaxToolResultLength)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// NewSnowflakeIDGen returns an IDGen that formats successive int64s from
// gen (typically common/id.New) as decimal strings for use as condense_id.
func NewSnowflakeIDGen(gen func() int64) IDGen {
	return func() string { return strconv.FormatInt(gen(), 10) }
}
