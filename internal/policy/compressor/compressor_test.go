package compressor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"policyengine.dev/core/internal/llmclient"
	"policyengine.dev/core/internal/policy/transcript"
)

func counterIDGen() IDGen {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("condense-%d", n)
	}
}

func step(i int, toolUseID string) (transcript.Message, transcript.Message) {
	assistant := transcript.Message{
		Role:      transcript.RoleAssistant,
		Content:   []transcript.ContentBlock{transcript.ToolUse(toolUseID, "execute_command", fmt.Sprintf(`{"command":"step %d"}`, i))},
		Timestamp: time.Time{},
	}
	user := transcript.Message{
		Role:      transcript.RoleUser,
		Content:   []transcript.ContentBlock{transcript.ToolResult(toolUseID, fmt.Sprintf("output of step %d", i))},
		Timestamp: time.Time{},
	}
	return assistant, user
}

// buildTranscript builds {task, a1..t1, ..., a8..t8, last}: 18 messages,
// mirroring the shape of S5.
func buildTranscript(n int) []transcript.Message {
	msgs := []transcript.Message{transcript.NewText(transcript.RoleUser, "task statement", time.Time{})}
	for i := 1; i <= n; i++ {
		a, u := step(i, fmt.Sprintf("tu-%d", i))
		msgs = append(msgs, a, u)
	}
	msgs = append(msgs, transcript.NewText(transcript.RoleAssistant, "final remark", time.Time{}))
	return msgs
}

func longResponse(tokenWords int) string {
	return strings.Repeat("word ", tokenWords*4)
}

func TestPartitionKeepsFirstLastAndLastFourSteps(t *testing.T) {
	active := buildTranscript(8)
	keep := partition(active, KeepToolResults)

	if !keep[0] {
		t.Error("expected the task statement (index 0) to be kept")
	}
	if !keep[len(active)-1] {
		t.Error("expected the final message to be kept")
	}

	// Steps are at indices (1,2)...(15,16) for i=1..8; the last four steps
	// are i=5..8, i.e. indices 9..16.
	for i := 9; i <= 16; i++ {
		if !keep[i] {
			t.Errorf("expected index %d (one of the last four steps) to be kept", i)
		}
	}
	for i := 1; i <= 8; i++ {
		if keep[i] {
			t.Errorf("expected index %d (an earlier step) to be dropped", i)
		}
	}
}

func TestCompressRetainsExactSetAndTagsDropped(t *testing.T) {
	active := buildTranscript(8)
	// Against this small a transcript the standard tier's kept-set already
	// exceeds the post-condense utilisation target, so this deliberately
	// exercises the escalation to the aggressive tier (2 kept steps instead
	// of 4), which settles since its guard and usable-budget checks both
	// pass.
	client := llmclient.NewFakeClient("earlier steps built and ran a fix")
	c := New(client, counterIDGen(), nil)

	out := c.Compress(context.Background(), active, Params{ContextWindow: 100, MaxCompletionTokens: 0, SystemPromptTokens: 0})
	if !out.Compressed {
		t.Fatalf("expected Compress to run given a trivially small context window, warnings=%v", out.Warnings)
	}

	var summaries, tagged, kept int
	for _, m := range out.Messages {
		switch {
		case m.IsSummary:
			summaries++
		case m.CondenseParent != "":
			tagged++
		default:
			kept++
		}
	}
	if summaries != 1 {
		t.Errorf("summaries = %d, want 1", summaries)
	}
	// 1 task + 1 final + 2 kept steps * 2 messages = 6 kept originals.
	if kept != 6 {
		t.Errorf("kept = %d, want 6", kept)
	}
	// dropped originals: steps 1..6 = 12 messages.
	if tagged != 12 {
		t.Errorf("tagged = %d, want 12", tagged)
	}
	if len(out.Messages) != len(active)+1 {
		t.Errorf("len(out.Messages) = %d, want %d (original + one summary)", len(out.Messages), len(active)+1)
	}
}

func TestCompressIsIdempotentOnSecondRun(t *testing.T) {
	active := buildTranscript(8)
	client := llmclient.NewFakeClient(longResponse(MinSummaryTokens))
	c := New(client, counterIDGen(), nil)

	first := c.Compress(context.Background(), active, Params{ContextWindow: 100, SystemPromptTokens: 0})
	if !first.Compressed {
		t.Fatalf("expected first compression to run")
	}

	firstTagged := 0
	for _, m := range first.Messages {
		if m.CondenseParent != "" {
			firstTagged++
		}
	}

	second := c.Compress(context.Background(), first.Messages, Params{ContextWindow: 1000, SystemPromptTokens: 0})

	secondTagged := 0
	for _, m := range second.Messages {
		if m.CondenseParent != "" {
			secondTagged++
		}
	}
	if secondTagged < firstTagged {
		t.Errorf("a second run must not un-tag already-condensed messages: first=%d second=%d", firstTagged, secondTagged)
	}
}

func TestShouldCondenseThreshold(t *testing.T) {
	p := Params{ContextWindow: 1000, MaxCompletionTokens: 0}
	u := usable(p) // 900

	if ShouldCondense(p, 0, 0) {
		t.Error("zero tokens should never trigger condensation")
	}
	if !ShouldCondense(p, int(float64(u)*0.70), 1) {
		t.Error("expected condensation to trigger at the 70% threshold")
	}
}

func TestFallbackNeverGrowsGuard(t *testing.T) {
	active := buildTranscript(1)
	_, activeIdx := activeView(active)
	client := llmclient.NewFakeClient("x")
	c := New(client, counterIDGen(), nil)

	cond := c.fallback(active, activeIdx, "condense-x")
	if len(cond.keptFull) == 0 {
		t.Fatal("expected a non-empty fallback keep-set")
	}
	if cond.tokens <= 0 {
		t.Error("expected fallback token estimate to be positive")
	}
}

func TestTruncateWithMarkerRespectsExactBudget(t *testing.T) {
	s := strings.Repeat("a", 10000)
	out := truncateWithMarker(s, MaxToolResultLength)
	if len(out) != MaxToolResultLength {
		t.Errorf("len(out) = %d, want exactly %d", len(out), MaxToolResultLength)
	}
	if !strings.Contains(out, "truncated") {
		t.Error("expected a truncation marker in the output")
	}
}

func TestTruncateWithMarkerNoopUnderBudget(t *testing.T) {
	s := "short content"
	if out := truncateWithMarker(s, MaxToolResultLength); out != s {
		t.Errorf("expected no truncation for short input, got %q", out)
	}
}

func TestCompressDoesNotRunBelowThreshold(t *testing.T) {
	active := buildTranscript(8)
	client := llmclient.NewFakeClient("")
	c := New(client, counterIDGen(), nil)

	// A huge context window keeps utilisation far below 70%.
	out := c.Compress(context.Background(), active, Params{ContextWindow: 10_000_000, MaxCompletionTokens: 0})
	if out.Compressed {
		t.Error("expected no compression with an effectively unlimited context window")
	}
}

func TestCompressEscalatesToFallbackWhenSummaryOverwhelmsTranscript(t *testing.T) {
	active := buildTranscript(8)
	// A summary this large blows the never-grow guard at both the standard
	// and aggressive tiers against such a small transcript, forcing
	// escalation all the way to the fixed, non-LLM fallback summary.
	client := llmclient.NewFakeClient(longResponse(MinSummaryTokens))
	c := New(client, counterIDGen(), nil)

	out := c.Compress(context.Background(), active, Params{ContextWindow: 100, SystemPromptTokens: 0})
	if !out.Compressed {
		t.Fatalf("expected fallback compression to succeed, warnings=%v", out.Warnings)
	}

	found := false
	for _, m := range out.Messages {
		if m.IsSummary && strings.Contains(m.PlainText(), "fallback") {
			found = true
		}
	}
	if !found {
		t.Error("expected the fallback summary message to be present")
	}
}
