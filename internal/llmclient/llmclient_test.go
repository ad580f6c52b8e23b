package llmclient

import (
	"context"
	"testing"

	"policyengine.dev/core/internal/policy/transcript"
)

func TestFakeClientCreateMessageReturnsConfiguredResponse(t *testing.T) {
	c := NewFakeClient("a canned summary")
	stream, err := c.CreateMessage(context.Background(), "system", nil)
	if err != nil {
		t.Fatalf("CreateMessage error: %v", err)
	}
	text, usage, err := CollectText(stream)
	if err != nil {
		t.Fatalf("CollectText error: %v", err)
	}
	if text != "a canned summary" {
		t.Errorf("text = %q, want %q", text, "a canned summary")
	}
	if usage.OutputTokens == 0 {
		t.Error("expected non-zero estimated OutputTokens")
	}
}

func TestFakeClientResponseFuncSeesAttemptNumber(t *testing.T) {
	c := &FakeClient{ResponseFunc: func(attempt int) string {
		if attempt == 0 {
			return "short"
		}
		return "a much longer response on retry"
	}}

	stream1, _ := c.CreateMessage(context.Background(), "", nil)
	text1, _, _ := CollectText(stream1)
	stream2, _ := c.CreateMessage(context.Background(), "", nil)
	text2, _, _ := CollectText(stream2)

	if text1 != "short" || text2 != "a much longer response on retry" {
		t.Fatalf("got %q then %q, want attempt-dependent responses", text1, text2)
	}
	if c.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", c.Calls())
	}
}

func TestCountTokensEstimate(t *testing.T) {
	c := NewFakeClient("")
	n, err := c.CountTokens(context.Background(), []transcript.ContentBlock{transcript.Text("hello world")})
	if err != nil {
		t.Fatalf("CountTokens error: %v", err)
	}
	if n <= 0 {
		t.Errorf("CountTokens = %d, want > 0", n)
	}
}
