package llmclient

import (
	"context"

	"policyengine.dev/core/internal/policy/transcript"
)

// FakeClient is a zero-dependency Client backing the Context Compressor's
// tests: deterministic token counts and a canned response.
type FakeClient struct {
	// Response is returned verbatim from CreateMessage unless ResponseFunc
	// is set.
	Response string

	// ResponseFunc, if set, computes the response from the 0-based number of
	// CreateMessage calls made before this one, allowing a test to simulate
	// MAX_SUMMARY_ENHANCEMENT_ATTEMPTS retries with growing output.
	ResponseFunc func(attempt int) string

	calls int
}

// NewFakeClient constructs a FakeClient returning a fixed response.
func NewFakeClient(response string) *FakeClient {
	return &FakeClient{Response: response}
}

func (f *FakeClient) CountTokens(ctx context.Context, blocks []transcript.ContentBlock) (int, error) {
	return estimateBlocksTokens(blocks), nil
}

func (f *FakeClient) CreateMessage(ctx context.Context, systemPrompt string, messages []transcript.Message) (MessageStream, error) {
	text := f.Response
	if f.ResponseFunc != nil {
		text = f.ResponseFunc(f.calls)
	}
	f.calls++
	return newSliceStream([]Chunk{
		{Text: text},
		{Usage: &Usage{OutputTokens: estimateTokens(text)}},
	}), nil
}

// Calls reports how many times CreateMessage has been invoked.
func (f *FakeClient) Calls() int { return f.calls }
