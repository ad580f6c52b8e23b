package llmclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"policyengine.dev/core/internal/policy/transcript"
)

// Config configures an OpenAIClient.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIClient is the default, swappable Client implementation.
type OpenAIClient struct {
	openai openai.Client
	model  string
}

// NewOpenAIClient validates cfg and constructs an OpenAIClient.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmclient: API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-5-codex"
	}

	return &OpenAIClient{openai: openai.NewClient(opts...), model: model}, nil
}

// CountTokens estimates token usage ahead of a call. No tokenizer library
// appears in the example pack, so this uses the same character-based
// estimate as FakeClient (see estimateTokens) rather than a real
// provider-side count, which OpenAI's Chat Completions API does not expose
// outside of an actual request.
func (c *OpenAIClient) CountTokens(ctx context.Context, blocks []transcript.ContentBlock) (int, error) {
	return estimateBlocksTokens(blocks), nil
}

// CreateMessage issues a single non-streaming chat completion and exposes
// it as a two-chunk MessageStream (text, then usage), the same shape the
// teacher's agentClient.ChatWithTools consumes internally.
func (c *OpenAIClient) CreateMessage(ctx context.Context, systemPrompt string, messages []transcript.Message) (MessageStream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: convertMessages(systemPrompt, messages),
	}

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llmclient: openai create message: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llmclient: no choices in response")
	}

	slog.DebugContext(ctx, "llmclient: create message completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	text := resp.Choices[0].Message.Content
	return newSliceStream([]Chunk{
		{Text: text},
		{Usage: &Usage{OutputTokens: int(resp.Usage.CompletionTokens)}},
	}), nil
}

func convertMessages(systemPrompt string, messages []transcript.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		text := m.PlainText()
		switch m.Role {
		case transcript.RoleAssistant:
			out = append(out, openai.AssistantMessage(text))
		default:
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}
