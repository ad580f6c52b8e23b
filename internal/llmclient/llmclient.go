// Package llmclient defines the LLM client surface the core consumes:
// counting tokens and creating a streamed message. The core
// never depends on a concrete provider SDK directly, only on Client.
package llmclient

import (
	"context"
	"io"

	"policyengine.dev/core/internal/policy/transcript"
)

// Usage reports the completion's resource cost, delivered as the final
// chunk of a MessageStream.
type Usage struct {
	OutputTokens int
	TotalCost    float64
}

// Chunk is one element of a MessageStream: either a text fragment or, on
// the final chunk, usage information.
type Chunk struct {
	Text  string
	Usage *Usage
}

// MessageStream abstracts a single synchronous response as a pull-based
// iterator, so a future real streaming client can yield chunks
// incrementally. Recv returns io.EOF once exhausted.
type MessageStream interface {
	Recv() (Chunk, error)
}

// Client is the consumed LLM surface: token counting ahead
// of a call, and message creation.
type Client interface {
	CountTokens(ctx context.Context, blocks []transcript.ContentBlock) (int, error)
	CreateMessage(ctx context.Context, systemPrompt string, messages []transcript.Message) (MessageStream, error)
}

// CollectText drains stream, concatenating text chunks and returning the
// final usage if the stream reported one. A helper for callers (like the
// Context Compressor) that only need the full text, not incremental
// chunks.
func CollectText(stream MessageStream) (string, Usage, error) {
	var text string
	var usage Usage
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return text, usage, nil
		}
		if err != nil {
			return text, usage, err
		}
		text += chunk.Text
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
}

// sliceStream is a MessageStream backed by a pre-computed slice of chunks,
// used by both OpenAIClient (non-streaming provider call) and FakeClient.
type sliceStream struct {
	chunks []Chunk
	pos    int
}

func newSliceStream(chunks []Chunk) *sliceStream {
	return &sliceStream{chunks: chunks}
}

func (s *sliceStream) Recv() (Chunk, error) {
	if s.pos >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

// estimateTokens is a lightweight, dependency-free token-count estimate
// (roughly 4 characters per token for English-ish text and code). Used by
// both OpenAIClient and FakeClient since no tokenizer library appears
// anywhere in the example pack.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

func estimateBlocksTokens(blocks []transcript.ContentBlock) int {
	total := 0
	for _, b := range blocks {
		total += estimateTokens(b.Text)
		total += estimateTokens(b.ToolInput)
		total += estimateTokens(b.ToolResult)
	}
	return total
}
