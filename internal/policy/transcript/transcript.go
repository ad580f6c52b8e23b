// Package transcript defines the ordered message/content-block model the
// Context Compressor and the LLM client operate on.
package transcript

import "time"

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags a ContentBlock's shape.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one tagged element of a Message's content. Only the
// fields matching Type are meaningful; the rest are zero.
type ContentBlock struct {
	Type BlockType

	// BlockText
	Text string

	// BlockToolUse
	ToolUseID string
	ToolName  string
	ToolInput string // raw JSON, opaque to the compressor

	// BlockToolResult
	ToolResultForID string // the tool_use_id this result answers
	ToolResult      string
}

// Text builds a plain text content block.
func Text(s string) ContentBlock { return ContentBlock{Type: BlockText, Text: s} }

// ToolUse builds a tool_use content block.
func ToolUse(id, name, input string) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResult builds a tool_result content block.
func ToolResult(toolUseID, content string) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResultForID: toolUseID, ToolResult: content}
}

// Message is one turn of the transcript. Content is always represented as
// a block list; a plain-text turn is a single BlockText element.
type Message struct {
	Role      Role
	Content   []ContentBlock
	Timestamp time.Time

	// IsSummary marks a message synthesised by the Context Compressor.
	IsSummary bool

	// CondenseID is set on a freshly-inserted summary message.
	CondenseID string

	// CondenseParent marks a dropped original message with the CondenseID
	// of the summary that replaced it, so a later compressor run can
	// recognise and skip already-summarised messages.
	CondenseParent string
}

// TextOnly reports whether m is a single plain-text block, the common case
// for user/assistant chat turns that carry no tool activity.
func (m Message) TextOnly() bool {
	return len(m.Content) == 1 && m.Content[0].Type == BlockText
}

// PlainText returns the concatenation of all text blocks in m.
func (m Message) PlainText() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUseBlocks returns every tool_use block in m, in order.
func (m Message) ToolUseBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ToolResultBlocks returns every tool_result block in m, in order.
func (m Message) ToolResultBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			out = append(out, b)
		}
	}
	return out
}

// NewText is a convenience constructor for a single plain-text message.
func NewText(role Role, text string, ts time.Time) Message {
	return Message{Role: role, Content: []ContentBlock{Text(text)}, Timestamp: ts}
}
