// Package provider defines the model client contract the engine streams
// completions through, plus the request types rendered from a thread.
package provider

import (
	"context"

	"github.com/strandlabs/strand/internal/message"
)

// ToolInputFormat identifies the schema dialect a model accepts for tool
// declarations.
type ToolInputFormat string

const (
	// FormatJSONSchema is a full JSON Schema object.
	FormatJSONSchema ToolInputFormat = "json_schema"
	// FormatJSONSchemaSubset is the restricted draft some models require:
	// top-level object, no composition keywords.
	FormatJSONSchemaSubset ToolInputFormat = "json_schema_subset"
)

// BlockKind discriminates the content blocks of a request message.
type BlockKind string

const (
	BlockText             BlockKind = "text"
	BlockThinking         BlockKind = "thinking"
	BlockRedactedThinking BlockKind = "redacted_thinking"
	BlockToolUse          BlockKind = "tool_use"
	BlockToolResult       BlockKind = "tool_result"
)

// Block is one content block of a request message. Exactly one payload field
// is meaningful per kind.
type Block struct {
	Kind       BlockKind
	Text       string
	Signature  string
	Data       []byte
	ToolUse    *message.ToolUse
	ToolResult *ToolResult
}

// ToolResult is a settled tool invocation fed back to the model.
type ToolResult struct {
	ToolUseID string
	ToolName  string
	Content   string
	IsError   bool
}

// TextBlock creates a text block.
func TextBlock(text string) Block {
	return Block{Kind: BlockText, Text: text}
}

// ThinkingBlock creates a reasoning block with its integrity signature.
func ThinkingBlock(text, signature string) Block {
	return Block{Kind: BlockThinking, Text: text, Signature: signature}
}

// RedactedThinkingBlock creates an opaque reasoning block.
func RedactedThinkingBlock(data []byte) Block {
	return Block{Kind: BlockRedactedThinking, Data: data}
}

// ToolUseBlock creates a tool invocation block.
func ToolUseBlock(tu message.ToolUse) Block {
	return Block{Kind: BlockToolUse, ToolUse: &tu}
}

// ToolResultBlock creates a tool result block.
func ToolResultBlock(tr ToolResult) Block {
	return Block{Kind: BlockToolResult, ToolResult: &tr}
}

// RequestMessage is one message of a rendered request. CacheHint marks the
// message as a good prompt-cache boundary; it is a performance hint only and
// providers without prompt caching ignore it.
type RequestMessage struct {
	Role      message.Role
	Blocks    []Block
	CacheHint bool
}

// Text returns the concatenated text blocks.
func (m RequestMessage) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolDecl declares one tool to the model.
type ToolDecl struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is a fully rendered completion request.
type Request struct {
	Messages []RequestMessage
	Tools    []ToolDecl
}

// ModelClient is the engine's view of one configured model. Implementations
// must honor context cancellation on Stream by closing the event channel.
type ModelClient interface {
	// Name returns the provider name (e.g. "anthropic").
	Name() string

	// ModelID returns the model identifier.
	ModelID() string

	// SupportsTools reports whether the model accepts tool declarations.
	SupportsTools() bool

	// MaxTokenCount returns the model's context window size in tokens.
	MaxTokenCount() int64

	// ToolInputFormat returns the schema dialect for tool declarations.
	ToolInputFormat() ToolInputFormat

	// Stream issues the request and yields typed events until a Stop or
	// Error event, after which the channel closes.
	Stream(ctx context.Context, req Request) <-chan message.StreamEvent

	// StreamText issues the request without tools and yields only Text,
	// Stop and Error events. Used for derived jobs like titles.
	StreamText(ctx context.Context, req Request) <-chan message.StreamEvent
}
