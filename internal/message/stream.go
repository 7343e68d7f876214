package message

import "encoding/json"

// StopReason is the terminal classification of one completion.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopRefusal   StopReason = "refusal"
)

// Usage contains token counts reported by the provider for one request.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// Total returns the token count against the model's context window.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// Add returns the element-wise sum of two usage records.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:              u.InputTokens + other.InputTokens,
		OutputTokens:             u.OutputTokens + other.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens + other.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens + other.CacheReadInputTokens,
	}
}

// Sub returns the element-wise difference of two usage records.
func (u Usage) Sub(other Usage) Usage {
	return Usage{
		InputTokens:              u.InputTokens - other.InputTokens,
		OutputTokens:             u.OutputTokens - other.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens - other.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens - other.CacheReadInputTokens,
	}
}

// ToolUse is a tool invocation requested by the model.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// EventKind represents the kind of a stream event.
type EventKind string

const (
	EventStart             EventKind = "start"
	EventText              EventKind = "text"
	EventReasoning         EventKind = "reasoning"
	EventRedactedReasoning EventKind = "redacted_reasoning"
	EventToolUse           EventKind = "tool_use"
	EventUsage             EventKind = "usage"
	EventStop              EventKind = "stop"
	EventError             EventKind = "error"
)

// StreamEvent is one event of a provider completion stream. Exactly one
// payload field is meaningful per kind.
type StreamEvent struct {
	Kind       EventKind
	Text       string     // text and reasoning chunks
	Signature  string     // reasoning integrity signature, final chunk only
	Data       []byte     // redacted reasoning payload
	ToolUse    *ToolUse   // tool invocation
	Usage      Usage      // usage update
	StopReason StopReason // stop
	Err        error      // error
}
