// Package message defines the canonical conversation types used across the codebase.
// All packages import from here to avoid circular dependencies.
package message

import (
	"strings"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ID is a message identifier, unique within a thread. IDs are assigned at
// insertion time, strictly increase, and are never reused, even after the
// message is deleted.
type ID int64

// Message is one turn of a conversation. Context is the pre-rendered block of
// attached-context text computed once at insertion; it is part of the message
// body but kept apart from Segments because it is synthesized, not
// model-authored.
type Message struct {
	ID       ID        `json:"id"`
	Role     Role      `json:"role"`
	Segments []Segment `json:"segments"`
	Context  string    `json:"context,omitempty"`
}

// Segment is one model-authored span of a message.
type Segment interface {
	segment()
}

// TextSegment is ordinary assistant or user text.
type TextSegment struct {
	Text string `json:"text"`
}

// ReasoningSegment is extended-thinking output. Signature, when present, is
// the provider's integrity signature for the reasoning block and must be sent
// back verbatim on later requests.
type ReasoningSegment struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// RedactedReasoningSegment is reasoning the provider withheld. The payload is
// opaque: it never displays, never merges, and is echoed back to the provider
// as-is.
type RedactedReasoningSegment struct {
	Data []byte `json:"data"`
}

func (TextSegment) segment()              {}
func (ReasoningSegment) segment()         {}
func (RedactedReasoningSegment) segment() {}

// New creates a message with a single text segment. An empty text yields a
// message with no segments.
func New(id ID, role Role, text string) *Message {
	m := &Message{ID: id, Role: role}
	if text != "" {
		m.Segments = append(m.Segments, TextSegment{Text: text})
	}
	return m
}

// AppendText merges chunk into the trailing text segment, or starts a new one
// if the last segment is of a different kind.
func (m *Message) AppendText(chunk string) {
	if n := len(m.Segments); n > 0 {
		if seg, ok := m.Segments[n-1].(TextSegment); ok {
			seg.Text += chunk
			m.Segments[n-1] = seg
			return
		}
	}
	m.Segments = append(m.Segments, TextSegment{Text: chunk})
}

// AppendReasoning merges chunk into the trailing reasoning segment, or starts
// a new one. A non-empty signature replaces the segment's signature; providers
// deliver it on the final chunk of a reasoning block.
func (m *Message) AppendReasoning(chunk, signature string) {
	if n := len(m.Segments); n > 0 {
		if seg, ok := m.Segments[n-1].(ReasoningSegment); ok {
			seg.Text += chunk
			if signature != "" {
				seg.Signature = signature
			}
			m.Segments[n-1] = seg
			return
		}
	}
	m.Segments = append(m.Segments, ReasoningSegment{Text: chunk, Signature: signature})
}

// AppendRedactedReasoning appends an opaque reasoning segment. Redacted
// segments never merge.
func (m *Message) AppendRedactedReasoning(data []byte) {
	m.Segments = append(m.Segments, RedactedReasoningSegment{Data: data})
}

// Text returns the concatenated text segments, ignoring reasoning.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, seg := range m.Segments {
		if ts, ok := seg.(TextSegment); ok {
			sb.WriteString(ts.Text)
		}
	}
	return sb.String()
}

// FullText returns the message body as presented to the model: context block
// first, then the text segments.
func (m *Message) FullText() string {
	text := m.Text()
	if m.Context == "" {
		return text
	}
	if text == "" {
		return m.Context
	}
	return m.Context + text
}
