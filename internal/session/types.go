// Package session persists thread snapshots to disk so conversations
// survive restarts. Files live under ~/.strand/sessions/, one JSON file per
// thread.
package session

import (
	"time"

	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/thread"
)

// Record is the on-disk form of one thread.
type Record struct {
	Metadata Metadata        `json:"metadata"`
	Messages []StoredMessage `json:"messages"`
}

// Metadata is the summary line shown when listing sessions.
type Metadata struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// StoredMessage flattens a message for JSON. Segment kinds carry an explicit
// discriminator because the in-memory form is an interface.
type StoredMessage struct {
	ID       message.ID      `json:"id"`
	Role     message.Role    `json:"role"`
	Context  string          `json:"context,omitempty"`
	Segments []StoredSegment `json:"segments,omitempty"`
}

// StoredSegment is one serialized segment.
type StoredSegment struct {
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

const (
	segmentText              = "text"
	segmentReasoning         = "reasoning"
	segmentRedactedReasoning = "redacted_reasoning"
)

// Snapshot captures a thread into a Record.
func Snapshot(th *thread.Thread) *Record {
	msgs := th.Messages()
	rec := &Record{
		Metadata: Metadata{
			ID:    th.ID(),
			Title: th.Summary(),
		},
		Messages: make([]StoredMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		sm := StoredMessage{ID: m.ID, Role: m.Role, Context: m.Context}
		for _, seg := range m.Segments {
			switch s := seg.(type) {
			case message.TextSegment:
				sm.Segments = append(sm.Segments, StoredSegment{Kind: segmentText, Text: s.Text})
			case message.ReasoningSegment:
				sm.Segments = append(sm.Segments, StoredSegment{
					Kind: segmentReasoning, Text: s.Text, Signature: s.Signature,
				})
			case message.RedactedReasoningSegment:
				sm.Segments = append(sm.Segments, StoredSegment{
					Kind: segmentRedactedReasoning, Data: s.Data,
				})
			}
		}
		rec.Messages = append(rec.Messages, sm)
	}
	return rec
}

// Restore loads a record into a thread, replacing its conversation.
func (r *Record) Restore(th *thread.Thread) {
	msgs := make([]message.Message, 0, len(r.Messages))
	for _, sm := range r.Messages {
		m := message.Message{ID: sm.ID, Role: sm.Role, Context: sm.Context}
		for _, seg := range sm.Segments {
			switch seg.Kind {
			case segmentText:
				m.Segments = append(m.Segments, message.TextSegment{Text: seg.Text})
			case segmentReasoning:
				m.Segments = append(m.Segments, message.ReasoningSegment{
					Text: seg.Text, Signature: seg.Signature,
				})
			case segmentRedactedReasoning:
				m.Segments = append(m.Segments, message.RedactedReasoningSegment{Data: seg.Data})
			}
		}
		msgs = append(msgs, m)
	}
	th.RestoreState(msgs, r.Metadata.Title)
}
