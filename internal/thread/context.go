package thread

import (
	"fmt"
	"strings"

	"github.com/strandlabs/strand/internal/message"
)

// ContextKind identifies the source of an attached context item.
type ContextKind string

const (
	ContextFile      ContextKind = "file"
	ContextDirectory ContextKind = "directory"
	ContextSymbol    ContextKind = "symbol"
	ContextExcerpt   ContextKind = "excerpt"
	ContextURL       ContextKind = "url"
	ContextThread    ContextKind = "thread"
)

// ContextItem is one piece of candidate context attached to a user message.
// Path locates the source; Name disambiguates symbols and excerpts within a
// file; Content is the rendered material.
type ContextItem struct {
	Kind    ContextKind
	Path    string
	Name    string
	Content string
}

// Identity is the dedup key: two items with the same identity embed the same
// underlying material, regardless of content drift between captures.
func (c ContextItem) Identity() string {
	return string(c.Kind) + ":" + c.Path + ":" + c.Name
}

// InsertUserMessage appends a user message carrying text and any context not
// already present somewhere in the thread. A context source, once included
// in any message, is never re-embedded in a later one. When snapshot is
// non-nil it becomes the pending checkpoint for this message, replacing any
// prior pending checkpoint.
func (t *Thread) InsertUserMessage(text string, contexts []ContextItem, snapshot Snapshot) message.ID {
	t.mu.Lock()

	var fresh []ContextItem
	for _, c := range contexts {
		if _, seen := t.contextLedger[c.Identity()]; seen {
			continue
		}
		fresh = append(fresh, c)
	}

	id := t.nextMessageID
	t.nextMessageID++

	msg := message.New(id, message.RoleUser, text)
	msg.Context = renderContextBlock(fresh)
	t.messages = append(t.messages, msg)

	for _, c := range fresh {
		t.contextLedger[c.Identity()] = id
	}

	if snapshot != nil {
		t.pendingCheckpoint = &Checkpoint{MessageID: id, Snapshot: snapshot}
	}
	t.mu.Unlock()

	for _, c := range fresh {
		if c.Kind == ContextFile {
			t.activity.NoteContextAdded(c.Path)
		}
	}

	t.notify(MessageAdded{ID: id})
	return id
}

// renderContextBlock formats the filtered context set into the single block
// attached to the message. An empty set renders to an empty string.
func renderContextBlock(items []ContextItem) string {
	if len(items) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<context>\n")
	for _, it := range items {
		switch it.Kind {
		case ContextFile:
			fmt.Fprintf(&sb, "<file path=%q>\n%s\n</file>\n", it.Path, it.Content)
		case ContextDirectory:
			fmt.Fprintf(&sb, "<directory path=%q>\n%s\n</directory>\n", it.Path, it.Content)
		case ContextSymbol:
			fmt.Fprintf(&sb, "<symbol name=%q path=%q>\n%s\n</symbol>\n", it.Name, it.Path, it.Content)
		case ContextExcerpt:
			fmt.Fprintf(&sb, "<excerpt path=%q>\n%s\n</excerpt>\n", it.Path, it.Content)
		case ContextURL:
			fmt.Fprintf(&sb, "<fetched url=%q>\n%s\n</fetched>\n", it.Path, it.Content)
		case ContextThread:
			fmt.Fprintf(&sb, "<thread title=%q>\n%s\n</thread>\n", it.Name, it.Content)
		}
	}
	sb.WriteString("</context>\n")
	return sb.String()
}
