package session

import (
	"context"
	"testing"
	"time"

	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/thread"
)

// nullModel satisfies provider.ModelClient for tests that never stream.
type nullModel struct{}

func (nullModel) Name() string                                { return "null" }
func (nullModel) ModelID() string                             { return "null" }
func (nullModel) SupportsTools() bool                         { return false }
func (nullModel) MaxTokenCount() int64                        { return 1 }
func (nullModel) ToolInputFormat() provider.ToolInputFormat   { return provider.FormatJSONSchema }
func (nullModel) Stream(context.Context, provider.Request) <-chan message.StreamEvent {
	ch := make(chan message.StreamEvent)
	close(ch)
	return ch
}
func (nullModel) StreamText(context.Context, provider.Request) <-chan message.StreamEvent {
	ch := make(chan message.StreamEvent)
	close(ch)
	return ch
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStoreAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	th := thread.New(thread.Options{Model: nullModel{}})
	th.InsertMessage(message.RoleUser, "hello")
	id := th.InsertMessage(message.RoleAssistant, "")
	th.EditMessage(id, message.RoleAssistant, []message.Segment{
		message.ReasoningSegment{Text: "thinking", Signature: "sig"},
		message.TextSegment{Text: "hi there"},
	})
	th.SetSummary("Greeting")

	if err := store.Save(Snapshot(th)); err != nil {
		t.Fatal(err)
	}

	rec, err := store.Load(th.ID())
	if err != nil {
		t.Fatal(err)
	}
	if rec.Metadata.Title != "Greeting" || rec.Metadata.MessageCount != 2 {
		t.Fatalf("metadata = %+v", rec.Metadata)
	}

	restored := thread.New(thread.Options{Model: nullModel{}})
	rec.Restore(restored)

	msgs := restored.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[1].Text() != "hi there" {
		t.Fatalf("assistant text = %q", msgs[1].Text())
	}
	reasoning, ok := msgs[1].Segments[0].(message.ReasoningSegment)
	if !ok || reasoning.Signature != "sig" {
		t.Fatalf("reasoning segment lost: %+v", msgs[1].Segments[0])
	}
	if restored.Summary() != "Greeting" {
		t.Fatalf("title = %q", restored.Summary())
	}

	// Message ids keep increasing past the restored history.
	next := restored.InsertMessage(message.RoleUser, "more")
	if next <= msgs[1].ID {
		t.Fatalf("id %d not beyond restored history", next)
	}
}

func TestListNewestFirst(t *testing.T) {
	store, err := NewStoreAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"older", "newer"} {
		rec := &Record{Metadata: Metadata{ID: id}}
		if err := store.Save(rec); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 || metas[0].ID != "newer" {
		t.Fatalf("list order = %v", metas)
	}
}

func TestDeleteAbsentSession(t *testing.T) {
	store, err := NewStoreAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("ghost"); err != nil {
		t.Fatalf("delete of absent session: %v", err)
	}
}
