package thread

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/provider"
)

const titleInstruction = "Generate a concise 3-7 word title for this conversation, " +
	"omitting punctuation. Go straight to the title, without any preamble and prefix like `Here's a concise suggestion:...` or `Title:`."

const detailedSummaryInstruction = "Generate a detailed summary of this conversation. " +
	"Include the user's goal, what was done, key decisions, and any remaining work."

// SummaryKind is the progress of the thread title.
type SummaryKind int

const (
	// SummaryDefault means no title exists yet and no job is producing one.
	SummaryDefault SummaryKind = iota
	// SummaryGenerating means a title job is streaming.
	SummaryGenerating
	// SummaryReady means a title exists.
	SummaryReady
)

// DefaultSummary stands in for the title until one is generated.
const DefaultSummary = "New Thread"

// DetailedSummaryKind is the progress of the detailed summary job.
type DetailedSummaryKind int

const (
	DetailedSummaryNotGenerated DetailedSummaryKind = iota
	DetailedSummaryGenerating
	DetailedSummaryGenerated
)

// DetailedSummaryState guards the detailed summary job against duplicate
// work. A Generating or Generated state is stale once MessageID no longer
// matches the last message of the thread.
type DetailedSummaryState struct {
	Kind      DetailedSummaryKind
	Text      string
	MessageID message.ID
}

// Summary returns the thread title, or an empty string before one exists.
func (t *Thread) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

// SummaryState returns the progress of the title.
func (t *Thread) SummaryState() SummaryKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summaryState
}

// SummaryOrDefault returns the title, or DefaultSummary while none is ready.
func (t *Thread) SummaryOrDefault() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.summaryState != SummaryReady || t.summary == "" {
		return DefaultSummary
	}
	return t.summary
}

// SetSummary replaces the thread title, e.g. from a user rename.
func (t *Thread) SetSummary(title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	t.mu.Lock()
	t.summary = title
	t.summaryState = SummaryReady
	t.mu.Unlock()
	t.notify(SummaryGenerated{Title: title})
}

// DetailedSummary returns the detailed summary state.
func (t *Thread) DetailedSummary() DetailedSummaryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.detailed
}

// summaryRequestLocked builds the reduced request both summarizer jobs use:
// every message except ones that only carry tool results, plus one
// synthetic instruction message.
func (t *Thread) summaryRequestLocked(instruction string) provider.Request {
	var req provider.Request
	for _, m := range t.messages {
		body := m.FullText()
		if body == "" {
			// Tool-result carriers and empty turns say nothing useful
			// about what the conversation is about.
			continue
		}
		req.Messages = append(req.Messages, provider.RequestMessage{
			Role:   m.Role,
			Blocks: []provider.Block{provider.TextBlock(body)},
		})
	}
	req.Messages = append(req.Messages, provider.RequestMessage{
		Role:   message.RoleUser,
		Blocks: []provider.Block{provider.TextBlock(instruction)},
	})
	return req
}

// generateTitle streams a title and keeps only the first line, abandoning
// the stream as soon as a second line appears. An empty result is
// discarded, keeping whatever summary already exists.
func (t *Thread) generateTitle(ctx context.Context) {
	t.mu.Lock()
	t.summaryState = SummaryGenerating
	req := t.summaryRequestLocked(titleInstruction)
	t.mu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var title strings.Builder
	for ev := range t.summaryModel.StreamText(cctx, req) {
		switch ev.Kind {
		case message.EventText:
			title.WriteString(ev.Text)
		case message.EventError:
			log.Logger().Debug("Title generation failed", zap.Error(ev.Err))
			t.resetTitleState()
			return
		}
		if idx := strings.IndexByte(title.String(), '\n'); idx >= 0 {
			cancel()
			line := title.String()[:idx]
			title.Reset()
			title.WriteString(line)
			break
		}
	}

	result := strings.TrimSpace(title.String())
	if result == "" {
		t.resetTitleState()
		return
	}

	t.mu.Lock()
	t.summary = result
	t.summaryState = SummaryReady
	t.mu.Unlock()
	t.notify(SummaryGenerated{Title: result})
}

// resetTitleState returns a failed title job to Default so a later turn can
// retry. A title that already exists stays Ready.
func (t *Thread) resetTitleState() {
	t.mu.Lock()
	if t.summary != "" {
		t.summaryState = SummaryReady
	} else if t.summaryState == SummaryGenerating {
		t.summaryState = SummaryDefault
	}
	t.mu.Unlock()
}

// GenerateDetailedSummary produces a detailed summary unless a fresh one
// already exists or is being generated for the current last message. On
// provider failure the state resets to NotGenerated rather than sticking in
// Generating.
func (t *Thread) GenerateDetailedSummary(ctx context.Context) {
	t.mu.Lock()
	lastID := t.lastMessageIDLocked()
	if lastID == 0 {
		t.mu.Unlock()
		return
	}
	if t.detailed.Kind != DetailedSummaryNotGenerated && t.detailed.MessageID == lastID {
		t.mu.Unlock()
		return
	}
	t.detailed = DetailedSummaryState{Kind: DetailedSummaryGenerating, MessageID: lastID}
	req := t.summaryRequestLocked(detailedSummaryInstruction)
	t.mu.Unlock()
	t.notify(SummaryChanged{})

	var text strings.Builder
	for ev := range t.summaryModel.StreamText(ctx, req) {
		switch ev.Kind {
		case message.EventText:
			text.WriteString(ev.Text)
		case message.EventError:
			log.Logger().Debug("Detailed summary failed", zap.Error(ev.Err))
			t.mu.Lock()
			t.detailed = DetailedSummaryState{Kind: DetailedSummaryNotGenerated}
			t.mu.Unlock()
			t.notify(SummaryChanged{})
			return
		}
	}

	t.mu.Lock()
	t.detailed = DetailedSummaryState{
		Kind:      DetailedSummaryGenerated,
		Text:      strings.TrimSpace(text.String()),
		MessageID: lastID,
	}
	t.mu.Unlock()
	t.notify(SummaryChanged{})
}
