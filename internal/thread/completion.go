package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/provider"
)

// pendingCompletion is one in-flight model call. An entry present in the
// thread's map at cancellation time is the signal a completion is running.
type pendingCompletion struct {
	id     uint64
	cancel context.CancelFunc

	// lastUsage is the previous usage report for this request, so the
	// cumulative total advances by delta.
	lastUsage message.Usage

	// turnMessageID is the assistant message this stream is writing into.
	// Zero means the stream has not opened one yet.
	turnMessageID message.ID

	stopReason message.StopReason
}

// Send starts a fresh user-initiated turn against the default model. The
// prompt id changes here and stays fixed across tool-loop continuations of
// the same turn.
func (t *Thread) Send(ctx context.Context) {
	t.mu.Lock()
	t.promptID = uuid.NewString()
	t.mu.Unlock()
	t.sendToModel(ctx, t.model)
}

// sendToModel renders the request and spawns the cancellable stream task.
func (t *Thread) sendToModel(ctx context.Context, model provider.ModelClient) {
	req := t.buildRequest(model)

	cctx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.nextCompletionID++
	pc := &pendingCompletion{id: t.nextCompletionID, cancel: cancel}
	t.pendingCompletions[pc.id] = pc
	t.mu.Unlock()

	log.Logger().Debug("Sending completion request",
		zap.Uint64("completion", pc.id),
		zap.String("model", model.ModelID()),
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(req.Tools)),
	)
	t.notify(NewRequest{})

	go t.streamCompletion(cctx, pc, model, req)
}

// buildRequest assembles the provider request from the message store,
// context blocks, tool bookkeeping, and system prompt.
func (t *Thread) buildRequest(model provider.ModelClient) provider.Request {
	var req provider.Request

	if t.systemPrompt != nil {
		sys, err := t.systemPrompt()
		if err != nil {
			t.notify(ShowError{Err: &Error{
				Header:  "System prompt unavailable",
				Message: fmt.Sprintf("Proceeding without project instructions: %v", err),
				cause:   err,
			}})
		} else if sys != "" {
			req.Messages = append(req.Messages, provider.RequestMessage{
				Role:   message.RoleSystem,
				Blocks: []provider.Block{provider.TextBlock(sys)},
			})
		}
	}

	t.mu.Lock()
	req.Messages = append(req.Messages, t.renderMessagesLocked()...)
	t.mu.Unlock()

	// The last message is always a cache boundary. A performance hint,
	// not a correctness requirement.
	if n := len(req.Messages); n > 0 {
		req.Messages[n-1].CacheHint = true
	}

	if stale := t.activity.StaleBuffers(); len(stale) > 0 {
		req.Messages = append(req.Messages, staleAdvisory(stale))
	}

	if model.SupportsTools() {
		format := model.ToolInputFormat()
		for _, tl := range t.registry.EnabledTools() {
			if t.settings.ToolDisabled(tl.Name()) {
				continue
			}
			decl, err := tl.Schema(format)
			if err != nil {
				// The tool cannot express itself in this model's
				// schema dialect. Skip it rather than fail the turn.
				log.Logger().Debug("Skipping tool for model",
					zap.String("tool", tl.Name()),
					zap.Error(err),
				)
				continue
			}
			req.Tools = append(req.Tools, decl)
		}
	}

	return req
}

// renderMessagesLocked renders every stored message in order: tool results
// carried by the message, its context block, its segments, then the tool
// uses it requested. Empty text and reasoning segments are omitted;
// redacted reasoning is always included.
func (t *Thread) renderMessagesLocked() []provider.RequestMessage {
	out := make([]provider.RequestMessage, 0, len(t.messages))
	for _, m := range t.messages {
		rm := provider.RequestMessage{Role: m.Role}

		for _, tr := range t.toolResults[m.ID] {
			rm.Blocks = append(rm.Blocks, provider.ToolResultBlock(tr))
		}
		if m.Context != "" {
			rm.Blocks = append(rm.Blocks, provider.TextBlock(m.Context))
		}
		for _, seg := range m.Segments {
			switch s := seg.(type) {
			case message.TextSegment:
				if s.Text != "" {
					rm.Blocks = append(rm.Blocks, provider.TextBlock(s.Text))
				}
			case message.ReasoningSegment:
				if s.Text != "" {
					rm.Blocks = append(rm.Blocks, provider.ThinkingBlock(s.Text, s.Signature))
				}
			case message.RedactedReasoningSegment:
				rm.Blocks = append(rm.Blocks, provider.RedactedThinkingBlock(s.Data))
			}
		}
		for _, tu := range t.toolUsesByMsg[m.ID] {
			rm.Blocks = append(rm.Blocks, provider.ToolUseBlock(tu))
		}

		if len(rm.Blocks) == 0 {
			continue
		}
		out = append(out, rm)
	}
	return out
}

func staleAdvisory(paths []string) provider.RequestMessage {
	var sb strings.Builder
	sb.WriteString("These files changed since they were last read:\n")
	for _, p := range paths {
		sb.WriteString("- ")
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	return provider.RequestMessage{
		Role:   message.RoleUser,
		Blocks: []provider.Block{provider.TextBlock(sb.String())},
	}
}

// streamCompletion consumes the provider stream, folding each event into
// thread state in arrival order. The fold for event n+1 never begins before
// event n has fully applied, and a cooperative yield after each event keeps
// a burst of chunks from starving other work.
func (t *Thread) streamCompletion(ctx context.Context, pc *pendingCompletion, model provider.ModelClient, req provider.Request) {
	// Release the stream context once this turn's fold is done. Tool
	// invocations carry their own cancel handles, so this frees the timer
	// and goroutine the context holds without touching running tools.
	defer pc.cancel()

	events := model.Stream(ctx, req)

	var streamErr error
	for ev := range events {
		t.foldEvent(ctx, pc, ev, &streamErr)
		t.yield()
	}

	t.streamEnded(ctx, pc, model, streamErr)
}

func (t *Thread) foldEvent(ctx context.Context, pc *pendingCompletion, ev message.StreamEvent, streamErr *error) {
	switch ev.Kind {
	case message.EventStart:
		t.mu.Lock()
		msg := t.insertMessageLocked(message.RoleAssistant, "")
		pc.turnMessageID = msg.ID
		t.mu.Unlock()
		t.notify(MessageAdded{ID: msg.ID})

	case message.EventText:
		t.appendStreamed(pc, ev, false)

	case message.EventReasoning:
		t.appendStreamed(pc, ev, true)

	case message.EventRedactedReasoning:
		t.mu.Lock()
		msg, opened := t.turnMessageLocked(pc)
		msg.AppendRedactedReasoning(ev.Data)
		t.mu.Unlock()
		if opened {
			t.notify(MessageAdded{ID: msg.ID})
		}

	case message.EventToolUse:
		t.mu.Lock()
		msg, opened := t.turnMessageLocked(pc)
		t.registerToolUseLocked(msg.ID, *ev.ToolUse)
		t.mu.Unlock()
		if opened {
			t.notify(MessageAdded{ID: msg.ID})
		}

	case message.EventUsage:
		t.recordUsage(pc, ev.Usage)

	case message.EventStop:
		// Remember the reason; all action happens after the stream ends.
		pc.stopReason = ev.StopReason

	case message.EventError:
		*streamErr = ev.Err
	}
}

// appendStreamed folds one text or reasoning chunk. When the provider emits
// content before an explicit start marker, the first chunk opens a new
// assistant message; that path reports the message as added rather than
// streamed, so observers do not render the chunk twice.
func (t *Thread) appendStreamed(pc *pendingCompletion, ev message.StreamEvent, reasoning bool) {
	t.mu.Lock()
	msg, opened := t.turnMessageLocked(pc)
	if reasoning {
		msg.AppendReasoning(ev.Text, ev.Signature)
	} else {
		msg.AppendText(ev.Text)
	}
	id := msg.ID
	t.mu.Unlock()

	switch {
	case opened:
		t.notify(MessageAdded{ID: id})
	case reasoning:
		t.notify(StreamedReasoning{ID: id, Chunk: ev.Text})
	default:
		t.notify(StreamedText{ID: id, Chunk: ev.Text})
	}
}

// turnMessageLocked resolves this stream's assistant message, opening one if
// the provider never sent a start marker. The second return reports whether
// a message was opened by this call.
func (t *Thread) turnMessageLocked(pc *pendingCompletion) (*message.Message, bool) {
	if pc.turnMessageID != 0 {
		if msg := t.messageLocked(pc.turnMessageID); msg != nil {
			return msg, false
		}
	}
	msg := t.insertMessageLocked(message.RoleAssistant, "")
	pc.turnMessageID = msg.ID
	return msg, true
}

// streamEnded runs once per completion, after the event channel closes.
func (t *Thread) streamEnded(ctx context.Context, pc *pendingCompletion, model provider.ModelClient, streamErr error) {
	canceled := ctx.Err() != nil

	t.mu.Lock()
	delete(t.pendingCompletions, pc.id)
	if streamErr == nil && !canceled {
		// A successful exchange ends any context-window override.
		t.exceeded = nil
	}
	kickSummary := streamErr == nil && !canceled &&
		t.summary == "" && t.summaryState == SummaryDefault &&
		len(t.messages) >= 2 &&
		(len(t.pendingTools) == 0 || len(t.messages) >= 6)
	if kickSummary {
		// Claimed under the lock so concurrent turn ends start one job.
		t.summaryState = SummaryGenerating
	}
	t.mu.Unlock()

	if kickSummary {
		// Fire and forget; the title never blocks the critical path.
		go t.generateTitle(context.Background())
	}

	if canceled {
		t.CancelAllPendingToolUses()
		t.finalizePendingCheckpoint(context.Background())
		return
	}

	t.finalizePendingCheckpoint(ctx)

	if streamErr != nil {
		t.handleStreamError(streamErr, model)
		return
	}

	log.Logger().Debug("Completion finished",
		zap.Uint64("completion", pc.id),
		zap.String("stop", string(pc.stopReason)),
	)

	if pc.stopReason == message.StopToolUse {
		// Tools outlive the stream context; each run gets its own
		// cancellable context rooted in the background.
		t.DispatchIdleTools(context.Background(), model)
		return
	}

	if pc.stopReason == message.StopRefusal {
		rerr := &Error{
			Header:  "Language model refusal",
			Message: "Model refused to generate content for safety reasons.",
		}
		t.notify(ShowError{Err: rerr})
		t.notify(Stopped{Reason: pc.stopReason, Err: rerr})
		return
	}

	t.notify(Stopped{Reason: pc.stopReason})
}

// handleStreamError runs the cancellation cleanup path before surfacing the
// failure, so the thread never gets stuck generating after a reported error.
func (t *Thread) handleStreamError(err error, model provider.ModelClient) {
	var window provider.ContextWindowError
	if errors.As(err, &window) {
		t.mu.Lock()
		t.exceeded = &exceededWindow{
			modelID:    model.ModelID(),
			tokenCount: window.TokenCount,
		}
		total := t.totalUsageLocked()
		t.mu.Unlock()
		t.notify(UsageUpdated{Total: total})
	}

	t.CancelAllPendingToolUses()

	terr := classifyError(err)
	log.Logger().Debug("Completion failed",
		zap.String("header", terr.Header),
		zap.Error(err),
	)
	t.notify(ShowError{Err: terr})
	t.notify(Stopped{Err: terr})
}
