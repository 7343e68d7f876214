package thread

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/tool"
	"github.com/strandlabs/strand/internal/tool/card"
)

// ToolUseState is the lifecycle of one tool invocation.
type ToolUseState int

const (
	ToolUseIdle ToolUseState = iota
	ToolUseAwaitingConfirmation
	ToolUseRunning
	ToolUseCompleted
	ToolUseErrored
)

func (s ToolUseState) settled() bool {
	return s == ToolUseCompleted || s == ToolUseErrored
}

// toolUse tracks one invocation requested by the model.
type toolUse struct {
	id        string
	name      string
	input     json.RawMessage
	state     ToolUseState
	messageID message.ID
	result    *provider.ToolResult
	cancel    context.CancelFunc // set while running
}

// ToolUseStatus is the externally visible state of one invocation.
type ToolUseStatus struct {
	ID     string
	Name   string
	Input  json.RawMessage
	State  ToolUseState
	Result *provider.ToolResult
}

// ToolUseStatus returns the state of an invocation, if known.
func (t *Thread) ToolUseStatus(id string) (ToolUseStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tu, ok := t.toolUses[id]
	if !ok {
		return ToolUseStatus{}, false
	}
	st := ToolUseStatus{ID: tu.id, Name: tu.name, Input: tu.input, State: tu.state}
	if tu.result != nil {
		r := *tu.result
		st.Result = &r
	}
	return st, true
}

// UsedToolsSinceLastUserMessage reports whether any tool results landed after
// the last real user message. The scan stops at the first user-authored
// message that carries no results, so tool-result carriers do not hide an
// earlier tool run.
func (t *Thread) UsedToolsSinceLastUserMessage() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.messages) - 1; i >= 0; i-- {
		m := t.messages[i]
		if len(t.toolResults[m.ID]) > 0 {
			return true
		}
		if m.Role == message.RoleUser {
			return false
		}
	}
	return false
}

// Card returns the renderable card a tool produced, if any.
func (t *Thread) Card(id string) (*card.Card, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.cards[id]
	return c, ok
}

// registerToolUseLocked records an invocation requested by the model, in
// Idle state, keyed by the assistant message that requested it.
func (t *Thread) registerToolUseLocked(msgID message.ID, tu message.ToolUse) {
	t.toolUses[tu.ID] = &toolUse{
		id:        tu.ID,
		name:      tu.Name,
		input:     tu.Input,
		state:     ToolUseIdle,
		messageID: msgID,
	}
	t.pendingTools = append(t.pendingTools, tu.ID)
	t.toolUsesByMsg[msgID] = append(t.toolUsesByMsg[msgID], tu)
}

// DispatchIdleTools moves every idle invocation forward: to
// AwaitingConfirmation when the tool requires it and the always-allow
// setting is off, otherwise straight to Running.
func (t *Thread) DispatchIdleTools(ctx context.Context, model provider.ModelClient) {
	t.mu.Lock()
	var confirm []string
	var run []*toolUse
	for _, id := range t.pendingTools {
		tu := t.toolUses[id]
		if tu == nil || tu.state != ToolUseIdle {
			continue
		}
		impl, ok := t.registry.Get(tu.name)
		if ok && !t.settings.AlwaysAllowToolActions {
			params, err := tool.ParseInput(tu.input)
			if err == nil && impl.NeedsConfirmation(params) {
				tu.state = ToolUseAwaitingConfirmation
				confirm = append(confirm, id)
				continue
			}
		}
		tu.state = ToolUseRunning
		run = append(run, tu)
	}
	t.mu.Unlock()

	if len(confirm) > 0 {
		t.notify(ToolConfirmationNeeded{IDs: confirm})
	}
	for _, tu := range run {
		go t.executeToolUse(ctx, tu, model)
	}
}

// ConfirmToolUse approves an invocation awaiting confirmation and runs it.
func (t *Thread) ConfirmToolUse(ctx context.Context, id string, model provider.ModelClient) {
	t.mu.Lock()
	tu := t.toolUses[id]
	if tu == nil || tu.state != ToolUseAwaitingConfirmation {
		t.mu.Unlock()
		return
	}
	tu.state = ToolUseRunning
	t.mu.Unlock()

	go t.executeToolUse(ctx, tu, model)
}

// Deny rejects an invocation, feeding a permission-denied result back to
// the model.
func (t *Thread) Deny(id string, model provider.ModelClient) {
	t.mu.Lock()
	tu := t.toolUses[id]
	if tu == nil || tu.state.settled() {
		t.mu.Unlock()
		return
	}
	tu.state = ToolUseErrored
	tu.result = &provider.ToolResult{
		ToolUseID: tu.id,
		ToolName:  tu.name,
		Content:   "Permission to run tool denied by user",
		IsError:   true,
	}
	t.mu.Unlock()

	t.notify(ToolFinished{ID: id})
	t.onToolSettled(id, true, model)
}

// executeToolUse runs one invocation to completion. Tool failures are not
// fatal to the turn; they settle as error-flagged results.
func (t *Thread) executeToolUse(ctx context.Context, tu *toolUse, model provider.ModelClient) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	tu.cancel = cancel
	snapshot := t.renderMessagesLocked()
	cwd := t.cwd
	t.mu.Unlock()

	result, resultCard := t.runTool(cctx, tu, snapshot, cwd)

	t.mu.Lock()
	if tu.state != ToolUseRunning {
		// Settled elsewhere, e.g. canceled while we were running.
		t.mu.Unlock()
		return
	}
	tu.cancel = nil
	tu.result = &result
	if result.IsError {
		tu.state = ToolUseErrored
	} else {
		tu.state = ToolUseCompleted
	}
	if resultCard != nil {
		t.cards[tu.id] = resultCard
	}
	t.mu.Unlock()

	log.Logger().Debug("Tool settled",
		zap.String("tool", tu.name),
		zap.String("id", tu.id),
		zap.Bool("error", result.IsError),
	)
	t.notify(ToolFinished{ID: tu.id})
	t.onToolSettled(tu.id, false, model)
}

func (t *Thread) runTool(ctx context.Context, tu *toolUse, snapshot []provider.RequestMessage, cwd string) (provider.ToolResult, *card.Card) {
	result := provider.ToolResult{ToolUseID: tu.id, ToolName: tu.name}

	if t.settings.ToolDisabled(tu.name) {
		result.Content = fmt.Sprintf("Tool %q is disabled", tu.name)
		result.IsError = true
		return result, nil
	}
	impl, ok := t.registry.Get(tu.name)
	if !ok {
		result.Content = fmt.Sprintf("Unknown tool %q", tu.name)
		result.IsError = true
		return result, nil
	}
	params, err := tool.ParseInput(tu.input)
	if err != nil {
		result.Content = fmt.Sprintf("Invalid tool input: %v", err)
		result.IsError = true
		return result, nil
	}

	out := impl.Run(ctx, tool.RunInput{
		Params:   params,
		Messages: snapshot,
		Cwd:      cwd,
		Activity: t.activity,
	})
	result.Content = out.Content
	result.IsError = out.IsError
	return result, out.Card
}

// onToolSettled checks whether the whole turn's tool batch has settled. A
// single errored invocation does not block settlement; only an unsettled
// one does. When everything settled, a fresh empty user message carries the
// results, and unless settlement was due to cancellation the thread
// resubmits to the default configured model.
func (t *Thread) onToolSettled(id string, canceled bool, model provider.ModelClient) {
	t.mu.Lock()
	if len(t.pendingTools) == 0 {
		// Another settlement already carried this batch.
		t.mu.Unlock()
		return
	}
	for _, pid := range t.pendingTools {
		tu := t.toolUses[pid]
		if tu == nil || !tu.state.settled() {
			t.mu.Unlock()
			return
		}
	}

	settled := t.pendingTools
	t.pendingTools = nil

	carrier := t.insertMessageLocked(message.RoleUser, "")
	for _, pid := range settled {
		tu := t.toolUses[pid]
		if tu.result != nil {
			t.toolResults[carrier.ID] = append(t.toolResults[carrier.ID], *tu.result)
		}
	}
	carrierID := carrier.ID
	t.mu.Unlock()

	t.notify(MessageAdded{ID: carrierID})

	if canceled {
		// Nothing will resubmit, so the turn quiesces here. Resolve the
		// rollback point now rather than leaving it pending forever.
		t.finalizePendingCheckpoint(context.Background())
		return
	}
	if model == nil {
		model = t.model
	}
	t.sendToModel(context.Background(), model)
}

// CancelAllPendingToolUses errors out every unsettled invocation with a
// cancellation marker. Used by explicit user cancellation and by stream
// failure cleanup.
func (t *Thread) CancelAllPendingToolUses() {
	t.mu.Lock()
	var canceled []string
	for _, id := range t.pendingTools {
		tu := t.toolUses[id]
		if tu == nil || tu.state.settled() {
			continue
		}
		if tu.cancel != nil {
			tu.cancel()
			tu.cancel = nil
		}
		tu.state = ToolUseErrored
		tu.result = &provider.ToolResult{
			ToolUseID: tu.id,
			ToolName:  tu.name,
			Content:   "Tool canceled by user",
			IsError:   true,
		}
		canceled = append(canceled, id)
	}
	t.mu.Unlock()

	for _, id := range canceled {
		t.notify(ToolFinished{ID: id})
		t.onToolSettled(id, true, nil)
	}
}
