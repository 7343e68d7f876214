package thread

import (
	"strings"
	"testing"

	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/tool"
	"github.com/strandlabs/strand/internal/tool/card"
)

func TestToolLoopResubmitsWithCarrierMessage(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{
			startEv(),
			toolUseEv("tu_1", "good", `{}`),
			toolUseEv("tu_2", "bad", `{}`),
			stopEv(message.StopToolUse),
		},
		{startEv(), textEv("all done"), stopEv(message.StopEndTurn)},
	}}
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "good", result: tool.RunResult{Content: "42"}})
	registry.Register(&fakeTool{name: "bad", result: tool.Errorf("boom")})
	th := newTestThread(model, func(o *Options) { o.Registry = registry })
	events := th.Subscribe()

	th.InsertUserMessage("run tools", nil, nil)
	th.Send(t.Context())
	waitStopped(t, events)
	waitIdle(t, th)

	// One Errored invocation does not block settlement: the turn finishes
	// and resubmits once with both results on a single carrier message.
	reqs := model.recordedRequests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2 (initial + resubmission)", len(reqs))
	}

	second := reqs[1].Messages
	carrier := second[len(second)-1]
	if carrier.Role != message.RoleUser {
		t.Fatalf("carrier role = %s, want user", carrier.Role)
	}
	var results []provider.ToolResult
	for _, b := range carrier.Blocks {
		if b.Kind == provider.BlockToolResult {
			results = append(results, *b.ToolResult)
		}
	}
	if len(results) != 2 {
		t.Fatalf("carrier results = %d, want 2", len(results))
	}
	if results[0].ToolUseID != "tu_1" || results[0].IsError {
		t.Fatalf("first result = %+v", results[0])
	}
	if results[1].ToolUseID != "tu_2" || !results[1].IsError {
		t.Fatalf("second result = %+v", results[1])
	}

	if st, _ := th.ToolUseStatus("tu_1"); st.State != ToolUseCompleted {
		t.Fatalf("tu_1 state = %v", st.State)
	}
	if st, _ := th.ToolUseStatus("tu_2"); st.State != ToolUseErrored {
		t.Fatalf("tu_2 state = %v", st.State)
	}
}

func TestToolUseDeclaredOnAssistantMessage(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), textEv("let me check"), toolUseEv("tu_1", "good", `{}`), stopEv(message.StopToolUse)},
		{startEv(), textEv("done"), stopEv(message.StopEndTurn)},
	}}
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "good", result: tool.RunResult{Content: "ok"}})
	th := newTestThread(model, func(o *Options) { o.Registry = registry })
	events := th.Subscribe()

	th.InsertUserMessage("check", nil, nil)
	th.Send(t.Context())
	waitStopped(t, events)
	waitIdle(t, th)

	second := model.recordedRequests()[1].Messages
	var assistant *provider.RequestMessage
	for i := range second {
		if second[i].Role == message.RoleAssistant {
			assistant = &second[i]
		}
	}
	if assistant == nil {
		t.Fatal("no assistant message in resubmission")
	}
	last := assistant.Blocks[len(assistant.Blocks)-1]
	if last.Kind != provider.BlockToolUse || last.ToolUse.ID != "tu_1" {
		t.Fatalf("assistant message does not end with its tool use: %+v", last)
	}
}

func TestConfirmationGate(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), toolUseEv("tu_1", "careful", `{}`), stopEv(message.StopToolUse)},
		{startEv(), textEv("done"), stopEv(message.StopEndTurn)},
	}}
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "careful", confirm: true, result: tool.RunResult{Content: "ran"}})
	th := newTestThread(model, func(o *Options) { o.Registry = registry })
	events := th.Subscribe()

	th.InsertUserMessage("do it", nil, nil)
	th.Send(t.Context())

	ev := waitEvent(t, events, "ToolConfirmationNeeded", func(ev Event) bool {
		_, ok := ev.(ToolConfirmationNeeded)
		return ok
	})
	ids := ev.(ToolConfirmationNeeded).IDs
	if len(ids) != 1 || ids[0] != "tu_1" {
		t.Fatalf("confirmation ids = %v", ids)
	}
	if st, _ := th.ToolUseStatus("tu_1"); st.State != ToolUseAwaitingConfirmation {
		t.Fatalf("state = %v, want awaiting confirmation", st.State)
	}

	th.ConfirmToolUse(t.Context(), "tu_1", nil)
	waitStopped(t, events)
	waitIdle(t, th)

	if st, _ := th.ToolUseStatus("tu_1"); st.State != ToolUseCompleted {
		t.Fatalf("state = %v, want completed", st.State)
	}
	if len(model.recordedRequests()) != 2 {
		t.Fatal("confirmed tool did not resubmit")
	}
}

func TestAlwaysAllowSkipsConfirmation(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), toolUseEv("tu_1", "careful", `{}`), stopEv(message.StopToolUse)},
		{startEv(), textEv("done"), stopEv(message.StopEndTurn)},
	}}
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "careful", confirm: true, result: tool.RunResult{Content: "ran"}})
	th := newTestThread(model, func(o *Options) {
		o.Registry = registry
		o.Settings = &config.Settings{AlwaysAllowToolActions: true}
	})
	events := th.Subscribe()

	th.InsertUserMessage("do it", nil, nil)
	th.Send(t.Context())
	waitStopped(t, events)

	if st, _ := th.ToolUseStatus("tu_1"); st.State != ToolUseCompleted {
		t.Fatalf("state = %v, want completed without confirmation", st.State)
	}
}

func TestDenyFeedsErrorResultWithoutResubmission(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), toolUseEv("tu_1", "careful", `{}`), stopEv(message.StopToolUse)},
	}}
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "careful", confirm: true})
	th := newTestThread(model, func(o *Options) { o.Registry = registry })
	events := th.Subscribe()

	th.InsertUserMessage("do it", nil, nil)
	th.Send(t.Context())
	waitEvent(t, events, "ToolConfirmationNeeded", func(ev Event) bool {
		_, ok := ev.(ToolConfirmationNeeded)
		return ok
	})

	th.Deny("tu_1", nil)
	waitEvent(t, events, "ToolFinished", func(ev Event) bool {
		tf, ok := ev.(ToolFinished)
		return ok && tf.ID == "tu_1"
	})
	waitIdle(t, th)

	st, _ := th.ToolUseStatus("tu_1")
	if st.State != ToolUseErrored {
		t.Fatalf("state = %v, want errored", st.State)
	}
	if !st.Result.IsError || !strings.Contains(st.Result.Content, "denied") {
		t.Fatalf("result = %+v, want a permission-denied error", st.Result)
	}
	if len(model.recordedRequests()) != 1 {
		t.Fatal("denied settlement must not resubmit")
	}

	// The carrier message still exists so the result reaches the model on
	// the next user turn.
	msgs := th.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != message.RoleUser {
		t.Fatalf("no carrier message, last role = %s", last.Role)
	}
}

func TestCancelWhileToolRunning(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), toolUseEv("tu_1", "slow", `{}`), stopEv(message.StopToolUse)},
	}}
	block := make(chan struct{})
	started := make(chan struct{})
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "slow", block: block, started: started})
	backend := &fakeBackend{}
	th := newTestThread(model, func(o *Options) {
		o.Registry = registry
		o.Backend = backend
	})
	events := th.Subscribe()

	snap, _ := backend.Snapshot(t.Context())
	th.InsertUserMessage("long task", nil, snap)
	th.Send(t.Context())
	<-started

	if canceled := th.Cancel(); canceled {
		t.Fatal("Cancel reported an in-flight completion, only a tool was running")
	}

	waitEvent(t, events, "ToolFinished", func(ev Event) bool {
		tf, ok := ev.(ToolFinished)
		return ok && tf.ID == "tu_1"
	})
	waitIdle(t, th)

	// ToolFinished fires exactly once per invocation.
	for {
		done := false
		select {
		case ev := <-events:
			if tf, ok := ev.(ToolFinished); ok && tf.ID == "tu_1" {
				t.Fatal("ToolFinished fired twice for the same invocation")
			}
		default:
			done = true
		}
		if done {
			break
		}
	}

	st, _ := th.ToolUseStatus("tu_1")
	if st.State != ToolUseErrored {
		t.Fatalf("state = %v, want errored", st.State)
	}
	if !strings.Contains(st.Result.Content, "canceled") {
		t.Fatalf("result = %+v, want a cancellation marker", st.Result)
	}
	if len(model.recordedRequests()) != 1 {
		t.Fatal("canceled settlement must not resubmit")
	}

	// Cancellation finalized the pending checkpoint; state differed, so it
	// was committed.
	if _, ok := th.CheckpointFor(1); !ok {
		t.Fatal("no checkpoint committed after cancel")
	}
}

func TestUsedToolsSinceLastUserMessage(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), toolUseEv("tu_1", "good", `{}`), stopEv(message.StopToolUse)},
		{startEv(), textEv("done"), stopEv(message.StopEndTurn)},
	}}
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "good", result: tool.RunResult{Content: "42"}})
	th := newTestThread(model, func(o *Options) { o.Registry = registry })
	events := th.Subscribe()

	if th.UsedToolsSinceLastUserMessage() {
		t.Fatal("fresh thread reports tool use")
	}

	th.InsertUserMessage("run tools", nil, nil)
	th.Send(t.Context())
	waitStopped(t, events)
	waitIdle(t, th)

	if !th.UsedToolsSinceLastUserMessage() {
		t.Fatal("tool results after the user message not reported")
	}

	th.InsertUserMessage("next turn", nil, nil)
	if th.UsedToolsSinceLastUserMessage() {
		t.Fatal("a new user message must reset the report")
	}
}

func TestDisabledToolSynthesizesError(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), toolUseEv("tu_1", "banned", `{}`), stopEv(message.StopToolUse)},
		{startEv(), textEv("done"), stopEv(message.StopEndTurn)},
	}}
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "banned", result: tool.RunResult{Content: "should not run"}})
	th := newTestThread(model, func(o *Options) {
		o.Registry = registry
		o.Settings = &config.Settings{DisabledTools: map[string]bool{"banned": true}}
	})
	events := th.Subscribe()

	th.InsertUserMessage("try it", nil, nil)
	th.Send(t.Context())
	waitStopped(t, events)
	waitIdle(t, th)

	st, _ := th.ToolUseStatus("tu_1")
	if st.State != ToolUseErrored || !strings.Contains(st.Result.Content, "disabled") {
		t.Fatalf("disabled tool result = %+v", st.Result)
	}
}

func TestToolCardStoredByInvocation(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), toolUseEv("tu_1", "carded", `{}`), stopEv(message.StopToolUse)},
		{startEv(), textEv("done"), stopEv(message.StopEndTurn)},
	}}
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "carded", result: tool.RunResult{
		Content: "text result",
		Card:    &card.Card{ToolName: "carded", Title: "Carded"},
	}})
	th := newTestThread(model, func(o *Options) { o.Registry = registry })
	events := th.Subscribe()

	th.InsertUserMessage("go", nil, nil)
	th.Send(t.Context())
	waitStopped(t, events)

	c, ok := th.Card("tu_1")
	if !ok || c.Title != "Carded" {
		t.Fatalf("card = %+v, ok = %v", c, ok)
	}
}
