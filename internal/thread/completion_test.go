package thread

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/provider"
)

func TestRequestHasSystemThenUser(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), textEv("ok"), stopEv(message.StopEndTurn)},
	}}
	th := newTestThread(model, func(o *Options) {
		o.SystemPrompt = func() (string, error) { return "you are strand", nil }
	})
	events := th.Subscribe()

	th.InsertUserMessage("fix the bug", []ContextItem{
		{Kind: ContextFile, Path: "main.go", Content: "package main"},
	}, nil)
	th.Send(t.Context())
	waitStopped(t, events)

	reqs := model.recordedRequests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	msgs := reqs[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("request messages = %d, want 2 (system + user)", len(msgs))
	}
	if msgs[0].Role != message.RoleSystem {
		t.Fatalf("first message role = %s, want system", msgs[0].Role)
	}
	body := msgs[1].Text()
	if !strings.HasPrefix(body, "<context>") || !strings.HasSuffix(body, "fix the bug") {
		t.Fatalf("user body should be context block then literal text, got:\n%s", body)
	}
	if !msgs[1].CacheHint {
		t.Fatal("last message not marked as cache boundary")
	}
}

func TestSystemPromptFailureIsNonFatal(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), textEv("ok"), stopEv(message.StopEndTurn)},
	}}
	th := newTestThread(model, func(o *Options) {
		o.SystemPrompt = func() (string, error) { return "", errors.New("cwd vanished") }
	})
	events := th.Subscribe()

	th.InsertUserMessage("hello", nil, nil)
	th.Send(t.Context())

	waitEvent(t, events, "ShowError", func(ev Event) bool {
		_, ok := ev.(ShowError)
		return ok
	})
	stopped := waitStopped(t, events)
	if stopped.Err != nil {
		t.Fatalf("turn failed: %v", stopped.Err)
	}

	msgs := model.recordedRequests()[0].Messages
	if len(msgs) != 1 || msgs[0].Role != message.RoleUser {
		t.Fatalf("request should carry just the user message, got %d messages", len(msgs))
	}
}

func TestStreamWithoutStartMessageOpensOneAssistantMessage(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{textEv("Hello"), textEv(" world"), stopEv(message.StopEndTurn)},
	}}
	th := newTestThread(model)
	events := th.Subscribe()

	th.InsertUserMessage("hi", nil, nil)
	th.Send(t.Context())
	waitStopped(t, events)

	msgs := th.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want user + one assistant", len(msgs))
	}
	assistant := msgs[1]
	if assistant.Role != message.RoleAssistant {
		t.Fatalf("role = %s, want assistant", assistant.Role)
	}
	if got := assistant.Text(); got != "Hello world" {
		t.Fatalf("assistant text = %q, want %q", got, "Hello world")
	}
	if len(assistant.Segments) != 1 {
		t.Fatalf("segments = %d, want 1 merged text segment", len(assistant.Segments))
	}
}

func TestRecoveredFirstChunkNotDoubleReported(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{textEv("Hello"), textEv(" world"), stopEv(message.StopEndTurn)},
	}}
	th := newTestThread(model)
	events := th.Subscribe()

	th.InsertUserMessage("hi", nil, nil)
	th.Send(t.Context())

	var added, streamed []string
	for {
		ev := waitEvent(t, events, "any", func(Event) bool { return true })
		if _, ok := ev.(Stopped); ok {
			break
		}
		switch e := ev.(type) {
		case MessageAdded:
			added = append(added, fmt.Sprint(e.ID))
		case StreamedText:
			streamed = append(streamed, e.Chunk)
		}
	}

	// Two messages added: the user turn and the recovered assistant
	// message carrying "Hello". Only the second chunk streams.
	if len(added) != 2 {
		t.Fatalf("MessageAdded count = %d, want 2", len(added))
	}
	if len(streamed) != 1 || streamed[0] != " world" {
		t.Fatalf("streamed chunks = %v, want only the second chunk", streamed)
	}
}

func TestUsageDeltaDoesNotDoubleCount(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), usageEv(100, 1), textEv("a"), usageEv(100, 5), usageEv(100, 9), stopEv(message.StopEndTurn)},
	}}
	th := newTestThread(model)
	events := th.Subscribe()

	th.InsertUserMessage("count", nil, nil)
	th.Send(t.Context())
	waitStopped(t, events)

	cumulative := th.CumulativeUsage()
	if cumulative.InputTokens != 100 || cumulative.OutputTokens != 9 {
		t.Fatalf("cumulative = %+v, want the final report, not the sum", cumulative)
	}
	if got := th.Usage().Total; got != 109 {
		t.Fatalf("total = %d, want 109", got)
	}
}

func TestContextWindowErrorOverridesTotal(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), usageEv(100, 10), errEv(provider.ContextWindowError{TokenCount: 5000})},
	}}
	th := newTestThread(model)
	events := th.Subscribe()

	th.InsertUserMessage("too long", nil, nil)
	th.Send(t.Context())
	stopped := waitStopped(t, events)

	if stopped.Err == nil {
		t.Fatal("expected a terminal error")
	}
	usage := th.Usage()
	if usage.Total != 5000 {
		t.Fatalf("total = %d, want the provider-measured 5000", usage.Total)
	}
	if usage.Ratio != RatioExceeded {
		t.Fatalf("ratio = %v, want exceeded", usage.Ratio)
	}
}

func TestExceededOverrideClearedByNextSuccess(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{errEv(provider.ContextWindowError{TokenCount: 5000})},
		{startEv(), usageEv(50, 5), textEv("ok"), stopEv(message.StopEndTurn)},
	}}
	th := newTestThread(model)
	events := th.Subscribe()

	th.InsertUserMessage("first", nil, nil)
	th.Send(t.Context())
	waitStopped(t, events)

	th.Send(t.Context())
	waitStopped(t, events)

	if got := th.Usage().Total; got != 55 {
		t.Fatalf("total = %d, want 55 after the override cleared", got)
	}
}

func TestRefusalSurfacesError(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), textEv("I cannot help with that"), stopEv(message.StopRefusal)},
	}}
	th := newTestThread(model)
	events := th.Subscribe()

	th.InsertUserMessage("hello", nil, nil)
	th.Send(t.Context())

	ev := waitEvent(t, events, "ShowError", func(ev Event) bool {
		_, ok := ev.(ShowError)
		return ok
	})
	if !strings.Contains(ev.(ShowError).Err.Error(), "refus") {
		t.Fatalf("error = %v, want a refusal", ev.(ShowError).Err)
	}

	stopped := waitStopped(t, events)
	if stopped.Reason != message.StopRefusal || stopped.Err == nil {
		t.Fatalf("stopped = %+v, want refusal reason with an error", stopped)
	}
}

func TestStreamContextReleasedAfterTurn(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), textEv("ok"), stopEv(message.StopEndTurn)},
	}}
	th := newTestThread(model)
	events := th.Subscribe()

	th.InsertUserMessage("hello", nil, nil)
	th.Send(t.Context())
	waitStopped(t, events)

	ctx := model.lastStreamCtx()
	deadline := time.Now().Add(2 * time.Second)
	for ctx.Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("stream context still live after the turn finished")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		header string
	}{
		{"payment", provider.PaymentRequiredError{}, "Payment required"},
		{"spend", provider.MonthlySpendLimitError{}, "Monthly spend limit reached"},
		{"requests", provider.RequestLimitError{Plan: "pro"}, "Model request limit reached"},
		{"window", provider.ContextWindowError{TokenCount: 9}, "Context window exceeded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			terr := classifyError(fmt.Errorf("request failed: %w", tc.err))
			if terr.Header != tc.header {
				t.Fatalf("header = %q, want %q", terr.Header, tc.header)
			}
		})
	}
}

func TestGenericErrorKeepsCauseChain(t *testing.T) {
	inner := errors.New("connection reset")
	terr := classifyError(fmt.Errorf("stream aborted: %w", inner))
	if !strings.Contains(terr.Message, "connection reset") {
		t.Fatalf("generic message lost the cause chain: %q", terr.Message)
	}
	if !errors.Is(terr, inner) {
		t.Fatal("classified error does not unwrap to the cause")
	}
}

func TestStaleBufferAdvisoryAppended(t *testing.T) {
	model := &fakeModel{scripts: [][]message.StreamEvent{
		{startEv(), textEv("ok"), stopEv(message.StopEndTurn)},
	}}
	stale := staleLog{paths: []string{"main.go"}}
	th := newTestThread(model, func(o *Options) { o.Activity = stale })
	events := th.Subscribe()

	th.InsertUserMessage("hello", nil, nil)
	th.Send(t.Context())
	waitStopped(t, events)

	msgs := model.recordedRequests()[0].Messages
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Text(), "main.go") {
		t.Fatalf("advisory message missing, last = %q", last.Text())
	}
	if last.CacheHint {
		t.Fatal("advisory message must not be the cache boundary")
	}
}

// staleLog is an activity log that always reports the same stale paths.
type staleLog struct {
	paths []string
}

func (s staleLog) NoteContextAdded(string) {}
func (s staleLog) StaleBuffers() []string  { return s.paths }

func TestTitleKeepsFirstLineOnly(t *testing.T) {
	model := &fakeModel{
		scripts: [][]message.StreamEvent{
			{startEv(), textEv("done"), stopEv(message.StopEndTurn)},
		},
		textScripts: [][]message.StreamEvent{
			{textEv("Fix the bug"), textEv("\nSecond line noise"), stopEv(message.StopEndTurn)},
		},
	}
	th := newTestThread(model)
	events := th.Subscribe()

	th.InsertUserMessage("fix it", nil, nil)
	th.Send(t.Context())

	ev := waitEvent(t, events, "SummaryGenerated", func(ev Event) bool {
		_, ok := ev.(SummaryGenerated)
		return ok
	})
	if got := ev.(SummaryGenerated).Title; got != "Fix the bug" {
		t.Fatalf("title = %q, want first line only", got)
	}
	if th.Summary() != "Fix the bug" {
		t.Fatalf("Summary() = %q", th.Summary())
	}
}

func TestTitleStateReachesReady(t *testing.T) {
	model := &fakeModel{
		scripts: [][]message.StreamEvent{
			{startEv(), textEv("done"), stopEv(message.StopEndTurn)},
		},
		textScripts: [][]message.StreamEvent{
			{textEv("Fix the bug"), stopEv(message.StopEndTurn)},
		},
	}
	th := newTestThread(model)
	events := th.Subscribe()

	if th.SummaryState() != SummaryDefault {
		t.Fatalf("fresh thread state = %v, want default", th.SummaryState())
	}
	if th.SummaryOrDefault() != DefaultSummary {
		t.Fatalf("SummaryOrDefault() = %q before any title", th.SummaryOrDefault())
	}

	th.InsertUserMessage("fix it", nil, nil)
	th.Send(t.Context())
	waitEvent(t, events, "SummaryGenerated", func(ev Event) bool {
		_, ok := ev.(SummaryGenerated)
		return ok
	})

	if th.SummaryState() != SummaryReady {
		t.Fatalf("state = %v, want ready", th.SummaryState())
	}
	if th.SummaryOrDefault() != "Fix the bug" {
		t.Fatalf("SummaryOrDefault() = %q", th.SummaryOrDefault())
	}
}

func TestTitleStateResetsOnFailure(t *testing.T) {
	model := &fakeModel{
		scripts: [][]message.StreamEvent{
			{startEv(), textEv("done"), stopEv(message.StopEndTurn)},
		},
		textScripts: [][]message.StreamEvent{
			{errEv(errors.New("provider down"))},
		},
	}
	th := newTestThread(model)
	events := th.Subscribe()

	th.InsertUserMessage("fix it", nil, nil)
	th.Send(t.Context())
	waitStopped(t, events)

	// The title job runs off the turn's critical path; wait for it to give
	// the state back so a later turn can retry.
	deadline := time.Now().Add(2 * time.Second)
	for th.SummaryState() != SummaryDefault {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want default after a failed title job", th.SummaryState())
		}
		time.Sleep(time.Millisecond)
	}
	if th.Summary() != "" {
		t.Fatalf("Summary() = %q after failure", th.Summary())
	}
}

func TestEmptyTitleDiscarded(t *testing.T) {
	model := &fakeModel{
		textScripts: [][]message.StreamEvent{
			{textEv("  \n"), stopEv(message.StopEndTurn)},
		},
	}
	th := newTestThread(model)
	th.SetSummary("existing")
	th.InsertMessage(message.RoleUser, "hi")

	th.generateTitle(t.Context())

	if th.Summary() != "existing" {
		t.Fatalf("empty title overwrote summary: %q", th.Summary())
	}
	if th.SummaryState() != SummaryReady {
		t.Fatalf("state = %v, existing title must stay ready", th.SummaryState())
	}
}

func TestDetailedSummaryStateMachine(t *testing.T) {
	model := &fakeModel{
		textScripts: [][]message.StreamEvent{
			{textEv("A detailed summary."), stopEv(message.StopEndTurn)},
		},
	}
	th := newTestThread(model)
	th.InsertMessage(message.RoleUser, "hi")
	last := th.InsertMessage(message.RoleAssistant, "hello")

	th.GenerateDetailedSummary(t.Context())

	st := th.DetailedSummary()
	if st.Kind != DetailedSummaryGenerated || st.MessageID != last {
		t.Fatalf("state = %+v", st)
	}
	if st.Text != "A detailed summary." {
		t.Fatalf("text = %q", st.Text)
	}

	// A second call for the same last message does no new work.
	th.GenerateDetailedSummary(t.Context())
	if got := th.DetailedSummary(); got.Text != st.Text {
		t.Fatalf("regenerated despite fresh state: %+v", got)
	}
}

func TestDetailedSummaryResetOnFailure(t *testing.T) {
	model := &fakeModel{
		textScripts: [][]message.StreamEvent{
			{errEv(errors.New("provider down"))},
		},
	}
	th := newTestThread(model)
	th.InsertMessage(message.RoleUser, "hi")

	th.GenerateDetailedSummary(t.Context())

	if st := th.DetailedSummary(); st.Kind != DetailedSummaryNotGenerated {
		t.Fatalf("state stuck at %+v after failure", st)
	}
}
