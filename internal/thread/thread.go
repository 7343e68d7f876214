// Package thread implements the conversation orchestration engine: a linear
// message history, streaming completions folded into it, tool invocation
// with confirm-before-run, rollback checkpoints tied to repository state,
// and token accounting.
//
// A Thread behaves like an actor. One mutex serializes every state
// mutation, and it is never held across provider, tool, or checkpoint I/O;
// concurrency comes from independently scheduled goroutines (the active
// stream, each running tool, the summarizer) that re-enter through that
// serialized gate.
package thread

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/activity"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/tool"
	"github.com/strandlabs/strand/internal/tool/card"
)

// Options configures a new Thread. Model is required; everything else has a
// working default.
type Options struct {
	// Model is the default model completions are sent to.
	Model provider.ModelClient

	// SummaryModel generates titles and detailed summaries. Defaults to
	// Model.
	SummaryModel provider.ModelClient

	// Backend captures and restores repository snapshots. Defaults to
	// NoopBackend.
	Backend CheckpointBackend

	// Registry resolves tool names. Defaults to tool.DefaultRegistry.
	Registry *tool.Registry

	// Settings is a snapshot of the effective configuration.
	Settings *config.Settings

	// Activity tracks which files the conversation pulled in.
	Activity activity.Log

	// Cwd is the working directory handed to tools.
	Cwd string

	// SystemPrompt produces the system message for each request. A nil
	// func means requests carry no system message.
	SystemPrompt func() (string, error)

	// Yield is the cooperative yield invoked once per folded stream event,
	// so a burst of chunks cannot starve other work. Defaults to
	// runtime.Gosched.
	Yield func()
}

// Thread owns one conversation and everything derived from it.
type Thread struct {
	mu sync.Mutex

	id        string
	promptID  string
	updatedAt time.Time

	nextMessageID message.ID
	messages      []*message.Message

	// contextLedger maps a context identity to the message that first
	// embedded it.
	contextLedger map[string]message.ID

	toolUses      map[string]*toolUse
	pendingTools  []string // unsettled invocation ids, request order
	toolUsesByMsg map[message.ID][]message.ToolUse
	toolResults   map[message.ID][]provider.ToolResult
	cards         map[string]*card.Card

	requestUsage    []message.Usage
	cumulativeUsage message.Usage
	exceeded        *exceededWindow

	pendingCheckpoint *Checkpoint
	checkpoints       map[message.ID]Checkpoint
	restore           *RestoreState

	nextCompletionID   uint64
	pendingCompletions map[uint64]*pendingCompletion

	summary      string
	summaryState SummaryKind
	detailed     DetailedSummaryState

	model        provider.ModelClient
	summaryModel provider.ModelClient
	backend      CheckpointBackend
	registry     *tool.Registry
	settings     config.Settings
	activity     activity.Log
	cwd          string
	systemPrompt func() (string, error)
	yield        func()

	subMu       sync.Mutex
	subscribers []chan Event
}

// New creates an empty thread.
func New(opts Options) *Thread {
	t := &Thread{
		id:                 uuid.NewString(),
		promptID:           uuid.NewString(),
		updatedAt:          time.Now(),
		nextMessageID:      1,
		contextLedger:      map[string]message.ID{},
		toolUses:           map[string]*toolUse{},
		toolUsesByMsg:      map[message.ID][]message.ToolUse{},
		toolResults:        map[message.ID][]provider.ToolResult{},
		cards:              map[string]*card.Card{},
		checkpoints:        map[message.ID]Checkpoint{},
		pendingCompletions: map[uint64]*pendingCompletion{},
		model:              opts.Model,
		summaryModel:       opts.SummaryModel,
		backend:            opts.Backend,
		registry:           opts.Registry,
		activity:           opts.Activity,
		cwd:                opts.Cwd,
		systemPrompt:       opts.SystemPrompt,
		yield:              opts.Yield,
	}
	if opts.Settings != nil {
		t.settings = *opts.Settings
	}
	if t.summaryModel == nil {
		t.summaryModel = opts.Model
	}
	if t.backend == nil {
		t.backend = NoopBackend{}
	}
	if t.registry == nil {
		t.registry = tool.DefaultRegistry
	}
	if t.activity == nil {
		t.activity = activity.Noop{}
	}
	if t.yield == nil {
		t.yield = runtime.Gosched
	}
	return t
}

// ID returns the thread identifier.
func (t *Thread) ID() string { return t.id }

// PromptID returns the identifier of the current user-initiated turn. It
// changes on Send and stays fixed across tool-loop continuations.
func (t *Thread) PromptID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.promptID
}

// UpdatedAt returns the time of the last message store mutation.
func (t *Thread) UpdatedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updatedAt
}

// Subscribe returns a channel of thread events. Delivery is best-effort: a
// subscriber that stops draining loses events rather than blocking the
// engine.
func (t *Thread) Subscribe() <-chan Event {
	ch := make(chan Event, 128)
	t.subMu.Lock()
	t.subscribers = append(t.subscribers, ch)
	t.subMu.Unlock()
	return ch
}

func (t *Thread) notify(ev Event) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Messages returns a snapshot of the conversation.
func (t *Thread) Messages() []message.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]message.Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = *m
	}
	return out
}

// IsGenerating reports whether a completion is in flight or any tool
// invocation is unsettled.
func (t *Thread) IsGenerating() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isGeneratingLocked()
}

func (t *Thread) isGeneratingLocked() bool {
	return len(t.pendingCompletions) > 0 || len(t.pendingTools) > 0
}

// insertMessageLocked appends a message and returns it. Callers emit
// MessageAdded after releasing the lock.
func (t *Thread) insertMessageLocked(role message.Role, text string) *message.Message {
	id := t.nextMessageID
	t.nextMessageID++
	msg := message.New(id, role, text)
	t.messages = append(t.messages, msg)
	t.updatedAt = time.Now()
	return msg
}

// InsertMessage appends a message with a single text segment.
func (t *Thread) InsertMessage(role message.Role, text string) message.ID {
	t.mu.Lock()
	msg := t.insertMessageLocked(role, text)
	t.mu.Unlock()
	t.notify(MessageAdded{ID: msg.ID})
	return msg.ID
}

// EditMessage replaces a message's role and segments. It returns false when
// the id is absent.
func (t *Thread) EditMessage(id message.ID, role message.Role, segments []message.Segment) bool {
	t.mu.Lock()
	msg := t.messageLocked(id)
	if msg == nil {
		t.mu.Unlock()
		return false
	}
	msg.Role = role
	msg.Segments = segments
	t.updatedAt = time.Now()
	t.mu.Unlock()
	t.notify(MessageEdited{ID: id})
	return true
}

// DeleteMessage removes a message and its context associations. It returns
// false when the id is absent.
func (t *Thread) DeleteMessage(id message.ID) bool {
	t.mu.Lock()
	idx := -1
	for i, m := range t.messages {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return false
	}
	t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
	t.dropAssociationsLocked(id)
	t.updatedAt = time.Now()
	t.mu.Unlock()
	t.notify(MessageDeleted{ID: id})
	return true
}

// Truncate removes fromID and every later message, cascading removal of
// their context associations, tool bookkeeping, and checkpoints.
func (t *Thread) Truncate(fromID message.ID) {
	t.mu.Lock()
	var removed []message.ID
	kept := t.messages[:0]
	for _, m := range t.messages {
		if m.ID >= fromID {
			removed = append(removed, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	t.messages = kept
	for _, id := range removed {
		t.dropAssociationsLocked(id)
	}
	if len(t.requestUsage) > len(t.messages) {
		t.requestUsage = t.requestUsage[:len(t.messages)]
	}
	if len(removed) > 0 {
		t.updatedAt = time.Now()
	}
	t.mu.Unlock()

	for _, id := range removed {
		t.notify(MessageDeleted{ID: id})
	}
}

// dropAssociationsLocked removes everything keyed by a deleted message id.
func (t *Thread) dropAssociationsLocked(id message.ID) {
	for identity, owner := range t.contextLedger {
		if owner == id {
			delete(t.contextLedger, identity)
		}
	}
	for _, tu := range t.toolUsesByMsg[id] {
		delete(t.toolUses, tu.ID)
		delete(t.cards, tu.ID)
	}
	delete(t.toolUsesByMsg, id)
	delete(t.toolResults, id)
	delete(t.checkpoints, id)
	if t.pendingCheckpoint != nil && t.pendingCheckpoint.MessageID == id {
		t.pendingCheckpoint = nil
	}
}

func (t *Thread) messageLocked(id message.ID) *message.Message {
	for _, m := range t.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// lastMessageIDLocked returns the id of the last message, or zero when the
// thread is empty.
func (t *Thread) lastMessageIDLocked() message.ID {
	if len(t.messages) == 0 {
		return 0
	}
	return t.messages[len(t.messages)-1].ID
}

// RestoreState replaces the conversation with a previously saved one, e.g.
// when resuming a persisted session. Context identities are not recoverable
// from saved messages, so the dedup ledger starts empty; already-embedded
// context stays in the restored context blocks either way.
func (t *Thread) RestoreState(msgs []message.Message, title string) {
	t.mu.Lock()
	t.messages = t.messages[:0]
	next := message.ID(1)
	for i := range msgs {
		m := msgs[i]
		t.messages = append(t.messages, &m)
		if m.ID >= next {
			next = m.ID + 1
		}
	}
	t.nextMessageID = next
	t.summary = title
	if title != "" {
		t.summaryState = SummaryReady
	}
	t.contextLedger = map[string]message.ID{}
	t.requestUsage = nil
	t.updatedAt = time.Now()
	t.mu.Unlock()

	for _, m := range msgs {
		t.notify(MessageAdded{ID: m.ID})
	}
}

// Cancel stops the current generation. If a completion is in flight it is
// dropped; otherwise every pending tool invocation is canceled. Either way
// the pending checkpoint is finalized, so a canceled turn still gets a
// rollback point if repository state changed. It reports whether a
// completion was canceled.
func (t *Thread) Cancel() bool {
	t.mu.Lock()
	var cancels []context.CancelFunc
	for id, pc := range t.pendingCompletions {
		cancels = append(cancels, pc.cancel)
		delete(t.pendingCompletions, id)
	}
	t.mu.Unlock()

	canceled := len(cancels) > 0
	for _, cancel := range cancels {
		cancel()
	}

	if canceled {
		t.notify(CompletionCanceled{})
	} else {
		t.CancelAllPendingToolUses()
	}

	t.finalizePendingCheckpoint(context.Background())
	return canceled
}
