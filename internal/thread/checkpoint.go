package thread

import (
	"context"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/message"
)

// Snapshot is an opaque handle to repository state, owned by the checkpoint
// backend. The engine only stores, compares, and hands handles back.
type Snapshot interface{}

// CheckpointBackend captures and restores repository state. How snapshots
// are stored or diffed is the backend's business; the engine depends only on
// the equality contract of Compare.
type CheckpointBackend interface {
	// Snapshot captures the current repository state.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Compare reports whether two snapshots describe identical state.
	Compare(ctx context.Context, a, b Snapshot) (bool, error)

	// Delete releases a snapshot that will never be restored.
	Delete(ctx context.Context, s Snapshot)

	// Restore rolls the repository back to the snapshot.
	Restore(ctx context.Context, s Snapshot) error
}

// Checkpoint ties a repository snapshot to the user message that preceded
// the changes it can roll back.
type Checkpoint struct {
	MessageID message.ID
	Snapshot  Snapshot
}

// RestoreState tracks an in-progress or failed checkpoint restore. A nil
// *RestoreState means no restore is underway.
type RestoreState struct {
	MessageID message.ID
	Err       error
}

// CheckpointFor returns the committed checkpoint for a message, if any.
func (t *Thread) CheckpointFor(id message.ID) (Checkpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp, ok := t.checkpoints[id]
	return cp, ok
}

// RestoreStatus returns the current restore state, or nil.
func (t *Thread) RestoreStatus() *RestoreState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.restore == nil {
		return nil
	}
	st := *t.restore
	return &st
}

// RestoreCheckpoint rolls the repository back to cp and truncates the thread
// from cp's message onward. On backend failure the thread is left untouched
// and the failure is recorded in the restore state.
func (t *Thread) RestoreCheckpoint(ctx context.Context, cp Checkpoint) error {
	t.mu.Lock()
	t.restore = &RestoreState{MessageID: cp.MessageID}
	t.mu.Unlock()
	t.notify(CheckpointChanged{})

	if err := t.backend.Restore(ctx, cp.Snapshot); err != nil {
		t.mu.Lock()
		t.restore = &RestoreState{MessageID: cp.MessageID, Err: err}
		t.mu.Unlock()
		t.notify(CheckpointChanged{})
		return err
	}

	t.Truncate(cp.MessageID)

	t.mu.Lock()
	t.restore = nil
	t.mu.Unlock()
	t.notify(CheckpointChanged{})
	return nil
}

// finalizePendingCheckpoint resolves the pending checkpoint once generation
// has fully quiesced. The pending snapshot is committed only if repository
// state changed since it was taken; backend failures fail toward keeping a
// rollback point rather than silently losing one.
func (t *Thread) finalizePendingCheckpoint(ctx context.Context) {
	t.mu.Lock()
	if t.pendingCheckpoint == nil || t.isGeneratingLocked() {
		t.mu.Unlock()
		return
	}
	pending := *t.pendingCheckpoint
	t.pendingCheckpoint = nil
	t.mu.Unlock()

	fresh, err := t.backend.Snapshot(ctx)
	if err != nil {
		log.Logger().Debug("Checkpoint snapshot failed, committing pending", zap.Error(err))
		t.commitCheckpoint(pending)
		return
	}

	equal, err := t.backend.Compare(ctx, pending.Snapshot, fresh)
	if err != nil {
		log.Logger().Debug("Checkpoint compare failed, committing pending", zap.Error(err))
		t.backend.Delete(ctx, fresh)
		t.commitCheckpoint(pending)
		return
	}

	if equal {
		// Nothing changed this turn, so there is nothing to roll back to.
		t.backend.Delete(ctx, pending.Snapshot)
		t.backend.Delete(ctx, fresh)
		return
	}

	t.backend.Delete(ctx, fresh)
	t.commitCheckpoint(pending)
}

func (t *Thread) commitCheckpoint(cp Checkpoint) {
	t.mu.Lock()
	t.checkpoints[cp.MessageID] = cp
	t.mu.Unlock()
	t.notify(CheckpointChanged{})
}

// NoopBackend is a CheckpointBackend for environments without a repository.
// Every snapshot compares equal, so no checkpoint is ever committed.
type NoopBackend struct{}

func (NoopBackend) Snapshot(context.Context) (Snapshot, error)         { return struct{}{}, nil }
func (NoopBackend) Compare(context.Context, Snapshot, Snapshot) (bool, error) { return true, nil }
func (NoopBackend) Delete(context.Context, Snapshot)                   {}
func (NoopBackend) Restore(context.Context, Snapshot) error            { return nil }
