// Package activity tracks which files the conversation has pulled in, so the
// engine can warn the model when a file changed on disk after it was last
// read.
package activity

import (
	"os"
	"sort"
	"sync"
	"time"
)

// Log records file reads and answers staleness queries. The engine notifies
// it when context is attached; tools notify it when they read files.
type Log interface {
	// NoteContextAdded records that path was embedded into the conversation.
	NoteContextAdded(path string)

	// StaleBuffers returns the tracked paths whose on-disk content changed
	// since they were last recorded.
	StaleBuffers() []string
}

// Recorder is the default Log backed by file modification times.
type Recorder struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[string]time.Time)}
}

// NoteContextAdded records the current mtime for path. Paths that cannot be
// stated are tracked with a zero time and report stale once they appear.
func (r *Recorder) NoteContextAdded(path string) {
	var mtime time.Time
	if info, err := os.Stat(path); err == nil {
		mtime = info.ModTime()
	}

	r.mu.Lock()
	r.seen[path] = mtime
	r.mu.Unlock()
}

// StaleBuffers returns tracked paths whose mtime moved past the recorded one,
// sorted for stable output.
func (r *Recorder) StaleBuffers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for path, recorded := range r.seen {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(recorded) {
			stale = append(stale, path)
		}
	}
	sort.Strings(stale)
	return stale
}

// Noop is a Log that tracks nothing.
type Noop struct{}

func (Noop) NoteContextAdded(string) {}

func (Noop) StaleBuffers() []string { return nil }
