package thread

import "github.com/strandlabs/strand/internal/message"

// Event is a notification emitted by a Thread to its subscribers. The engine
// never depends on what observes it; a presentation layer subscribes and
// renders what it cares about.
type Event interface {
	threadEvent()
}

// MessageAdded fires when a message is inserted, carrying its content in
// full. Streamed chunks arriving after this event are reported separately.
type MessageAdded struct {
	ID message.ID
}

// MessageEdited fires when a message is replaced wholesale.
type MessageEdited struct {
	ID message.ID
}

// MessageDeleted fires when a message is removed, including each message
// removed by a truncation.
type MessageDeleted struct {
	ID message.ID
}

// StreamedText fires for each text chunk appended to an existing message.
type StreamedText struct {
	ID    message.ID
	Chunk string
}

// StreamedReasoning fires for each reasoning chunk appended to an existing
// message.
type StreamedReasoning struct {
	ID    message.ID
	Chunk string
}

// NewRequest fires when a completion request is sent to the model.
type NewRequest struct{}

// Stopped fires when a completion ends without requesting tools. Err is set
// when the stream failed.
type Stopped struct {
	Reason message.StopReason
	Err    error
}

// CompletionCanceled fires when the user cancels an in-flight completion.
type CompletionCanceled struct{}

// UsageUpdated fires on every usage report from the provider.
type UsageUpdated struct {
	Usage message.Usage
	Total TotalUsage
}

// SummaryGenerated fires when the thread title is produced.
type SummaryGenerated struct {
	Title string
}

// SummaryChanged fires when the detailed summary state moves.
type SummaryChanged struct{}

// CheckpointChanged fires when a checkpoint is committed, discarded, or a
// restore changes state.
type CheckpointChanged struct{}

// ToolConfirmationNeeded fires when tool invocations await user confirmation.
type ToolConfirmationNeeded struct {
	IDs []string
}

// ToolFinished fires once per tool invocation when it settles, whether it
// completed, errored, was denied, or was canceled.
type ToolFinished struct {
	ID string
}

// ShowError surfaces a non-fatal or terminal failure to the user. Every
// terminal failure emits exactly one ShowError.
type ShowError struct {
	Err error
}

func (MessageAdded) threadEvent()           {}
func (MessageEdited) threadEvent()          {}
func (MessageDeleted) threadEvent()         {}
func (StreamedText) threadEvent()           {}
func (StreamedReasoning) threadEvent()      {}
func (NewRequest) threadEvent()             {}
func (Stopped) threadEvent()                {}
func (CompletionCanceled) threadEvent()     {}
func (UsageUpdated) threadEvent()           {}
func (SummaryGenerated) threadEvent()       {}
func (SummaryChanged) threadEvent()         {}
func (CheckpointChanged) threadEvent()      {}
func (ToolConfirmationNeeded) threadEvent() {}
func (ToolFinished) threadEvent()           {}
func (ShowError) threadEvent()              {}
