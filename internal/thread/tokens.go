package thread

import (
	"github.com/strandlabs/strand/internal/message"
)

// TokenRatio classifies context window consumption.
type TokenRatio int

const (
	RatioNormal TokenRatio = iota
	RatioWarning
	RatioExceeded
)

// warningThreshold is the fill fraction at which the ratio turns Warning.
const warningThreshold = 0.8

// Ratio classifies total against max.
func Ratio(total, max int64) TokenRatio {
	switch {
	case total >= max:
		return RatioExceeded
	case float64(total)/float64(max) >= warningThreshold:
		return RatioWarning
	default:
		return RatioNormal
	}
}

// TotalUsage is the thread's current position against the model's context
// window.
type TotalUsage struct {
	Total int64
	Max   int64
	Ratio TokenRatio
}

// exceededWindow records a ContextWindowError as engine state. While the
// default model still matches, the provider-measured count overrides the
// computed total: the provider told us the true size.
type exceededWindow struct {
	modelID    string
	tokenCount int64
}

// recordUsage folds one usage report from an in-flight completion. The
// cumulative total advances by delta against the last report for the same
// request, so repeated reports never double count. The per-message record
// is resized to the current message count, back-filling new slots with the
// previous last value, then the final slot takes the fresh report.
func (t *Thread) recordUsage(pc *pendingCompletion, usage message.Usage) {
	t.mu.Lock()

	delta := usage.Sub(pc.lastUsage)
	pc.lastUsage = usage
	t.cumulativeUsage = t.cumulativeUsage.Add(delta)

	if n := len(t.messages); n > 0 {
		var placeholder message.Usage
		if len(t.requestUsage) > 0 {
			placeholder = t.requestUsage[len(t.requestUsage)-1]
		}
		for len(t.requestUsage) < n {
			t.requestUsage = append(t.requestUsage, placeholder)
		}
		t.requestUsage = t.requestUsage[:n]
		t.requestUsage[n-1] = usage
	}

	total := t.totalUsageLocked()
	t.mu.Unlock()

	t.notify(UsageUpdated{Usage: usage, Total: total})
}

// Usage returns the thread's position against the default model's context
// window.
func (t *Thread) Usage() TotalUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalUsageLocked()
}

func (t *Thread) totalUsageLocked() TotalUsage {
	max := t.model.MaxTokenCount()

	if t.exceeded != nil && t.exceeded.modelID == t.model.ModelID() {
		return TotalUsage{Total: t.exceeded.tokenCount, Max: max, Ratio: RatioExceeded}
	}

	var total int64
	if len(t.requestUsage) > 0 {
		total = t.requestUsage[len(t.requestUsage)-1].Total()
	}
	return TotalUsage{Total: total, Max: max, Ratio: Ratio(total, max)}
}

// CumulativeUsage returns the running token total across every request of
// the thread.
func (t *Thread) CumulativeUsage() message.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cumulativeUsage
}

// UsageUpToMessage returns the last usage recorded at or before the given
// message, for rendering per-turn token counts.
func (t *Thread) UsageUpToMessage(id message.ID) message.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID <= id && i < len(t.requestUsage) {
			return t.requestUsage[i]
		}
	}
	return message.Usage{}
}
