// Package tool defines the capability contract tools expose to the engine,
// plus the built-in tool set.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/strandlabs/strand/internal/activity"
	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/tool/card"
)

// Tool is a fixed capability interface. Implementations are looked up by
// name in a Registry and invoked by the engine's tool orchestrator.
type Tool interface {
	// Name returns the tool name as declared to the model.
	Name() string

	// Description returns a brief description of the tool.
	Description() string

	// Schema returns the tool declaration in the requested input format.
	// Tools that cannot express their schema in a format return an error,
	// and are skipped (not failed) for models requiring that format.
	Schema(format provider.ToolInputFormat) (provider.ToolDecl, error)

	// NeedsConfirmation reports whether this invocation must be confirmed
	// by the user before running.
	NeedsConfirmation(params map[string]any) bool

	// Run executes the tool. Failures are reported via RunResult.IsError,
	// not an error return: a failed tool is fed back to the model, it does
	// not abort the turn.
	Run(ctx context.Context, in RunInput) RunResult
}

// RunInput carries everything a tool may consult during execution. Messages
// is a read-only snapshot of the rendered request, never the live thread.
type RunInput struct {
	Params   map[string]any
	Messages []provider.RequestMessage
	Cwd      string
	Activity activity.Log
}

// RunResult is the outcome of one tool execution. Card, when present, is a
// renderable summary stored independently of the text result.
type RunResult struct {
	Content string
	IsError bool
	Card    *card.Card
}

// Errorf creates an error result from a format string.
func Errorf(format string, args ...any) RunResult {
	return RunResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// ParseInput deserializes JSON tool input into a params map.
func ParseInput(input json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(input))
	if trimmed == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(trimmed), &params); err != nil {
		return nil, err
	}
	return params, nil
}

// stringParam extracts a string parameter.
func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

// intParam extracts an integer parameter; JSON numbers arrive as float64.
func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// boolParam extracts a boolean parameter.
func boolParam(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}
