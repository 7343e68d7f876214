package tool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/tool/card"
)

const (
	defaultBashTimeout = 120 * time.Second
	maxBashTimeout     = 600 * time.Second
	maxBashOutput      = 30000
)

// BashTool executes shell commands. Commands always require confirmation.
type BashTool struct{}

func (t *BashTool) Name() string        { return "Bash" }
func (t *BashTool) Description() string { return "Execute shell commands" }

func (t *BashTool) NeedsConfirmation(map[string]any) bool { return true }

func (t *BashTool) Schema(format provider.ToolInputFormat) (provider.ToolDecl, error) {
	return provider.ToolDecl{
		Name:        t.Name(),
		Description: "Execute a bash command in the working directory and return its combined output.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The command to execute",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Short description of what the command does",
				},
				"timeout": map[string]any{
					"type":        "integer",
					"description": "Timeout in milliseconds (default 120000, max 600000)",
				},
			},
			"required": []string{"command"},
		},
	}, nil
}

func (t *BashTool) Run(ctx context.Context, in RunInput) RunResult {
	command := stringParam(in.Params, "command")
	if command == "" {
		return Errorf("command is required")
	}

	timeout := defaultBashTimeout
	if ms := intParam(in.Params, "timeout"); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
		if timeout > maxBashTimeout {
			timeout = maxBashTimeout
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = in.Cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if errOutput := stderr.String(); errOutput != "" {
		if output != "" {
			output += "\n"
		}
		output += errOutput
	}
	if len(output) > maxBashOutput {
		output = output[:maxBashOutput] + "\n... (output truncated)"
	}

	resultCard := &card.Card{
		ToolName: t.Name(),
		Title:    t.Name(),
		Subtitle: firstLine(command),
		Command:  command,
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return RunResult{
				Content: output + "\ncommand timed out after " + timeout.String(),
				IsError: true,
				Card:    resultCard,
			}
		}
		errorMsg := err.Error()
		if exitErr, ok := err.(*exec.ExitError); ok {
			errorMsg = fmt.Sprintf("exit code %d", exitErr.ExitCode())
		}
		return RunResult{
			Content: output + "\n" + errorMsg,
			IsError: true,
			Card:    resultCard,
		}
	}

	if output == "" {
		output = "(no output)"
	}
	return RunResult{Content: output, Card: resultCard}
}

func firstLine(s string) string {
	line := strings.TrimSpace(strings.Split(s, "\n")[0])
	if len(line) > 50 {
		line = line[:50] + "..."
	}
	return line
}

func init() {
	Register(&BashTool{})
}
