// Package system provides system prompt construction. It assembles prompts
// from a base identity, dynamic environment information, and optional project
// memory.
package system

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const basePrompt = `You are strand, a coding agent that helps engineers read,
understand, and modify codebases. You work in the user's repository through
the tools declared to you. Prefer small, verifiable steps: read before you
edit, and report what you changed. When a tool result is flagged as an error,
take it into account instead of retrying the identical call.`

// Builder assembles the system prompt for one thread.
type Builder struct {
	Provider string
	Model    string
	Cwd      string
}

// Prompt builds the complete system prompt. It fails when the working
// directory cannot be resolved; callers treat that as non-fatal and proceed
// without a generated prompt.
func (b *Builder) Prompt() (string, error) {
	cwd := b.Cwd
	if cwd == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve working directory: %w", err)
		}
	}

	parts := []string{basePrompt, formatEnv(cwd, b.Provider, b.Model)}
	if memory := loadMemory(cwd); memory != "" {
		parts = append(parts, "<memory>\n"+memory+"\n</memory>")
	}

	return strings.Join(parts, "\n\n"), nil
}

// formatEnv generates the dynamic environment section.
func formatEnv(cwd, providerName, model string) string {
	gitStatus := "No"
	if _, err := os.Stat(filepath.Join(cwd, ".git")); err == nil {
		gitStatus = "Yes"
	}
	return fmt.Sprintf(`<env>
Working directory: %s
Is git repo: %s
Platform: %s
Date: %s
Provider: %s
Model: %s
</env>`, cwd, gitStatus, runtime.GOOS,
		time.Now().Format("2006-01-02"), providerName, model)
}

// loadMemory loads project memory from .strand/STRAND.md or STRAND.md,
// first found wins.
func loadMemory(cwd string) string {
	for _, path := range []string{
		filepath.Join(cwd, ".strand", "STRAND.md"),
		filepath.Join(cwd, "STRAND.md"),
	} {
		if data, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}
