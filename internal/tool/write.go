package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/tool/card"
)

// WriteTool creates or overwrites files. Writes always require confirmation;
// the confirmation card carries a diff against the current contents (empty
// for new files).
type WriteTool struct{}

func (t *WriteTool) Name() string        { return "Write" }
func (t *WriteTool) Description() string { return "Write content to a file" }

func (t *WriteTool) NeedsConfirmation(map[string]any) bool { return true }

func (t *WriteTool) Schema(format provider.ToolInputFormat) (provider.ToolDecl, error) {
	return provider.ToolDecl{
		Name:        t.Name(),
		Description: "Write content to a file, creating it if it does not exist and overwriting it if it does. Parent directories are created as needed.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "The path to the file to write",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The full content to write",
				},
			},
			"required": []string{"file_path", "content"},
		},
	}, nil
}

func (t *WriteTool) Run(ctx context.Context, in RunInput) RunResult {
	filePath := stringParam(in.Params, "file_path")
	if filePath == "" {
		return Errorf("file_path is required")
	}
	content, ok := in.Params["content"].(string)
	if !ok {
		return Errorf("content is required")
	}

	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(in.Cwd, filePath)
	}

	oldContent := ""
	isNew := true
	if existing, err := os.ReadFile(filePath); err == nil {
		oldContent = string(existing)
		isNew = false
	} else if !os.IsNotExist(err) {
		return Errorf("failed to read file: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return Errorf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
		return Errorf("failed to write file: %v", err)
	}

	if in.Activity != nil {
		in.Activity.NoteContextAdded(filePath)
	}

	action := "Created"
	if !isNew {
		action = "Updated"
	}
	lines := strings.Count(content, "\n") + 1

	return RunResult{
		Content: fmt.Sprintf("%s %s (%d lines)", action, filePath, lines),
		Card: &card.Card{
			ToolName: t.Name(),
			Title:    t.Name(),
			Subtitle: filePath,
			Diff:     card.GenerateDiff(filePath, oldContent, content),
		},
	}
}

func init() {
	Register(&WriteTool{})
}
