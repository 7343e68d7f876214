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

// EditTool performs string replacement edits on files. Edits always require
// confirmation; the confirmation card carries a unified diff preview.
type EditTool struct{}

func (t *EditTool) Name() string        { return "Edit" }
func (t *EditTool) Description() string { return "Edit file contents using string replacement" }

func (t *EditTool) NeedsConfirmation(map[string]any) bool { return true }

func (t *EditTool) Schema(format provider.ToolInputFormat) (provider.ToolDecl, error) {
	return provider.ToolDecl{
		Name:        t.Name(),
		Description: "Edit a file by replacing old_string with new_string. old_string must match exactly and be unique unless replace_all is set.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "The path to the file to edit",
				},
				"old_string": map[string]any{
					"type":        "string",
					"description": "The exact text to replace",
				},
				"new_string": map[string]any{
					"type":        "string",
					"description": "The replacement text",
				},
				"replace_all": map[string]any{
					"type":        "boolean",
					"description": "Replace every occurrence instead of requiring uniqueness",
				},
			},
			"required": []string{"file_path", "old_string", "new_string"},
		},
	}, nil
}

func (t *EditTool) Run(ctx context.Context, in RunInput) RunResult {
	filePath := stringParam(in.Params, "file_path")
	if filePath == "" {
		return Errorf("file_path is required")
	}
	oldString := stringParam(in.Params, "old_string")
	if oldString == "" {
		return Errorf("old_string is required")
	}
	newString, ok := in.Params["new_string"].(string)
	if !ok {
		return Errorf("new_string is required")
	}
	replaceAll := boolParam(in.Params, "replace_all")

	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(in.Cwd, filePath)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf("file not found: %s", filePath)
		}
		return Errorf("failed to read file: %v", err)
	}
	oldContent := string(content)

	count := strings.Count(oldContent, oldString)
	if count == 0 {
		return Errorf("old_string not found in file")
	}
	if !replaceAll && count > 1 {
		return Errorf("old_string is not unique in file (found %d occurrences). Use replace_all=true to replace all.", count)
	}

	var newContent string
	replaced := 1
	if replaceAll {
		replaced = count
		newContent = strings.ReplaceAll(oldContent, oldString, newString)
	} else {
		newContent = strings.Replace(oldContent, oldString, newString, 1)
	}

	if err := os.WriteFile(filePath, []byte(newContent), 0644); err != nil {
		return Errorf("failed to write file: %v", err)
	}

	if in.Activity != nil {
		in.Activity.NoteContextAdded(filePath)
	}

	return RunResult{
		Content: fmt.Sprintf("Successfully edited %s (%d replacement(s))", filePath, replaced),
		Card: &card.Card{
			ToolName: t.Name(),
			Title:    t.Name(),
			Subtitle: filePath,
			Diff:     card.GenerateDiff(filePath, oldContent, newContent),
		},
	}
}

func init() {
	Register(&EditTool{})
}
