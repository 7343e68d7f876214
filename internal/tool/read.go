package tool

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/tool/card"
)

const (
	maxReadLines  = 2000
	maxLineLength = 500
)

// ReadTool reads file contents. Reads are reported to the activity log so
// the engine can flag files that change after they were read.
type ReadTool struct{}

func (t *ReadTool) Name() string        { return "Read" }
func (t *ReadTool) Description() string { return "Read file contents" }

func (t *ReadTool) NeedsConfirmation(map[string]any) bool { return false }

func (t *ReadTool) Schema(format provider.ToolInputFormat) (provider.ToolDecl, error) {
	return provider.ToolDecl{
		Name:        t.Name(),
		Description: "Read file contents. Use this to read source code, configuration files, or any text file.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{
					"type":        "string",
					"description": "The path to the file to read (absolute or relative to current directory)",
				},
				"offset": map[string]any{
					"type":        "integer",
					"description": "Line number to start reading from (1-based). Default is 1.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of lines to read. Default is 2000.",
				},
			},
			"required": []string{"file_path"},
		},
	}, nil
}

func (t *ReadTool) Run(ctx context.Context, in RunInput) RunResult {
	filePath := stringParam(in.Params, "file_path")
	if filePath == "" {
		return Errorf("file_path is required")
	}
	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(in.Cwd, filePath)
	}

	offset := intParam(in.Params, "offset")
	limit := intParam(in.Params, "limit")
	if limit <= 0 {
		limit = maxReadLines
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf("file not found: %s", filePath)
		}
		return Errorf("failed to stat file: %v", err)
	}
	if info.IsDir() {
		return Errorf("path is a directory: %s", filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	header := make([]byte, 512)
	if n, _ := file.Read(header); n > 0 && isBinary(header[:n]) {
		return RunResult{
			Content: "Binary file detected: " + filePath,
			Card:    &card.Card{ToolName: t.Name(), Title: t.Name(), Subtitle: filePath + " (binary)"},
		}
	}
	file.Seek(0, 0)

	var sb strings.Builder
	scanner := bufio.NewScanner(file)
	lineNo := 0
	readCount := 0
	truncated := false

	for scanner.Scan() {
		lineNo++
		if offset > 0 && lineNo < offset {
			continue
		}
		if readCount >= limit {
			truncated = true
			break
		}

		text := scanner.Text()
		if len(text) > maxLineLength {
			text = text[:maxLineLength] + "..."
		}
		sb.WriteString(text)
		sb.WriteString("\n")
		readCount++
	}
	if err := scanner.Err(); err != nil {
		return Errorf("error reading file: %v", err)
	}

	if in.Activity != nil {
		in.Activity.NoteContextAdded(filePath)
	}

	content := sb.String()
	if truncated {
		content += "... (truncated)\n"
	}

	return RunResult{
		Content: content,
		Card:    &card.Card{ToolName: t.Name(), Title: t.Name(), Subtitle: filePath},
	}
}

// isBinary checks if data appears to be binary.
func isBinary(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return true
		}
	}
	return false
}

func init() {
	Register(&ReadTool{})
}
