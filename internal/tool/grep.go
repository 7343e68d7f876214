package tool

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/tool/card"
)

const (
	maxGrepMatches = 50
	maxGrepFiles   = 100
)

// GrepTool searches for patterns in files.
type GrepTool struct{}

func (t *GrepTool) Name() string        { return "Grep" }
func (t *GrepTool) Description() string { return "Search for patterns in files" }

func (t *GrepTool) NeedsConfirmation(map[string]any) bool { return false }

func (t *GrepTool) Schema(format provider.ToolInputFormat) (provider.ToolDecl, error) {
	return provider.ToolDecl{
		Name:        t.Name(),
		Description: "Search for patterns in files using regular expressions. Returns matching lines with file paths and line numbers.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Regular expression to search for (case insensitive)",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "File or directory to search in. Default is current directory.",
				},
				"include": map[string]any{
					"type":        "string",
					"description": "Glob filter for file names (e.g. '*.go')",
				},
			},
			"required": []string{"pattern"},
		},
	}, nil
}

func (t *GrepTool) Run(ctx context.Context, in RunInput) RunResult {
	pattern := stringParam(in.Params, "pattern")
	if pattern == "" {
		return Errorf("pattern is required")
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Errorf("invalid pattern: %v", err)
	}

	basePath := in.Cwd
	if path := stringParam(in.Params, "path"); path != "" {
		if filepath.IsAbs(path) {
			basePath = path
		} else {
			basePath = filepath.Join(in.Cwd, path)
		}
	}
	includePattern := stringParam(in.Params, "include")

	info, err := os.Stat(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf("path not found: %s", basePath)
		}
		return Errorf("failed to access path: %v", err)
	}

	var sb strings.Builder
	matchCount := 0
	filesSearched := 0

	searchFile := func(filePath, relPath string) error {
		file, err := os.Open(filePath)
		if err != nil {
			return nil
		}
		defer file.Close()

		buf := make([]byte, 512)
		if n, _ := file.Read(buf); n > 0 && isBinary(buf[:n]) {
			return nil
		}
		file.Seek(0, 0)

		scanner := bufio.NewScanner(file)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if !re.MatchString(line) {
				continue
			}
			if len(line) > maxLineLength {
				line = line[:maxLineLength] + "..."
			}
			fmt.Fprintf(&sb, "%s:%d:%s\n", relPath, lineNo, strings.TrimSpace(line))
			matchCount++
			if matchCount >= maxGrepMatches {
				return filepath.SkipAll
			}
		}
		return nil
	}

	if !info.IsDir() {
		searchFile(basePath, filepath.Base(basePath))
	} else {
		filepath.WalkDir(basePath, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if d.IsDir() {
				if ignoredDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}

			if includePattern != "" {
				if matched, _ := filepath.Match(includePattern, d.Name()); !matched {
					return nil
				}
			}

			relPath, err := filepath.Rel(basePath, path)
			if err != nil {
				relPath = path
			}

			filesSearched++
			if filesSearched > maxGrepFiles {
				return filepath.SkipAll
			}

			return searchFile(path, relPath)
		})
	}

	content := sb.String()
	if matchCount >= maxGrepMatches {
		content += "... (truncated)\n"
	}
	if content == "" {
		content = "No matches found."
	}

	subtitle := "pattern: \"" + pattern + "\""
	if includePattern != "" {
		subtitle += " (" + includePattern + ")"
	}

	return RunResult{
		Content: content,
		Card:    &card.Card{ToolName: t.Name(), Title: t.Name(), Subtitle: subtitle},
	}
}

func init() {
	Register(&GrepTool{})
}
