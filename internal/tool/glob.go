package tool

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/strandlabs/strand/internal/provider"
	"github.com/strandlabs/strand/internal/tool/card"
)

const maxGlobResults = 100

// ignoredDirs are directories to skip while walking.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".svn":         true,
	".hg":          true,
	"vendor":       true,
	"__pycache__":  true,
	".cache":       true,
	"dist":         true,
	"build":        true,
}

// GlobTool finds files matching a pattern.
type GlobTool struct{}

func (t *GlobTool) Name() string        { return "Glob" }
func (t *GlobTool) Description() string { return "Find files matching a pattern" }

func (t *GlobTool) NeedsConfirmation(map[string]any) bool { return false }

func (t *GlobTool) Schema(format provider.ToolInputFormat) (provider.ToolDecl, error) {
	return provider.ToolDecl{
		Name:        t.Name(),
		Description: "Find files matching a glob pattern. Supports ** for recursive matching. Results are sorted by modification time (newest first).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob pattern to match files (e.g., '**/*.go', 'src/**/*.ts')",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Base directory to search in. Default is current directory.",
				},
			},
			"required": []string{"pattern"},
		},
	}, nil
}

func (t *GlobTool) Run(ctx context.Context, in RunInput) RunResult {
	pattern := stringParam(in.Params, "pattern")
	if pattern == "" {
		return Errorf("pattern is required")
	}

	basePath := in.Cwd
	if path := stringParam(in.Params, "path"); path != "" {
		if filepath.IsAbs(path) {
			basePath = path
		} else {
			basePath = filepath.Join(in.Cwd, path)
		}
	}

	if _, err := os.Stat(basePath); err != nil {
		if os.IsNotExist(err) {
			return Errorf("path not found: %s", basePath)
		}
		return Errorf("failed to access path: %v", err)
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo

	err := filepath.WalkDir(basePath, func(path string, d os.DirEntry, err error) error {
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

		relPath, err := filepath.Rel(basePath, path)
		if err != nil {
			return nil
		}

		matched, err := doublestar.Match(pattern, relPath)
		if err != nil || !matched {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileInfo{path: relPath, modTime: info.ModTime()})
		return nil
	})
	if err != nil && err != context.Canceled {
		return Errorf("glob error: %v", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	truncated := false
	if len(files) > maxGlobResults {
		files = files[:maxGlobResults]
		truncated = true
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}

	content := strings.Join(paths, "\n")
	if truncated {
		content += "\n... (truncated)"
	}
	if content == "" {
		content = "No files matched."
	}

	return RunResult{
		Content: content,
		Card:    &card.Card{ToolName: t.Name(), Title: t.Name(), Subtitle: pattern, Files: paths},
	}
}

func init() {
	Register(&GlobTool{})
}
