package card

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// GenerateDiff creates a DiffMeta from old and new file content.
func GenerateDiff(filePath, oldContent, newContent string) *DiffMeta {
	edits := myers.ComputeEdits(span.URIFromPath(filePath), oldContent, newContent)
	unifiedDiff := fmt.Sprint(gotextdiff.ToUnified(filePath, filePath, oldContent, edits))

	lines := parseDiffLines(unifiedDiff)

	addedCount := 0
	removedCount := 0
	for _, line := range lines {
		switch line.Type {
		case DiffLineAdded:
			addedCount++
		case DiffLineRemoved:
			removedCount++
		}
	}

	return &DiffMeta{
		Path:         filePath,
		OldContent:   oldContent,
		NewContent:   newContent,
		UnifiedDiff:  unifiedDiff,
		Lines:        lines,
		IsNewFile:    oldContent == "",
		AddedCount:   addedCount,
		RemovedCount: removedCount,
	}
}

// hunkHeaderRegex matches @@ -1,3 +1,4 @@ style headers.
var hunkHeaderRegex = regexp.MustCompile(`^@@\s+-(\d+)(?:,\d+)?\s+\+(\d+)(?:,\d+)?\s+@@`)

// parseDiffLines parses unified diff text into structured DiffLine slices.
func parseDiffLines(unifiedDiff string) []DiffLine {
	if unifiedDiff == "" {
		return nil
	}

	var lines []DiffLine
	var oldLineNo, newLineNo int

	for _, line := range strings.Split(unifiedDiff, "\n") {
		if strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++") {
			continue
		}

		// "\ No newline at end of file" does not advance line numbers.
		if strings.HasPrefix(line, "\\") {
			lines = append(lines, DiffLine{
				Type:    DiffLineMetadata,
				Content: strings.TrimPrefix(line, "\\ "),
			})
			continue
		}

		if matches := hunkHeaderRegex.FindStringSubmatch(line); matches != nil {
			oldLineNo, _ = strconv.Atoi(matches[1])
			newLineNo, _ = strconv.Atoi(matches[2])
			lines = append(lines, DiffLine{Type: DiffLineHunk, Content: line})
			continue
		}

		switch {
		case strings.HasPrefix(line, "+"):
			lines = append(lines, DiffLine{
				Type:      DiffLineAdded,
				Content:   strings.TrimPrefix(line, "+"),
				NewLineNo: newLineNo,
			})
			newLineNo++
		case strings.HasPrefix(line, "-"):
			lines = append(lines, DiffLine{
				Type:      DiffLineRemoved,
				Content:   strings.TrimPrefix(line, "-"),
				OldLineNo: oldLineNo,
			})
			oldLineNo++
		default:
			lines = append(lines, DiffLine{
				Type:      DiffLineContext,
				Content:   line,
				OldLineNo: oldLineNo,
				NewLineNo: newLineNo,
			})
			oldLineNo++
			newLineNo++
		}
	}

	// Drop the trailing empty context line the final newline produces.
	if n := len(lines); n > 0 && lines[n-1].Type == DiffLineContext && lines[n-1].Content == "" {
		lines = lines[:n-1]
	}

	return lines
}
