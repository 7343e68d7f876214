// Package card defines the renderable summaries tools can attach to their
// results. Cards are stored by the engine keyed by invocation id, independent
// of the text result fed back to the model; any presentation layer can render
// them.
package card

// Card is a renderable tool summary. Exactly one of the payload fields is
// typically set, matching the producing tool.
type Card struct {
	ToolName string    // producing tool
	Title    string    // short heading
	Subtitle string    // one-line detail (path, pattern, URL)
	Diff     *DiffMeta // file modification preview (Edit)
	Command  string    // shell command (Bash)
	Files    []string  // matched files (Glob)
}

// DiffMeta contains diff information for file modifications.
type DiffMeta struct {
	Path         string     // file being modified
	OldContent   string     // original file content
	NewContent   string     // content after modification
	UnifiedDiff  string     // unified diff text
	Lines        []DiffLine // parsed diff lines
	IsNewFile    bool       // whether this creates the file
	AddedCount   int        // lines added
	RemovedCount int        // lines removed
}

// DiffLine represents a single line in a diff.
type DiffLine struct {
	Type      DiffLineType
	Content   string // line content without the +/- prefix
	OldLineNo int    // line number in old file (0 if not applicable)
	NewLineNo int    // line number in new file (0 if not applicable)
}

// DiffLineType represents the type of a diff line.
type DiffLineType int

const (
	DiffLineContext  DiffLineType = iota // unchanged line
	DiffLineAdded                        // added line (+)
	DiffLineRemoved                      // removed line (-)
	DiffLineHunk                         // hunk header (@@ ... @@)
	DiffLineMetadata                     // metadata (\ No newline at end of file)
)
