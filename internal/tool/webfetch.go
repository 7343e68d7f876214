package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/strandlabs/strand/internal/provider"
)

const (
	maxFetchSize    = 5 * 1024 * 1024
	fetchTimeout    = 30 * time.Second
	maxFetchContent = 50000
)

// WebFetchTool downloads a URL and converts HTML content to markdown.
type WebFetchTool struct{}

func (t *WebFetchTool) Name() string        { return "WebFetch" }
func (t *WebFetchTool) Description() string { return "Fetch content from a URL" }

func (t *WebFetchTool) NeedsConfirmation(map[string]any) bool { return false }

func (t *WebFetchTool) Schema(format provider.ToolInputFormat) (provider.ToolDecl, error) {
	return provider.ToolDecl{
		Name:        t.Name(),
		Description: "Fetch a URL and return its content as markdown.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The URL to fetch",
				},
			},
			"required": []string{"url"},
		},
	}, nil
}

func (t *WebFetchTool) Run(ctx context.Context, in RunInput) RunResult {
	rawURL := stringParam(in.Params, "url")
	if rawURL == "" {
		return Errorf("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Errorf("invalid url: %v", err)
	}
	req.Header.Set("User-Agent", "strand/1.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Errorf("fetch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Errorf("fetch failed: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return Errorf("read failed: %v", err)
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		converter := md.NewConverter("", true, nil)
		markdown, err := converter.ConvertString(content)
		if err == nil {
			content = markdown
		}
	}

	if len(content) > maxFetchContent {
		content = content[:maxFetchContent] + "\n... (content truncated)"
	}

	return RunResult{
		Content: fmt.Sprintf("URL: %s\n\n%s", rawURL, content),
	}
}

func init() {
	Register(&WebFetchTool{})
}
