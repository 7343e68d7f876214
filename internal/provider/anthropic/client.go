// Package anthropic implements the provider.ModelClient interface using the
// Anthropic SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/provider"
)

const (
	defaultMaxOutputTokens = 8192
	defaultContextWindow   = 200_000
)

// Client implements provider.ModelClient for one Anthropic model.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New creates a client for the given model using ambient SDK configuration
// (ANTHROPIC_API_KEY et al).
func New(model string) *Client {
	return &Client{client: anthropic.NewClient(), model: model, maxTokens: defaultMaxOutputTokens}
}

func (c *Client) Name() string    { return "anthropic" }
func (c *Client) ModelID() string { return c.model }

func (c *Client) SupportsTools() bool { return true }

func (c *Client) MaxTokenCount() int64 { return defaultContextWindow }

func (c *Client) ToolInputFormat() provider.ToolInputFormat {
	return provider.FormatJSONSchema
}

// Stream sends a completion request and yields typed events until the stream
// ends. The channel closes after a Stop or Error event.
func (c *Client) Stream(ctx context.Context, req provider.Request) <-chan message.StreamEvent {
	ch := make(chan message.StreamEvent)

	go func() {
		defer close(ch)

		params := c.params(req)
		stream := c.client.Messages.NewStreaming(ctx, params)

		var (
			usage           message.Usage
			stopReason      message.StopReason
			currentToolID   string
			currentToolName string
			currentInput    strings.Builder
		)

		streamStart := time.Now()
		eventCount := 0

		for stream.Next() {
			event := stream.Current()
			eventCount++

			switch event.Type {
			case "message_start":
				msgStart := event.AsMessageStart()
				usage.InputTokens = msgStart.Message.Usage.InputTokens
				usage.CacheCreationInputTokens = msgStart.Message.Usage.CacheCreationInputTokens
				usage.CacheReadInputTokens = msgStart.Message.Usage.CacheReadInputTokens
				ch <- message.StreamEvent{Kind: message.EventStart}
				ch <- message.StreamEvent{Kind: message.EventUsage, Usage: usage}

			case "content_block_start":
				block := event.AsContentBlockStart()
				switch block.ContentBlock.Type {
				case "tool_use":
					currentToolID = block.ContentBlock.ID
					currentToolName = block.ContentBlock.Name
					currentInput.Reset()
				case "redacted_thinking":
					ch <- message.StreamEvent{
						Kind: message.EventRedactedReasoning,
						Data: []byte(block.ContentBlock.Data),
					}
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta()
				switch delta.Delta.Type {
				case "text_delta":
					if delta.Delta.Text != "" {
						ch <- message.StreamEvent{Kind: message.EventText, Text: delta.Delta.Text}
					}
				case "thinking_delta":
					if delta.Delta.Thinking != "" {
						ch <- message.StreamEvent{Kind: message.EventReasoning, Text: delta.Delta.Thinking}
					}
				case "signature_delta":
					if delta.Delta.Signature != "" {
						ch <- message.StreamEvent{Kind: message.EventReasoning, Signature: delta.Delta.Signature}
					}
				case "input_json_delta":
					currentInput.WriteString(delta.Delta.PartialJSON)
				}

			case "content_block_stop":
				if currentToolID != "" {
					input := currentInput.String()
					if input == "" {
						input = "{}"
					}
					ch <- message.StreamEvent{
						Kind: message.EventToolUse,
						ToolUse: &message.ToolUse{
							ID:    currentToolID,
							Name:  currentToolName,
							Input: json.RawMessage(input),
						},
					}
					currentToolID = ""
					currentToolName = ""
				}

			case "message_delta":
				msgDelta := event.AsMessageDelta()
				stopReason = mapStopReason(string(msgDelta.Delta.StopReason))
				usage.OutputTokens = msgDelta.Usage.OutputTokens
				ch <- message.StreamEvent{Kind: message.EventUsage, Usage: usage}
			}
		}

		log.Logger().Debug("anthropic stream done",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(streamStart)),
			zap.Int("events", eventCount),
		)

		if err := stream.Err(); err != nil {
			ch <- message.StreamEvent{Kind: message.EventError, Err: classifyErr(err)}
			return
		}

		if stopReason == "" {
			stopReason = message.StopEndTurn
		}
		ch <- message.StreamEvent{Kind: message.EventStop, StopReason: stopReason}
	}()

	return ch
}

// StreamText issues the request without tool declarations.
func (c *Client) StreamText(ctx context.Context, req provider.Request) <-chan message.StreamEvent {
	return c.Stream(ctx, provider.Request{Messages: req.Messages})
}

// params converts a rendered request to Anthropic message params. System
// messages become the top-level system prompt.
func (c *Client) params(req provider.Request) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == message.RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: m.Text()})
			continue
		}

		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			switch b.Kind {
			case provider.BlockText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case provider.BlockThinking:
				blocks = append(blocks, anthropic.NewThinkingBlock(b.Signature, b.Text))
			case provider.BlockRedactedThinking:
				blocks = append(blocks, anthropic.NewRedactedThinkingBlock(string(b.Data)))
			case provider.BlockToolUse:
				var input any
				if err := json.Unmarshal(b.ToolUse.Input, &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolUse.ID, input, b.ToolUse.Name))
			case provider.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(
					b.ToolResult.ToolUseID,
					b.ToolResult.Content,
					b.ToolResult.IsError,
				))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		if m.CacheHint {
			markCacheBoundary(blocks)
		}

		switch m.Role {
		case message.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		case message.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  msgs,
		System:    system,
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			inputSchema := anthropic.ToolInputSchemaParam{}
			if properties, ok := t.InputSchema["properties"]; ok {
				inputSchema.Properties = properties
			}
			if required, ok := t.InputSchema["required"].([]string); ok {
				inputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: anthropic.String(t.Description),
					InputSchema: inputSchema,
				},
			})
		}
		params.Tools = tools
	}

	return params
}

// markCacheBoundary sets an ephemeral cache-control marker on the last
// cacheable block of a message.
func markCacheBoundary(blocks []anthropic.ContentBlockParamUnion) {
	for i := len(blocks) - 1; i >= 0; i-- {
		if blocks[i].OfText != nil {
			blocks[i].OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
			return
		}
		if blocks[i].OfToolResult != nil {
			blocks[i].OfToolResult.CacheControl = anthropic.NewCacheControlEphemeralParam()
			return
		}
	}
}

func mapStopReason(reason string) message.StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return message.StopEndTurn
	case "tool_use":
		return message.StopToolUse
	case "max_tokens":
		return message.StopMaxTokens
	case "refusal":
		return message.StopRefusal
	default:
		return message.StopEndTurn
	}
}

var promptTooLongRe = regexp.MustCompile(`prompt is too long: (\d+) tokens`)

// classifyErr maps SDK errors onto the provider error types the engine's
// taxonomy recognizes. Unrecognized errors pass through unchanged.
func classifyErr(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		body := apierr.Error()
		if m := promptTooLongRe.FindStringSubmatch(body); m != nil {
			count, _ := strconv.ParseInt(m[1], 10, 64)
			return provider.ContextWindowError{TokenCount: count}
		}
		switch apierr.StatusCode {
		case 402:
			return provider.PaymentRequiredError{}
		case 429:
			if strings.Contains(body, "monthly spend") {
				return provider.MonthlySpendLimitError{}
			}
			return provider.RequestLimitError{}
		}
	}
	return err
}

var _ provider.ModelClient = (*Client)(nil)
