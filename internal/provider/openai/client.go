// Package openai implements the provider.ModelClient interface over the
// OpenAI Chat Completions streaming API.
package openai

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go/v3"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/provider"
)

const defaultContextWindow = 128_000

// Client implements provider.ModelClient for one OpenAI model. Chat
// completions carry no reasoning blocks, so thinking and redacted-thinking
// blocks in requests are dropped, and the prompt-cache hint is a no-op
// (OpenAI caches prefixes implicitly).
type Client struct {
	client openai.Client
	model  string
}

// New creates a client for the given model using ambient SDK configuration
// (OPENAI_API_KEY et al).
func New(model string) *Client {
	return &Client{client: openai.NewClient(), model: model}
}

func (c *Client) Name() string    { return "openai" }
func (c *Client) ModelID() string { return c.model }

func (c *Client) SupportsTools() bool { return true }

func (c *Client) MaxTokenCount() int64 { return defaultContextWindow }

func (c *Client) ToolInputFormat() provider.ToolInputFormat {
	return provider.FormatJSONSchemaSubset
}

// Stream sends a completion request and yields typed events until the stream
// ends. The channel closes after a Stop or Error event.
func (c *Client) Stream(ctx context.Context, req provider.Request) <-chan message.StreamEvent {
	ch := make(chan message.StreamEvent)

	go func() {
		defer close(ch)

		params := c.params(req)
		stream := c.client.Chat.Completions.NewStreaming(ctx, params)

		type pendingCall struct {
			id    string
			name  string
			input string
		}
		calls := make(map[int]*pendingCall)
		callOrder := []int{}

		var (
			usage      message.Usage
			stopReason message.StopReason
			started    bool
		)

		streamStart := time.Now()
		chunkCount := 0

		for stream.Next() {
			chunk := stream.Current()
			chunkCount++

			if !started {
				ch <- message.StreamEvent{Kind: message.EventStart}
				started = true
			}

			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					ch <- message.StreamEvent{Kind: message.EventText, Text: choice.Delta.Content}
				}

				for _, tc := range choice.Delta.ToolCalls {
					idx := int(tc.Index)
					if _, ok := calls[idx]; !ok {
						calls[idx] = &pendingCall{id: tc.ID, name: tc.Function.Name}
						callOrder = append(callOrder, idx)
					}
					calls[idx].input += tc.Function.Arguments
				}

				switch choice.FinishReason {
				case "stop":
					stopReason = message.StopEndTurn
				case "tool_calls":
					stopReason = message.StopToolUse
				case "length":
					stopReason = message.StopMaxTokens
				case "content_filter":
					stopReason = message.StopRefusal
				}
			}

			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				usage.InputTokens = chunk.Usage.PromptTokens
				usage.OutputTokens = chunk.Usage.CompletionTokens
				ch <- message.StreamEvent{Kind: message.EventUsage, Usage: usage}
			}
		}

		log.Logger().Debug("openai stream done",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(streamStart)),
			zap.Int("chunks", chunkCount),
		)

		if err := stream.Err(); err != nil {
			ch <- message.StreamEvent{Kind: message.EventError, Err: classifyErr(err)}
			return
		}

		// Tool call arguments only complete once the stream finishes.
		for _, idx := range callOrder {
			call := calls[idx]
			input := call.input
			if input == "" {
				input = "{}"
			}
			ch <- message.StreamEvent{
				Kind: message.EventToolUse,
				ToolUse: &message.ToolUse{
					ID:    call.id,
					Name:  call.name,
					Input: []byte(input),
				},
			}
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

// params converts a rendered request to Chat Completions params.
func (c *Client) params(req provider.Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case message.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Text()))

		case message.RoleUser:
			var text string
			for _, b := range m.Blocks {
				switch b.Kind {
				case provider.BlockText:
					text += b.Text
				case provider.BlockToolResult:
					msgs = append(msgs, openai.ToolMessage(b.ToolResult.Content, b.ToolResult.ToolUseID))
				}
			}
			if text != "" {
				msgs = append(msgs, openai.UserMessage(text))
			}

		case message.RoleAssistant:
			var asst openai.ChatCompletionAssistantMessageParam
			var text string
			for _, b := range m.Blocks {
				switch b.Kind {
				case provider.BlockText:
					text += b.Text
				case provider.BlockToolUse:
					asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: b.ToolUse.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      b.ToolUse.Name,
								Arguments: string(b.ToolUse.Input),
							},
						},
					})
				}
			}
			if text == "" && len(asst.ToolCalls) == 0 {
				continue
			}
			if text != "" {
				asst.Content.OfString = openai.Opt(text)
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: msgs,
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolUnionParam{
				OfFunction: &openai.ChatCompletionFunctionToolParam{
					Function: openai.FunctionDefinitionParam{
						Name:        t.Name,
						Description: openai.String(t.Description),
						Parameters:  openai.FunctionParameters(t.InputSchema),
					},
				},
			})
		}
		params.Tools = tools
	}

	return params
}

// classifyErr maps SDK errors onto the provider error types the engine's
// taxonomy recognizes. Unrecognized errors pass through unchanged.
func classifyErr(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 402:
			return provider.PaymentRequiredError{}
		case 429:
			return provider.RequestLimitError{}
		}
	}
	return err
}

var _ provider.ModelClient = (*Client)(nil)
