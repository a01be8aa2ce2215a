package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/croftlabs/croft/errors"
	"github.com/croftlabs/croft/message"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a client for the given model. It requires the
// ANTHROPIC_API_KEY environment variable.
func NewAnthropicClient(modelName string) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{client: &client, model: modelName}, nil
}

func (a *AnthropicClient) params(req Request) anthropic.MessageNewParams {
	msgs, system := convertMessagesToAnthropic(req.Messages)
	if req.System != "" {
		system = req.System
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(req.maxTokens()),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, t := range req.Tools {
		tool := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: convertSchemaToAnthropic(t.Parameters),
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return params
}

// Generate sends a blocking Messages request.
func (a *AnthropicClient) Generate(ctx context.Context, req Request) (*message.Response, error) {
	resp, err := a.client.Messages.New(ctx, a.params(req))
	if err != nil {
		return nil, anthropicError(err)
	}
	return convertAnthropicResponse(resp), nil
}

// Stream sends a streaming Messages request and translates the SSE events.
func (a *AnthropicClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	sse := a.client.Messages.NewStreaming(ctx, a.params(req))
	s := newStream()

	go func() {
		var usage message.Usage
		stopReason := message.StopEndTurn
		// Index of the open content block -> tool id, for routing input deltas.
		openTools := map[int64]string{}

		for sse.Next() {
			event := sse.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.InputTokens = int(ev.Message.Usage.InputTokens)
			case anthropic.ContentBlockStartEvent:
				if tu, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					openTools[ev.Index] = tu.ID
					if !s.send(ctx, message.ToolUseStartEvent(tu.ID, tu.Name)) {
						s.finish(ctx.Err())
						return
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if !s.send(ctx, message.TextDeltaEvent(delta.Text)) {
						s.finish(ctx.Err())
						return
					}
				case anthropic.InputJSONDelta:
					if id, ok := openTools[ev.Index]; ok {
						if !s.send(ctx, message.ToolUseInputEvent(id, delta.PartialJSON)) {
							s.finish(ctx.Err())
							return
						}
					}
				}
			case anthropic.MessageDeltaEvent:
				usage.OutputTokens = int(ev.Usage.OutputTokens)
				if ev.Delta.StopReason != "" {
					stopReason = normalizeAnthropicStop(string(ev.Delta.StopReason))
				}
			}
		}
		if err := sse.Err(); err != nil {
			s.finish(anthropicError(err))
			return
		}
		s.send(ctx, message.MessageStopEvent(stopReason, &usage))
		s.finish(nil)
	}()
	return s, nil
}

func convertMessagesToAnthropic(messages []message.Message) ([]anthropic.MessageParam, string) {
	var out []anthropic.MessageParam
	var system string

	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			system = msg.Text()
		case message.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())))
		case message.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			for _, b := range msg.Content {
				switch b.Type {
				case message.BlockText:
					if b.Text == "" {
						continue
					}
					blocks = append(blocks, anthropic.ContentBlockParamUnion{
						OfText: &anthropic.TextBlockParam{Text: b.Text},
					})
				case message.BlockToolUse:
					input, err := json.Marshal(b.Input)
					if err != nil {
						input = []byte("{}")
					}
					blocks = append(blocks, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							ID:    b.ID,
							Name:  b.Name,
							Input: input,
						},
					})
				}
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case message.RoleTool:
			// Anthropic expects tool results as user-role content blocks.
			var blocks []anthropic.ContentBlockParamUnion
			for _, b := range msg.Content {
				if b.Type != message.BlockToolResult {
					continue
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: b.ToolUseID,
						IsError:   anthropic.Bool(b.IsError),
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: b.Content},
						}},
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: blocks,
			})
		}
	}
	return out, system
}

func convertSchemaToAnthropic(params map[string]any) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{
		Properties: map[string]any{},
	}
	if props, ok := params["properties"]; ok {
		schema.Properties = props
	}
	if req, ok := params["required"].([]string); ok {
		schema.Required = req
	}
	return schema
}

func convertAnthropicResponse(resp *anthropic.Message) *message.Response {
	out := &message.Response{
		ID:         resp.ID,
		StopReason: normalizeAnthropicStop(string(resp.StopReason)),
		Usage: message.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content = append(out.Content, message.TextBlock(b.Text))
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal(b.Input, &args); err != nil {
				args = map[string]any{}
			}
			out.Content = append(out.Content, message.ToolUseBlock(b.ID, b.Name, args))
		}
	}
	return out
}

func normalizeAnthropicStop(reason string) message.StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return message.StopEndTurn
	case "tool_use":
		return message.StopToolUse
	case "max_tokens":
		return message.StopMaxTokens
	default:
		return message.StopEndTurn
	}
}

func anthropicError(err error) error {
	var apierr *anthropic.Error
	if stderrors.As(err, &apierr) {
		return classifyStatus("anthropic", apierr.StatusCode, apierr.Error(), err)
	}
	return classifyStatus("anthropic", 0, err.Error(), err)
}
