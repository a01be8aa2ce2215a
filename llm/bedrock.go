package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/croftlabs/croft/errors"
	"github.com/croftlabs/croft/message"
	"github.com/croftlabs/croft/tools"
)

// BedrockClient talks to Anthropic models hosted on AWS Bedrock. The model
// is invoked with the raw Anthropic messages schema, so responses and stream
// chunks look like the native Anthropic API wrapped in Bedrock envelopes.
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockClient creates a client for the given Bedrock model id. AWS
// credentials and region come from the default config chain (environment,
// shared config files, instance metadata).
func NewBedrockClient(ctx context.Context, modelID string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "loading AWS config")
	}
	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

func (b *BedrockClient) body(req Request) ([]byte, error) {
	msgs, system := convertMessagesToBedrock(req.Messages)
	if req.System != "" {
		system = req.System
	}

	body := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        req.maxTokens(),
		"messages":          msgs,
	}
	if system != "" {
		body["system"] = system
	}
	if len(req.Tools) > 0 {
		body["tools"] = convertToolsToBedrock(req.Tools)
	}
	return json.Marshal(body)
}

// Generate sends a blocking InvokeModel request.
func (b *BedrockClient) Generate(ctx context.Context, req Request) (*message.Response, error) {
	body, err := b.body(req)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding Bedrock request")
	}
	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, bedrockError(err)
	}
	return parseBedrockResponse(resp.Body)
}

// Stream sends an InvokeModelWithResponseStream request. Bedrock delivers
// the Anthropic SSE events as JSON chunks inside the AWS event stream.
func (b *BedrockClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	body, err := b.body(req)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding Bedrock request")
	}
	resp, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, bedrockError(err)
	}

	s := newStream()
	go func() {
		eventStream := resp.GetStream()
		defer eventStream.Close()

		var usage message.Usage
		stopReason := message.StopEndTurn
		// Index of the open content block -> tool id, for routing input deltas.
		openTools := map[int]string{}

		for event := range eventStream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var ev bedrockStreamEvent
			if err := json.Unmarshal(chunk.Value.Bytes, &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "message_start":
				if ev.Message != nil {
					usage.InputTokens = ev.Message.Usage.InputTokens
				}
			case "content_block_start":
				if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
					id := ev.ContentBlock.ID
					if id == "" {
						id = newLocalCallID(ev.ContentBlock.Name)
					}
					openTools[ev.Index] = id
					if !s.send(ctx, message.ToolUseStartEvent(id, ev.ContentBlock.Name)) {
						s.finish(ctx.Err())
						return
					}
				}
			case "content_block_delta":
				if ev.Delta == nil {
					continue
				}
				switch ev.Delta.Type {
				case "text_delta":
					if !s.send(ctx, message.TextDeltaEvent(ev.Delta.Text)) {
						s.finish(ctx.Err())
						return
					}
				case "input_json_delta":
					if id, ok := openTools[ev.Index]; ok {
						if !s.send(ctx, message.ToolUseInputEvent(id, ev.Delta.PartialJSON)) {
							s.finish(ctx.Err())
							return
						}
					}
				}
			case "message_delta":
				if ev.Usage != nil {
					usage.OutputTokens = ev.Usage.OutputTokens
				}
				if ev.Delta != nil && ev.Delta.StopReason != "" {
					stopReason = normalizeAnthropicStop(ev.Delta.StopReason)
				}
			}
		}
		if err := eventStream.Err(); err != nil {
			s.finish(bedrockError(err))
			return
		}
		s.send(ctx, message.MessageStopEvent(stopReason, &usage))
		s.finish(nil)
	}()
	return s, nil
}

// bedrockStreamEvent is the union of the Anthropic stream event shapes
// Bedrock forwards inside its chunk payloads.
type bedrockStreamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		Usage bedrockUsage `json:"usage"`
	} `json:"message"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *bedrockUsage `json:"usage"`
}

type bedrockUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func convertMessagesToBedrock(messages []message.Message) ([]map[string]any, string) {
	var out []map[string]any
	var system string

	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			system = msg.Text()
		case message.RoleUser:
			out = append(out, map[string]any{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": msg.Text()},
				},
			})
		case message.RoleAssistant:
			var blocks []map[string]any
			for _, b := range msg.Content {
				switch b.Type {
				case message.BlockText:
					if b.Text != "" {
						blocks = append(blocks, map[string]any{"type": "text", "text": b.Text})
					}
				case message.BlockToolUse:
					blocks = append(blocks, map[string]any{
						"type":  "tool_use",
						"id":    b.ID,
						"name":  b.Name,
						"input": b.Input,
					})
				}
			}
			if len(blocks) > 0 {
				out = append(out, map[string]any{"role": "assistant", "content": blocks})
			}
		case message.RoleTool:
			// Tool results travel as user-role content blocks.
			var blocks []map[string]any
			for _, b := range msg.Content {
				if b.Type != message.BlockToolResult {
					continue
				}
				blocks = append(blocks, map[string]any{
					"type":        "tool_result",
					"tool_use_id": b.ToolUseID,
					"content":     b.Content,
					"is_error":    b.IsError,
				})
			}
			if len(blocks) > 0 {
				out = append(out, map[string]any{"role": "user", "content": blocks})
			}
		}
	}
	return out, system
}

func convertToolsToBedrock(ts []tools.Schema) []map[string]any {
	var out []map[string]any
	for _, t := range ts {
		out = append(out, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.Parameters,
		})
	}
	return out
}

func parseBedrockResponse(body []byte) (*message.Response, error) {
	var resp struct {
		ID         string       `json:"id"`
		StopReason string       `json:"stop_reason"`
		Usage      bedrockUsage `json:"usage"`
		Content    []struct {
			Type  string         `json:"type"`
			Text  string         `json:"text"`
			ID    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		} `json:"content"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(err, "decoding Bedrock response")
	}
	if resp.Error != nil {
		return nil, classifyStatus("bedrock", 0, fmt.Sprintf("%s: %s", resp.Error.Type, resp.Error.Message), nil)
	}

	out := &message.Response{
		ID:         resp.ID,
		StopReason: normalizeAnthropicStop(resp.StopReason),
		Usage: message.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content = append(out.Content, message.TextBlock(block.Text))
		case "tool_use":
			id := block.ID
			if id == "" {
				id = fmt.Sprintf("call_%s_%s", block.Name, uuid.NewString()[:8])
			}
			input := block.Input
			if input == nil {
				input = map[string]any{}
			}
			out.Content = append(out.Content, message.ToolUseBlock(id, block.Name, input))
		}
	}
	return out, nil
}

// bedrockError maps AWS SDK failures to the taxonomy. Bedrock reports
// faults as typed exceptions rather than bare HTTP statuses.
func bedrockError(err error) error {
	var throttle *types.ThrottlingException
	if stderrors.As(err, &throttle) {
		return classifyStatus("bedrock", http.StatusTooManyRequests, throttle.ErrorMessage(), err)
	}
	var denied *types.AccessDeniedException
	if stderrors.As(err, &denied) {
		return classifyStatus("bedrock", http.StatusForbidden, denied.ErrorMessage(), err)
	}
	var invalid *types.ValidationException
	if stderrors.As(err, &invalid) {
		return classifyStatus("bedrock", http.StatusBadRequest, invalid.ErrorMessage(), err)
	}
	var timeout *types.ModelTimeoutException
	if stderrors.As(err, &timeout) {
		return classifyStatus("bedrock", http.StatusRequestTimeout, timeout.ErrorMessage(), err)
	}
	var unavailable *types.ServiceUnavailableException
	if stderrors.As(err, &unavailable) {
		return classifyStatus("bedrock", http.StatusServiceUnavailable, unavailable.ErrorMessage(), err)
	}
	var apierr smithy.APIError
	if stderrors.As(err, &apierr) {
		return classifyStatus("bedrock", 0, apierr.ErrorMessage(), err)
	}
	return classifyStatus("bedrock", 0, err.Error(), err)
}
