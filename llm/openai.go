package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/croftlabs/croft/errors"
	"github.com/croftlabs/croft/message"
)

// OpenAIClient talks to the OpenAI Chat Completions API, or any compatible
// endpoint via OPENAI_BASE_URL.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for the given model. It requires the
// OPENAI_API_KEY environment variable; OPENAI_BASE_URL optionally points at
// a compatible server.
func NewOpenAIClient(modelName string) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(opts...)
	return &OpenAIClient{client: &c, model: modelName}, nil
}

func (o *OpenAIClient) params(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            convertMessagesToOpenAI(req.Messages, req.System),
		MaxCompletionTokens: openai.Int(int64(req.maxTokens())),
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Parameters),
		}))
	}
	return params
}

// Generate sends a blocking chat-completion request.
func (o *OpenAIClient) Generate(ctx context.Context, req Request) (*message.Response, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(req))
	if err != nil {
		return nil, openaiError(err)
	}
	return convertOpenAIResponse(resp), nil
}

// Stream sends a streaming request and translates the chunk deltas.
func (o *OpenAIClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	chunks := o.client.Chat.Completions.NewStreaming(ctx, o.params(req))
	s := newStream()

	go func() {
		acc := openai.ChatCompletionAccumulator{}
		// Chunked tool calls arrive keyed by index; the id and name only
		// appear on the first chunk for each index.
		openTools := map[int64]string{}

		for chunks.Next() {
			chunk := chunks.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				if !s.send(ctx, message.TextDeltaEvent(delta.Content)) {
					s.finish(ctx.Err())
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				id, started := openTools[tc.Index]
				if !started {
					id = tc.ID
					openTools[tc.Index] = id
					if !s.send(ctx, message.ToolUseStartEvent(id, tc.Function.Name)) {
						s.finish(ctx.Err())
						return
					}
				}
				if tc.Function.Arguments != "" {
					if !s.send(ctx, message.ToolUseInputEvent(id, tc.Function.Arguments)) {
						s.finish(ctx.Err())
						return
					}
				}
			}
		}
		if err := chunks.Err(); err != nil {
			s.finish(openaiError(err))
			return
		}

		stopReason := message.StopEndTurn
		if len(acc.Choices) > 0 {
			stopReason = normalizeOpenAIFinish(string(acc.Choices[0].FinishReason))
		}
		usage := message.Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
		}
		s.send(ctx, message.MessageStopEvent(stopReason, &usage))
		s.finish(nil)
	}()
	return s, nil
}

func convertMessagesToOpenAI(messages []message.Message, system string) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))
		case message.RoleUser:
			out = append(out, openai.UserMessage(msg.Text()))
		case message.RoleAssistant:
			assistant := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Text(),
			}
			for _, call := range msg.ToolUses() {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      call.Name,
						Arguments: marshalArgs(call.Args),
					},
				})
			}
			out = append(out, assistant.ToParam())
		case message.RoleTool:
			// OpenAI wants one tool-role message per result.
			for _, b := range msg.Content {
				if b.Type == message.BlockToolResult {
					out = append(out, openai.ToolMessage(b.Content, b.ToolUseID))
				}
			}
		}
	}
	return out
}

func convertOpenAIResponse(resp *openai.ChatCompletion) *message.Response {
	out := &message.Response{
		ID:         resp.ID,
		StopReason: message.StopEndTurn,
		Usage: message.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.StopReason = normalizeOpenAIFinish(string(choice.FinishReason))

	if choice.Message.Content != "" {
		out.Content = append(out.Content, message.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]any{}
		}
		out.Content = append(out.Content, message.ToolUseBlock(tc.ID, tc.Function.Name, args))
	}
	return out
}

func normalizeOpenAIFinish(reason string) message.StopReason {
	switch reason {
	case "stop":
		return message.StopEndTurn
	case "tool_calls", "function_call":
		return message.StopToolUse
	case "length":
		return message.StopMaxTokens
	case "content_filter":
		return message.StopError
	default:
		return message.StopEndTurn
	}
}

func openaiError(err error) error {
	var apierr *openai.Error
	if stderrors.As(err, &apierr) {
		return classifyStatus("openai", apierr.StatusCode, apierr.Error(), err)
	}
	return classifyStatus("openai", 0, err.Error(), err)
}
