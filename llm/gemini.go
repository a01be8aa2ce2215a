package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/croftlabs/croft/errors"
	"github.com/croftlabs/croft/message"
	"github.com/croftlabs/croft/tools"
)

// GeminiClient talks to the Google Gemini API. Gemini does not issue tool
// call ids, so the adapter mints uuids locally and keeps the id-to-name
// mapping recoverable from the conversation when converting back.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a client for the given model. It requires the
// GEMINI_API_KEY environment variable.
func NewGeminiClient(ctx context.Context, modelName string) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "creating genai client")
	}
	return &GeminiClient{client: client, model: modelName}, nil
}

// Close releases the underlying gRPC connection.
func (g *GeminiClient) Close() error { return g.client.Close() }

func (g *GeminiClient) session(req Request) (*genai.ChatSession, []genai.Part, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetMaxOutputTokens(int32(req.maxTokens()))
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if len(req.Tools) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: convertToolsToGemini(req.Tools)}}
	}

	history := convertMessagesToGemini(req.Messages)
	if len(history) == 0 {
		return nil, nil, errors.New("gemini request needs at least one message")
	}
	cs := model.StartChat()
	cs.History = history[:len(history)-1]
	return cs, history[len(history)-1].Parts, nil
}

// Generate sends a blocking request.
func (g *GeminiClient) Generate(ctx context.Context, req Request) (*message.Response, error) {
	cs, lastParts, err := g.session(req)
	if err != nil {
		return nil, err
	}
	resp, err := cs.SendMessage(ctx, lastParts...)
	if err != nil {
		return nil, geminiError(err)
	}
	return convertGeminiResponse(resp)
}

// Stream sends a streaming request. Gemini delivers function calls whole, so
// each one becomes a start event plus a single input delta carrying the full
// argument JSON.
func (g *GeminiClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	cs, lastParts, err := g.session(req)
	if err != nil {
		return nil, err
	}
	it := cs.SendMessageStream(ctx, lastParts...)
	s := newStream()

	go func() {
		var usage message.Usage
		stopReason := message.StopEndTurn
		sawToolUse := false

		for {
			resp, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				s.finish(geminiError(err))
				return
			}
			if resp.UsageMetadata != nil {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			cand := resp.Candidates[0]
			if cand.FinishReason == genai.FinishReasonMaxTokens {
				stopReason = message.StopMaxTokens
			}
			for _, part := range cand.Content.Parts {
				switch v := part.(type) {
				case genai.Text:
					if !s.send(ctx, message.TextDeltaEvent(string(v))) {
						s.finish(ctx.Err())
						return
					}
				case genai.FunctionCall:
					sawToolUse = true
					id := newLocalCallID(v.Name)
					if !s.send(ctx, message.ToolUseStartEvent(id, v.Name)) {
						s.finish(ctx.Err())
						return
					}
					if !s.send(ctx, message.ToolUseInputEvent(id, marshalArgs(v.Args))) {
						s.finish(ctx.Err())
						return
					}
				}
			}
		}
		if sawToolUse && stopReason == message.StopEndTurn {
			stopReason = message.StopToolUse
		}
		s.send(ctx, message.MessageStopEvent(stopReason, &usage))
		s.finish(nil)
	}()
	return s, nil
}

func convertMessagesToGemini(messages []message.Message) []*genai.Content {
	// Gemini function responses are keyed by name, not id.
	callNames := map[string]string{}
	var out []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			// Handled via SystemInstruction.
		case message.RoleUser:
			out = append(out, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Text())},
			})
		case message.RoleAssistant:
			var parts []genai.Part
			for _, b := range msg.Content {
				switch b.Type {
				case message.BlockText:
					if b.Text != "" {
						parts = append(parts, genai.Text(b.Text))
					}
				case message.BlockToolUse:
					callNames[b.ID] = b.Name
					parts = append(parts, genai.FunctionCall{Name: b.Name, Args: b.Input})
				}
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: "model", Parts: parts})
			}
		case message.RoleTool:
			var parts []genai.Part
			for _, b := range msg.Content {
				if b.Type != message.BlockToolResult {
					continue
				}
				parts = append(parts, genai.FunctionResponse{
					Name: callNames[b.ToolUseID],
					Response: map[string]any{
						"output":   b.Content,
						"is_error": b.IsError,
					},
				})
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: "function", Parts: parts})
			}
		}
	}
	return out
}

func convertToolsToGemini(ts []tools.Schema) []*genai.FunctionDeclaration {
	var decls []*genai.FunctionDeclaration
	for _, t := range ts {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchemaToGemini(t.Parameters),
		})
	}
	return decls
}

// convertSchemaToGemini rebuilds a raw JSON Schema object as the genai
// schema type. Only the subset the built-in tools use is translated.
func convertSchemaToGemini(raw map[string]any) *genai.Schema {
	out := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	props, _ := raw["properties"].(map[string]any)
	for name, p := range props {
		prop, _ := p.(map[string]any)
		ps := &genai.Schema{Type: genai.TypeString}
		switch prop["type"] {
		case "integer":
			ps.Type = genai.TypeInteger
		case "number":
			ps.Type = genai.TypeNumber
		case "boolean":
			ps.Type = genai.TypeBoolean
		}
		if desc, ok := prop["description"].(string); ok {
			ps.Description = desc
		}
		out.Properties[name] = ps
	}
	if req, ok := raw["required"].([]string); ok {
		out.Required = req
	}
	return out
}

func convertGeminiResponse(resp *genai.GenerateContentResponse) (*message.Response, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("empty response from Gemini")
	}
	cand := resp.Candidates[0]

	out := &message.Response{StopReason: message.StopEndTurn}
	if resp.UsageMetadata != nil {
		out.Usage = message.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	sawToolUse := false
	for _, part := range cand.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			out.Content = append(out.Content, message.TextBlock(string(v)))
		case genai.FunctionCall:
			sawToolUse = true
			out.Content = append(out.Content, message.ToolUseBlock(newLocalCallID(v.Name), v.Name, v.Args))
		}
	}
	switch {
	case sawToolUse:
		out.StopReason = message.StopToolUse
	case cand.FinishReason == genai.FinishReasonMaxTokens:
		out.StopReason = message.StopMaxTokens
	}
	return out, nil
}

func newLocalCallID(name string) string {
	return fmt.Sprintf("call_%s_%s", name, uuid.NewString()[:8])
}

func geminiError(err error) error {
	var apierr *googleapi.Error
	if stderrors.As(err, &apierr) {
		return classifyStatus("gemini", apierr.Code, apierr.Message, err)
	}
	return classifyStatus("gemini", 0, err.Error(), err)
}
