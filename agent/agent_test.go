package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croftlabs/croft/llm"
	"github.com/croftlabs/croft/message"
	"github.com/croftlabs/croft/schema"
	"github.com/croftlabs/croft/session"
	"github.com/croftlabs/croft/tools"
)

// echoTool records its invocations and returns a fixed output.
type echoTool struct {
	mu     sync.Mutex
	name   string
	output string
	block  chan struct{} // if set, Execute waits on it
	calls  []map[string]any
}

func (e *echoTool) Name() string           { return e.name }
func (e *echoTool) Description() string    { return "test tool" }
func (e *echoTool) Schema() *schema.Schema { return nil }

func (e *echoTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, args)
	e.mu.Unlock()
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return e.output, nil
}

func (e *echoTool) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func testRegistry(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, tool := range ts {
		require.NoError(t, reg.Register(tool))
	}
	return reg
}

func toolUseResponse(calls ...message.ContentBlock) *message.Response {
	return &message.Response{
		Content:    calls,
		StopReason: message.StopToolUse,
		Usage:      message.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func finalResponse(text string) *message.Response {
	return &message.Response{
		Content:    []message.ContentBlock{message.TextBlock(text)},
		StopReason: message.StopEndTurn,
		Usage:      message.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func quickRetry() llm.RetryPolicy {
	return llm.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}
}

func TestRunPlainAnswer(t *testing.T) {
	client := &llm.ScriptedClient{Responses: []*message.Response{finalResponse("hello")}}
	ag, err := New(Config{Client: client, Tools: testRegistry(t), Retry: quickRetry()})
	require.NoError(t, err)

	resp, err := ag.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text())
	assert.Equal(t, StateDone, ag.State())

	// memory: user + assistant
	msgs := ag.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, message.RoleUser, msgs[0].Role)
	assert.Equal(t, message.RoleAssistant, msgs[1].Role)
}

func TestRunExecutesToolsInOrderAndPairsResults(t *testing.T) {
	first := &echoTool{name: "alpha", output: "A"}
	second := &echoTool{name: "beta", output: "B"}
	client := &llm.ScriptedClient{Responses: []*message.Response{
		toolUseResponse(
			message.ToolUseBlock("call_1", "beta", map[string]any{"n": 1.0}),
			message.ToolUseBlock("call_2", "alpha", map[string]any{"n": 2.0}),
		),
		finalResponse("done"),
	}}
	ag, err := New(Config{Client: client, Tools: testRegistry(t, first, second), Retry: quickRetry()})
	require.NoError(t, err)

	resp, err := ag.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text())

	// One tool message with results in call order, ids matching.
	msgs := ag.Messages()
	require.Len(t, msgs, 4) // user, assistant(tools), tool results, assistant(final)
	toolMsg := msgs[2]
	require.Equal(t, message.RoleTool, toolMsg.Role)
	require.Len(t, toolMsg.Content, 2)
	assert.Equal(t, "call_1", toolMsg.Content[0].ToolUseID)
	assert.Equal(t, "B", toolMsg.Content[0].Content)
	assert.Equal(t, "call_2", toolMsg.Content[1].ToolUseID)
	assert.Equal(t, "A", toolMsg.Content[1].Content)

	// The second provider call carried the results back.
	require.Len(t, client.Requests, 2)
	last := client.Requests[1].Messages
	assert.Equal(t, message.RoleTool, last[len(last)-1].Role)
}

func TestRunUnknownToolFeedsErrorResultBack(t *testing.T) {
	client := &llm.ScriptedClient{Responses: []*message.Response{
		toolUseResponse(message.ToolUseBlock("call_1", "no_such_tool", map[string]any{})),
		finalResponse("recovered"),
	}}
	ag, err := New(Config{Client: client, Tools: testRegistry(t), Retry: quickRetry()})
	require.NoError(t, err)

	resp, err := ag.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text())

	toolMsg := ag.Messages()[2]
	require.Len(t, toolMsg.Content, 1)
	assert.True(t, toolMsg.Content[0].IsError)
	assert.Equal(t, "call_1", toolMsg.Content[0].ToolUseID)
}

func TestRunTerminatesAtIterationCap(t *testing.T) {
	tool := &echoTool{name: "spin", output: "again"}
	// Every response requests another tool call; the loop must still end.
	var responses []*message.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, toolUseResponse(
			message.ToolUseBlock("call_x", "spin", map[string]any{}),
		))
	}
	client := &llm.ScriptedClient{Responses: responses}
	ag, err := New(Config{Client: client, Tools: testRegistry(t, tool), MaxIterations: 4, Retry: quickRetry()})
	require.NoError(t, err)

	_, err = ag.Run(context.Background(), "loop forever")
	var capErr *MaxIterationsError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 4, capErr.Limit)
	assert.Equal(t, 4, tool.callCount())
	assert.Equal(t, StateFailed, ag.State())
}

func TestRunStreamErrorExitClosesWithoutStop(t *testing.T) {
	tool := &echoTool{name: "spin", output: "again"}
	var responses []*message.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, toolUseResponse(
			message.ToolUseBlock("call_x", "spin", map[string]any{}),
		))
	}
	client := &llm.ScriptedClient{Responses: responses}
	ag, err := New(Config{Client: client, Tools: testRegistry(t, tool), MaxIterations: 3, Retry: quickRetry()})
	require.NoError(t, err)

	events, err := ag.RunStream(context.Background(), "loop forever")
	require.NoError(t, err)
	for ev := range events {
		assert.NotEqual(t, message.EventMessageStop, ev.Type, "failed turns end with channel close, not message_stop")
	}
	var capErr *MaxIterationsError
	require.ErrorAs(t, ag.Err(), &capErr)
	assert.Equal(t, StateFailed, ag.State())
}

func TestRunProviderErrorSurfacesTyped(t *testing.T) {
	provErr := &llm.AuthenticationError{ProviderError: llm.ProviderError{
		Provider: "test", StatusCode: 401, Message: "bad key",
	}}
	client := &llm.ScriptedClient{Errs: []error{provErr}}
	ag, err := New(Config{Client: client, Tools: testRegistry(t), Retry: quickRetry()})
	require.NoError(t, err)

	_, err = ag.Run(context.Background(), "hi")
	var auth *llm.AuthenticationError
	require.ErrorAs(t, err, &auth)
	assert.Equal(t, StateFailed, ag.State())
}

func TestRunRetriesTransientProviderError(t *testing.T) {
	transient := &llm.ProviderError{Provider: "test", StatusCode: 503, Message: "busy", Retryable: true}
	client := &llm.ScriptedClient{
		Errs:      []error{transient},
		Responses: []*message.Response{nil, finalResponse("after retry")},
	}
	ag, err := New(Config{Client: client, Tools: testRegistry(t), Retry: quickRetry()})
	require.NoError(t, err)

	resp, err := ag.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "after retry", resp.Text())
	assert.Len(t, client.Requests, 2)
}

func TestRunStreamEquivalentToRun(t *testing.T) {
	tool := &echoTool{name: "alpha", output: "A"}
	script := func() []*message.Response {
		return []*message.Response{
			toolUseResponse(message.ToolUseBlock("call_1", "alpha", map[string]any{})),
			finalResponse("final text"),
		}
	}

	blockingAgent, err := New(Config{
		Client: &llm.ScriptedClient{Responses: script()},
		Tools:  testRegistry(t, &echoTool{name: "alpha", output: "A"}),
		Retry:  quickRetry(),
	})
	require.NoError(t, err)
	blocking, err := blockingAgent.Run(context.Background(), "go")
	require.NoError(t, err)

	streamAgent, err := New(Config{
		Client: &llm.ScriptedClient{Responses: script()},
		Tools:  testRegistry(t, tool),
		Retry:  quickRetry(),
	})
	require.NoError(t, err)
	events, err := streamAgent.RunStream(context.Background(), "go")
	require.NoError(t, err)

	var text string
	var sawExecuting, sawResult bool
	var stop *message.StreamEvent
	for ev := range events {
		switch ev.Type {
		case message.EventTextDelta:
			text += ev.Text
		case message.EventToolExecuting:
			sawExecuting = true
			assert.False(t, sawResult, "tool_executing must precede tool_result")
		case message.EventToolResult:
			sawResult = true
			assert.Equal(t, "A", ev.Output)
		case message.EventMessageStop:
			evCopy := ev
			stop = &evCopy
		}
	}
	require.NoError(t, streamAgent.Err())

	assert.Equal(t, blocking.Text(), text)
	assert.True(t, sawExecuting)
	assert.True(t, sawResult)
	require.NotNil(t, stop)
	assert.Equal(t, message.StopEndTurn, stop.StopReason)
	require.NotNil(t, stop.Usage)
	assert.Equal(t, blocking.Usage, *stop.Usage)

	// Same transcript either way.
	assert.Equal(t, blockingAgent.Messages(), streamAgent.Messages())
}

func TestRunInterruptionStopsFurtherCalls(t *testing.T) {
	release := make(chan struct{})
	tool := &echoTool{name: "slow", output: "late", block: release}
	client := &llm.ScriptedClient{Responses: []*message.Response{
		toolUseResponse(message.ToolUseBlock("call_1", "slow", map[string]any{})),
		finalResponse("should never be requested"),
	}}
	ag, err := New(Config{Client: client, Tools: testRegistry(t, tool), Retry: quickRetry()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ag.Run(ctx, "go")
		done <- err
	}()

	// Wait until the tool is actually running, then cancel.
	require.Eventually(t, func() bool { return tool.callCount() == 1 }, time.Second, time.Millisecond)
	cancel()
	close(release)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	assert.Equal(t, StateInterrupted, ag.State())
	// Only the first provider call happened.
	assert.Len(t, client.Requests, 1)

	// The transcript still pairs the tool call with a result and carries
	// the synthetic interruption note.
	msgs := ag.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, message.RoleSystem, last.Role)
	var sawResult bool
	for _, m := range msgs {
		if m.Role == message.RoleTool {
			sawResult = true
			assert.Equal(t, []string{"call_1"}, m.ToolResultIDs())
		}
	}
	assert.True(t, sawResult)
}

func TestRunSavesSession(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	sess := session.New("claude-sonnet-4", "prompt")

	client := &llm.ScriptedClient{Responses: []*message.Response{finalResponse("saved")}}
	ag, err := New(Config{
		Client:  client,
		Tools:   testRegistry(t),
		Session: sess,
		Store:   store,
		Retry:   quickRetry(),
	})
	require.NoError(t, err)

	_, err = ag.Run(context.Background(), "persist me")
	require.NoError(t, err)

	loaded, err := store.Load(sess.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, "persist me", loaded.Messages[0].Text())
	assert.Equal(t, "saved", loaded.Messages[1].Text())
}

func TestRunResumedSessionSeedsConversation(t *testing.T) {
	sess := session.New("claude-sonnet-4", "")
	sess.Append(message.UserText("earlier question"), message.AssistantText("earlier answer"))

	client := &llm.ScriptedClient{Responses: []*message.Response{finalResponse("continuing")}}
	ag, err := New(Config{Client: client, Tools: testRegistry(t), Session: sess, Retry: quickRetry()})
	require.NoError(t, err)

	_, err = ag.Run(context.Background(), "follow-up")
	require.NoError(t, err)

	// The provider call saw the resumed history first.
	require.Len(t, client.Requests, 1)
	seen := client.Requests[0].Messages
	require.GreaterOrEqual(t, len(seen), 3)
	assert.Equal(t, "earlier question", seen[0].Text())
	assert.Equal(t, "follow-up", seen[2].Text())
}

func TestNewRejectsMissingPieces(t *testing.T) {
	_, err := New(Config{Tools: tools.NewRegistry()})
	require.Error(t, err)
	_, err = New(Config{Client: &llm.ScriptedClient{}})
	require.Error(t, err)
}

func TestContextOverflowIsTyped(t *testing.T) {
	client := &llm.ScriptedClient{Responses: []*message.Response{finalResponse("x")}}
	ag, err := New(Config{
		Client:           client,
		Tools:            testRegistry(t),
		Model:            "gpt-4o",
		MaxContextTokens: 1, // nothing fits
		Retry:            quickRetry(),
	})
	require.NoError(t, err)

	_, err = ag.Run(context.Background(), "this query alone is over the budget")
	var overflow *ContextOverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Greater(t, overflow.Tokens, overflow.Budget)
}

func TestErrInterruptedIsNotRetryable(t *testing.T) {
	assert.False(t, llm.IsRetryable(context.Canceled))
	assert.True(t, errors.Is(ErrInterrupted, ErrInterrupted))
}
