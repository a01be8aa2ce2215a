package agent

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/croftlabs/croft/errors"
	"github.com/croftlabs/croft/llm"
	"github.com/croftlabs/croft/memory"
	"github.com/croftlabs/croft/message"
	"github.com/croftlabs/croft/session"
	"github.com/croftlabs/croft/tools"
)

// State is the loop's observable phase.
type State string

const (
	StateIdle          State = "idle"
	StateThinking      State = "thinking"
	StateToolExecuting State = "tool_executing"
	StateDone          State = "done"
	StateInterrupted   State = "interrupted"
	StateFailed        State = "failed"
)

// DefaultMaxIterations bounds think→act cycles within one turn.
const DefaultMaxIterations = 20

// ErrInterrupted reports that the turn was cancelled between state
// transitions. The conversation up to the interruption point is intact and
// the session, if any, has been saved.
var ErrInterrupted = stderrors.New("agent: turn interrupted")

// MaxIterationsError reports that a turn hit the iteration cap while the
// model was still requesting tools.
type MaxIterationsError struct {
	Limit int
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("agent: exceeded %d iterations without a final answer", e.Limit)
}

// ContextOverflowError reports that even after truncation the conversation
// does not fit the context budget.
type ContextOverflowError struct {
	Tokens int
	Budget int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("agent: conversation needs ~%d tokens, budget is %d", e.Tokens, e.Budget)
}

// Config assembles an agent. Everything is explicit; there are no ambient
// globals and no environment reads here.
type Config struct {
	Client           llm.Client
	Tools            *tools.Registry
	Session          *session.Session // optional; conversation is seeded from it
	Store            *session.Store   // optional; session is saved after each turn
	SystemPrompt     string
	Model            string // used for token estimation
	MaxIterations    int    // default DefaultMaxIterations
	MaxTokens        int    // per provider call; 0 uses the llm default
	MaxContextTokens int    // 0 disables truncation
	Retry            llm.RetryPolicy
}

// Agent runs the think→act loop: ask the model, execute the tools it
// requests, feed the results back, repeat until it answers in plain text.
// An Agent serves one conversation and is not safe for concurrent turns.
type Agent struct {
	client   llm.Client
	registry *tools.Registry
	sess     *session.Session
	store    *session.Store
	system   string
	memory   *memory.Memory
	maxIter  int
	maxTok   int
	ctxTok   int
	retry    llm.RetryPolicy
	state    State
	runErr   error
}

// New builds an agent from the config. A nil client or registry is a
// programming error and is rejected here rather than mid-turn.
func New(cfg Config) (*Agent, error) {
	if cfg.Client == nil {
		return nil, errors.New("agent config needs an llm client")
	}
	if cfg.Tools == nil {
		return nil, errors.New("agent config needs a tool registry")
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.BaseDelay == 0 {
		retry = llm.DefaultRetryPolicy()
	}

	mem := memory.New(cfg.Model)
	if cfg.Session != nil {
		mem.SetMessages(cfg.Session.Messages)
	}

	return &Agent{
		client:   cfg.Client,
		registry: cfg.Tools,
		sess:     cfg.Session,
		store:    cfg.Store,
		system:   cfg.SystemPrompt,
		memory:   mem,
		maxIter:  maxIter,
		maxTok:   cfg.MaxTokens,
		ctxTok:   cfg.MaxContextTokens,
		retry:    retry,
	}, nil
}

// State returns the loop's current phase.
func (a *Agent) State() State { return a.state }

// Messages returns the conversation so far.
func (a *Agent) Messages() []message.Message { return a.memory.Messages() }

// Reset clears the conversation, in memory and in the attached session.
func (a *Agent) Reset() {
	a.memory.Clear()
	if a.sess != nil {
		a.sess.Messages = nil
	}
	a.state = StateIdle
}

// Run executes one turn to completion and returns the model's final
// response. Tool calls are executed in the order the model issued them,
// each producing exactly one result, and the batched results go back
// before the next model call.
func (a *Agent) Run(ctx context.Context, query string) (*message.Response, error) {
	resp, err := a.loop(ctx, query, nil)
	a.runErr = err
	return resp, err
}

// RunStream executes one turn, delivering incremental events on the
// returned channel: text deltas and tool-use starts while the model is
// thinking, then tool_executing/tool_result around each invocation, and
// finally message_stop with the turn's total usage. Only a completed turn
// carries a message_stop; every error exit closes the channel without one.
// The producer blocks when the consumer is slow; no event is dropped.
// After the channel closes, Err reports how the turn ended.
func (a *Agent) RunStream(ctx context.Context, query string) (<-chan message.StreamEvent, error) {
	events := make(chan message.StreamEvent, 16)
	go func() {
		defer close(events)
		_, err := a.loop(ctx, query, events)
		a.runErr = err
	}()
	return events, nil
}

// Err returns the terminal error of the last turn, if any. For RunStream
// it is only valid after the event channel has closed.
func (a *Agent) Err() error { return a.runErr }

// emit forwards an event to the stream consumer when streaming. Returns
// false when the context died while blocked on the channel.
func (a *Agent) emit(ctx context.Context, events chan<- message.StreamEvent, ev message.StreamEvent) bool {
	if events == nil {
		return true
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// loop is the shared engine behind Run and RunStream; events is nil in
// blocking mode.
func (a *Agent) loop(ctx context.Context, query string, events chan<- message.StreamEvent) (*message.Response, error) {
	a.record(message.UserText(query))
	var total message.Usage

	for iter := 0; iter < a.maxIter; iter++ {
		if ctx.Err() != nil {
			return nil, a.interrupt()
		}

		if err := a.fitContext(); err != nil {
			a.state = StateFailed
			a.saveSession()
			return nil, err
		}

		a.state = StateThinking
		resp, err := a.think(ctx, events)
		if err != nil {
			if ctx.Err() != nil {
				return nil, a.interrupt()
			}
			a.state = StateFailed
			a.saveSession()
			return nil, err
		}

		a.record(resp.Message())
		total.Add(resp.Usage)

		calls := resp.ToolUses()
		if resp.StopReason != message.StopToolUse || len(calls) == 0 {
			a.state = StateDone
			a.saveSession()
			resp.Usage = total
			a.emit(ctx, events, message.MessageStopEvent(resp.StopReason, &total))
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, a.interrupt()
		}

		a.state = StateToolExecuting
		toolMsg, ok := a.act(ctx, calls, events)
		a.record(toolMsg)
		if !ok {
			return nil, a.interrupt()
		}
	}

	a.state = StateFailed
	a.saveSession()
	return nil, &MaxIterationsError{Limit: a.maxIter}
}

// think makes one provider call, through the retry policy. In streaming
// mode provider events are forwarded as they arrive and the response is
// reassembled from them.
func (a *Agent) think(ctx context.Context, events chan<- message.StreamEvent) (*message.Response, error) {
	req := llm.Request{
		Messages:  a.memory.Messages(),
		Tools:     a.registry.Schemas(),
		System:    a.system,
		MaxTokens: a.maxTok,
	}

	if events == nil {
		return llm.Retry(ctx, a.retry, func(ctx context.Context) (*message.Response, error) {
			return a.client.Generate(ctx, req)
		})
	}

	// Only stream establishment is retried; once events have reached the
	// consumer a retry would replay them.
	s, err := llm.Retry(ctx, a.retry, func(ctx context.Context) (*llm.Stream, error) {
		return a.client.Stream(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	acc := llm.NewAccumulator()
	for ev := range s.Events() {
		acc.Feed(ev)
		// The final message_stop is withheld; the loop emits its own once
		// the whole turn (including tools) is finished.
		if ev.Type == message.EventMessageStop {
			continue
		}
		if !a.emit(ctx, events, ev) {
			return nil, ctx.Err()
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return acc.Response(), nil
}

// act executes the batch of tool calls in provider order. Every call gets
// exactly one result; failures become error results the model can react
// to. Returns ok=false if the context died mid-batch, in which case the
// remaining calls get synthetic cancelled results so the pairing invariant
// still holds.
func (a *Agent) act(ctx context.Context, calls []message.ToolCall, events chan<- message.StreamEvent) (message.Message, bool) {
	msg := message.Message{Role: message.RoleTool}
	for i, call := range calls {
		if ctx.Err() != nil {
			for _, rest := range calls[i:] {
				msg.Content = append(msg.Content, message.ToolResultBlock(rest.ID, "cancelled before execution", true))
			}
			return msg, false
		}

		a.emit(ctx, events, message.ToolExecutingEvent(call.ID, call.Name, call.Args))
		result := a.registry.Execute(ctx, call.Name, call.Args)
		msg.Content = append(msg.Content, message.ToolResultBlock(call.ID, result.Output, result.IsError))
		a.emit(ctx, events, message.ToolResultEvent(call.ID, call.Name, result.Output, result.IsError))
	}
	return msg, true
}

// fitContext truncates the conversation to the configured budget.
func (a *Agent) fitContext() error {
	if a.ctxTok <= 0 {
		return nil
	}
	a.memory.Truncate(a.ctxTok)
	if got := a.memory.EstimateTokens(); got > a.ctxTok {
		return &ContextOverflowError{Tokens: got, Budget: a.ctxTok}
	}
	return nil
}

// interrupt finalizes a cancelled turn: a synthetic note marks the cut
// point so a resumed conversation explains itself to the model.
func (a *Agent) interrupt() error {
	a.state = StateInterrupted
	a.record(message.SystemText("The previous turn was interrupted by the user before it completed."))
	a.saveSession()
	return ErrInterrupted
}

// record appends a message to both the working memory and the session.
func (a *Agent) record(msg message.Message) {
	a.memory.Append(msg)
	if a.sess != nil {
		a.sess.Append(msg)
	}
}

func (a *Agent) saveSession() {
	if a.sess == nil || a.store == nil {
		return
	}
	// Best effort; a failed save must not mask the turn's outcome.
	_ = a.store.Save(a.sess)
}
