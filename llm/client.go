// Package llm normalizes the LLM vendors behind one Client interface. Each
// adapter owns the translation between the internal message vocabulary and
// its vendor's wire schema, including the vendor's stop-reason and error
// vocabularies. The agent loop never sees a vendor SDK type.
package llm

import (
	"context"

	"github.com/croftlabs/croft/message"
	"github.com/croftlabs/croft/tools"
)

// DefaultMaxTokens applies when a request does not set MaxTokens.
const DefaultMaxTokens = 4096

// Request is one provider call. System messages inside Messages are lifted
// out by adapters whose vendors take the system prompt separately.
type Request struct {
	Messages  []message.Message
	Tools     []tools.Schema
	System    string
	MaxTokens int
}

func (r Request) maxTokens() int {
	if r.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return r.MaxTokens
}

// Client is the provider boundary. Stream must reconstruct the same logical
// response Generate would have returned: concatenated text deltas equal the
// text blocks, and the assembled tool calls equal the tool-use blocks. The
// agent loop relies on that equivalence to use either entry point
// interchangeably.
type Client interface {
	Generate(ctx context.Context, req Request) (*message.Response, error)
	Stream(ctx context.Context, req Request) (*Stream, error)
}

// Stream delivers provider events in order. The producer blocks rather than
// drop events when the consumer is slow; event loss would corrupt the
// transcript. After Events is closed, Err reports how the stream ended.
type Stream struct {
	events chan message.StreamEvent
	err    error
	done   chan struct{}
}

func newStream() *Stream {
	return &Stream{
		events: make(chan message.StreamEvent, 16),
		done:   make(chan struct{}),
	}
}

// Events returns the ordered event channel. It is closed when the provider
// response is complete or has failed.
func (s *Stream) Events() <-chan message.StreamEvent { return s.events }

// Err returns the terminal error, if any. Only valid after Events is closed.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// send delivers an event, honoring context cancellation. Returns false when
// the caller should stop producing.
func (s *Stream) send(ctx context.Context, ev message.StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish closes the stream with the given terminal error (nil on success).
func (s *Stream) finish(err error) {
	s.err = err
	close(s.events)
	close(s.done)
}

// ScriptedClient replays a fixed sequence of responses. It backs the agent
// tests: Generate pops the next response, Stream replays the same response
// as events, so stream/blocking equivalence can be asserted against it.
type ScriptedClient struct {
	Responses []*message.Response
	Errs      []error
	Requests  []Request // every request received, for assertions
	next      int
}

func (c *ScriptedClient) pop() (*message.Response, error) {
	i := c.next
	c.next++
	if i < len(c.Errs) && c.Errs[i] != nil {
		return nil, c.Errs[i]
	}
	if i >= len(c.Responses) {
		return &message.Response{
			ID:         "scripted-exhausted",
			Content:    []message.ContentBlock{message.TextBlock("")},
			StopReason: message.StopEndTurn,
		}, nil
	}
	return c.Responses[i], nil
}

func (c *ScriptedClient) Generate(ctx context.Context, req Request) (*message.Response, error) {
	c.Requests = append(c.Requests, req)
	return c.pop()
}

func (c *ScriptedClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	c.Requests = append(c.Requests, req)
	resp, err := c.pop()
	if err != nil {
		return nil, err
	}
	s := newStream()
	go func() {
		for _, b := range resp.Content {
			switch b.Type {
			case message.BlockText:
				if !s.send(ctx, message.TextDeltaEvent(b.Text)) {
					s.finish(ctx.Err())
					return
				}
			case message.BlockToolUse:
				if !s.send(ctx, message.ToolUseStartEvent(b.ID, b.Name)) {
					s.finish(ctx.Err())
					return
				}
				if !s.send(ctx, message.ToolUseInputEvent(b.ID, marshalArgs(b.Input))) {
					s.finish(ctx.Err())
					return
				}
			}
		}
		usage := resp.Usage
		s.send(ctx, message.MessageStopEvent(resp.StopReason, &usage))
		s.finish(nil)
	}()
	return s, nil
}
