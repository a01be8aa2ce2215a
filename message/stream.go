package message

// EventType identifies the variant of a StreamEvent.
type EventType string

const (
	EventTextDelta     EventType = "text_delta"
	EventToolUseStart  EventType = "tool_use_start"
	EventToolUseInput  EventType = "tool_use_input"
	EventToolExecuting EventType = "tool_executing"
	EventToolResult    EventType = "tool_result"
	EventMessageStop   EventType = "message_stop"
)

// StreamEvent is one incremental unit of agent or provider output.
//
// Providers emit text_delta, tool_use_start, tool_use_input, and
// message_stop while a response is being generated; the agent loop adds
// tool_executing and tool_result around each tool invocation. Events reach
// the consumer strictly in the order the underlying effects occurred: all
// text deltas of an assistant turn precede the tool_executing events of that
// turn, which precede their tool_result events.
type StreamEvent struct {
	Type EventType `json:"type"`

	// EventTextDelta
	Text string `json:"text,omitempty"`

	// EventToolUseStart / EventToolUseInput / EventToolExecuting / EventToolResult
	ToolID   string `json:"tool_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`

	// EventToolUseInput carries a fragment of the call's JSON arguments as
	// the provider streams them.
	InputDelta string `json:"input_delta,omitempty"`

	// EventToolExecuting carries the fully assembled arguments.
	Args map[string]any `json:"args,omitempty"`

	// EventToolResult
	Output  string `json:"output,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	// EventMessageStop
	StopReason StopReason `json:"stop_reason,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"`
}

// TextDeltaEvent builds a text fragment event.
func TextDeltaEvent(text string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Text: text}
}

// ToolUseStartEvent marks the provider opening a tool-use block.
func ToolUseStartEvent(id, name string) StreamEvent {
	return StreamEvent{Type: EventToolUseStart, ToolID: id, ToolName: name}
}

// ToolUseInputEvent carries a fragment of streamed tool arguments.
func ToolUseInputEvent(id, delta string) StreamEvent {
	return StreamEvent{Type: EventToolUseInput, ToolID: id, InputDelta: delta}
}

// ToolExecutingEvent marks the loop starting a tool invocation.
func ToolExecutingEvent(id, name string, args map[string]any) StreamEvent {
	return StreamEvent{Type: EventToolExecuting, ToolID: id, ToolName: name, Args: args}
}

// ToolResultEvent reports the outcome of a tool invocation.
func ToolResultEvent(id, name, output string, isError bool) StreamEvent {
	return StreamEvent{Type: EventToolResult, ToolID: id, ToolName: name, Output: output, IsError: isError}
}

// MessageStopEvent terminates a provider response or an agent turn.
func MessageStopEvent(reason StopReason, usage *Usage) StreamEvent {
	return StreamEvent{Type: EventMessageStop, StopReason: reason, Usage: usage}
}
