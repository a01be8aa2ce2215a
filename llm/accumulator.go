package llm

import (
	"encoding/json"

	"github.com/croftlabs/croft/message"
)

// Accumulator folds a provider event stream back into the logical Response
// that Generate would have returned. It is the single assembly path: every
// consumer of Stream that needs the final response goes through it, which is
// what makes the stream/blocking equivalence testable.
type Accumulator struct {
	blocks      []message.ContentBlock
	textIdx     int // index into blocks of the open text block, -1 if none
	inputBufs   map[string]string
	openToolIDs []string
	stopReason  message.StopReason
	usage       message.Usage
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		textIdx:    -1,
		inputBufs:  map[string]string{},
		stopReason: message.StopEndTurn,
	}
}

// Feed applies one provider event. Agent-level events (tool_executing,
// tool_result) are ignored, so the same accumulator can watch a full
// run_stream feed.
func (a *Accumulator) Feed(ev message.StreamEvent) {
	switch ev.Type {
	case message.EventTextDelta:
		if a.textIdx < 0 {
			a.blocks = append(a.blocks, message.TextBlock(""))
			a.textIdx = len(a.blocks) - 1
		}
		a.blocks[a.textIdx].Text += ev.Text
	case message.EventToolUseStart:
		a.textIdx = -1 // a following text delta opens a new block
		a.blocks = append(a.blocks, message.ToolUseBlock(ev.ToolID, ev.ToolName, nil))
		a.inputBufs[ev.ToolID] = ""
		a.openToolIDs = append(a.openToolIDs, ev.ToolID)
	case message.EventToolUseInput:
		a.inputBufs[ev.ToolID] += ev.InputDelta
	case message.EventMessageStop:
		a.stopReason = ev.StopReason
		if ev.Usage != nil {
			a.usage = *ev.Usage
		}
	}
}

// Response finalizes the accumulated blocks. Tool-call argument JSON that
// never parsed (a malformed or truncated stream) yields empty args rather
// than a crash; the registry's schema validation turns that into an error
// result the model can react to.
func (a *Accumulator) Response() *message.Response {
	for i := range a.blocks {
		b := &a.blocks[i]
		if b.Type != message.BlockToolUse {
			continue
		}
		buf := a.inputBufs[b.ID]
		if buf == "" {
			if b.Input == nil {
				b.Input = map[string]any{}
			}
			continue
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(buf), &args); err != nil {
			args = map[string]any{}
		}
		b.Input = args
	}
	return &message.Response{
		Content:    a.blocks,
		StopReason: a.stopReason,
		Usage:      a.usage,
	}
}

func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
