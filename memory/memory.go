// Package memory holds the working conversation for one agent loop and
// trims it to a token budget. Truncation never splits an assistant message
// from the tool results that answer it; the provider APIs reject orphaned
// tool results.
package memory

import (
	"encoding/json"
	"strings"

	"github.com/croftlabs/croft/message"
)

// Chars-per-token ratios by model family, measured against each vendor's
// tokenizer on mixed code and prose.
const (
	ratioClaude  = 3.5
	ratioGPT     = 4.0
	ratioGemini  = 3.8
	ratioDefault = 4.0
)

// CharsPerToken returns the estimation ratio for a model name.
func CharsPerToken(model string) float64 {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return ratioClaude
	case strings.Contains(m, "gpt") || strings.Contains(m, "o1") || strings.Contains(m, "o3"):
		return ratioGPT
	case strings.Contains(m, "gemini"):
		return ratioGemini
	default:
		return ratioDefault
	}
}

// Memory is the in-flight conversation. It is owned by a single agent loop
// and is not safe for concurrent use.
type Memory struct {
	model    string
	messages []message.Message
}

// New creates an empty memory. The model name selects the token-estimation
// ratio.
func New(model string) *Memory {
	return &Memory{model: model}
}

// Append adds messages to the end of the conversation.
func (m *Memory) Append(msgs ...message.Message) {
	m.messages = append(m.messages, msgs...)
}

// Messages returns the conversation in order. The returned slice is the
// backing store; callers must not mutate it.
func (m *Memory) Messages() []message.Message { return m.messages }

// Len returns the number of messages held.
func (m *Memory) Len() int { return len(m.messages) }

// Clear drops the whole conversation.
func (m *Memory) Clear() { m.messages = nil }

// SetMessages replaces the conversation, e.g. when resuming a session.
func (m *Memory) SetMessages(msgs []message.Message) { m.messages = msgs }

// EstimateTokens estimates the token count of the held conversation.
func (m *Memory) EstimateTokens() int {
	return estimateTokens(m.messages, CharsPerToken(m.model))
}

// Truncate drops the oldest exchanges until the conversation fits within
// maxTokens. The first user message is always kept (it anchors the task),
// and removal happens in whole turn groups so a tool_use never loses its
// tool_result. Returns the number of messages dropped. The anchor and the
// latest exchange are never dropped, so the conversation can still exceed
// the budget afterwards; callers check EstimateTokens to detect that.
func (m *Memory) Truncate(maxTokens int) int {
	ratio := CharsPerToken(m.model)
	if estimateTokens(m.messages, ratio) <= maxTokens {
		return 0
	}

	groups := groupTurns(m.messages)
	if len(groups) <= 2 {
		return 0
	}

	// groups[0] holds the first user message (plus any leading system
	// message). Drop from groups[1] forward, never touching the last group.
	keepTail := 1
	dropped := 0
	for cut := 1; cut < len(groups)-keepTail; cut++ {
		dropped += len(groups[cut])
		remaining := flatten(groups[:1], groups[cut+1:])
		if estimateTokens(remaining, ratio) <= maxTokens {
			m.messages = remaining
			return dropped
		}
	}

	// Irreducible: first group + last group still over budget.
	m.messages = flatten(groups[:1], groups[len(groups)-1:])
	return dropped
}

// groupTurns splits the conversation into removal units: each user message
// starts a group, and an assistant message plus its following tool-result
// messages stay together.
func groupTurns(msgs []message.Message) [][]message.Message {
	var groups [][]message.Message
	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleTool:
			if len(groups) > 0 {
				groups[len(groups)-1] = append(groups[len(groups)-1], msg)
				continue
			}
			groups = append(groups, []message.Message{msg})
		case message.RoleSystem:
			// A leading system message rides with the first group.
			if len(groups) == 0 {
				groups = append(groups, []message.Message{msg})
				continue
			}
			groups[len(groups)-1] = append(groups[len(groups)-1], msg)
		default:
			groups = append(groups, []message.Message{msg})
		}
	}
	// Merge a system-only first group into the following user group so the
	// anchor group carries both.
	if len(groups) >= 2 && len(groups[0]) == 1 && groups[0][0].Role == message.RoleSystem {
		groups[1] = append([]message.Message{groups[0][0]}, groups[1]...)
		groups = groups[1:]
	}
	return groups
}

func flatten(parts ...[][]message.Message) []message.Message {
	var out []message.Message
	for _, groups := range parts {
		for _, g := range groups {
			out = append(out, g...)
		}
	}
	return out
}

func estimateTokens(msgs []message.Message, ratio float64) int {
	chars := 0
	for _, msg := range msgs {
		chars += messageChars(msg)
	}
	return int(float64(chars) / ratio)
}

func messageChars(msg message.Message) int {
	n := len(msg.Role) + 8 // role plus framing overhead
	for _, b := range msg.Content {
		n += len(b.Text) + len(b.Content) + len(b.Name)
		if len(b.Input) > 0 {
			if data, err := json.Marshal(b.Input); err == nil {
				n += len(data)
			}
		}
	}
	return n
}
