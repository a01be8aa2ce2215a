package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageAccessors(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			TextBlock("I'll check "),
			ToolUseBlock("toolu_1", "read", map[string]any{"path": "a.go"}),
			TextBlock("two files."),
			ToolUseBlock("toolu_2", "read", map[string]any{"path": "b.go"}),
		},
	}

	assert.Equal(t, "I'll check two files.", msg.Text())

	calls := msg.ToolUses()
	require.Len(t, calls, 2)
	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.Equal(t, "toolu_2", calls[1].ID)
}

func TestToolResultIDs(t *testing.T) {
	msg := Message{
		Role: RoleTool,
		Content: []ContentBlock{
			ToolResultBlock("toolu_1", "ok", false),
			ToolResultBlock("toolu_2", "boom", true),
		},
	}
	assert.Equal(t, []string{"toolu_1", "toolu_2"}, msg.ToolResultIDs())
}

func TestMessageJSONPreservesBlockOrder(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			TextBlock("first"),
			ToolUseBlock("toolu_1", "bash", map[string]any{"command": "ls"}),
			TextBlock("last"),
		},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Content, 3)
	assert.Equal(t, BlockText, back.Content[0].Type)
	assert.Equal(t, "first", back.Content[0].Text)
	assert.Equal(t, BlockToolUse, back.Content[1].Type)
	assert.Equal(t, "toolu_1", back.Content[1].ID)
	assert.Equal(t, "last", back.Content[2].Text)
}

func TestResponseMessageConversion(t *testing.T) {
	resp := &Response{
		Content: []ContentBlock{
			TextBlock("thinking"),
			ToolUseBlock("toolu_1", "glob", map[string]any{"pattern": "*.go"}),
		},
		StopReason: StopToolUse,
	}

	msg := resp.Message()
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, resp.Content, msg.Content)
	assert.Equal(t, "thinking", resp.Text())
	require.Len(t, resp.ToolUses(), 1)
}

func TestUsageAdd(t *testing.T) {
	total := Usage{InputTokens: 10, OutputTokens: 20}
	total.Add(Usage{InputTokens: 5, OutputTokens: 7})
	assert.Equal(t, Usage{InputTokens: 15, OutputTokens: 27}, total)
}
