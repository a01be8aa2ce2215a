package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croftlabs/croft/message"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	s := New("claude-sonnet-4", "you are a coding agent")
	s.Append(
		message.UserText("fix the bug"),
		message.Message{
			Role: message.RoleAssistant,
			Content: []message.ContentBlock{
				message.TextBlock("Looking at it."),
				message.ToolUseBlock("toolu_1", "read", map[string]any{"path": "main.go"}),
			},
		},
		message.Message{
			Role:    message.RoleTool,
			Content: []message.ContentBlock{message.ToolResultBlock("toolu_1", "package main", false)},
		},
	)
	require.NoError(t, store.Save(s))

	loaded, err := store.Load(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, s.Model, loaded.Model)
	assert.Equal(t, s.SystemPrompt, loaded.SystemPrompt)
	require.Len(t, loaded.Messages, 3)

	// Block order and correlation survive the round trip.
	assistant := loaded.Messages[1]
	require.Len(t, assistant.Content, 2)
	assert.Equal(t, message.BlockText, assistant.Content[0].Type)
	assert.Equal(t, message.BlockToolUse, assistant.Content[1].Type)
	assert.Equal(t, "toolu_1", assistant.Content[1].ID)
	assert.Equal(t, []string{"toolu_1"}, loaded.Messages[2].ToolResultIDs())
}

func TestSaveIsAtomicOverwrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	s := New("gpt-4o", "")
	s.Append(message.UserText("first"))
	require.NoError(t, store.Save(s))

	s.Append(message.AssistantText("second"))
	require.NoError(t, store.Save(s))

	loaded, err := store.Load(s.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 2)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, s.ID+".jsonl", entries[0].Name())
}

func TestListNewestFirstAndDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	a := New("claude-sonnet-4", "")
	a.Append(message.UserText("one"))
	require.NoError(t, store.Save(a))

	b := New("claude-sonnet-4", "")
	b.CreatedAt = a.CreatedAt.Add(1) // force a stable order
	b.Append(message.UserText("two"), message.AssistantText("three"))
	require.NoError(t, store.Save(b))

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, b.ID, infos[0].ID)
	assert.Equal(t, 2, infos[0].Messages)

	require.NoError(t, store.Delete(a.ID))
	infos, err = store.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)

	_, err = store.Load(a.ID)
	require.Error(t, err)
}

func TestListSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jsonl"), []byte("not json"), 0644))

	s := New("gemini-2.0-flash", "")
	require.NoError(t, store.Save(s))

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, s.ID, infos[0].ID)
}
