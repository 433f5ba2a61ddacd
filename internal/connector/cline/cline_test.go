package cline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTaskPrefersUIMessagesOverAPIHistory(t *testing.T) {
	taskDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, "ui_messages.json"), []byte(`[
		{"say": "user_feedback", "text": "Hello Cline", "ts": 1700000000000},
		{"say": "text", "text": "Sure, I can help.", "ts": 1700000010000}
	]`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, "api_conversation_history.json"), []byte(`[
		{"role": "user", "content": "Hello Cline"}
	]`), 0o600))

	conv, err := parseTask(taskDir, "task-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 2)
	assert.Contains(t, conv.Messages[0].Content, "Hello Cline")
	assert.Equal(t, "Hello Cline", conv.Title)
}

func TestParseTaskFallsBackToAPIHistory(t *testing.T) {
	taskDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, "api_conversation_history.json"), []byte(`[
		{"role": "user", "content": "just the api log"}
	]`), 0o600))

	conv, err := parseTask(taskDir, "task-2")
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "just the api log", conv.Messages[0].Content)
}
