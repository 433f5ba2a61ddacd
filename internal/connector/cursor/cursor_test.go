package cursor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChatFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseChatFileBasic(t *testing.T) {
	dir := t.TempDir()
	path := writeChatFile(t, dir, "chat-1.json", `{
		"id": "chat-1",
		"title": "refactor the parser",
		"workspacePath": "/home/dev/project",
		"messages": [
			{"role": "user", "content": "refactor the parser", "timestamp": 1700000000000},
			{"role": "assistant", "content": "moved tokenizing into its own function"}
		]
	}`)

	conv, err := parseChatFile(path)
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "refactor the parser", conv.Title)
	assert.Equal(t, "/home/dev/project", conv.Metadata["workspace_path"])
}

func TestParseChatFileFallsBackToTypeAndTextFields(t *testing.T) {
	dir := t.TempDir()
	path := writeChatFile(t, dir, "chat-2.json", `{
		"messages": [
			{"type": "user", "text": "what does this function do"},
			{"type": "assistant", "text": "it parses the config file"}
		]
	}`)

	conv, err := parseChatFile(path)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "what does this function do", conv.Messages[0].Content)
}

func TestParseChatFileSkipsSystemMessages(t *testing.T) {
	dir := t.TempDir()
	path := writeChatFile(t, dir, "chat-3.json", `{
		"messages": [
			{"role": "system", "content": "system prompt"},
			{"role": "user", "content": "hi"}
		]
	}`)

	conv, err := parseChatFile(path)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "hi", conv.Messages[0].Content)
}

func TestParseChatFileNoMessagesArrayReturnsNil(t *testing.T) {
	dir := t.TempDir()
	path := writeChatFile(t, dir, "chat-4.json", `{"id": "empty"}`)

	conv, err := parseChatFile(path)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestCandidateRootsIncludesLinuxAndMacPaths(t *testing.T) {
	roots := candidateRoots("/home/dev")
	require.Len(t, roots, 2)
	assert.Contains(t, roots[0], ".config/Cursor")
	assert.Contains(t, roots[1], "Library/Application Support/Cursor")
}
