package gemini

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFilesRequiresChatsDir(t *testing.T) {
	root := t.TempDir()
	chatsDir := filepath.Join(root, "abc123", "chats")
	require.NoError(t, os.MkdirAll(chatsDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(chatsDir, "session-1.json"), []byte("{}"), 0o600))
	// A same-named file outside chats/ must not be picked up.
	require.NoError(t, os.WriteFile(filepath.Join(root, "session-2.json"), []byte("{}"), 0o600))

	files := sessionFiles(root)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(chatsDir, "session-1.json"), files[0])
}

func TestParseSessionFileMapsModelToAssistant(t *testing.T) {
	root := t.TempDir()
	chatsDir := filepath.Join(root, "hash1", "chats")
	require.NoError(t, os.MkdirAll(chatsDir, 0o700))
	path := filepath.Join(chatsDir, "session-abc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"sessionId": "abc",
		"messages": [
			{"type": "user", "content": "hi", "timestamp": 1700000000},
			{"type": "model", "content": "hello there", "timestamp": 1700000010}
		]
	}`), 0o600))

	conv, err := parseSessionFile(path)
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "user", string(conv.Messages[0].Role))
	assert.Equal(t, "assistant", string(conv.Messages[1].Role))
	assert.Equal(t, "hi", conv.Title)
}
