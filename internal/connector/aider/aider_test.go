package aider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSessionFileDropsSystemMessages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"id": "sess1",
		"messages": [
			{"role": "system", "content": "you are a helpful assistant"},
			{"role": "user", "content": "add a test", "timestamp": 1700000000}
		]
	}`), 0o600))

	conv, err := parseSessionFile(path)
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "add a test", conv.Messages[0].Content)
}
