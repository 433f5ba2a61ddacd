package amp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeThreadFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseThreadFileBasic(t *testing.T) {
	dir := t.TempDir()
	path := writeThreadFile(t, dir, "thread-1.json", `{
		"id": "thread-1",
		"title": "add a retry policy",
		"messages": [
			{"role": "user", "content": "add a retry policy", "timestamp": 1700000000000},
			{"role": "assistant", "content": "done, with exponential backoff"}
		]
	}`)

	conv, err := parseThreadFile(path)
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "add a retry policy", conv.Title)
	assert.Equal(t, "thread-1", conv.ExternalID)
}

func TestParseThreadFileSkipsSystemMessages(t *testing.T) {
	dir := t.TempDir()
	path := writeThreadFile(t, dir, "thread-2.json", `{
		"messages": [
			{"role": "system", "content": "you are a helpful agent"},
			{"role": "user", "content": "hello"}
		]
	}`)

	conv, err := parseThreadFile(path)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "hello", conv.Messages[0].Content)
}

func TestParseThreadFileDerivesTitleFromFirstMessageWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := writeThreadFile(t, dir, "thread-3.json", `{
		"messages": [{"role": "user", "content": "investigate the flaky deploy\nmore detail here"}]
	}`)

	conv, err := parseThreadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "investigate the flaky deploy", conv.Title)
}

func TestParseThreadFileReturnsNilWithoutMessagesArray(t *testing.T) {
	dir := t.TempDir()
	path := writeThreadFile(t, dir, "thread-4.json", `{"id": "no-messages"}`)

	conv, err := parseThreadFile(path)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestParseThreadFileInvalidJSONReturnsNilNoError(t *testing.T) {
	dir := t.TempDir()
	path := writeThreadFile(t, dir, "thread-5.json", `not json`)

	conv, err := parseThreadFile(path)
	require.NoError(t, err)
	assert.Nil(t, conv)
}
