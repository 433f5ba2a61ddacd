package claudecode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSessionFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseSessionFileLinearHistory(t *testing.T) {
	dir := t.TempDir()
	path := writeSessionFile(t, dir, "sess-1.jsonl", `
{"type":"user","uuid":"a","sessionId":"sess-1","timestamp":"2023-11-14T22:13:20Z","message":{"content":"how do I add a ring buffer"}}
{"type":"assistant","uuid":"b","parentUuid":"a","message":{"content":"use a slice with head/tail indices"}}
`)

	convs, err := parseSessionFile(path)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 2)
	assert.Equal(t, "how do I add a ring buffer", convs[0].Title)
	assert.Equal(t, "sess-1", convs[0].ExternalID)
}

func TestParseSessionFileSplitsDivergentForks(t *testing.T) {
	dir := t.TempDir()
	// root -> a, then a forks into b, c, d, e (4 leaves > forkThreshold)
	path := writeSessionFile(t, dir, "sess-2.jsonl", `
{"type":"user","uuid":"root","sessionId":"sess-2","message":{"content":"start"}}
{"type":"assistant","uuid":"a","parentUuid":"root","message":{"content":"reply a"}}
{"type":"assistant","uuid":"b","parentUuid":"a","message":{"content":"branch b"}}
{"type":"assistant","uuid":"c","parentUuid":"a","message":{"content":"branch c"}}
{"type":"assistant","uuid":"d","parentUuid":"a","message":{"content":"branch d"}}
{"type":"assistant","uuid":"e","parentUuid":"a","message":{"content":"branch e"}}
`)

	convs, err := parseSessionFile(path)
	require.NoError(t, err)
	assert.Greater(t, len(convs), 1, "expected fork split into multiple conversations")
	for i, c := range convs {
		assert.Contains(t, c.ExternalID, "sess-2")
		if i > 0 {
			assert.Contains(t, c.ExternalID, "#")
		}
	}
}

func TestParseSessionFileSkipsEmptyAndNonMessageLines(t *testing.T) {
	dir := t.TempDir()
	path := writeSessionFile(t, dir, "sess-3.jsonl", `
{"type":"summary","summary":"ignored"}

{"type":"user","uuid":"a","sessionId":"sess-3","message":{"content":"hello"}}
`)

	convs, err := parseSessionFile(path)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 1)
	assert.Equal(t, "hello", convs[0].Messages[0].Content)
}

func TestExtractBlocksRendersToolUseAndResult(t *testing.T) {
	line := []byte(`{"type":"assistant","uuid":"a","message":{"content":[
		{"type":"tool_use","name":"Bash","input":"ls -la"},
		{"type":"tool_result","content":"total 0"}
	]}}`)
	e, ok := parseLine(line, "assistant")
	require.True(t, ok)
	assert.Contains(t, e.content, "[Tool: Bash] ls -la")
	assert.Contains(t, e.content, "total 0")
}

func TestSplitIntoBranchesReturnsSingleBranchWhenNoFork(t *testing.T) {
	entries := []entry{
		{uuid: "a", content: "1"},
		{uuid: "b", parentUUID: "a", content: "2"},
	}
	branches := splitIntoBranches(entries)
	require.Len(t, branches, 1)
	assert.Len(t, branches[0], 2)
}
