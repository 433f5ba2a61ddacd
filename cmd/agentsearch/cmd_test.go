package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentsearch/internal/apperr"
	"github.com/fyrsmithlabs/agentsearch/internal/model"
	"github.com/fyrsmithlabs/agentsearch/internal/query"
)

func resetSearchFlags() {
	flagAgents = nil
	flagWorkspace = ""
	flagRole = ""
	flagSince = ""
	flagUntil = ""
	flagLimit = 20
	flagOffset = 0
	flagRobot = false
}

func TestBuildFiltersParsesTimestamps(t *testing.T) {
	resetSearchFlags()
	t.Cleanup(resetSearchFlags)

	flagSince = "2023-11-14T00:00:00Z"
	flagUntil = "2023-11-15T00:00:00Z"
	flagAgents = []string{"codex", "claude_code"}
	flagWorkspace = "/home/dev"
	flagRole = "user"

	f, err := buildFilters()
	require.NoError(t, err)
	require.NotNil(t, f.CreatedAfter)
	require.NotNil(t, f.CreatedBefore)
	assert.Less(t, *f.CreatedAfter, *f.CreatedBefore)
	assert.Equal(t, []string{"codex", "claude_code"}, f.Agents)
	assert.Equal(t, "/home/dev", f.WorkspacePrefix)
	assert.Equal(t, "user", f.Role)
}

func TestBuildFiltersRejectsMalformedSince(t *testing.T) {
	resetSearchFlags()
	t.Cleanup(resetSearchFlags)

	flagSince = "not-a-timestamp"
	_, err := buildFilters()
	require.Error(t, err)
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, apperr.KindQuerySyntax, ae.Kind)
}

func TestPrintRobotOutputEmitsSpecShapedJSON(t *testing.T) {
	resetSearchFlags()
	t.Cleanup(resetSearchFlags)
	flagLimit = 20
	flagOffset = 0

	ts := int64(1700000000000)
	results := []query.Result{
		{
			Conversation: &model.Conversation{ID: "c1", Title: "investigate latency"},
			Hits: []model.Hit{
				{ConversationID: "c1", Idx: 0, AgentSlug: "codex", Role: model.RoleUser, Score: 3.5, Snippet: "...latency...", CreatedAt: &ts, Title: "investigate latency"},
			},
		},
	}

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, printRobotOutput(cmd, results))

	var decoded robotOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded.Hits, 1)
	assert.Equal(t, "c1", decoded.Hits[0].ConversationID)
	assert.Equal(t, "codex", decoded.Hits[0].Agent)
	assert.Equal(t, 1, decoded.Total)
	assert.Equal(t, 20, decoded.Limit)
}

func TestPrintHumanResultsHandlesNoMatches(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	printHumanResults(cmd, nil)
	assert.Contains(t, out.String(), "no matches")
}

func TestRoleLabelFallsBackOnEmptyRole(t *testing.T) {
	assert.Equal(t, "?", roleLabel(model.Role("")))
	assert.Equal(t, "user", roleLabel(model.RoleUser))
}

func TestEmitFailureWrapsPlainErrorsAsConfigKind(t *testing.T) {
	// emitFailure writes to os.Stderr directly; we only verify it does not
	// panic on a non-apperr error and that apperr.New produces the
	// expected envelope shape it falls back to.
	plain := errors.New("boom")
	ae := apperr.New(apperr.KindConfig, "cli.unexpected", plain.Error())
	b, err := json.Marshal(ae)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"config"`)
	assert.Contains(t, string(b), "boom")

	assert.NotPanics(t, func() { emitFailure(plain) })
}

func TestSignalContextCancelable(t *testing.T) {
	ctx, cancel := signalContext()
	defer cancel()
	select {
	case <-ctx.Done():
		t.Fatal("context should not be done immediately")
	case <-time.After(10 * time.Millisecond):
	}
}
