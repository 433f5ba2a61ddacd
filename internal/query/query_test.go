package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentsearch/internal/index"
	"github.com/fyrsmithlabs/agentsearch/internal/model"
	"github.com/fyrsmithlabs/agentsearch/internal/store"
)

func TestSearchGroupsHitsByConversationAndResolvesRecord(t *testing.T) {
	ctx := context.Background()

	st, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ix, err := index.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })

	conv := model.Conversation{
		ID: "c1", AgentSlug: "codex", SourcePath: "/a", Title: "rate limiting chat",
		Messages: []model.Message{
			{Idx: 0, Role: model.RoleUser, Content: "hello"},
			{Idx: 1, Role: model.RoleUser, Content: "rate limiting is tricky"},
		},
	}
	require.NoError(t, st.UpsertConversation(ctx, "", conv))
	require.NoError(t, ix.AddConversation(ctx, conv, ""))

	svc := New(ix, st)
	results, err := svc.Search(ctx, "  rate   limiting  ", index.Filters{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Conversation.ID)
	// Both messages match through the title; message 1 also matches in
	// content, so it ranks first.
	require.Len(t, results[0].Hits, 2)
	assert.Equal(t, 1, results[0].Hits[0].Idx)
	assert.Equal(t, 0, results[0].Hits[1].Idx)
}

func TestNormalizeQueryCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "rate limiting", normalizeQuery("  rate   limiting  "))
	assert.Equal(t, "", normalizeQuery("   "))
}
