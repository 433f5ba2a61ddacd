package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentsearch/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := t.TempDir() + "/test.db"
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertConversationReplacesMessageSetAtomically(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	conv := model.Conversation{
		ID:         "conv1",
		AgentSlug:  "claude_code",
		ExternalID: "sess1",
		SourcePath: "/tmp/sess1.jsonl",
		Messages: []model.Message{
			{Idx: 0, Role: model.RoleUser, Content: "hello"},
			{Idx: 1, Role: model.RoleAssistant, Content: "hi there"},
		},
	}
	require.NoError(t, s.UpsertConversation(ctx, "", conv))

	loaded, err := s.ConversationByID(ctx, "conv1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Messages, 2)

	// Re-upsert with fewer messages; the old set must be fully replaced.
	conv.Messages = []model.Message{{Idx: 0, Role: model.RoleUser, Content: "only one now"}}
	require.NoError(t, s.UpsertConversation(ctx, "", conv))

	loaded, err = s.ConversationByID(ctx, "conv1")
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "only one now", loaded.Messages[0].Content)
}

func TestWatermarkNeverGoesBackward(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SetWatermark(ctx, "codex", 100))
	require.NoError(t, s.SetWatermark(ctx, "codex", 50))

	ts, err := s.Watermark(ctx, "codex")
	require.NoError(t, err)
	assert.Equal(t, int64(100), ts)
}

func TestListConversationsForWorkspaceFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	wsID, err := s.EnsureWorkspace(ctx, model.Workspace{ID: "ws1", Path: "/home/me/project-a"})
	require.NoError(t, err)

	started := int64(1700000000000)
	require.NoError(t, s.UpsertConversation(ctx, wsID, model.Conversation{
		ID: "c1", AgentSlug: "codex", SourcePath: "/a", StartedAt: &started,
		Messages: []model.Message{{Idx: 0, Role: model.RoleUser, Content: "hi"}},
	}))
	require.NoError(t, s.UpsertConversation(ctx, "", model.Conversation{
		ID: "c2", AgentSlug: "codex", SourcePath: "/b",
		Messages: []model.Message{{Idx: 0, Role: model.RoleUser, Content: "hi"}},
	}))

	results, err := s.ListConversationsForWorkspace(ctx, "/home/me", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Conversation.ID)
	assert.Equal(t, 1, results[0].MessageCount)
}
