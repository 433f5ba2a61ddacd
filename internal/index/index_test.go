package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentsearch/internal/model"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestAddConversationThenSearchMatchesContentAndTitle(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)

	conv := model.Conversation{
		ID:        "c1",
		AgentSlug: "codex",
		Title:     "Refactor the parser",
		Messages: []model.Message{
			{Idx: 0, Role: model.RoleUser, Content: "please refactor the tokenizer"},
			{Idx: 1, Role: model.RoleAssistant, Content: "done, tests pass"},
		},
	}
	require.NoError(t, ix.AddConversation(ctx, conv, "/home/me/proj"))

	hits, err := ix.Search(ctx, "refactor", Filters{}, 10, 0)
	require.NoError(t, err)
	// Message 0 matches in content and title; message 1 through the title only.
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ConversationID)
	assert.Equal(t, 0, hits[0].Idx)
	assert.Contains(t, hits[0].Snippet, "tokenizer")
	assert.Equal(t, 1, hits[1].Idx)
}

func TestAddConversationStampsSchemaVersion(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)

	conv := model.Conversation{
		ID:        "c1",
		AgentSlug: "codex",
		Messages:  []model.Message{{Idx: 0, Role: model.RoleUser, Content: "hello"}},
	}
	require.NoError(t, ix.AddConversation(ctx, conv, ""))

	doc, ok, err := ix.loadDoc(docRef{convID: "c1", idx: 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.SchemaVersion, doc.SchemaVersion)
}

func TestSearchIsConjunctiveAcrossTerms(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)

	require.NoError(t, ix.AddConversation(ctx, model.Conversation{
		ID: "c1", AgentSlug: "codex",
		Messages: []model.Message{{Idx: 0, Role: model.RoleUser, Content: "alpha beta"}},
	}, ""))
	require.NoError(t, ix.AddConversation(ctx, model.Conversation{
		ID: "c2", AgentSlug: "codex",
		Messages: []model.Message{{Idx: 0, Role: model.RoleUser, Content: "alpha only"}},
	}, ""))

	hits, err := ix.Search(ctx, "alpha beta", Filters{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ConversationID)
}

func TestSearchPrefixWildcard(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)

	require.NoError(t, ix.AddConversation(ctx, model.Conversation{
		ID: "c1", AgentSlug: "codex",
		Messages: []model.Message{{Idx: 0, Role: model.RoleUser, Content: "tokenization is tricky"}},
	}, ""))

	hits, err := ix.Search(ctx, "token*", Filters{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestSearchQuotedPhraseRejectsIndependentWordMatches(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)

	require.NoError(t, ix.AddConversation(ctx, model.Conversation{
		ID: "c1", AgentSlug: "codex",
		Messages: []model.Message{{Idx: 0, Role: model.RoleUser, Content: "the build is green today"}},
	}, ""))
	require.NoError(t, ix.AddConversation(ctx, model.Conversation{
		ID: "c2", AgentSlug: "codex",
		Messages: []model.Message{{Idx: 0, Role: model.RoleUser, Content: "green light, build it"}},
	}, ""))

	hits, err := ix.Search(ctx, `"build is green"`, Filters{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ConversationID)
}

func TestSearchFiltersByAgentAndWorkspacePrefix(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)

	require.NoError(t, ix.AddConversation(ctx, model.Conversation{
		ID: "c1", AgentSlug: "codex",
		Messages: []model.Message{{Idx: 0, Role: model.RoleUser, Content: "hello world"}},
	}, "/home/me/project-a"))
	require.NoError(t, ix.AddConversation(ctx, model.Conversation{
		ID: "c2", AgentSlug: "claude_code",
		Messages: []model.Message{{Idx: 0, Role: model.RoleUser, Content: "hello world"}},
	}, "/home/me/project-b"))

	hits, err := ix.Search(ctx, "hello", Filters{Agents: []string{"codex"}}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ConversationID)

	hits, err = ix.Search(ctx, "hello", Filters{WorkspacePrefix: "/home/me/project-b"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c2", hits[0].ConversationID)
}

func TestAddConversationReplacesExistingDocuments(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)

	require.NoError(t, ix.AddConversation(ctx, model.Conversation{
		ID: "c1", AgentSlug: "codex",
		Messages: []model.Message{
			{Idx: 0, Role: model.RoleUser, Content: "first version of this message"},
			{Idx: 1, Role: model.RoleAssistant, Content: "second line here too"},
		},
	}, ""))

	require.NoError(t, ix.AddConversation(ctx, model.Conversation{
		ID: "c1", AgentSlug: "codex",
		Messages: []model.Message{
			{Idx: 0, Role: model.RoleUser, Content: "only one message remains"},
		},
	}, ""))

	hits, err := ix.Search(ctx, "first", Filters{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 0)

	hits, err = ix.Search(ctx, "remains", Filters{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestSearchEmptyQueryMatchesAllWithinFilters(t *testing.T) {
	ctx := context.Background()
	ix := openTestIndex(t)

	require.NoError(t, ix.AddConversation(ctx, model.Conversation{
		ID: "c1", AgentSlug: "codex",
		Messages: []model.Message{{Idx: 0, Role: model.RoleUser, Content: "one"}},
	}, ""))
	require.NoError(t, ix.AddConversation(ctx, model.Conversation{
		ID: "c2", AgentSlug: "codex",
		Messages: []model.Message{{Idx: 0, Role: model.RoleUser, Content: "two"}},
	}, ""))

	hits, err := ix.Search(ctx, "", Filters{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "123"}, Tokenize("Hello, World! 123"))
}
