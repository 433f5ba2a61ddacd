// Package model defines the normalized record types shared by every
// connector, the relational store, and the full-text index. Types here
// carry no behavior beyond value semantics and JSON round-tripping; the
// packages that produce and consume them own the actual logic.
package model

// SchemaVersion is stamped onto every serialized record so that older
// readers can detect a format they don't understand instead of silently
// misreading it.
const SchemaVersion = 1

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
	RoleOther     Role = "other"
)

// Workspace is a directory associated with one or more conversations.
type Workspace struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	DisplayName string `json:"display_name,omitempty"`
}

// Conversation is one session with one agent.
type Conversation struct {
	ID           string         `json:"id"`
	AgentSlug    string         `json:"agent_slug"`
	ExternalID   string         `json:"external_id,omitempty"`
	SourcePath   string         `json:"source_path"`
	Title        string         `json:"title,omitempty"`
	WorkspaceRef string         `json:"workspace_ref,omitempty"`
	StartedAt    *int64         `json:"started_at,omitempty"`
	EndedAt      *int64         `json:"ended_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	// LastSeenMtime is the source file's mtime (ms) at the time this
	// conversation was last upserted. Used by the orchestrator to compute
	// the next watermark.
	LastSeenMtime int64 `json:"last_seen_mtime"`

	Messages []Message `json:"messages"`
}

// Message is one turn in a Conversation.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Idx       int            `json:"idx"`
	Role      Role           `json:"role"`
	Author    string         `json:"author,omitempty"`
	CreatedAt *int64         `json:"created_at,omitempty"`
	Content   string         `json:"content"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// ConversationWithCount pairs a conversation with its message count,
// the shape returned by workspace listings so callers don't need a
// second round trip to learn how large a conversation is.
type ConversationWithCount struct {
	Conversation Conversation `json:"conversation"`
	MessageCount int          `json:"message_count"`
}

// IndexDocument is one full-text record per message: the normalized
// record spec section 6 describes as stable over time. SchemaVersion
// is stamped by the writer so a future reader can detect a document
// shape it doesn't understand instead of silently misreading it.
type IndexDocument struct {
	SchemaVersion  int    `json:"schema_version"`
	ConversationID string `json:"conversation_id"`
	Idx            int    `json:"idx"`
	AgentSlug      string `json:"agent"`
	Workspace      string `json:"workspace,omitempty"`
	Role           Role   `json:"role"`
	Author         string `json:"author,omitempty"`
	CreatedAt      *int64 `json:"created_at,omitempty"`
	Content        string `json:"content"`
	Title          string `json:"title,omitempty"`
}

// Hit is one scored match returned by a search.
type Hit struct {
	ConversationID string `json:"conversation_id"`
	Idx            int    `json:"idx"`
	AgentSlug      string `json:"agent"`
	Workspace      string `json:"workspace,omitempty"`
	Role           Role   `json:"role"`
	Score          float64 `json:"score"`
	Snippet        string `json:"snippet"`
	CreatedAt      *int64 `json:"created_at,omitempty"`
	Title          string `json:"title,omitempty"`
}

// ScanWatermark is the per-agent last-successful-scan timestamp.
type ScanWatermark struct {
	AgentSlug string `json:"agent_slug"`
	SinceTs   int64  `json:"since_ts"`
}
