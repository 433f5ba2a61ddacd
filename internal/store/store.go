// Package store is the relational half of the on-disk index: a single
// SQLite file holding workspaces, conversations, messages, and each
// connector's scan watermark. Grounded on the WAL-mode, single-writer
// SQLite pattern used elsewhere in the corpus for local-first agent
// history stores, adapted here to the conversation/message/workspace
// shape this system normalizes every agent into.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/fyrsmithlabs/agentsearch/internal/apperr"
	"github.com/fyrsmithlabs/agentsearch/internal/model"
)

// maxWriteAttempts bounds the retry-with-backoff loop a writer runs
// into when it meets another writer's lock, per spec section 5's
// shared-resource policy.
const maxWriteAttempts = 5

const schemaDDL = `
CREATE TABLE IF NOT EXISTS workspaces (
    id           TEXT PRIMARY KEY,
    path         TEXT NOT NULL UNIQUE,
    display_name TEXT
);

CREATE TABLE IF NOT EXISTS conversations (
    id              TEXT PRIMARY KEY,
    agent_slug      TEXT NOT NULL,
    external_id     TEXT,
    source_path     TEXT NOT NULL,
    title           TEXT,
    workspace_id    TEXT REFERENCES workspaces(id),
    started_at      INTEGER,
    ended_at        INTEGER,
    metadata_json   TEXT,
    last_seen_mtime INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_agent_source
    ON conversations (agent_slug, source_path);
CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_agent_external
    ON conversations (agent_slug, external_id)
    WHERE external_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_conversations_workspace_started
    ON conversations (workspace_id, started_at);

CREATE TABLE IF NOT EXISTS messages (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    idx             INTEGER NOT NULL,
    role            TEXT NOT NULL,
    author          TEXT,
    created_at      INTEGER,
    content         TEXT NOT NULL,
    extra_json      TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_idx
    ON messages (conversation_id, idx);

CREATE TABLE IF NOT EXISTS agent_watermarks (
    agent_slug TEXT PRIMARY KEY,
    since_ts   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);
`

const currentSchemaVersion = 1

// Store is the relational store's connection pair: one serialized
// writer, many concurrent readers.
type Store struct {
	writer *sql.DB
	reader *sql.DB
}

// Open opens (or creates) the store at path and runs migrations. The
// writer and reader are separate connection pools on path, so ":memory:"
// gives each its own empty database and is not usable as a store.
func Open(path string) (*Store, error) {
	writerDSN := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreWrite, "store.open", "failed to open relational store", err)
	}
	writer.SetMaxOpenConns(1)

	readerDSN := path + "?_pragma=journal_mode(WAL)&mode=ro&_pragma=busy_timeout(5000)"
	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		_ = writer.Close()
		return nil, apperr.Wrap(apperr.KindStoreWrite, "store.open", "failed to open read pool", err)
	}

	s := &Store{writer: writer, reader: reader}
	if err := s.migrate(); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.writer.Exec(schemaDDL); err != nil {
		return apperr.Wrap(apperr.KindStoreWrite, "store.migrate", "failed to apply schema", err)
	}
	var count int
	if err := s.writer.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return apperr.Wrap(apperr.KindStoreWrite, "store.migrate", "failed to read schema_version", err)
	}
	if count == 0 {
		if _, err := s.writer.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
			return apperr.Wrap(apperr.KindStoreWrite, "store.migrate", "failed to stamp schema_version", err)
		}
	}
	return nil
}

// Close releases both connection pools.
func (s *Store) Close() error {
	err1 := s.writer.Close()
	err2 := s.reader.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// withWriteRetry runs fn against the writer connection, retrying with
// linear backoff on a busy/locked error up to maxWriteAttempts times.
func withWriteRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isBusyErr(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	return apperr.Wrap(apperr.KindStoreWrite, "store.write_retry", "relational store write lock never cleared", lastErr)
}

func isBusyErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// UpsertConversation atomically replaces a conversation row and its
// full message set: insert-or-replace the conversation, delete all
// existing messages for it, insert the new ones. Readers never observe
// a conversation with a partial message set because the whole
// operation runs inside one transaction.
func (s *Store) UpsertConversation(ctx context.Context, workspaceID string, c model.Conversation) error {
	metaJSON, err := marshalJSON(c.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.KindStoreWrite, "store.upsert_conversation", "failed to marshal metadata", err)
	}

	return withWriteRetry(ctx, func() error {
		tx, err := s.writer.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var wsID any
		if workspaceID != "" {
			wsID = workspaceID
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversations (id, agent_slug, external_id, source_path, title, workspace_id, started_at, ended_at, metadata_json, last_seen_mtime)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				agent_slug=excluded.agent_slug, external_id=excluded.external_id,
				source_path=excluded.source_path, title=excluded.title,
				workspace_id=excluded.workspace_id, started_at=excluded.started_at,
				ended_at=excluded.ended_at, metadata_json=excluded.metadata_json,
				last_seen_mtime=excluded.last_seen_mtime
		`, c.ID, c.AgentSlug, nullableString(c.ExternalID), c.SourcePath, nullableString(c.Title),
			wsID, c.StartedAt, c.EndedAt, metaJSON, c.LastSeenMtime)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, c.ID); err != nil {
			return err
		}

		for _, m := range c.Messages {
			extraJSON, err := marshalJSON(m.Extra)
			if err != nil {
				return err
			}
			id := m.ID
			if id == "" {
				id = fmt.Sprintf("%s:%d", c.ID, m.Idx)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO messages (id, conversation_id, idx, role, author, created_at, content, extra_json)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, id, c.ID, m.Idx, string(m.Role), nullableString(m.Author), m.CreatedAt, m.Content, extraJSON); err != nil {
				return err
			}
		}

		return tx.Commit()
	})
}

// DeleteConversation removes a conversation and, via the foreign key
// cascade, its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return withWriteRetry(ctx, func() error {
		_, err := s.writer.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
		return err
	})
}

// EnsureWorkspace inserts a workspace row if one with this path doesn't
// already exist, returning its ID either way.
func (s *Store) EnsureWorkspace(ctx context.Context, ws model.Workspace) (string, error) {
	var id string
	err := withWriteRetry(ctx, func() error {
		_, err := s.writer.ExecContext(ctx, `
			INSERT INTO workspaces (id, path, display_name) VALUES (?, ?, ?)
			ON CONFLICT(path) DO NOTHING
		`, ws.ID, ws.Path, nullableString(ws.DisplayName))
		if err != nil {
			return err
		}
		return s.writer.QueryRowContext(ctx, `SELECT id FROM workspaces WHERE path = ?`, ws.Path).Scan(&id)
	})
	return id, err
}

// Workspace loads a workspace by id.
func (s *Store) Workspace(ctx context.Context, id string) (*model.Workspace, error) {
	var w model.Workspace
	var displayName sql.NullString
	err := s.reader.QueryRowContext(ctx, `SELECT id, path, display_name FROM workspaces WHERE id = ?`, id).
		Scan(&w.ID, &w.Path, &displayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreWrite, "store.workspace", "failed to load workspace", err)
	}
	w.DisplayName = displayName.String
	return &w, nil
}

// WorkspaceByPath loads a workspace by its exact path.
func (s *Store) WorkspaceByPath(ctx context.Context, path string) (*model.Workspace, error) {
	var w model.Workspace
	var displayName sql.NullString
	err := s.reader.QueryRowContext(ctx, `SELECT id, path, display_name FROM workspaces WHERE path = ?`, path).
		Scan(&w.ID, &w.Path, &displayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreWrite, "store.workspace_by_path", "failed to load workspace", err)
	}
	w.DisplayName = displayName.String
	return &w, nil
}

// ListWorkspaces returns every known workspace.
func (s *Store) ListWorkspaces(ctx context.Context) ([]*model.Workspace, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT id, path, display_name FROM workspaces`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreWrite, "store.list_workspaces", "failed to list workspaces", err)
	}
	defer rows.Close()
	var out []*model.Workspace
	for rows.Next() {
		var w model.Workspace
		var displayName sql.NullString
		if err := rows.Scan(&w.ID, &w.Path, &displayName); err != nil {
			return nil, apperr.Wrap(apperr.KindStoreWrite, "store.list_workspaces", "failed to scan workspace", err)
		}
		w.DisplayName = displayName.String
		out = append(out, &w)
	}
	return out, rows.Err()
}

// Watermark returns the stored since_ts for slug, or 0 if none exists.
func (s *Store) Watermark(ctx context.Context, slug string) (int64, error) {
	var ts int64
	err := s.reader.QueryRowContext(ctx, `SELECT since_ts FROM agent_watermarks WHERE agent_slug = ?`, slug).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStoreWrite, "store.watermark", "failed to read watermark", err)
	}
	return ts, nil
}

// SetWatermark advances slug's watermark to ts, never backward.
func (s *Store) SetWatermark(ctx context.Context, slug string, ts int64) error {
	return withWriteRetry(ctx, func() error {
		_, err := s.writer.ExecContext(ctx, `
			INSERT INTO agent_watermarks (agent_slug, since_ts) VALUES (?, ?)
			ON CONFLICT(agent_slug) DO UPDATE SET since_ts = MAX(since_ts, excluded.since_ts)
		`, slug, ts)
		return err
	})
}

// ListConversationsForWorkspace returns (conversation, message_count)
// pairs sorted by started_at descending (nulls last), optionally
// filtered to a workspace path prefix.
func (s *Store) ListConversationsForWorkspace(ctx context.Context, workspacePrefix string, limit, offset int) ([]model.ConversationWithCount, error) {
	query := `
		SELECT c.id, c.agent_slug, c.external_id, c.source_path, c.title, COALESCE(w.path, ''),
		       c.started_at, c.ended_at, c.metadata_json, c.last_seen_mtime,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		LEFT JOIN workspaces w ON w.id = c.workspace_id
	`
	args := []any{}
	if workspacePrefix != "" {
		query += ` WHERE w.path LIKE ? `
		args = append(args, workspacePrefix+"%")
	}
	query += ` ORDER BY (c.started_at IS NULL), c.started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreWrite, "store.list_conversations", "failed to list conversations", err)
	}
	defer rows.Close()

	var out []model.ConversationWithCount
	for rows.Next() {
		var c model.Conversation
		var metaJSON sql.NullString
		var workspacePath string
		var externalID, title sql.NullString
		var count int
		if err := rows.Scan(&c.ID, &c.AgentSlug, &externalID, &c.SourcePath, &title, &workspacePath,
			&c.StartedAt, &c.EndedAt, &metaJSON, &c.LastSeenMtime, &count); err != nil {
			return nil, apperr.Wrap(apperr.KindStoreWrite, "store.list_conversations", "failed to scan row", err)
		}
		c.ExternalID = externalID.String
		c.Title = title.String
		c.WorkspaceRef = workspacePath
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &c.Metadata)
		}
		out = append(out, model.ConversationWithCount{Conversation: c, MessageCount: count})
	}
	return out, rows.Err()
}

// ConversationByID loads one conversation with its full message list.
func (s *Store) ConversationByID(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	var metaJSON sql.NullString
	var externalID, title, workspacePath sql.NullString
	err := s.reader.QueryRowContext(ctx, `
		SELECT c.id, c.agent_slug, c.external_id, c.source_path, c.title, COALESCE(w.path, ''),
		       c.started_at, c.ended_at, c.metadata_json, c.last_seen_mtime
		FROM conversations c
		LEFT JOIN workspaces w ON w.id = c.workspace_id
		WHERE c.id = ?
	`, id).Scan(&c.ID, &c.AgentSlug, &externalID, &c.SourcePath, &title, &workspacePath,
		&c.StartedAt, &c.EndedAt, &metaJSON, &c.LastSeenMtime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreWrite, "store.conversation_by_id", "failed to load conversation", err)
	}
	c.ExternalID = externalID.String
	c.Title = title.String
	c.WorkspaceRef = workspacePath.String
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &c.Metadata)
	}

	rows, err := s.reader.QueryContext(ctx, `
		SELECT idx, role, author, created_at, content, extra_json FROM messages
		WHERE conversation_id = ? ORDER BY idx ASC
	`, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreWrite, "store.conversation_by_id", "failed to load messages", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m model.Message
		var author sql.NullString
		var extraJSON sql.NullString
		var role string
		if err := rows.Scan(&m.Idx, &role, &author, &m.CreatedAt, &m.Content, &extraJSON); err != nil {
			return nil, apperr.Wrap(apperr.KindStoreWrite, "store.conversation_by_id", "failed to scan message", err)
		}
		m.Role = model.Role(role)
		m.Author = author.String
		if extraJSON.Valid && extraJSON.String != "" {
			_ = json.Unmarshal([]byte(extraJSON.String), &m.Extra)
		}
		c.Messages = append(c.Messages, m)
	}
	return &c, rows.Err()
}

func marshalJSON(v map[string]any) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
