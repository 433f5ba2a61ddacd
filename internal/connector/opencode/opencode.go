// Package opencode parses OpenCode's hierarchical JSON storage:
//
//	storage/session/{projectID}/{sessionID}.json
//	storage/message/{sessionID}/{messageID}.json
//	storage/part/{messageID}/{partID}.json
//
// A session is metadata only; its messages live in a sibling directory
// keyed by session ID, and each message's actual content is split
// across one-file-per-part, keyed by message ID and sorted by part ID.
package opencode

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentsearch/internal/connector"
	"github.com/fyrsmithlabs/agentsearch/internal/logging"
	"github.com/fyrsmithlabs/agentsearch/internal/model"
)

const slug = "opencode"

func init() {
	connector.Register(New())
}

type Connector struct{}

func New() *Connector { return &Connector{} }

func (c *Connector) Slug() string { return slug }

// Root returns the default discovery root this connector uses when
// no override is configured, for the orchestrator's filesystem watcher.
func (c *Connector) Root() string {
	return c.root("")
}

func (c *Connector) root(dataRoot string) string {
	if dataRoot != "" {
		return dataRoot
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "opencode", "storage")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "opencode", "storage")
}

func (c *Connector) Detect() connector.DetectionResult {
	root := c.root("")
	if root == "" {
		return connector.NotFound()
	}
	sessionDir := filepath.Join(root, "session")
	if info, err := os.Stat(sessionDir); err != nil || !info.IsDir() {
		return connector.NotFound()
	}
	return connector.DetectionResult{Detected: true, Evidence: []string{"found " + root}}
}

func (c *Connector) Scan(ctx context.Context, sc connector.ScanContext) ([]model.Conversation, error) {
	log := logging.FromContext(ctx)
	root := c.root(sc.DataRoot)
	if root == "" {
		return nil, nil
	}
	sessionRoot := filepath.Join(root, "session")
	if _, err := os.Stat(sessionRoot); err != nil {
		return nil, nil
	}

	projectDirs, err := os.ReadDir(sessionRoot)
	if err != nil {
		return nil, nil
	}

	var out []model.Conversation
	for _, pd := range projectDirs {
		if !pd.IsDir() {
			continue
		}
		sessionFiles, err := os.ReadDir(filepath.Join(sessionRoot, pd.Name()))
		if err != nil {
			log.Warn(ctx, "opencode: failed to read session dir", zap.Error(err), zap.String("path", pd.Name()))
			continue
		}
		for _, sf := range sessionFiles {
			if sf.IsDir() || !strings.HasSuffix(sf.Name(), ".json") {
				continue
			}
			path := filepath.Join(sessionRoot, pd.Name(), sf.Name())
			if !connector.FileModifiedSince(path, sc.SinceTs) {
				continue
			}
			conv, err := parseSession(root, path)
			if err != nil {
				log.Debug(ctx, "opencode: failed to parse session", zap.Error(err), zap.String("path", path))
				continue
			}
			if conv != nil {
				out = append(out, *conv)
			}
		}
	}
	return out, nil
}

func parseSession(storageRoot, sessionPath string) (*model.Conversation, error) {
	raw, err := os.ReadFile(sessionPath)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, nil
	}
	session := gjson.ParseBytes(raw)

	sessionID := session.Get("id").String()
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(sessionPath), ".json")
	}
	title := session.Get("title").String()

	var started, ended *int64
	if ts, ok := connector.ParseTimestamp(session.Get("time.created").Value()); ok {
		started = &ts
	}
	if ts, ok := connector.ParseTimestamp(session.Get("time.updated").Value()); ok {
		ended = &ts
	} else {
		ended = started
	}

	messages, err := loadMessages(storageRoot, sessionID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	if title == "" {
		for _, m := range messages {
			if m.Role == model.RoleUser {
				title = firstLine(m.Content, 100)
				break
			}
		}
	}

	meta := map[string]any{"source": "opencode"}
	if directory := session.Get("directory").String(); directory != "" {
		meta["workspace_path"] = directory
	}

	return &model.Conversation{
		AgentSlug:     slug,
		ExternalID:    sessionID,
		SourcePath:    sessionPath,
		Title:         title,
		StartedAt:     started,
		EndedAt:       ended,
		Metadata:      meta,
		LastSeenMtime: connector.MtimeMillis(sessionPath),
		Messages:      messages,
	}, nil
}

func loadMessages(storageRoot, sessionID string) ([]model.Message, error) {
	messageDir := filepath.Join(storageRoot, "message", sessionID)
	entries, err := os.ReadDir(messageDir)
	if err != nil {
		return nil, nil
	}

	type messageMeta struct {
		id        string
		role      model.Role
		createdAt *int64
		author    string
	}
	var metas []messageMeta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(messageDir, e.Name()))
		if err != nil || !gjson.ValidBytes(raw) {
			continue
		}
		m := gjson.ParseBytes(raw)
		roleStr := m.Get("role").String()
		role := model.Role(roleStr)
		switch roleStr {
		case "user":
			role = model.RoleUser
		case "assistant":
			role = model.RoleAssistant
		}
		author := m.Get("modelID").String()
		if author == "" {
			author = m.Get("model").String()
		}
		if author == "" {
			author = m.Get("agent").String()
		}
		var createdAt *int64
		if ts, ok := connector.ParseTimestamp(m.Get("time.created").Value()); ok {
			createdAt = &ts
		}
		metas = append(metas, messageMeta{
			id:        m.Get("id").String(),
			role:      role,
			createdAt: createdAt,
			author:    author,
		})
	}
	sort.Slice(metas, func(i, j int) bool {
		ti, tj := metas[i].createdAt, metas[j].createdAt
		if ti != nil && tj != nil && *ti != *tj {
			return *ti < *tj
		}
		return metas[i].id < metas[j].id
	})

	var out []model.Message
	for _, meta := range metas {
		content := assembleParts(storageRoot, meta.id)
		if strings.TrimSpace(content) == "" {
			continue
		}
		out = append(out, model.Message{
			Idx:       len(out),
			Role:      meta.role,
			Author:    meta.author,
			CreatedAt: meta.createdAt,
			Content:   content,
		})
	}
	return out, nil
}

// assembleParts loads a message's parts, sorted by part ID, and renders
// each by type: text and reasoning parts contribute their raw text;
// tool parts render as a tool call with truncated output; patch parts
// contribute their hash and file parts their path.
func assembleParts(storageRoot, messageID string) string {
	partDir := filepath.Join(storageRoot, "part", messageID)
	entries, err := os.ReadDir(partDir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(partDir, name))
		if err != nil || !gjson.ValidBytes(raw) {
			continue
		}
		p := gjson.ParseBytes(raw)
		switch p.Get("type").String() {
		case "text", "reasoning":
			if t := p.Get("text").String(); t != "" {
				parts = append(parts, t)
			}
		case "tool":
			name := p.Get("tool").String()
			title := p.Get("state.title").String()
			if title == "" {
				title = p.Get("state.input").Raw
			}
			output := p.Get("state.output").String()
			parts = append(parts, connector.RenderToolCall(name, title, output))
		case "patch":
			if hash := p.Get("hash").String(); hash != "" {
				parts = append(parts, "[Patch "+hash+"]")
			}
		case "file":
			if path := p.Get("path").String(); path != "" {
				parts = append(parts, "[File "+path+"]")
			}
		}
	}
	return strings.Join(parts, "\n")
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > max {
		s = s[:max]
	}
	return s
}
