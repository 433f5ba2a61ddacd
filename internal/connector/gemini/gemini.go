// Package gemini parses Gemini CLI session files: one JSON document per
// session under $GEMINI_HOME (default ~/.gemini/tmp)/<hash>/chats/
// session-*.json, with a flat top-level `messages` array.
package gemini

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentsearch/internal/connector"
	"github.com/fyrsmithlabs/agentsearch/internal/logging"
	"github.com/fyrsmithlabs/agentsearch/internal/model"
)

const slug = "gemini"

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
	if home := os.Getenv("GEMINI_HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gemini", "tmp")
}

// sessionFiles walks root for <hash>/chats/session-*.json files.
func sessionFiles(root string) []string {
	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, "session-") || !strings.HasSuffix(name, ".json") {
			return nil
		}
		if filepath.Base(filepath.Dir(path)) != "chats" {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files
}

func (c *Connector) Detect() connector.DetectionResult {
	root := c.root("")
	if root == "" {
		return connector.NotFound()
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
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
	if _, err := os.Stat(root); err != nil {
		return nil, nil
	}

	var out []model.Conversation
	for _, path := range sessionFiles(root) {
		if !connector.FileModifiedSince(path, sc.SinceTs) {
			continue
		}
		conv, err := parseSessionFile(path)
		if err != nil {
			log.Debug(ctx, "gemini: failed to parse session", zap.Error(err), zap.String("path", path))
			continue
		}
		if conv != nil {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func parseSessionFile(path string) (*model.Conversation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, nil
	}
	root := gjson.ParseBytes(raw)

	messagesArr := root.Get("messages")
	if !messagesArr.IsArray() {
		return nil, nil
	}

	sessionID := root.Get("sessionId").String()
	projectHash := root.Get("projectHash").String()
	var started, ended *int64
	if ts, ok := connector.ParseTimestamp(root.Get("startTime").Value()); ok {
		started = &ts
	}
	if ts, ok := connector.ParseTimestamp(root.Get("lastUpdated").Value()); ok {
		ended = &ts
	}

	var messages []model.Message
	for _, item := range messagesArr.Array() {
		msgType := item.Get("type").String()
		if msgType == "" {
			msgType = "model"
		}
		role := model.Role(msgType)
		if msgType == "model" {
			role = model.RoleAssistant
		}

		var createdAt *int64
		if ts, ok := connector.ParseTimestamp(item.Get("timestamp").Value()); ok {
			createdAt = &ts
			if started == nil {
				started = createdAt
			}
			ended = createdAt
		}

		content := connector.FlattenContent(item.Get("content").Value())
		if strings.TrimSpace(content) == "" {
			continue
		}

		messages = append(messages, model.Message{
			Idx:       len(messages),
			Role:      role,
			CreatedAt: createdAt,
			Content:   content,
		})
	}
	if len(messages) == 0 {
		return nil, nil
	}

	title := firstUserLine(messages)

	externalID := sessionID
	if externalID == "" {
		externalID = strings.TrimSuffix(filepath.Base(path), ".json")
	}

	meta := map[string]any{"source": "gemini"}
	if projectHash != "" {
		meta["project_hash"] = projectHash
	}
	// The session's grandparent directory (<hash>/) is the closest thing
	// Gemini gives us to a project root; the orchestrator resolves this
	// into a workspace.
	if grandparent := filepath.Dir(filepath.Dir(path)); grandparent != "." {
		meta["workspace_path"] = grandparent
	}

	return &model.Conversation{
		AgentSlug:     slug,
		ExternalID:    externalID,
		SourcePath:    path,
		Title:         title,
		StartedAt:     started,
		EndedAt:       ended,
		Metadata:      meta,
		LastSeenMtime: connector.MtimeMillis(path),
		Messages:      messages,
	}, nil
}

func firstUserLine(messages []model.Message) string {
	for _, m := range messages {
		if m.Role == model.RoleUser {
			return firstLine(m.Content, 100)
		}
	}
	if len(messages) > 0 {
		return firstLine(messages[0].Content, 100)
	}
	return ""
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
