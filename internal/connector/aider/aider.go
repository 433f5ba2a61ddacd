// Package aider parses Aider chat session exports: one JSON document
// per session under $CASS_AIDER_DATA_ROOT (or ~/.aider/chats by
// default), each a flat object with a top-level messages array. Aider
// itself writes a per-project markdown transcript
// (.aider.chat.history.md); this connector targets the JSON session
// export shape shared by the other single-root connectors, per
// spec.md's "similar discipline" note for the well-known-path agents.
package aider

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentsearch/internal/connector"
	"github.com/fyrsmithlabs/agentsearch/internal/logging"
	"github.com/fyrsmithlabs/agentsearch/internal/model"
)

const slug = "aider"

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
	if root := os.Getenv("CASS_AIDER_DATA_ROOT"); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aider", "chats")
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
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil
	}

	var out []model.Conversation
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(root, e.Name())
		if !connector.FileModifiedSince(path, sc.SinceTs) {
			continue
		}
		conv, err := parseSessionFile(path)
		if err != nil {
			log.Debug(ctx, "aider: failed to parse session file", zap.Error(err), zap.String("path", path))
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

	msgsArr := root.Get("messages")
	if !msgsArr.IsArray() {
		return nil, nil
	}

	var messages []model.Message
	for _, item := range msgsArr.Array() {
		roleStr := item.Get("role").String()
		if roleStr == "system" {
			continue
		}
		role := model.Role(roleStr)
		content := item.Get("content").String()
		if strings.TrimSpace(content) == "" {
			continue
		}
		var createdAt *int64
		if ts, ok := connector.ParseTimestamp(item.Get("timestamp").Value()); ok {
			createdAt = &ts
		}
		messages = append(messages, model.Message{Idx: len(messages), Role: role, CreatedAt: createdAt, Content: content})
	}
	if len(messages) == 0 {
		return nil, nil
	}

	externalID := root.Get("id").String()
	if externalID == "" {
		externalID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	title := root.Get("title").String()
	if title == "" {
		title = firstLine(messages[0].Content, 100)
	}

	return &model.Conversation{
		AgentSlug:     slug,
		ExternalID:    externalID,
		SourcePath:    path,
		Title:         title,
		StartedAt:     messages[0].CreatedAt,
		EndedAt:       messages[len(messages)-1].CreatedAt,
		Metadata:      map[string]any{"source": "aider"},
		LastSeenMtime: connector.MtimeMillis(path),
		Messages:      messages,
	}, nil
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
