// Package cursor parses Cursor chat export files: one JSON document per
// chat under the editor's globalStorage cursor-chats directory, each a
// flat object with a top-level messages array. Per spec.md's "similar
// discipline" note, this follows the same single-root,
// one-JSON-file-per-session shape as aider and amp.
package cursor

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

const slug = "cursor"

func init() {
	connector.Register(New())
}

type Connector struct{}

func New() *Connector { return &Connector{} }

func (c *Connector) Slug() string { return slug }

func candidateRoots(home string) []string {
	return []string{
		filepath.Join(home, ".config", "Cursor", "User", "globalStorage", "cursor-chats"),
		filepath.Join(home, "Library", "Application Support", "Cursor", "User", "globalStorage", "cursor-chats"),
	}
}

// Root returns the default discovery root this connector uses when
// no override is configured, for the orchestrator's filesystem watcher.
func (c *Connector) Root() string {
	return c.root("")
}

func (c *Connector) root(dataRoot string) string {
	if dataRoot != "" {
		return dataRoot
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, candidate := range candidateRoots(home) {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return ""
}

func (c *Connector) Detect() connector.DetectionResult {
	root := c.root("")
	if root == "" {
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
		conv, err := parseChatFile(path)
		if err != nil {
			log.Debug(ctx, "cursor: failed to parse chat file", zap.Error(err), zap.String("path", path))
			continue
		}
		if conv != nil {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func parseChatFile(path string) (*model.Conversation, error) {
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
		if roleStr == "" {
			roleStr = item.Get("type").String()
		}
		if roleStr == "system" {
			continue
		}
		role := model.Role(roleStr)
		content := connector.FlattenContent(item.Get("content").Value())
		if strings.TrimSpace(content) == "" {
			content = item.Get("text").String()
		}
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

	meta := map[string]any{"source": "cursor"}
	if ws := root.Get("workspacePath").String(); ws != "" {
		meta["workspace_path"] = ws
	}

	return &model.Conversation{
		AgentSlug:     slug,
		ExternalID:    externalID,
		SourcePath:    path,
		Title:         title,
		StartedAt:     messages[0].CreatedAt,
		EndedAt:       messages[len(messages)-1].CreatedAt,
		Metadata:      meta,
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
