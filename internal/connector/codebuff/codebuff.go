// Package codebuff parses Codebuff (manicode) chat sessions stored
// under ~/.config/manicode/projects/{project}/chats/{timestamp}/
// chat-messages.json, a flat JSON array of messages whose content can
// be split across a top-level content field and a recursive blocks
// array (text, tool, nested agent blocks).
package codebuff

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentsearch/internal/connector"
	"github.com/fyrsmithlabs/agentsearch/internal/logging"
	"github.com/fyrsmithlabs/agentsearch/internal/model"
)

const slug = "codebuff"

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
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "manicode", "projects")
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

	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if d.Name() == "chat-messages.json" {
			files = append(files, path)
		}
		return nil
	})

	seen := map[string]bool{}
	var out []model.Conversation
	for _, path := range files {
		if !connector.FileModifiedSince(path, sc.SinceTs) {
			continue
		}
		conv, err := parseChatFile(path)
		if err != nil {
			log.Debug(ctx, "codebuff: failed to parse chat file", zap.Error(err), zap.String("path", path))
			continue
		}
		if conv == nil {
			continue
		}
		key := conv.ExternalID
		if key == "" {
			key = conv.SourcePath
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, *conv)
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
	arr := gjson.ParseBytes(raw)
	if !arr.IsArray() {
		return nil, nil
	}

	var messages []model.Message
	for _, m := range arr.Array() {
		variant := m.Get("variant").String()
		role := model.Role(variant)
		switch variant {
		case "ai":
			role = model.RoleAssistant
		case "human":
			role = model.RoleUser
		case "":
			role = model.RoleOther
		}

		content := extractContent(m)
		if strings.TrimSpace(content) == "" {
			continue
		}

		var createdAt *int64
		if ts, ok := parseCodebuffTimestamp(m); ok {
			createdAt = &ts
		}

		author := m.Get("author").String()
		if author == "" {
			author = m.Get("agentName").String()
		}

		messages = append(messages, model.Message{
			Idx:       len(messages),
			Role:      role,
			Author:    author,
			CreatedAt: createdAt,
			Content:   content,
		})
	}
	if len(messages) == 0 {
		return nil, nil
	}

	projectName, sessionID := extractPathInfo(path)

	title := projectName
	if title == "" {
		title = firstLine(messages[0].Content, 80)
	}
	externalID := sessionID
	if externalID == "" {
		externalID = filepath.Base(filepath.Dir(path))
	}

	var started, ended *int64
	started = messages[0].CreatedAt
	ended = messages[len(messages)-1].CreatedAt

	meta := map[string]any{"source": "codebuff"}
	if ws := inferWorkspace(arr, path); ws != "" {
		meta["workspace_path"] = ws
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

func extractContent(msg gjson.Result) string {
	var parts []string
	if content := msg.Get("content"); content.Type == gjson.String && content.String() != "" {
		parts = append(parts, content.String())
	}
	if blocks := msg.Get("blocks"); blocks.IsArray() {
		for _, b := range blocks.Array() {
			extractBlockContent(b, &parts)
		}
	}
	return strings.Join(parts, "\n")
}

func extractBlockContent(block gjson.Result, parts *[]string) {
	switch block.Get("type").String() {
	case "text":
		if t := block.Get("content").String(); t != "" {
			*parts = append(*parts, t)
		}
	case "tool":
		toolName := block.Get("toolName").String()
		if toolName == "" {
			toolName = "unknown"
		}
		input := block.Get("input")
		switch {
		case input.Get("command").Exists():
			*parts = append(*parts, "[Tool: "+toolName+"] "+input.Get("command").String())
		case input.Get("path").Exists():
			*parts = append(*parts, "[Tool: "+toolName+"] "+input.Get("path").String())
		default:
			*parts = append(*parts, "[Tool: "+toolName+"]")
		}
		if output := block.Get("output").String(); output != "" {
			if truncated := connector.TruncateUTF8(output, 1000); truncated != "" {
				*parts = append(*parts, truncated)
			}
		}
	case "agent":
		if t := block.Get("content").String(); t != "" {
			*parts = append(*parts, t)
		}
		if nested := block.Get("blocks"); nested.IsArray() {
			for _, n := range nested.Array() {
				extractBlockContent(n, parts)
			}
		}
	default:
		if t := block.Get("content").String(); t != "" {
			*parts = append(*parts, t)
		}
	}
}

// parseCodebuffTimestamp tries metadata timestamps, then direct fields,
// then the millisecond segment embedded in the message ID
// (variant-millis-hash), validated as a plausible 2020-2033 epoch.
func parseCodebuffTimestamp(msg gjson.Result) (int64, bool) {
	meta := msg.Get("metadata")
	if meta.Exists() {
		for _, field := range []string{"timestamp", "createdAt", "created_at"} {
			if v := meta.Get(field); v.Exists() {
				if ts, ok := connector.ParseTimestamp(v.Value()); ok {
					return ts, true
				}
			}
		}
	}
	for _, field := range []string{"timestamp", "createdAt", "created_at"} {
		if v := msg.Get(field); v.Exists() {
			if ts, ok := connector.ParseTimestamp(v.Value()); ok {
				return ts, true
			}
		}
	}

	id := msg.Get("id").String()
	segments := strings.Split(id, "-")
	if len(segments) >= 2 {
		if ts, err := strconv.ParseInt(segments[1], 10, 64); err == nil {
			if ts > 1_577_836_800_000 && ts < 2_000_000_000_000 {
				return ts, true
			}
		}
	}
	return 0, false
}

// extractPathInfo pulls the project name and session ID out of a path
// shaped projects/{project}/chats/{timestamp}/chat-messages.json.
func extractPathInfo(path string) (project, session string) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, name := range parts {
		if name == "projects" && i+1 < len(parts) {
			project = parts[i+1]
		}
		if name == "chats" && i+1 < len(parts) {
			session = parts[i+1]
		}
	}
	return project, session
}

func inferWorkspace(messages gjson.Result, path string) string {
	for _, m := range messages.Array() {
		fileContext := m.Get("metadata.runState.sessionState.fileContext")
		if !fileContext.Exists() {
			continue
		}
		if root := fileContext.Get("projectRoot").String(); root != "" {
			return root
		}
		if cwd := fileContext.Get("cwd").String(); cwd != "" {
			return cwd
		}
	}
	project, _ := extractPathInfo(path)
	return project
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
