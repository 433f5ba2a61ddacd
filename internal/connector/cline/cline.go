// Package cline parses Cline's VS Code extension task storage: one
// directory per task under the extension's globalStorage tasks/
// directory, each holding ui_messages.json (the user-facing transcript)
// and api_conversation_history.json (the raw Anthropic-style API
// messages sent to the model). Both files describe the same
// conversation; ui_messages.json is preferred since it is what the user
// actually saw, and api_conversation_history.json is used only when no
// ui transcript exists.
package cline

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

const slug = "cline"

func init() {
	connector.Register(New())
}

type Connector struct{}

func New() *Connector { return &Connector{} }

func (c *Connector) Slug() string { return slug }

// candidateRoots lists the extension-storage locations Cline uses
// across the VS Code family of editors. The first one that exists wins.
func candidateRoots(home string) []string {
	bases := []string{
		filepath.Join(home, ".config", "Code", "User", "globalStorage"),
		filepath.Join(home, ".config", "Code - Insiders", "User", "globalStorage"),
		filepath.Join(home, ".config", "Cursor", "User", "globalStorage"),
		filepath.Join(home, "Library", "Application Support", "Code", "User", "globalStorage"),
	}
	var out []string
	for _, b := range bases {
		out = append(out, filepath.Join(b, "saoudrizwan.claude-dev", "tasks"))
	}
	return out
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
	taskDirs, err := os.ReadDir(root)
	if err != nil {
		return nil, nil
	}

	var out []model.Conversation
	for _, td := range taskDirs {
		if !td.IsDir() {
			continue
		}
		taskDir := filepath.Join(root, td.Name())
		uiPath := filepath.Join(taskDir, "ui_messages.json")
		apiPath := filepath.Join(taskDir, "api_conversation_history.json")

		path := uiPath
		if _, err := os.Stat(uiPath); err != nil {
			path = apiPath
		}
		if !connector.FileModifiedSince(path, sc.SinceTs) {
			continue
		}

		conv, err := parseTask(taskDir, td.Name())
		if err != nil {
			log.Debug(ctx, "cline: failed to parse task", zap.Error(err), zap.String("path", taskDir))
			continue
		}
		if conv != nil {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func parseTask(taskDir, taskID string) (*model.Conversation, error) {
	uiPath := filepath.Join(taskDir, "ui_messages.json")
	apiPath := filepath.Join(taskDir, "api_conversation_history.json")

	messages, sourcePath, err := loadUIMessages(uiPath)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		messages, sourcePath, err = loadAPIMessages(apiPath)
		if err != nil {
			return nil, err
		}
	}
	if len(messages) == 0 {
		return nil, nil
	}

	var title string
	var started, ended *int64
	for i, m := range messages {
		messages[i].Idx = i
		if m.CreatedAt != nil {
			if started == nil {
				started = m.CreatedAt
			}
			ended = m.CreatedAt
		}
		if title == "" && m.Role == model.RoleUser {
			title = firstLine(m.Content, 100)
		}
	}

	return &model.Conversation{
		AgentSlug:     slug,
		ExternalID:    taskID,
		SourcePath:    sourcePath,
		Title:         title,
		StartedAt:     started,
		EndedAt:       ended,
		Metadata:      map[string]any{"source": "cline"},
		LastSeenMtime: connector.MtimeMillis(sourcePath),
		Messages:      messages,
	}, nil
}

func loadUIMessages(path string) ([]model.Message, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, path, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, path, nil
	}
	arr := gjson.ParseBytes(raw)
	if !arr.IsArray() {
		return nil, path, nil
	}

	var out []model.Message
	for _, item := range arr.Array() {
		say := item.Get("say").String()
		ask := item.Get("ask").String()
		text := item.Get("text").String()
		if strings.TrimSpace(text) == "" {
			continue
		}

		role := model.RoleAssistant
		switch {
		case say == "user_feedback" || say == "user_feedback_diff":
			role = model.RoleUser
		case ask != "":
			role = model.RoleAssistant
		}

		var createdAt *int64
		if ts, ok := connector.ParseTimestamp(item.Get("ts").Value()); ok {
			createdAt = &ts
		}

		content := text
		if say == "tool" || say == "command" {
			content = connector.RenderToolCall(say, text, "")
		}

		out = append(out, model.Message{Role: role, CreatedAt: createdAt, Content: content})
	}
	return out, path, nil
}

func loadAPIMessages(path string) ([]model.Message, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, path, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, path, nil
	}
	arr := gjson.ParseBytes(raw)
	if !arr.IsArray() {
		return nil, path, nil
	}

	var out []model.Message
	for _, item := range arr.Array() {
		roleStr := item.Get("role").String()
		role := model.RoleAssistant
		if roleStr == "user" {
			role = model.RoleUser
		}

		content := item.Get("content")
		var text string
		if content.Type == gjson.String {
			text = content.String()
		} else if content.IsArray() {
			var parts []string
			for _, block := range content.Array() {
				switch block.Get("type").String() {
				case "text":
					if t := block.Get("text").String(); t != "" {
						parts = append(parts, t)
					}
				case "tool_use":
					parts = append(parts, connector.RenderToolCall(block.Get("name").String(), block.Get("input").Raw, ""))
				case "tool_result":
					parts = append(parts, connector.TruncateUTF8(block.Get("content").String(), 1000))
				}
			}
			text = strings.Join(parts, "\n")
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, model.Message{Role: role, Content: text})
	}
	return out, path, nil
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
