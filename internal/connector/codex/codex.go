// Package codex parses Codex CLI session rollouts: line-delimited JSON
// under $CODEX_HOME/sessions/YYYY/MM/DD/rollout-*.jsonl. Each line is one
// event, tagged either "event_msg" (a user/agent message notification)
// or "response_item" (a raw model turn); both kinds are merged into one
// ordered message stream by timestamp, since either can carry content
// the other omits for a given turn.
package codex

import (
	"bufio"
	"context"
	"fmt"
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

const slug = "codex"

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
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return filepath.Join(home, "sessions")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codex", "sessions")
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
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, "rollout-") && strings.HasSuffix(name, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	var out []model.Conversation
	for _, path := range files {
		if !connector.FileModifiedSince(path, sc.SinceTs) {
			continue
		}
		conv, err := parseRollout(path)
		if err != nil {
			log.Debug(ctx, "codex: failed to parse rollout", zap.Error(err), zap.String("path", path))
			continue
		}
		if conv != nil {
			out = append(out, *conv)
		}
	}
	return out, nil
}

type rolloutMsg struct {
	ts      int64
	hasTs   bool
	seq     int
	role    model.Role
	content string
}

func parseRollout(path string) (*model.Conversation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var msgs []rolloutMsg
	seq := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		res := gjson.ParseBytes(line)
		kind := res.Get("type").String()
		payload := res.Get("payload")
		ts, hasTs := connector.ParseTimestamp(res.Get("timestamp").Value())

		switch kind {
		case "event_msg":
			role, content := eventMsgContent(payload)
			if content == "" {
				continue
			}
			msgs = append(msgs, rolloutMsg{ts: ts, hasTs: hasTs, seq: seq, role: role, content: content})
			seq++
		case "response_item":
			role, content := responseItemContent(payload)
			if content == "" {
				continue
			}
			msgs = append(msgs, rolloutMsg{ts: ts, hasTs: hasTs, seq: seq, role: role, content: content})
			seq++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].hasTs && msgs[j].hasTs && msgs[i].ts != msgs[j].ts {
			return msgs[i].ts < msgs[j].ts
		}
		return msgs[i].seq < msgs[j].seq
	})

	var title string
	var started, ended *int64
	messages := make([]model.Message, 0, len(msgs))
	for idx, m := range msgs {
		var createdAt *int64
		if m.hasTs {
			ts := m.ts
			createdAt = &ts
			if started == nil {
				started = createdAt
			}
			ended = createdAt
		}
		if title == "" && m.role == model.RoleUser {
			title = firstLine(m.content, 100)
		}
		messages = append(messages, model.Message{Idx: idx, Role: m.role, CreatedAt: createdAt, Content: m.content})
	}

	return &model.Conversation{
		AgentSlug:     slug,
		ExternalID:    strings.TrimSuffix(filepath.Base(path), ".jsonl"),
		SourcePath:    path,
		Title:         title,
		StartedAt:     started,
		EndedAt:       ended,
		Metadata:      map[string]any{"source": "codex"},
		LastSeenMtime: connector.MtimeMillis(path),
		Messages:      messages,
	}, nil
}

func eventMsgContent(payload gjson.Result) (model.Role, string) {
	switch payload.Get("type").String() {
	case "user_message":
		return model.RoleUser, strings.TrimSpace(payload.Get("message").String())
	case "agent_message":
		return model.RoleAssistant, strings.TrimSpace(payload.Get("message").String())
	default:
		return model.RoleOther, ""
	}
}

func responseItemContent(payload gjson.Result) (model.Role, string) {
	roleStr := payload.Get("role").String()
	if roleStr == "system" {
		return model.RoleSystem, ""
	}
	role := model.Role(roleStr)
	switch roleStr {
	case "user":
		role = model.RoleUser
	case "assistant":
		role = model.RoleAssistant
	case "tool":
		role = model.RoleTool
	case "":
		role = model.RoleOther
	}

	content := payload.Get("content")
	if content.IsArray() {
		var parts []string
		for _, block := range content.Array() {
			if t := block.Get("text").String(); t != "" {
				parts = append(parts, t)
				continue
			}
			if t := block.Get("input_text").String(); t != "" {
				parts = append(parts, t)
				continue
			}
			if t := block.Get("output_text").String(); t != "" {
				parts = append(parts, t)
			}
		}
		return role, strings.TrimSpace(strings.Join(parts, "\n"))
	}
	if name := payload.Get("name").String(); name != "" {
		return model.RoleTool, connector.RenderToolCall(name, payload.Get("arguments").String(), payload.Get("output").String())
	}
	return role, strings.TrimSpace(content.String())
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
