// Package chatgpt parses the ChatGPT desktop app's conversation export
// files: one JSON document per conversation under conversations-<uuid>/
// directories inside the app's support directory. Two on-disk shapes
// exist for a conversation's message list — a `mapping` node graph (the
// common case) and a flat `messages` array (an older/alternate shape) —
// and this connector prefers the mapping whenever it yields at least one
// message, falling back to the flat array only when the mapping is
// absent or empty.
//
// conversations-v2-*/conversations-v3-* directories are keychain-
// encrypted and cannot be read without the user's keychain; they are
// recognized and skipped rather than silently ignored.
package chatgpt

import (
	"context"
	"fmt"
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

const slug = "chatgpt"

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
	return filepath.Join(home, "Library", "Application Support", "com.openai.chat")
}

type convDir struct {
	path      string
	encrypted bool
}

func findConversationDirs(base string) []convDir {
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil
	}
	var dirs []convDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "conversations-") {
			continue
		}
		encrypted := strings.Contains(name, "-v2-") || strings.Contains(name, "-v3-")
		dirs = append(dirs, convDir{path: filepath.Join(base, name), encrypted: encrypted})
	}
	return dirs
}

func (c *Connector) Detect() connector.DetectionResult {
	base := c.root("")
	if base == "" {
		return connector.NotFound()
	}
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return connector.NotFound()
	}
	dirs := findConversationDirs(base)
	if len(dirs) == 0 {
		return connector.NotFound()
	}

	var encryptedCount, unencryptedCount int
	for _, d := range dirs {
		if d.encrypted {
			encryptedCount++
		} else {
			unencryptedCount++
		}
	}

	evidence := []string{"found ChatGPT at " + base}
	if unencryptedCount > 0 {
		evidence = append(evidence, strconv.Itoa(unencryptedCount)+" unencrypted conversation dir(s) (readable)")
	}
	if encryptedCount > 0 {
		evidence = append(evidence, strconv.Itoa(encryptedCount)+" encrypted conversation dir(s) (v2/v3, requires keychain)")
	}
	return connector.DetectionResult{Detected: true, Evidence: evidence}
}

func (c *Connector) Scan(ctx context.Context, sc connector.ScanContext) ([]model.Conversation, error) {
	log := logging.FromContext(ctx)
	base := c.root(sc.DataRoot)
	if base == "" {
		return nil, nil
	}
	if _, err := os.Stat(base); err != nil {
		return nil, nil
	}

	var out []model.Conversation
	for _, d := range findConversationDirs(base) {
		if d.encrypted {
			log.Debug(ctx, "chatgpt: skipping encrypted conversation directory (v2/v3)", zap.String("path", d.path))
			continue
		}

		entries, err := os.ReadDir(d.path)
		if err != nil {
			log.Warn(ctx, "chatgpt: failed to read conversation dir", zap.Error(err), zap.String("path", d.path))
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			if ext != ".json" && ext != ".data" {
				continue
			}
			path := filepath.Join(d.path, e.Name())
			if !connector.FileModifiedSince(path, sc.SinceTs) {
				continue
			}
			conv, err := parseConversationFile(path)
			if err != nil {
				log.Warn(ctx, "chatgpt: failed to parse conversation", zap.Error(err), zap.String("path", path))
				continue
			}
			if conv != nil {
				out = append(out, *conv)
			}
		}
	}
	return out, nil
}

func parseConversationFile(path string) (*model.Conversation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid JSON in %s", path)
	}
	root := gjson.ParseBytes(raw)

	convID := root.Get("id").String()
	if convID == "" {
		convID = root.Get("conversation_id").String()
	}
	if convID == "" {
		convID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	title := root.Get("title").String()

	messages := messagesFromMapping(root.Get("mapping"))
	if len(messages) == 0 {
		messages = messagesFromFlatArray(root.Get("messages"))
	}
	if len(messages) == 0 {
		return nil, nil
	}

	var started, ended *int64
	for i := range messages {
		messages[i].Idx = i
		if messages[i].CreatedAt != nil {
			if started == nil {
				started = messages[i].CreatedAt
			}
			ended = messages[i].CreatedAt
		}
	}

	meta := map[string]any{"source": "chatgpt_desktop"}
	if m := root.Get("model").String(); m != "" {
		meta["model"] = m
	}

	return &model.Conversation{
		AgentSlug:     slug,
		ExternalID:    convID,
		SourcePath:    path,
		Title:         title,
		StartedAt:     started,
		EndedAt:       ended,
		Metadata:      meta,
		LastSeenMtime: connector.MtimeMillis(path),
		Messages:      messages,
	}, nil
}

type mappingNode struct {
	createTime float64
	msg        gjson.Result
}

// messagesFromMapping sorts the mapping object's message nodes by
// create_time ascending and drops system-authored entries, per the
// original Rust connector's hard rule for resolving this exact
// ambiguity.
func messagesFromMapping(mapping gjson.Result) []model.Message {
	if !mapping.IsObject() {
		return nil
	}
	var nodes []mappingNode
	mapping.ForEach(func(_, node gjson.Result) bool {
		msg := node.Get("message")
		if !msg.Exists() {
			return true
		}
		nodes = append(nodes, mappingNode{createTime: msg.Get("create_time").Float(), msg: msg})
		return true
	})

	sortNodesByCreateTime(nodes)

	var out []model.Message
	for _, n := range nodes {
		role := n.msg.Get("author.role").String()
		if role == "" {
			role = "assistant"
		}
		if role == "system" {
			continue
		}

		content := n.msg.Get("content")
		var text string
		if parts := content.Get("parts"); parts.IsArray() {
			var pieces []string
			for _, p := range parts.Array() {
				if p.Type == gjson.String && p.String() != "" {
					pieces = append(pieces, p.String())
				}
			}
			text = strings.Join(pieces, "\n")
		} else if t := content.Get("text").String(); t != "" {
			text = t
		} else {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		var createdAt *int64
		if n.msg.Get("create_time").Exists() {
			ts := int64(n.msg.Get("create_time").Float() * 1000.0)
			createdAt = &ts
		}

		var author string
		if m := n.msg.Get("metadata.model_slug").String(); m != "" {
			author = m
		}

		out = append(out, model.Message{
			Role:      model.Role(role),
			Author:    author,
			CreatedAt: createdAt,
			Content:   text,
		})
	}
	return out
}

func sortNodesByCreateTime(nodes []mappingNode) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1].createTime > nodes[j].createTime; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}

func messagesFromFlatArray(messages gjson.Result) []model.Message {
	if !messages.IsArray() {
		return nil
	}
	var out []model.Message
	for _, item := range messages.Array() {
		role := item.Get("role").String()
		if role == "" {
			role = "assistant"
		}
		if role == "system" {
			continue
		}
		content := item.Get("content").String()
		if strings.TrimSpace(content) == "" {
			continue
		}

		var createdAt *int64
		tsVal := item.Get("timestamp")
		if !tsVal.Exists() {
			tsVal = item.Get("create_time")
		}
		if tsVal.Exists() {
			if ms, ok := connector.ParseTimestamp(tsVal.Value()); ok {
				createdAt = &ms
			}
		}

		out = append(out, model.Message{Role: model.Role(role), CreatedAt: createdAt, Content: content})
	}
	return out
}
