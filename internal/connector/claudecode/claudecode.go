// Package claudecode parses Claude Code's on-disk session transcripts:
// one line-delimited JSON file per session under
// ~/.claude/projects/<project>/<session>.jsonl, one JSON object per
// message, with sessionId and gitBranch preserved at the top level of
// every line.
//
// Grounded on the teacher's internal/conversation/parser.go, with the
// addition of DAG-aware fork splitting adapted from the agentsview
// Claude parser: a uuid/parentUuid chain that forks into more than a
// handful of divergent branches is split into multiple conversations
// instead of flattened into one, so a retried or edited turn doesn't
// silently interleave with the branch it replaced.
package claudecode

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

const slug = "claude_code"

// forkThreshold is the number of divergent leaves a session file may
// have and still be kept as one conversation; with more leaves than
// this it is split into multiple conversations rather than flattened.
const forkThreshold = 3

// maxScanTokenSize enlarges bufio.Scanner's line buffer: Claude Code
// lines can carry large tool outputs inline.
const maxScanTokenSize = 10 * 1024 * 1024

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
	return filepath.Join(home, ".claude", "projects")
}

func (c *Connector) Detect() connector.DetectionResult {
	root := c.root("")
	if root == "" {
		return connector.NotFound()
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return connector.NotFound()
	}
	entries, err := os.ReadDir(root)
	if err != nil || len(entries) == 0 {
		return connector.NotFound()
	}
	return connector.DetectionResult{
		Detected: true,
		Evidence: []string{fmt.Sprintf("found %d project dir(s) under %s", len(entries), root)},
	}
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

	projectDirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	var out []model.Conversation
	for _, pd := range projectDirs {
		if !pd.IsDir() {
			continue
		}
		projectDir := filepath.Join(root, pd.Name())
		files, err := os.ReadDir(projectDir)
		if err != nil {
			log.Warn(ctx, "claude_code: failed to read project dir", zap.Error(err), zap.String("path", projectDir))
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			path := filepath.Join(projectDir, f.Name())
			if !connector.FileModifiedSince(path, sc.SinceTs) {
				continue
			}
			convs, err := parseSessionFile(path)
			if err != nil {
				log.Debug(ctx, "claude_code: failed to parse session file", zap.Error(err), zap.String("path", path))
				continue
			}
			out = append(out, convs...)
		}
	}
	return out, nil
}

// entry is one line of a session file, kept in file order.
type entry struct {
	uuid       string
	parentUUID string
	role       model.Role
	author     string
	createdAt  *int64
	content    string
	extra      map[string]any
	sessionID  string
	gitBranch  string
}

func parseSessionFile(path string) ([]model.Conversation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)

	var entries []entry
	sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		typ := gjson.GetBytes(line, "type").String()
		if typ != "user" && typ != "assistant" {
			continue
		}
		e, ok := parseLine(line, typ)
		if !ok {
			continue
		}
		if e.sessionID != "" {
			sessionID = e.sessionID
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	branches := splitIntoBranches(entries)
	conversations := make([]model.Conversation, 0, len(branches))
	for i, branch := range branches {
		externalID := sessionID
		if len(branches) > 1 {
			externalID = fmt.Sprintf("%s#%d", sessionID, i)
		}
		conversations = append(conversations, buildConversation(path, externalID, branch))
	}
	return conversations, nil
}

func parseLine(line []byte, typ string) (entry, bool) {
	res := gjson.ParseBytes(line)
	uuid := res.Get("uuid").String()
	parentUUID := res.Get("parentUuid").String()
	sessionID := res.Get("sessionId").String()
	gitBranch := res.Get("gitBranch").String()
	timestamp := res.Get("timestamp").String()

	msg := res.Get("message")
	role := model.RoleAssistant
	if typ == "user" {
		role = model.RoleUser
	}

	var content string
	if msg.Get("content").Type == gjson.String {
		content = msg.Get("content").String()
	} else {
		content = extractBlocks(msg.Get("content"))
	}
	if strings.TrimSpace(content) == "" {
		return entry{}, false
	}

	var createdAt *int64
	if ms, ok := connector.ParseTimestamp(timestamp); ok {
		createdAt = &ms
	}

	extra := map[string]any{}
	if sessionID != "" {
		extra["session_id"] = sessionID
	}
	if gitBranch != "" {
		extra["git_branch"] = gitBranch
	}

	return entry{
		uuid:       uuid,
		parentUUID: parentUUID,
		role:       role,
		createdAt:  createdAt,
		content:    content,
		extra:      extra,
		sessionID:  sessionID,
		gitBranch:  gitBranch,
	}, true
}

func extractBlocks(blocks gjson.Result) string {
	if !blocks.IsArray() {
		return ""
	}
	var parts []string
	for _, block := range blocks.Array() {
		switch block.Get("type").String() {
		case "text":
			if t := block.Get("text").String(); t != "" {
				parts = append(parts, t)
			}
		case "tool_use":
			name := block.Get("name").String()
			input := block.Get("input").String()
			parts = append(parts, connector.RenderToolCall(name, input, ""))
		case "tool_result":
			out := block.Get("content").String()
			if out == "" {
				out = block.Get("content").Raw
			}
			if len(parts) > 0 {
				parts[len(parts)-1] = parts[len(parts)-1] + "\n" + connector.TruncateUTF8(out, 1000)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// splitIntoBranches walks the uuid/parentUuid DAG and, when more than
// forkThreshold leaves diverge from the session, returns one linear
// branch per leaf (root-to-leaf order). A session with at most
// forkThreshold leaves (the overwhelming common case: no or few retried
// turns) returns unchanged as a single branch in file order.
func splitIntoBranches(entries []entry) [][]entry {
	byUUID := make(map[string]entry, len(entries))
	hasChild := make(map[string]bool, len(entries))
	order := make(map[string]int, len(entries))
	for i, e := range entries {
		if e.uuid != "" {
			byUUID[e.uuid] = e
			order[e.uuid] = i
		}
	}
	for _, e := range entries {
		if e.parentUUID != "" {
			hasChild[e.parentUUID] = true
		}
	}

	var leaves []entry
	for _, e := range entries {
		if e.uuid == "" || !hasChild[e.uuid] {
			leaves = append(leaves, e)
		}
	}

	if len(leaves) <= forkThreshold || !hasUUIDs(entries) {
		return [][]entry{entries}
	}

	sort.Slice(leaves, func(i, j int) bool { return order[leaves[i].uuid] < order[leaves[j].uuid] })

	var branches [][]entry
	for _, leaf := range leaves {
		branch := walkToRoot(leaf, byUUID)
		if len(branch) > 0 {
			branches = append(branches, branch)
		}
	}
	if len(branches) <= 1 {
		return [][]entry{entries}
	}
	return branches
}

func hasUUIDs(entries []entry) bool {
	for _, e := range entries {
		if e.uuid == "" {
			return false
		}
	}
	return true
}

func walkToRoot(leaf entry, byUUID map[string]entry) []entry {
	var chain []entry
	seen := map[string]bool{}
	cur := leaf
	for {
		if seen[cur.uuid] {
			break // cycle guard; malformed input should never loop forever
		}
		seen[cur.uuid] = true
		chain = append(chain, cur)
		if cur.parentUUID == "" {
			break
		}
		parent, ok := byUUID[cur.parentUUID]
		if !ok {
			break
		}
		cur = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func buildConversation(path, externalID string, entries []entry) model.Conversation {
	var title string
	messages := make([]model.Message, 0, len(entries))
	var started, ended *int64
	var gitBranch string

	for idx, e := range entries {
		if title == "" && e.role == model.RoleUser {
			title = firstLine(e.content, 100)
		}
		if e.createdAt != nil {
			if started == nil {
				started = e.createdAt
			}
			ended = e.createdAt
		}
		if e.gitBranch != "" {
			gitBranch = e.gitBranch
		}
		messages = append(messages, model.Message{
			Idx:       idx,
			Role:      e.role,
			CreatedAt: e.createdAt,
			Content:   e.content,
			Extra:     e.extra,
		})
	}

	meta := map[string]any{"source": "claude_code"}
	if gitBranch != "" {
		meta["git_branch"] = gitBranch
	}

	return model.Conversation{
		AgentSlug:     slug,
		ExternalID:    externalID,
		SourcePath:    path,
		Title:         title,
		StartedAt:     started,
		EndedAt:       ended,
		Metadata:      meta,
		LastSeenMtime: connector.MtimeMillis(path),
		Messages:      messages,
	}
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
