// Package orchestrator drives the registered connectors through a
// full, incremental, or watch-mode scan, writing every result to the
// relational store and the full-text index in that order: per spec,
// the relational row commits first and the index update follows, so a
// crash between the two leaves the index merely stale (caught by the
// next incremental pass) rather than ahead of the source of truth.
//
// Modeled on the teacher's worker-pool scan loop, but connectors are
// run strictly sequentially (never concurrently with each other) so
// that watermark advancement stays deterministic and one agent's scan
// can never starve another's I/O budget.
package orchestrator

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentsearch/internal/config"
	"github.com/fyrsmithlabs/agentsearch/internal/connector"
	"github.com/fyrsmithlabs/agentsearch/internal/gitinfo"
	"github.com/fyrsmithlabs/agentsearch/internal/index"
	"github.com/fyrsmithlabs/agentsearch/internal/logging"
	"github.com/fyrsmithlabs/agentsearch/internal/model"
	"github.com/fyrsmithlabs/agentsearch/internal/store"
	"github.com/fyrsmithlabs/agentsearch/internal/workspace"
)

// Metrics are the in-process counters and gauges surfaced for
// observability. Registered against a caller-supplied registerer so
// tests can use prometheus.NewRegistry() instead of the global default.
type Metrics struct {
	conversationsIndexed *prometheus.CounterVec
	scanDuration         *prometheus.HistogramVec
	scanErrors           *prometheus.CounterVec
	lastScanTimestamp    *prometheus.GaugeVec
}

// NewMetrics registers and returns the orchestrator's metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		conversationsIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsearch_conversations_indexed_total",
			Help: "Conversations upserted into the store and index, by agent.",
		}, []string{"agent"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "agentsearch_scan_duration_seconds",
			Help: "Wall-clock duration of one connector's scan.",
		}, []string{"agent"}),
		scanErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsearch_scan_errors_total",
			Help: "Scan failures, by agent.",
		}, []string{"agent"}),
		lastScanTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentsearch_last_scan_unix_seconds",
			Help: "Wall-clock time of each agent's last completed scan.",
		}, []string{"agent"}),
	}
	reg.MustRegister(m.conversationsIndexed, m.scanDuration, m.scanErrors, m.lastScanTimestamp)
	return m
}

// Orchestrator wires the connector registry to the relational store and
// the full-text index.
type Orchestrator struct {
	Store      *store.Store
	Index      *index.Index
	Workspaces workspace.Registry
	Connectors []connector.Connector
	Metrics    *Metrics
}

// New builds an Orchestrator over every registered connector, skipping
// any connector whose entry in agents has Disabled set.
func New(s *store.Store, ix *index.Index, ws workspace.Registry, m *Metrics, agents map[string]config.AgentConfig) *Orchestrator {
	var active []connector.Connector
	for _, c := range connector.All() {
		if cfg, ok := agents[c.Slug()]; ok && cfg.Disabled {
			continue
		}
		active = append(active, c)
	}
	return &Orchestrator{Store: s, Index: ix, Workspaces: ws, Connectors: active, Metrics: m}
}

// RunFull truncates the full-text index and re-scans every connector
// from the beginning, regardless of its stored watermark. The
// relational store is not truncated: existing rows are upserted in
// place, so a conversation whose source file still exists round-trips
// to the same row.
func (o *Orchestrator) RunFull(ctx context.Context) error {
	if err := o.Index.Clear(ctx); err != nil {
		return err
	}
	for _, c := range o.Connectors {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.scanOne(ctx, c, 0); err != nil {
			return err
		}
	}
	return nil
}

// RunIncremental scans each connector starting from its stored
// watermark, advancing the watermark only when the scan completes
// without error.
func (o *Orchestrator) RunIncremental(ctx context.Context) error {
	for _, c := range o.Connectors {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		since, err := o.Store.Watermark(ctx, c.Slug())
		if err != nil {
			return err
		}
		if err := o.scanOne(ctx, c, since); err != nil {
			logging.FromContext(ctx).Warn(ctx, "incremental scan failed, watermark not advanced",
				zap.String("agent", c.Slug()), zap.Error(err))
			if o.Metrics != nil {
				o.Metrics.scanErrors.WithLabelValues(c.Slug()).Inc()
			}
			continue
		}
	}
	return nil
}

// scanOne runs one connector's Scan, writes every result to the store
// then the index, and advances its watermark to the highest source
// mtime observed. The watermark is only touched if Scan itself
// succeeded: a connector that can't enumerate its root at all (the one
// error case Scan is allowed to return) must not have its watermark
// moved, since a future run needs to retry from the same point.
func (o *Orchestrator) scanOne(ctx context.Context, c connector.Connector, since int64) error {
	start := time.Now()
	ctx = logging.WithAgent(ctx, c.Slug())

	convs, err := c.Scan(ctx, connector.ScanContext{SinceTs: since})
	if o.Metrics != nil {
		o.Metrics.scanDuration.WithLabelValues(c.Slug()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}

	maxMtime := since
	for _, conv := range convs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.upsert(ctx, conv); err != nil {
			return err
		}
		if conv.LastSeenMtime > maxMtime {
			maxMtime = conv.LastSeenMtime
		}
		if o.Metrics != nil {
			o.Metrics.conversationsIndexed.WithLabelValues(c.Slug()).Inc()
		}
	}

	if err := o.Store.SetWatermark(ctx, c.Slug(), maxMtime); err != nil {
		return err
	}
	if o.Metrics != nil {
		o.Metrics.lastScanTimestamp.WithLabelValues(c.Slug()).Set(float64(time.Now().Unix()))
	}
	return nil
}

// conversationNamespace seeds deterministic per-conversation UUIDs so
// that re-scanning the same source file twice upserts the same
// relational row and index documents instead of colliding on (or
// duplicating under) a different key every time.
var conversationNamespace = uuid.MustParse("6b2f8c9a-2f0b-4b8e-9b0e-2f6a1d7e4c3a")

// assignConversationID stamps conv.ID with a stable id derived from the
// agent slug plus whichever of external id or source path the connector
// populated. Connectors never set ID themselves; this is the one place
// it's assigned, so every write path (store, index) sees the same
// value for the same underlying conversation.
func assignConversationID(conv *model.Conversation) {
	if conv.ID != "" {
		return
	}
	key := conv.ExternalID
	if key == "" {
		key = conv.SourcePath
	}
	conv.ID = uuid.NewSHA1(conversationNamespace, []byte(conv.AgentSlug+"|"+key)).String()
}

// upsert resolves a conversation's workspace (if it reported one),
// commits the relational row and message set first, then updates the
// full-text index.
func (o *Orchestrator) upsert(ctx context.Context, conv model.Conversation) error {
	assignConversationID(&conv)

	var workspaceID, workspacePath string
	if raw, ok := conv.Metadata["workspace_path"]; ok {
		if path, ok := raw.(string); ok && path != "" {
			ws, err := o.Workspaces.EnsureByPath(ctx, path)
			if err != nil {
				return err
			}
			workspaceID = ws.ID
			workspacePath = ws.Path
		}
	}
	enrichGitBranch(&conv, workspacePath)

	if err := o.Store.UpsertConversation(ctx, workspaceID, conv); err != nil {
		return err
	}
	return o.Index.AddConversation(ctx, conv, workspacePath)
}

// enrichGitBranch fills in conv.Metadata["git_branch"] from the
// workspace's .git/HEAD when the connector didn't already capture one
// itself (only Claude Code's session files carry a branch inline).
func enrichGitBranch(conv *model.Conversation, workspacePath string) {
	if workspacePath == "" {
		return
	}
	if _, ok := conv.Metadata["git_branch"]; ok {
		return
	}
	branch, err := gitinfo.DetectBranch(workspacePath)
	if err != nil {
		return
	}
	if conv.Metadata == nil {
		conv.Metadata = map[string]any{}
	}
	conv.Metadata["git_branch"] = branch
}

// Watch runs one incremental pass, then watches each connector's
// discovery root and re-scans just that connector (debounced) whenever
// fsnotify reports a change under it. Connectors that don't expose a
// watchable root (via the optional rooter interface) are only ever
// covered by the initial incremental pass and whatever periodic full
// rebuild the caller schedules separately.
func (o *Orchestrator) Watch(ctx context.Context, debounce time.Duration) error {
	if err := o.RunIncremental(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	rootToSlug := map[string]string{}
	for _, c := range o.Connectors {
		r, ok := c.(rooter)
		if !ok {
			continue
		}
		root := r.Root()
		if root == "" {
			continue
		}
		if err := watcher.Add(root); err != nil {
			logging.FromContext(ctx).Debug(ctx, "watch: root not watchable, skipping",
				zap.String("agent", c.Slug()), zap.Error(err))
			continue
		}
		rootToSlug[root] = c.Slug()
	}

	bySlug := make(map[string]connector.Connector, len(o.Connectors))
	for _, c := range o.Connectors {
		bySlug[c.Slug()] = c
	}

	pending := map[string]*time.Timer{}
	rescan := make(chan string, len(o.Connectors))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			slug, matched := matchRoot(rootToSlug, ev.Name)
			if !matched {
				continue
			}
			if t, exists := pending[slug]; exists {
				t.Stop()
			}
			s := slug
			pending[s] = time.AfterFunc(debounce, func() { rescan <- s })
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.FromContext(ctx).Warn(ctx, "watch: fsnotify error", zap.Error(err))
		case slug := <-rescan:
			c, ok := bySlug[slug]
			if !ok {
				continue
			}
			since, err := o.Store.Watermark(ctx, slug)
			if err != nil {
				return err
			}
			if err := o.scanOne(ctx, c, since); err != nil {
				logging.FromContext(ctx).Warn(ctx, "watch: rescan failed", zap.String("agent", slug), zap.Error(err))
			}
		}
	}
}

// rooter is implemented by connectors that expose their default
// discovery root for filesystem watching.
type rooter interface {
	Root() string
}

func matchRoot(rootToSlug map[string]string, path string) (string, bool) {
	for root, slug := range rootToSlug {
		if len(path) >= len(root) && path[:len(root)] == root {
			return slug, true
		}
	}
	return "", false
}
