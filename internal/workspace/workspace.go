// Package workspace tracks the project directories conversations are
// associated with. A workspace is created the first time a connector
// reports a conversation under it and is never deleted: it exists as
// long as at least one conversation references it, even after the
// directory itself is gone from disk.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/agentsearch/internal/model"
)

var (
	ErrNotFound     = errors.New("workspace not found")
	ErrEmptyPath    = errors.New("workspace path cannot be empty")
	ErrInvalidID    = errors.New("invalid workspace id")
)

// Registry provides lookup and first-sighting creation of workspaces.
// Implementations must be safe for concurrent use; the store-backed
// implementation lives in internal/store, this in-memory one is used by
// tests and by any caller that doesn't need persistence.
type Registry interface {
	// EnsureByPath returns the workspace for path, creating it (with a
	// generated id and no display name) if it doesn't exist yet.
	EnsureByPath(ctx context.Context, path string) (*model.Workspace, error)

	Get(ctx context.Context, id string) (*model.Workspace, error)
	GetByPath(ctx context.Context, path string) (*model.Workspace, error)
	List(ctx context.Context) ([]*model.Workspace, error)
}

// memRegistry is an in-memory Registry, used by tests and by any caller
// that doesn't need the workspace set to outlive the process.
type memRegistry struct {
	mu     sync.RWMutex
	byID   map[string]*model.Workspace
	byPath map[string]*model.Workspace
}

// NewMemRegistry creates an in-memory workspace registry.
func NewMemRegistry() Registry {
	return &memRegistry{
		byID:   make(map[string]*model.Workspace),
		byPath: make(map[string]*model.Workspace),
	}
}

func (m *memRegistry) EnsureByPath(ctx context.Context, path string) (*model.Workspace, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.byPath[path]; ok {
		return w, nil
	}

	w := &model.Workspace{ID: uuid.New().String(), Path: path}
	m.byID[w.ID] = w
	m.byPath[w.Path] = w
	return w, nil
}

func (m *memRegistry) Get(ctx context.Context, id string) (*model.Workspace, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return w, nil
}

func (m *memRegistry) GetByPath(ctx context.Context, path string) (*model.Workspace, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.byPath[path]
	if !ok {
		return nil, fmt.Errorf("%w: no workspace at path %s", ErrNotFound, path)
	}
	return w, nil
}

func (m *memRegistry) List(ctx context.Context) ([]*model.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Workspace, 0, len(m.byID))
	for _, w := range m.byID {
		out = append(out, w)
	}
	return out, nil
}
