package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/agentsearch/internal/model"
	"github.com/fyrsmithlabs/agentsearch/internal/workspace"
)

// Registry adapts a Store into a workspace.Registry backed by the same
// SQLite file the conversations and messages live in, so a workspace
// created during a scan survives process restarts.
type Registry struct {
	store *Store
}

// NewRegistry wraps s as a workspace.Registry.
func NewRegistry(s *Store) workspace.Registry {
	return &Registry{store: s}
}

func (r *Registry) EnsureByPath(ctx context.Context, path string) (*model.Workspace, error) {
	if path == "" {
		return nil, workspace.ErrEmptyPath
	}
	id, err := r.store.EnsureWorkspace(ctx, model.Workspace{ID: uuid.New().String(), Path: path})
	if err != nil {
		return nil, err
	}
	return r.store.Workspace(ctx, id)
}

func (r *Registry) Get(ctx context.Context, id string) (*model.Workspace, error) {
	w, err := r.store.Workspace(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, workspace.ErrNotFound
	}
	return w, nil
}

func (r *Registry) GetByPath(ctx context.Context, path string) (*model.Workspace, error) {
	w, err := r.store.WorkspaceByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, workspace.ErrNotFound
	}
	return w, nil
}

func (r *Registry) List(ctx context.Context) ([]*model.Workspace, error) {
	return r.store.ListWorkspaces(ctx)
}
