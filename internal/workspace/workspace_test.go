package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureByPathIsIdempotent(t *testing.T) {
	r := NewMemRegistry()
	ctx := context.Background()

	w1, err := r.EnsureByPath(ctx, "/home/user/proj")
	require.NoError(t, err)

	w2, err := r.EnsureByPath(ctx, "/home/user/proj")
	require.NoError(t, err)

	assert.Equal(t, w1.ID, w2.ID)
}

func TestEnsureByPathRejectsEmpty(t *testing.T) {
	r := NewMemRegistry()
	_, err := r.EnsureByPath(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestGetByPathNotFound(t *testing.T) {
	r := NewMemRegistry()
	_, err := r.GetByPath(context.Background(), "/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListReturnsAllCreated(t *testing.T) {
	r := NewMemRegistry()
	ctx := context.Background()
	_, _ = r.EnsureByPath(ctx, "/a")
	_, _ = r.EnsureByPath(ctx, "/b")

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
