package gitinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectBranch(t *testing.T) {
	tests := []struct {
		name      string
		setupRepo func(t *testing.T) string
		want      string
		wantErr   error
	}{
		{
			name: "branch ref",
			setupRepo: func(t *testing.T) string {
				dir := t.TempDir()
				gitDir := filepath.Join(dir, ".git")
				require.NoError(t, os.MkdirAll(gitDir, 0755))
				require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0644))
				return dir
			},
			want: "main",
		},
		{
			name: "detached head",
			setupRepo: func(t *testing.T) string {
				dir := t.TempDir()
				gitDir := filepath.Join(dir, ".git")
				require.NoError(t, os.MkdirAll(gitDir, 0755))
				require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("a1b2c3d4\n"), 0644))
				return dir
			},
			want: "detached",
		},
		{
			name: "not a repo",
			setupRepo: func(t *testing.T) string {
				return t.TempDir()
			},
			wantErr: ErrNotGitRepo,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := tc.setupRepo(t)
			branch, err := DetectBranch(dir)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, branch)
		})
	}
}
