// Package gitinfo detects the current Git branch of a workspace
// directory, used to fill the `git_branch` metadata field of
// conversations whose source files don't carry one (Claude Code's JSONL
// sessions already do, and are left as they are).
package gitinfo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotGitRepo indicates the directory is not a Git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrHeadNotFound indicates the .git/HEAD file is missing.
	ErrHeadNotFound = errors.New("HEAD file not found")
)

// DetectBranch detects the current Git branch from a project directory
// by reading .git/HEAD directly, without shelling out to git or pulling
// in a full git implementation: this is a best-effort enrichment, not a
// repository operation, and every one of its callers already tolerates a
// missing answer.
func DetectBranch(projectPath string) (string, error) {
	gitDir := filepath.Join(projectPath, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotGitRepo, projectPath)
	}

	headFile := filepath.Join(gitDir, "HEAD")
	content, err := os.ReadFile(headFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrHeadNotFound, headFile)
		}
		return "", fmt.Errorf("reading HEAD file: %w", err)
	}

	head := strings.TrimSpace(string(content))
	if head == "" {
		return "detached", nil
	}
	if strings.HasPrefix(head, "ref: refs/heads/") {
		return strings.TrimPrefix(head, "ref: refs/heads/"), nil
	}
	return "detached", nil
}
