package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) (string, *gogit.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	return dir, repo
}

func commitFile(t *testing.T, dir string, repo *gogit.Repository, name, content, message string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))

	worktree, err := repo.Worktree()
	require.NoError(t, err)
	_, err = worktree.Add(name)
	require.NoError(t, err)

	hash, err := worktree.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestShortHead(t *testing.T) {
	dir, repo := initRepo(t)
	hash := commitFile(t, dir, repo, "app.js", "v1", "initial commit")

	svc := NewGitService(time.Minute)
	short, err := svc.ShortHead(dir)
	require.NoError(t, err)
	assert.Len(t, short, ShortHashLen)
	assert.Equal(t, hash[:ShortHashLen], short)

	// A new commit moves HEAD.
	hash = commitFile(t, dir, repo, "app.js", "v2", "second commit")
	short, err = svc.ShortHead(dir)
	require.NoError(t, err)
	assert.Equal(t, hash[:ShortHashLen], short)
}

func TestShortHeadOutsideRepository(t *testing.T) {
	svc := NewGitService(time.Minute)
	_, err := svc.ShortHead(t.TempDir())
	assert.Error(t, err)
}

func TestHeadCommitMessageFirstLineOnly(t *testing.T) {
	dir, repo := initRepo(t)
	commitFile(t, dir, repo, "app.js", "v1", "fix login flow\n\nlonger body text")

	svc := NewGitService(time.Minute)
	message, err := svc.HeadCommitMessage(dir)
	require.NoError(t, err)
	assert.Equal(t, "fix login flow", message)
}

func TestCurrentBranch(t *testing.T) {
	dir, repo := initRepo(t)
	commitFile(t, dir, repo, "app.js", "v1", "initial commit")

	svc := NewGitService(time.Minute)
	branch, err := svc.CurrentBranch(dir)
	require.NoError(t, err)
	assert.Equal(t, "master", branch)
}

func TestFetchRequiresBranch(t *testing.T) {
	svc := NewGitService(time.Minute)
	err := svc.Fetch(context.Background(), "", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "branch is required")
}

func TestHardResetRequiresBranch(t *testing.T) {
	svc := NewGitService(time.Minute)
	err := svc.HardReset("", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "branch is required")
}

func TestRemoteShortHeadRequiresBranch(t *testing.T) {
	svc := NewGitService(time.Minute)
	_, err := svc.RemoteShortHead(context.Background(), "https://example.com/repo.git", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "branch is required")
}
