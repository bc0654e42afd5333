// Package git provides the version-control adapter for Skiff: clone, fetch,
// hard reset to the tracked branch tip, and local/remote commit lookups.
package git

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

// ShortHashLen is the length of abbreviated commit hashes recorded on
// deployments and sync records.
const ShortHashLen = 7

// Service is the VCS surface the deployment engine and the remote-commit
// poller depend on.
type Service interface {
	Clone(ctx context.Context, repoURL, branch, workingDir string) error
	Fetch(ctx context.Context, branch, workingDir string) error
	HardReset(branch, workingDir string) error
	ShortHead(workingDir string) (string, error)
	HeadCommitMessage(workingDir string) (string, error)
	CurrentBranch(workingDir string) (string, error)
	RemoteShortHead(ctx context.Context, repoURL, branch string) (string, error)
}

type GitService struct {
	timeout time.Duration
}

var _ Service = (*GitService)(nil)

func NewGitService(timeout time.Duration) *GitService {
	return &GitService{timeout: timeout}
}

// Clone clones a repository tracking a single branch.
func (s *GitService) Clone(ctx context.Context, repoURL, branch, workingDir string) error {
	slog.Info("Cloning repository", "repo_url", repoURL, "branch", branch, "working_dir", workingDir)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cloneOptions := &gogit.CloneOptions{
		URL:          repoURL,
		SingleBranch: true,
	}
	if branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}

	if _, err := gogit.PlainCloneContext(ctx, workingDir, false, cloneOptions); err != nil {
		slog.Error("Service operation failed",
			"layer", "git",
			"operation", "git_clone",
			"repo_url", repoURL,
			"branch", branch,
			"working_dir", workingDir,
			"error", err)
		return fmt.Errorf("failed to clone repository: %w", err)
	}

	slog.Info("Repository cloned successfully", "repo_url", repoURL, "branch", branch, "working_dir", workingDir)
	return nil
}

// Fetch fetches the tracked branch from origin without touching the worktree.
func (s *GitService) Fetch(ctx context.Context, branch, workingDir string) error {
	slog.Debug("Fetching from remote", "branch", branch, "working_dir", workingDir)

	if branch == "" {
		return fmt.Errorf("git branch is required")
	}

	repo, err := gogit.PlainOpen(workingDir)
	if err != nil {
		slog.Error("Service operation failed",
			"layer", "git",
			"operation", "git_fetch",
			"branch", branch,
			"working_dir", workingDir,
			"error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = repo.FetchContext(ctx, &gogit.FetchOptions{
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", branch, branch)),
		},
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		slog.Error("Service operation failed",
			"layer", "git",
			"operation", "git_fetch",
			"branch", branch,
			"working_dir", workingDir,
			"error", err)
		return err
	}

	return nil
}

// HardReset resets the worktree to the fetched tip of the tracked branch,
// discarding local changes. Handles force-pushed branches.
func (s *GitService) HardReset(branch, workingDir string) error {
	if branch == "" {
		return fmt.Errorf("git branch is required")
	}

	repo, err := gogit.PlainOpen(workingDir)
	if err != nil {
		return err
	}

	remoteRef := plumbing.ReferenceName(fmt.Sprintf("refs/remotes/origin/%s", branch))
	ref, err := repo.Reference(remoteRef, true)
	if err != nil {
		slog.Error("Service operation failed",
			"layer", "git",
			"operation", "git_reset_get_remote_ref",
			"branch", branch,
			"working_dir", workingDir,
			"error", err)
		return fmt.Errorf("failed to resolve %s: %w", remoteRef, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return err
	}

	if err := worktree.Reset(&gogit.ResetOptions{
		Mode:   gogit.HardReset,
		Commit: ref.Hash(),
	}); err != nil {
		slog.Error("Service operation failed",
			"layer", "git",
			"operation", "git_reset",
			"branch", branch,
			"working_dir", workingDir,
			"target_commit", ref.Hash().String(),
			"error", err)
		return fmt.Errorf("failed to reset to %s: %w", ref.Hash().String(), err)
	}

	slog.Info("Worktree reset to branch tip",
		"branch", branch,
		"working_dir", workingDir,
		"commit", ref.Hash().String()[:ShortHashLen])
	return nil
}

// ShortHead returns the abbreviated hash of the local HEAD commit.
func (s *GitService) ShortHead(workingDir string) (string, error) {
	repo, err := gogit.PlainOpen(workingDir)
	if err != nil {
		return "", err
	}

	ref, err := repo.Head()
	if err != nil {
		return "", err
	}

	return ref.Hash().String()[:ShortHashLen], nil
}

// HeadCommitMessage returns the first line of the HEAD commit's message.
func (s *GitService) HeadCommitMessage(workingDir string) (string, error) {
	repo, err := gogit.PlainOpen(workingDir)
	if err != nil {
		return "", err
	}

	ref, err := repo.Head()
	if err != nil {
		return "", err
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", fmt.Errorf("failed to get commit: %w", err)
	}

	message, _, _ := strings.Cut(commit.Message, "\n")
	return message, nil
}

// CurrentBranch returns the name of the branch HEAD points at.
func (s *GitService) CurrentBranch(workingDir string) (string, error) {
	repo, err := gogit.PlainOpen(workingDir)
	if err != nil {
		return "", err
	}

	ref, err := repo.Head()
	if err != nil {
		return "", err
	}

	if !ref.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is not on a branch: %s", ref.Name())
	}
	return ref.Name().Short(), nil
}

// RemoteShortHead looks up the abbreviated tip commit of a branch on the
// hosting provider, without a local checkout.
func (s *GitService) RemoteShortHead(ctx context.Context, repoURL, branch string) (string, error) {
	if branch == "" {
		return "", fmt.Errorf("git branch is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	remote := gogit.NewRemote(nil, &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})

	refs, err := remote.ListContext(ctx, &gogit.ListOptions{})
	if err != nil {
		slog.Error("Service operation failed",
			"layer", "git",
			"operation", "git_remote_head",
			"repo_url", repoURL,
			"branch", branch,
			"error", err)
		return "", fmt.Errorf("failed to list remote references: %w", err)
	}

	want := plumbing.NewBranchReferenceName(branch)
	for _, ref := range refs {
		if ref.Name() == want {
			return ref.Hash().String()[:ShortHashLen], nil
		}
	}

	return "", fmt.Errorf("branch %q not found on remote %s", branch, repoURL)
}
