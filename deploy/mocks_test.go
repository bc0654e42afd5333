package deploy

import (
	"context"
	"errors"
	"sync"

	"github.com/skiff-cd/skiff/domain"
	"github.com/skiff-cd/skiff/supervisor"
)

type fakeGit struct {
	shortHead     string
	commitMessage string
	remoteHead    string

	cloned  []string
	fetched []string

	cloneErr error
	fetchErr error
}

func (g *fakeGit) Clone(ctx context.Context, repoURL, branch, workingDir string) error {
	g.cloned = append(g.cloned, repoURL)
	return g.cloneErr
}

func (g *fakeGit) Fetch(ctx context.Context, branch, workingDir string) error {
	g.fetched = append(g.fetched, branch)
	return g.fetchErr
}

func (g *fakeGit) HardReset(branch, workingDir string) error { return nil }

func (g *fakeGit) ShortHead(workingDir string) (string, error) {
	if g.shortHead == "" {
		return "", errors.New("no HEAD")
	}
	return g.shortHead, nil
}

func (g *fakeGit) HeadCommitMessage(workingDir string) (string, error) {
	return g.commitMessage, nil
}

func (g *fakeGit) CurrentBranch(workingDir string) (string, error) { return "main", nil }

func (g *fakeGit) RemoteShortHead(ctx context.Context, repoURL, branch string) (string, error) {
	if g.remoteHead == "" {
		return "", errors.New("remote unreachable")
	}
	return g.remoteHead, nil
}

type fakeSupervisor struct {
	mu      sync.Mutex
	started []supervisor.StartSpec
	stopped []string
	deleted []string

	startErr error
}

func (s *fakeSupervisor) Start(ctx context.Context, spec supervisor.StartSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = append(s.started, spec)
	return nil
}

func (s *fakeSupervisor) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, name)
	return nil
}

func (s *fakeSupervisor) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, name)
	return nil
}

func (s *fakeSupervisor) Restart(ctx context.Context, name string) error { return nil }

func (s *fakeSupervisor) List(ctx context.Context) ([]domain.ProcessSnapshot, error) {
	return nil, nil
}

type ingressCall struct {
	hostname string
	port     int
}

type fakeIngress struct {
	applied []ingressCall
	err     error
}

func (i *fakeIngress) Apply(ctx context.Context, hostname string, port int) error {
	if i.err != nil {
		return i.err
	}
	i.applied = append(i.applied, ingressCall{hostname: hostname, port: port})
	return nil
}

type syncCall struct {
	projectID string
	commit    string
	trigger   domain.Trigger
}

type fakeSync struct {
	published []syncCall
}

func (s *fakeSync) Publish(ctx context.Context, projectID, commit string, trigger domain.Trigger) error {
	s.published = append(s.published, syncCall{projectID: projectID, commit: commit, trigger: trigger})
	return nil
}
