package ingress

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/skiff-cd/skiff/domain"
	"github.com/skiff-cd/skiff/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDNS struct {
	routes []string
}

func (d *fakeDNS) RegisterRoute(ctx context.Context, hostname string) error {
	d.routes = append(d.routes, hostname)
	return nil
}

type restartRecorder struct {
	restarts []string
}

func (r *restartRecorder) Start(ctx context.Context, spec supervisor.StartSpec) error { return nil }
func (r *restartRecorder) Stop(ctx context.Context, name string) error                { return nil }
func (r *restartRecorder) Delete(ctx context.Context, name string) error              { return nil }

func (r *restartRecorder) Restart(ctx context.Context, name string) error {
	r.restarts = append(r.restarts, name)
	return nil
}

func (r *restartRecorder) List(ctx context.Context) ([]domain.ProcessSnapshot, error) {
	return nil, nil
}

func newTestIngress(t *testing.T) (*IngressService, *fakeDNS, *restartRecorder) {
	t.Helper()
	dns := &fakeDNS{}
	sup := &restartRecorder{}
	svc := NewIngressService(filepath.Join(t.TempDir(), "config.yml"), "cloudflared", dns, sup)
	return svc, dns, sup
}

func TestUpsertRuleSeedsCatchAll(t *testing.T) {
	svc, _, _ := newTestIngress(t)

	changed, err := svc.UpsertRule("app.example.com", 3001)
	require.NoError(t, err)
	assert.True(t, changed)

	rules, err := svc.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, Rule{Hostname: "app.example.com", Service: "http://localhost:3001"}, rules[0])
	assert.Equal(t, Rule{Service: catchAllService}, rules[1], "catch-all stays last")
}

func TestUpsertRuleIdempotent(t *testing.T) {
	svc, _, _ := newTestIngress(t)

	changed, err := svc.UpsertRule("app.example.com", 3001)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = svc.UpsertRule("app.example.com", 3001)
	require.NoError(t, err)
	assert.False(t, changed, "identical rule must not rewrite the file")
}

func TestUpsertRuleUpdatesPort(t *testing.T) {
	svc, _, _ := newTestIngress(t)

	_, err := svc.UpsertRule("app.example.com", 3001)
	require.NoError(t, err)

	changed, err := svc.UpsertRule("app.example.com", 3002)
	require.NoError(t, err)
	assert.True(t, changed)

	rules, err := svc.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "http://localhost:3002", rules[0].Service)
}

func TestUpsertRuleKeepsCatchAllLast(t *testing.T) {
	svc, _, _ := newTestIngress(t)

	_, err := svc.UpsertRule("a.example.com", 3001)
	require.NoError(t, err)
	_, err = svc.UpsertRule("b.example.com", 3002)
	require.NoError(t, err)

	rules, err := svc.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "a.example.com", rules[0].Hostname)
	assert.Equal(t, "b.example.com", rules[1].Hostname)
	assert.Empty(t, rules[2].Hostname)
}

func TestApplyRestartsOnlyOnChange(t *testing.T) {
	svc, dns, sup := newTestIngress(t)

	require.NoError(t, svc.Apply(context.Background(), "app.example.com", 3001))
	assert.Equal(t, []string{"app.example.com"}, dns.routes)
	assert.Equal(t, []string{"cloudflared"}, sup.restarts)

	// Re-applying the same rule still registers DNS but skips the restart.
	require.NoError(t, svc.Apply(context.Background(), "app.example.com", 3001))
	assert.Equal(t, []string{"app.example.com", "app.example.com"}, dns.routes)
	assert.Equal(t, []string{"cloudflared"}, sup.restarts)
}

func TestRemoveRule(t *testing.T) {
	svc, _, _ := newTestIngress(t)

	_, err := svc.UpsertRule("app.example.com", 3001)
	require.NoError(t, err)

	removed, err := svc.RemoveRule("app.example.com")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = svc.RemoveRule("app.example.com")
	require.NoError(t, err)
	assert.False(t, removed)

	rules, err := svc.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, catchAllService, rules[0].Service)
}
