package deploy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPackageManager(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
		found bool
	}{
		{name: "no manifest", files: nil, found: false},
		{name: "manifest only defaults to npm", files: []string{"package.json"}, want: "npm", found: true},
		{name: "bun binary lockfile", files: []string{"package.json", "bun.lockb"}, want: "bun", found: true},
		{name: "bun text lockfile", files: []string{"package.json", "bun.lock"}, want: "bun", found: true},
		{name: "pnpm", files: []string{"package.json", "pnpm-lock.yaml"}, want: "pnpm", found: true},
		{name: "yarn", files: []string{"package.json", "yarn.lock"}, want: "yarn", found: true},
		{name: "npm lockfile", files: []string{"package.json", "package-lock.json"}, want: "npm", found: true},
		{name: "bun wins over npm", files: []string{"package.json", "bun.lockb", "package-lock.json"}, want: "bun", found: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("{}"), 0o644))
			}

			pm, ok := DetectPackageManager(dir)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, pm.Name)
			}
		})
	}
}

func TestNestedDirPattern(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{command: "cd web && npm run build", want: "web"},
		{command: "npm ci && cd packages/app && npm run build", want: "packages/app"},
		{command: "cd frontend; yarn build", want: "frontend"},
		{command: "npm run build", want: ""},
		{command: "echo cdn-upload", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			match := nestedDirPattern.FindStringSubmatch(tt.command)
			if tt.want == "" {
				assert.Nil(t, match)
				return
			}
			require.NotNil(t, match)
			assert.Equal(t, tt.want, match[1])
		})
	}
}

func TestHasScript(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"name":"app","scripts":{"build":"vite build","start":"node ."}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(manifest), 0o644))

	assert.True(t, hasScript(dir, "build"))
	assert.True(t, hasScript(dir, "start"))
	assert.False(t, hasScript(dir, "test"))
	assert.False(t, hasScript(t.TempDir(), "build"))
}

func TestParseEnvFile(t *testing.T) {
	dir := t.TempDir()
	content := `# secrets
API_KEY=abc123
QUOTED="hello world"
SINGLE='single'
  SPACED = padded value

not-a-pair
=no-key
`
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	env, err := ParseEnvFile(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"API_KEY": "abc123",
		"QUOTED":  "hello world",
		"SINGLE":  "single",
		"SPACED":  "padded value",
	}, env)
}

func TestParseEnvFileMissing(t *testing.T) {
	_, err := ParseEnvFile(filepath.Join(t.TempDir(), ".env"))
	assert.Error(t, err)
}

func TestDepsHashChangesWithLockfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"app"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte("v1"), 0o644))

	pm, ok := DetectPackageManager(dir)
	require.True(t, ok)

	first, err := depsHash(dir, pm)
	require.NoError(t, err)

	second, err := depsHash(dir, pm)
	require.NoError(t, err)
	assert.Equal(t, first, second, "hash must be stable for unchanged inputs")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte("v2"), 0o644))
	third, err := depsHash(dir, pm)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}
