package detect

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func TestDetect_TypeScriptReact(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"package.json":         `{"name":"web-app","dependencies":{"react":"^18.0.0"},"devDependencies":{"express":"4"}}`,
		"tsconfig.json":        `{}`,
		"src/index.ts":         "export {}",
		"src/App.tsx":          "export {}",
		"node_modules/x/a.js":  "ignored",
		"node_modules/x/b.ts":  "ignored",
	})

	d, err := Detect(root)
	require.NoError(t, err)

	assert.Equal(t, "web-app", d.ProjectName)
	require.NotEmpty(t, d.Languages)
	assert.Equal(t, "typescript", d.Languages[0].Name)
	assert.Equal(t, 2, d.Languages[0].SourceFiles, "node_modules must be skipped")
	assert.NotContains(t, d.LanguageNames(), "javascript", "package.json alone must not add javascript to a TS project")
	assert.ElementsMatch(t, []string{"react", "express"}, d.FrameworkNames())
	assert.False(t, d.ExistingAgents)
}

func TestDetect_GoGin(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"go.mod":            "module github.com/acme/service\n\nrequire github.com/gin-gonic/gin v1.9.0\n",
		"main.go":           "package main",
		"internal/x/x.go":   "package x",
		"AGENTS.md":         "# agents",
		"vendor/dep/dep.go": "package dep",
	})

	d, err := Detect(root)
	require.NoError(t, err)

	assert.Equal(t, "service", d.ProjectName)
	assert.Equal(t, []string{"go"}, d.LanguageNames())
	assert.Equal(t, 2, d.Languages[0].SourceFiles)
	assert.Equal(t, []string{"gin"}, d.FrameworkNames())
	assert.True(t, d.ExistingAgents)
}

func TestDetect_SourceOnlyIsCapped(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{}
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		files["scripts/"+n+".py"] = "print()"
	}
	writeFiles(t, root, files)

	d, err := Detect(root)
	require.NoError(t, err)
	require.Len(t, d.Languages, 1)
	assert.Equal(t, "python", d.Languages[0].Name)
	assert.InDelta(t, 0.4, d.Languages[0].Confidence, 0.0001)
}

func TestDetect_BelowThreshold(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"tool.rs": "fn main() {}"})

	d, err := Detect(root)
	require.NoError(t, err)
	assert.Empty(t, d.Languages, "a single stray source file is not enough")
}

func TestDetect_FallbackProjectName(t *testing.T) {
	root := filepath.Join(t.TempDir(), "my-project")
	require.NoError(t, os.MkdirAll(root, 0755))

	d, err := Detect(root)
	require.NoError(t, err)
	assert.Equal(t, "my-project", d.ProjectName)
}

func TestDetect_NotDirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(f, nil, 0644))

	_, err := Detect(f)
	assert.True(t, errors.Is(err, ErrNotDirectory))
}

func TestGatesFor(t *testing.T) {
	g := GatesFor([]string{"unknown", "go", "python"})
	assert.Equal(t, "go test ./...", g.Test)
	assert.Equal(t, "go test -cover ./...", g.Coverage)

	assert.Equal(t, Gates{}, GatesFor(nil))
	assert.Empty(t, DefaultGates("javascript").TypeCheck)
}
