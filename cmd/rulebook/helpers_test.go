package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// useProject points the global flags at a fresh project directory and
// restores them when the test ends.
func useProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	oldDir, oldOutput, oldDry, oldVerbose := projectDir, output, dryRun, verbose
	projectDir, output, dryRun, verbose = dir, "table", false, false
	t.Setenv("RULEBOOK_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(func() {
		projectDir, output, dryRun, verbose = oldDir, oldOutput, oldDry, oldVerbose
	})
	return dir
}

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	runErr := fn()
	_ = w.Close()
	os.Stdout = old
	out := <-done
	_ = r.Close()
	return out, runErr
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
