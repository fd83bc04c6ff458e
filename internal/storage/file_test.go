package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStorage_Init(t *testing.T) {
	tmpDir := t.TempDir()
	fs := ForProject(tmpDir)

	if fs.Initialized() {
		t.Fatal("Initialized() = true before Init")
	}
	if err := fs.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if !fs.Initialized() {
		t.Error("Initialized() = false after Init")
	}

	for _, dir := range []string{fs.BaseDir, fs.RalphPath(), fs.HistoryPath()} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("Init() did not create directory %s", dir)
		}
	}
}

func TestFileStorage_JSONRoundTrip(t *testing.T) {
	fs := ForProject(t.TempDir())

	type doc struct {
		Name  string   `json:"name"`
		Items []string `json:"items"`
	}
	in := doc{Name: "demo", Items: []string{"a", "b"}}

	if err := fs.WriteJSON(fs.PRDPath(), in); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var out doc
	if err := fs.ReadJSON(fs.PRDPath(), &out); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if out.Name != in.Name || len(out.Items) != 2 || out.Items[1] != "b" {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestFileStorage_ReadJSONMissing(t *testing.T) {
	fs := ForProject(t.TempDir())
	var v map[string]any
	err := fs.ReadJSON(fs.StatePath(), &v)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadJSON() error = %v, want os.ErrNotExist", err)
	}
}

func TestFileStorage_WriteJSONEmptyPath(t *testing.T) {
	fs := ForProject(t.TempDir())
	if err := fs.WriteJSON("", 1); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("WriteJSON(\"\") error = %v, want ErrEmptyPath", err)
	}
}

func TestFileStorage_AppendText(t *testing.T) {
	fs := ForProject(t.TempDir())
	path := fs.ProgressPath()

	if err := fs.AppendText(path, "one\n"); err != nil {
		t.Fatal(err)
	}
	if err := fs.AppendText(path, "two\n"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("content = %q", data)
	}
}

func TestAtomicWrite_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	if err := WriteFileAtomic(path, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Add Login Page", "add-login-page"},
		{"  --Fix!! bug??  ", "fix-bug"},
		{"", "task"},
		{"!!!", "task"},
		{strings.Repeat("word ", 20), "word-word-word-word-word-word-word-word-word-word"},
	}
	for _, tt := range tests {
		if got := Slug(tt.in, "task"); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
