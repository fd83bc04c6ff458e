// Package storage persists rulebook state under the project's .rulebook/
// directory: the project config, the Ralph backlog, loop state, the progress
// ledger and per-iteration history records.
package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// DefaultBaseDir is the default state directory, relative to the project root.
	DefaultBaseDir = ".rulebook"

	// ConfigFile is the project configuration file inside the base dir.
	ConfigFile = "rulebook.json"

	// RalphDir holds Ralph loop state.
	RalphDir = "ralph"

	// HistoryDir holds one JSON record per Ralph iteration.
	HistoryDir = "history"

	// PRDFile is the Ralph backlog document.
	PRDFile = "prd.json"

	// StateFile is the Ralph loop state document.
	StateFile = "state.json"

	// ProgressFile is the human-readable progress ledger.
	ProgressFile = "progress.txt"

	// LogFile is the structured Ralph log.
	LogFile = "ralph.log"

	// SlugMaxLength is the maximum length for URL-safe slugs.
	SlugMaxLength = 50

	// SlugMinWordBoundary is the minimum length before trimming at word boundary.
	SlugMinWordBoundary = 30
)

// FileStorage implements state persistence on the local filesystem.
type FileStorage struct {
	// BaseDir is the state root (e.g., <project>/.rulebook).
	BaseDir string

	mu sync.Mutex
}

// FileStorageOption configures a FileStorage instance.
type FileStorageOption func(*FileStorage)

// WithBaseDir sets the base directory.
func WithBaseDir(dir string) FileStorageOption {
	return func(fs *FileStorage) {
		fs.BaseDir = dir
	}
}

// NewFileStorage creates a new file-based storage.
func NewFileStorage(opts ...FileStorageOption) *FileStorage {
	fs := &FileStorage{BaseDir: DefaultBaseDir}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// ForProject returns storage rooted at <root>/.rulebook.
func ForProject(root string) *FileStorage {
	return NewFileStorage(WithBaseDir(filepath.Join(root, DefaultBaseDir)))
}

// Init creates the required directory structure.
func (fs *FileStorage) Init() error {
	dirs := []string{
		fs.BaseDir,
		filepath.Join(fs.BaseDir, RalphDir),
		filepath.Join(fs.BaseDir, RalphDir, HistoryDir),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Initialized reports whether the base directory exists.
func (fs *FileStorage) Initialized() bool {
	info, err := os.Stat(fs.BaseDir)
	return err == nil && info.IsDir()
}

// WriteJSON atomically writes v as indented JSON to path.
func (fs *FileStorage) WriteJSON(path string, v interface{}) error {
	if path == "" {
		return ErrEmptyPath
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return WriteJSONFile(path, v)
}

// WriteJSONFile atomically writes v as indented JSON to path.
func WriteJSONFile(path string, v interface{}) error {
	return AtomicWrite(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// ReadJSON decodes the JSON document at path into v. A missing file returns
// an error matching os.ErrNotExist.
func (fs *FileStorage) ReadJSON(path string, v interface{}) error {
	return ReadJSONFile(path, v)
}

// ReadJSONFile decodes the JSON document at path into v.
func ReadJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// AppendText appends text to path, creating parent directories as needed.
func (fs *FileStorage) AppendText(path, text string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // sync already called, close best-effort
	}()

	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("write text: %w", err)
	}
	return f.Sync()
}

// ConfigPath returns the full path to the project config file.
func (fs *FileStorage) ConfigPath() string {
	return filepath.Join(fs.BaseDir, ConfigFile)
}

// RalphPath returns the full path to the Ralph directory.
func (fs *FileStorage) RalphPath() string {
	return filepath.Join(fs.BaseDir, RalphDir)
}

// PRDPath returns the full path to the Ralph backlog.
func (fs *FileStorage) PRDPath() string {
	return filepath.Join(fs.BaseDir, RalphDir, PRDFile)
}

// StatePath returns the full path to the Ralph state file.
func (fs *FileStorage) StatePath() string {
	return filepath.Join(fs.BaseDir, RalphDir, StateFile)
}

// ProgressPath returns the full path to the progress ledger.
func (fs *FileStorage) ProgressPath() string {
	return filepath.Join(fs.BaseDir, RalphDir, ProgressFile)
}

// HistoryPath returns the full path to the iteration history directory.
func (fs *FileStorage) HistoryPath() string {
	return filepath.Join(fs.BaseDir, RalphDir, HistoryDir)
}

// LogPath returns the full path to the structured Ralph log.
func (fs *FileStorage) LogPath() string {
	return filepath.Join(fs.BaseDir, RalphDir, LogFile)
}

// AtomicWrite writes to a temp file and renames atomically.
func AtomicWrite(path string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Create temp file in same directory for atomic rename
	tmpFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		}
	}()

	if err := writeFunc(tmpFile); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write content: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}

// WriteFileAtomic is AtomicWrite for a byte slice.
func WriteFileAtomic(path string, data []byte) error {
	return AtomicWrite(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Slug creates a URL-safe slug from text. Empty input yields fallback.
func Slug(text, fallback string) string {
	s := truncateSlug(slugify(strings.ToLower(text)))
	if s == "" {
		return fallback
	}
	return s
}

// slugify replaces non-alphanumeric runs with single hyphens and trims leading/trailing hyphens.
func slugify(input string) string {
	var result strings.Builder
	lastHyphen := false
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			result.WriteRune('-')
			lastHyphen = true
		}
	}
	return strings.Trim(result.String(), "-")
}

// truncateSlug limits the slug to SlugMaxLength, preferring word boundaries.
func truncateSlug(s string) string {
	if len(s) <= SlugMaxLength {
		return s
	}
	s = s[:SlugMaxLength]
	if idx := strings.LastIndex(s, "-"); idx > SlugMinWordBoundary {
		s = s[:idx]
	}
	return strings.Trim(s, "-")
}
