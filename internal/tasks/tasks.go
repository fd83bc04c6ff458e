// Package tasks manages task directories: a proposal, a checklist and
// optional per-module spec deltas, plus their archive.
package tasks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hivellm/rulebook-sub008/internal/mdast"
	"github.com/hivellm/rulebook-sub008/internal/storage"
	"github.com/hivellm/rulebook-sub008/internal/templates"
)

// File names inside a task directory.
const (
	ProposalFile = "proposal.md"
	TasksFile    = "tasks.md"
	SpecsDir     = "specs"
	SpecFile     = "spec.md"
	MetadataFile = ".metadata.json"
	ArchiveDir   = "archive"
)

// Status is the lifecycle state recorded in .metadata.json.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// Statuses lists the valid task statuses.
func Statuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusCompleted, StatusBlocked}
}

// ParseStatus validates s, accepting "in-progress" as a synonym.
func ParseStatus(s string) (Status, error) {
	normalized := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, st := range Statuses() {
		if st == normalized {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

var idRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// archivePrefixRe matches the date prefix of archived task directories.
var archivePrefixRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-`)

// ValidID reports whether id is a kebab-case task id.
func ValidID(id string) bool {
	return idRe.MatchString(id)
}

// nowFn is the clock; tests replace it.
var nowFn = time.Now

// Metadata is persisted next to the task files.
type Metadata struct {
	ID         string `json:"id"`
	Status     Status `json:"status"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
	ArchivedAt string `json:"archivedAt,omitempty"`
}

// Progress counts checklist items in tasks.md.
type Progress struct {
	Done  int `json:"done" yaml:"done"`
	Total int `json:"total" yaml:"total"`
}

// Percent returns completion as 0..100.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return p.Done * 100 / p.Total
}

// Task summarizes one task directory.
type Task struct {
	ID         string   `json:"id" yaml:"id"`
	Title      string   `json:"title" yaml:"title"`
	Status     Status   `json:"status" yaml:"status"`
	Dir        string   `json:"dir" yaml:"dir"`
	Archived   bool     `json:"archived,omitempty" yaml:"archived,omitempty"`
	ArchivedOn string   `json:"archivedOn,omitempty" yaml:"archived_on,omitempty"`
	Progress   Progress `json:"progress" yaml:"progress"`
	Specs      []string `json:"specs,omitempty" yaml:"specs,omitempty"`
}

// Detail is a task with its file contents.
type Detail struct {
	Task
	Proposal string            `json:"proposal" yaml:"proposal"`
	Tasks    string            `json:"tasks" yaml:"tasks"`
	SpecDocs map[string]string `json:"specDocs,omitempty" yaml:"spec_docs,omitempty"`
}

// Manager operates on the tasks directory of one project.
type Manager struct {
	dir string
}

// NewManager returns a Manager for tasksDir, resolved against root when relative.
func NewManager(root, tasksDir string) *Manager {
	if !filepath.IsAbs(tasksDir) {
		tasksDir = filepath.Join(root, tasksDir)
	}
	return &Manager{dir: tasksDir}
}

// Dir returns the absolute tasks directory.
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) taskDir(id string) string {
	return filepath.Join(m.dir, id)
}

// CreateOptions customizes Create.
type CreateOptions struct {
	Title   string
	Modules []string
}

// Create scaffolds a new task directory from the embedded templates.
func (m *Manager) Create(id string, opts CreateOptions) (*Task, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	dir := m.taskDir(id)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskExists, id)
	}

	title := opts.Title
	if title == "" {
		title = humanize(id)
	}

	files := map[string]string{}
	for name, tmpl := range map[string]string{ProposalFile: "proposal", TasksFile: "tasks"} {
		content, err := templates.Render(templates.Path(templates.KindTask, tmpl), map[string]string{"Title": title})
		if err != nil {
			return nil, err
		}
		files[name] = content
	}
	for _, module := range opts.Modules {
		module = storage.Slug(module, "")
		if module == "" {
			continue
		}
		content, err := templates.Render(templates.Path(templates.KindTask, "spec"), map[string]string{"Module": module})
		if err != nil {
			return nil, err
		}
		files[filepath.Join(SpecsDir, module, SpecFile)] = content
	}

	for rel, content := range files {
		if err := storage.WriteFileAtomic(filepath.Join(dir, rel), []byte(content)); err != nil {
			return nil, fmt.Errorf("write %s: %w", rel, err)
		}
	}

	now := nowFn().UTC().Format(time.RFC3339)
	meta := Metadata{ID: id, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	if err := storage.WriteJSONFile(filepath.Join(dir, MetadataFile), meta); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}
	return m.load(id, dir, false)
}

// List returns active tasks sorted by id, followed by archived tasks
// (newest first) when includeArchived is set.
func (m *Manager) List(includeArchived bool) ([]Task, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tasks directory: %w", err)
	}

	var out []Task
	for _, e := range entries {
		if !e.IsDir() || e.Name() == ArchiveDir || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		t, err := m.load(e.Name(), filepath.Join(m.dir, e.Name()), false)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if !includeArchived {
		return out, nil
	}

	archived, err := os.ReadDir(filepath.Join(m.dir, ArchiveDir))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read archive directory: %w", err)
	}
	var old []Task
	for _, e := range archived {
		if !e.IsDir() {
			continue
		}
		t, err := m.load(e.Name(), filepath.Join(m.dir, ArchiveDir, e.Name()), true)
		if err != nil {
			return nil, err
		}
		old = append(old, *t)
	}
	sort.Slice(old, func(i, j int) bool { return old[i].Dir > old[j].Dir })
	return append(out, old...), nil
}

// Show returns an active task with its file contents.
func (m *Manager) Show(id string) (*Detail, error) {
	dir, err := m.existing(id)
	if err != nil {
		return nil, err
	}
	t, err := m.load(id, dir, false)
	if err != nil {
		return nil, err
	}

	d := &Detail{Task: *t}
	d.Proposal = readOptional(filepath.Join(dir, ProposalFile))
	d.Tasks = readOptional(filepath.Join(dir, TasksFile))
	for _, module := range t.Specs {
		if d.SpecDocs == nil {
			d.SpecDocs = map[string]string{}
		}
		d.SpecDocs[module] = readOptional(filepath.Join(dir, SpecsDir, module, SpecFile))
	}
	return d, nil
}

// Progress returns checklist counts for an active task.
func (m *Manager) Progress(id string) (Progress, error) {
	dir, err := m.existing(id)
	if err != nil {
		return Progress{}, err
	}
	return progressOf(readOptional(filepath.Join(dir, TasksFile))), nil
}

// SetStatus records status in the task metadata.
func (m *Manager) SetStatus(id string, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	dir, err := m.existing(id)
	if err != nil {
		return err
	}
	meta := readMetadata(dir, id)
	meta.Status = status
	meta.UpdatedAt = nowFn().UTC().Format(time.RFC3339)
	if err := storage.WriteJSONFile(filepath.Join(dir, MetadataFile), meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Archive moves a task to archive/YYYY-MM-DD-<id>. Tasks that fail
// validation are refused unless force is set.
func (m *Manager) Archive(id string, force bool) (string, error) {
	dir, err := m.existing(id)
	if err != nil {
		return "", err
	}
	if !force {
		res, err := m.Validate(id)
		if err != nil {
			return "", err
		}
		if !res.Valid {
			return "", fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(res.Errors, "; "))
		}
	}

	now := nowFn()
	dest := filepath.Join(m.dir, ArchiveDir, now.Format("2006-01-02")+"-"+id)
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("%w: %s", ErrArchiveExists, dest)
	}

	meta := readMetadata(dir, id)
	meta.Status = StatusCompleted
	meta.UpdatedAt = now.UTC().Format(time.RFC3339)
	meta.ArchivedAt = meta.UpdatedAt
	if err := storage.WriteJSONFile(filepath.Join(dir, MetadataFile), meta); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}
	if err := os.Rename(dir, dest); err != nil {
		return "", fmt.Errorf("archive task: %w", err)
	}
	return dest, nil
}

func (m *Manager) existing(id string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	dir := m.taskDir(id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return dir, nil
}

func (m *Manager) load(name, dir string, archived bool) (*Task, error) {
	id := name
	t := &Task{Dir: dir, Archived: archived}
	if archived {
		if prefix := archivePrefixRe.FindString(name); prefix != "" {
			id = strings.TrimPrefix(name, prefix)
			t.ArchivedOn = strings.TrimSuffix(prefix, "-")
		}
	}
	t.ID = id

	meta := readMetadata(dir, id)
	t.Status = meta.Status
	t.Title = titleOf(readOptional(filepath.Join(dir, ProposalFile)), id)
	t.Progress = progressOf(readOptional(filepath.Join(dir, TasksFile)))

	specs, err := os.ReadDir(filepath.Join(dir, SpecsDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read specs of %s: %w", id, err)
	}
	for _, e := range specs {
		if e.IsDir() {
			t.Specs = append(t.Specs, e.Name())
		}
	}
	return t, nil
}

// readMetadata returns the stored metadata, or a pending record when the
// file is missing or unreadable.
func readMetadata(dir, id string) Metadata {
	var meta Metadata
	if err := storage.ReadJSONFile(filepath.Join(dir, MetadataFile), &meta); err != nil || meta.Status == "" {
		meta.Status = StatusPending
	}
	if meta.ID == "" {
		meta.ID = id
	}
	return meta
}

func readOptional(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func progressOf(tasksMD string) Progress {
	var p Progress
	for _, cb := range mdast.Checkboxes([]byte(tasksMD)) {
		p.Total++
		if cb.Checked {
			p.Done++
		}
	}
	return p
}

// Unchecked returns the text of unchecked checklist items in tasks.md.
func Unchecked(tasksMD string) []string {
	var out []string
	for _, cb := range mdast.Checkboxes([]byte(tasksMD)) {
		if !cb.Checked && cb.Text != "" {
			out = append(out, cb.Text)
		}
	}
	return out
}

func titleOf(proposal, id string) string {
	hs := mdast.Headings([]byte(proposal))
	if len(hs) > 0 && hs[0].Level == 1 {
		return strings.TrimSpace(strings.TrimPrefix(hs[0].Text, "Proposal:"))
	}
	return humanize(id)
}

func humanize(id string) string {
	words := strings.Split(id, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
