package tasks

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodProposal = `# Proposal: Add login

## Why

Users cannot sign in, which blocks every other feature.

## What Changes

- Add a login form
`

const goodSpec = `# auth Specification

## ADDED Requirements

### Requirement: Password login
The system SHALL accept an email and password.

#### Scenario: Valid credentials
- **WHEN** the password matches
- **THEN** a session is created
`

func fixedClock(t *testing.T, ts string) {
	t.Helper()
	now, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
	orig := nowFn
	nowFn = func() time.Time { return now }
	t.Cleanup(func() { nowFn = orig })
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), "rulebook/tasks")
}

func TestCreate(t *testing.T) {
	fixedClock(t, "2026-03-01T10:00:00Z")
	m := newManager(t)

	task, err := m.Create("add-login", CreateOptions{Modules: []string{"auth"}})
	require.NoError(t, err)

	assert.Equal(t, "add-login", task.ID)
	assert.Equal(t, "Add Login", task.Title)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, []string{"auth"}, task.Specs)
	assert.Equal(t, Progress{Done: 0, Total: 3}, task.Progress)

	for _, rel := range []string{ProposalFile, TasksFile, MetadataFile, filepath.Join(SpecsDir, "auth", SpecFile)} {
		assert.FileExists(t, filepath.Join(m.Dir(), "add-login", rel))
	}

	_, err = m.Create("add-login", CreateOptions{})
	assert.True(t, errors.Is(err, ErrTaskExists))
}

func TestCreate_InvalidID(t *testing.T) {
	m := newManager(t)
	for _, id := range []string{"", "Add-Login", "add_login", "-add", "add--login", "add login"} {
		_, err := m.Create(id, CreateOptions{})
		assert.True(t, errors.Is(err, ErrInvalidID), "id %q", id)
	}
}

func TestValidate_FreshTaskNeedsWhy(t *testing.T) {
	m := newManager(t)
	_, err := m.Create("add-login", CreateOptions{Modules: []string{"auth"}})
	require.NoError(t, err)

	res, err := m.Validate("add-login")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "'## Why' must be at least 20 characters")
}

func TestValidate_Good(t *testing.T) {
	m := newManager(t)
	dir := filepath.Join(m.Dir(), "add-login")
	write(t, filepath.Join(dir, ProposalFile), goodProposal)
	write(t, filepath.Join(dir, TasksFile), "- [ ] 1.1 Build the form\n")
	write(t, filepath.Join(dir, SpecsDir, "auth", SpecFile), goodSpec)

	res, err := m.Validate("add-login")
	require.NoError(t, err)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestValidate_SpecDeltaRules(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want string
	}{
		{
			name: "no delta section",
			spec: "# x\n\n## Requirements\n\ntext\n",
			want: "no '## ADDED|MODIFIED|REMOVED|RENAMED Requirements' section",
		},
		{
			name: "not normative",
			spec: "## ADDED Requirements\n\n### Requirement: Soft\nThe system may log.\n\n#### Scenario: s\n- ok\n",
			want: `requirement "Soft" must contain SHALL or MUST`,
		},
		{
			name: "missing scenario",
			spec: "## MODIFIED Requirements\n\n### Requirement: Hard\nThe system MUST log.\n\n### Requirement: Other\nIt SHALL work.\n\n#### Scenario: s\n- ok\n",
			want: `requirement "Hard" needs at least one '#### Scenario:'`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t)
			dir := filepath.Join(m.Dir(), "t1")
			write(t, filepath.Join(dir, ProposalFile), goodProposal)
			write(t, filepath.Join(dir, TasksFile), "- [x] done\n")
			write(t, filepath.Join(dir, SpecsDir, "core", SpecFile), tt.spec)

			res, err := m.Validate("t1")
			require.NoError(t, err)
			assert.False(t, res.Valid)
			require.Len(t, res.Errors, 1)
			assert.Contains(t, res.Errors[0], tt.want)
		})
	}
}

func TestValidate_RemovedNeedsNoScenario(t *testing.T) {
	m := newManager(t)
	dir := filepath.Join(m.Dir(), "t1")
	write(t, filepath.Join(dir, ProposalFile), goodProposal)
	write(t, filepath.Join(dir, TasksFile), "- [ ] remove it\n")
	write(t, filepath.Join(dir, SpecsDir, "core", SpecFile), "## REMOVED Requirements\n\n### Requirement: Legacy export\nNo longer needed.\n")

	res, err := m.Validate("t1")
	require.NoError(t, err)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestValidate_MissingFiles(t *testing.T) {
	m := newManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(m.Dir(), "empty"), 0o755))

	res, err := m.Validate("empty")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"proposal.md is missing", "tasks.md is missing"}, res.Errors)
	assert.Equal(t, []string{"no spec deltas under specs/"}, res.Warnings)

	_, err = m.Validate("ghost")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestProgressAndStatus(t *testing.T) {
	fixedClock(t, "2026-03-01T10:00:00Z")
	m := newManager(t)
	_, err := m.Create("add-login", CreateOptions{})
	require.NoError(t, err)
	write(t, filepath.Join(m.Dir(), "add-login", TasksFile), "- [x] a\n- [x] b\n- [ ] c\n- [ ] d\n")

	p, err := m.Progress("add-login")
	require.NoError(t, err)
	assert.Equal(t, Progress{Done: 2, Total: 4}, p)
	assert.Equal(t, 50, p.Percent())

	require.NoError(t, m.SetStatus("add-login", StatusInProgress))
	list, err := m.List(false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusInProgress, list[0].Status)

	assert.True(t, errors.Is(m.SetStatus("add-login", "done"), ErrInvalidStatus))
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("In-Progress")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, st)

	_, err = ParseStatus("finished")
	assert.True(t, errors.Is(err, ErrInvalidStatus))
}

func TestArchive(t *testing.T) {
	fixedClock(t, "2026-03-01T10:00:00Z")
	m := newManager(t)
	dir := filepath.Join(m.Dir(), "add-login")
	write(t, filepath.Join(dir, ProposalFile), goodProposal)
	write(t, filepath.Join(dir, TasksFile), "- [x] done\n")
	_, err := m.Create("draft", CreateOptions{})
	require.NoError(t, err)

	_, err = m.Archive("draft", false)
	assert.True(t, errors.Is(err, ErrValidationFailed))

	dest, err := m.Archive("add-login", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Dir(), ArchiveDir, "2026-03-01-add-login"), dest)
	assert.NoDirExists(t, dir)

	active, err := m.List(false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "draft", active[0].ID)

	all, err := m.List(true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "add-login", all[1].ID)
	assert.True(t, all[1].Archived)
	assert.Equal(t, "2026-03-01", all[1].ArchivedOn)
	assert.Equal(t, StatusCompleted, all[1].Status)
	assert.Equal(t, "Add login", all[1].Title)

	// same-day re-archive of a recreated task collides
	write(t, filepath.Join(dir, ProposalFile), goodProposal)
	_, err = m.Archive("add-login", true)
	assert.True(t, errors.Is(err, ErrArchiveExists))
}

func TestShow(t *testing.T) {
	m := newManager(t)
	_, err := m.Create("add-login", CreateOptions{Title: "Login form", Modules: []string{"Auth API"}})
	require.NoError(t, err)

	d, err := m.Show("add-login")
	require.NoError(t, err)
	assert.Equal(t, "Login form", d.Title)
	assert.Contains(t, d.Proposal, "# Proposal: Login form")
	assert.Contains(t, d.Tasks, "# Tasks: Login form")
	assert.Contains(t, d.SpecDocs, "auth-api")
}

func TestUnchecked(t *testing.T) {
	got := Unchecked("- [x] done\n- [ ] 1.2 Add tests\n- [ ] 1.3 Docs\n")
	assert.Equal(t, []string{"1.2 Add tests", "1.3 Docs"}, got)
}
