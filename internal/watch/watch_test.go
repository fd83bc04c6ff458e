package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hivellm/rulebook-sub008/internal/config"
	"github.com/hivellm/rulebook-sub008/internal/ralph"
	"github.com/hivellm/rulebook-sub008/internal/storage"
	"github.com/hivellm/rulebook-sub008/internal/tasks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func project(t *testing.T) (string, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	_, err := tasks.NewManager(root, cfg.TasksDir).Create("add-login", tasks.CreateOptions{})
	require.NoError(t, err)
	return root, cfg
}

func TestLoad(t *testing.T) {
	root, cfg := project(t)

	snap := Load(root, cfg)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Tasks, 1)
	assert.Nil(t, snap.Ralph, "missing backlog is not an error")

	store := storage.ForProject(root)
	require.NoError(t, store.Init())
	require.NoError(t, ralph.SavePRD(store.PRDPath(), &ralph.PRD{
		Project:     "demo",
		UserStories: []ralph.Story{{ID: "US-001", Title: "Login", Status: ralph.StatusCompleted, Passes: true}},
	}))
	snap = Load(root, cfg)
	require.NoError(t, snap.Err)
	require.NotNil(t, snap.Ralph)
	assert.Equal(t, 1, snap.Ralph.Summary.Completed)
}

func key(s string) tea.KeyMsg {
	if s == "ctrl+c" {
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_Keys(t *testing.T) {
	root, cfg := project(t)

	for _, k := range []string{"q", "ctrl+c"} {
		m := NewModel(root, cfg, nil)
		next, cmd := m.Update(key(k))
		require.NotNil(t, cmd, k)
		assert.IsType(t, tea.QuitMsg{}, cmd(), k)
		assert.Empty(t, next.View(), k)
	}

	m := NewModel(root, cfg, nil)
	next, cmd := m.Update(key("r"))
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, snapshotMsg{}, msg)
	assert.True(t, next.(Model).loading)

	next, _ = next.Update(msg)
	assert.False(t, next.(Model).loading)
	assert.Len(t, next.(Model).snap.Tasks, 1)
}

func TestModel_View(t *testing.T) {
	root, cfg := project(t)
	m := NewModel(root, cfg, nil)

	next, _ := m.Update(snapshotMsg(Snapshot{
		Tasks: []tasks.Task{{ID: "add-login", Status: tasks.StatusInProgress, Progress: tasks.Progress{Done: 1, Total: 4}}},
		Ralph: &ralph.StatusReport{
			State:   ralph.State{Paused: true},
			Summary: ralph.Summary{Total: 2, Completed: 1, Pending: 1},
			Next:    &ralph.Story{ID: "US-002", Title: "Logout"},
		},
		LoadedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}))
	view := next.View()
	assert.Contains(t, view, "add-login")
	assert.Contains(t, view, " 25%")
	assert.Contains(t, view, "1/4 in_progress")
	assert.Contains(t, view, "1/2 stories")
	assert.Contains(t, view, "state: paused")
	assert.Contains(t, view, "next: US-002 Logout")

	next, _ = next.Update(snapshotMsg(Snapshot{Err: errors.New("boom")}))
	assert.Contains(t, next.View(), "error: boom")
	assert.Contains(t, next.View(), "no backlog")
}

func TestModel_ChangeTriggersReload(t *testing.T) {
	root, cfg := project(t)
	changes := make(chan struct{}, 1)
	m := NewModel(root, cfg, changes)

	changes <- struct{}{}
	msg := m.waitForChange()()
	require.IsType(t, changedMsg{}, msg)

	next, cmd := m.Update(msg)
	assert.True(t, next.(Model).loading)
	assert.NotNil(t, cmd)

	close(changes)
	assert.Nil(t, m.waitForChange()())
}

func TestWatcher_ReportsChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher([]string{dir, filepath.Join(dir, "missing")}, 20*time.Millisecond, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Close()

	sub := filepath.Join(dir, "add-login")
	require.NoError(t, os.Mkdir(sub, 0755))
	waitChange(t, w)

	// the new directory is watched too
	require.NoError(t, os.WriteFile(filepath.Join(sub, "tasks.md"), []byte("- [x] done\n"), 0644))
	waitChange(t, w)
}

func waitChange(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}
