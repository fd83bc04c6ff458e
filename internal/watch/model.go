// Package watch implements `rulebook watcher`: a full-screen view of the
// project's tasks and the Ralph backlog that reloads when files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/hivellm/rulebook-sub008/internal/config"
	"github.com/hivellm/rulebook-sub008/internal/ralph"
	"github.com/hivellm/rulebook-sub008/internal/storage"
	"github.com/hivellm/rulebook-sub008/internal/tasks"
)

// Snapshot is everything the view shows, read in one pass.
type Snapshot struct {
	Tasks    []tasks.Task
	Ralph    *ralph.StatusReport
	Err      error
	LoadedAt time.Time
}

// Load reads tasks and Ralph status for the project at root. A missing
// Ralph backlog is not an error.
func Load(root string, cfg *config.Config) Snapshot {
	snap := Snapshot{LoadedAt: time.Now()}
	list, err := tasks.NewManager(root, cfg.TasksDir).List(false)
	if err != nil {
		snap.Err = err
		return snap
	}
	snap.Tasks = list

	report, err := ralph.Status(storage.ForProject(root), cfg.Ralph.MaxFailures)
	switch {
	case err == nil:
		snap.Ralph = report
	case !errors.Is(err, ralph.ErrNoPRD):
		snap.Err = err
	}
	return snap
}

type snapshotMsg Snapshot

type changedMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Model is the bubbletea model behind the watcher.
type Model struct {
	root    string
	cfg     *config.Config
	changes <-chan struct{}

	snap     Snapshot
	loading  bool
	spinner  spinner.Model
	bar      progress.Model
	width    int
	quitting bool
}

// NewModel builds the model. changes may be nil to disable live reload.
func NewModel(root string, cfg *config.Config, changes <-chan struct{}) Model {
	return Model{
		root:    root,
		cfg:     cfg,
		changes: changes,
		loading: true,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		width:   80,
	}
}

func (m Model) load() tea.Msg {
	return snapshotMsg(Load(m.root, m.cfg))
}

func (m Model) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-m.changes; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load, m.waitForChange())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, m.load
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(40, max(10, msg.Width/3))
	case snapshotMsg:
		m.snap = Snapshot(msg)
		m.loading = false
	case changedMsg:
		m.loading = true
		return m, tea.Batch(m.load, m.waitForChange())
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	status := dimStyle.Render("updated " + m.snap.LoadedAt.Format("15:04:05"))
	if m.loading {
		status = m.spinner.View() + " loading"
	}
	fmt.Fprintf(&b, "%s  %s\n\n", titleStyle.Render("rulebook watcher"), status)

	if m.snap.Err != nil {
		fmt.Fprintf(&b, "%s\n\n", errStyle.Render("error: "+m.snap.Err.Error()))
	}

	b.WriteString(titleStyle.Render("Tasks") + "\n")
	if len(m.snap.Tasks) == 0 {
		b.WriteString(dimStyle.Render("  no active tasks in "+filepath.ToSlash(m.cfg.TasksDir)) + "\n")
	}
	for _, t := range m.snap.Tasks {
		fmt.Fprintf(&b, "  %-28s %s %3d%% %s\n",
			truncate(t.ID, 28), m.bar.ViewAs(float64(t.Progress.Percent())/100), t.Progress.Percent(),
			dimStyle.Render(fmt.Sprintf("%d/%d %s", t.Progress.Done, t.Progress.Total, t.Status)))
	}

	b.WriteString("\n" + titleStyle.Render("Ralph") + "\n")
	if r := m.snap.Ralph; r != nil {
		s := r.Summary
		done := 0.0
		if s.Total > 0 {
			done = float64(s.Completed) / float64(s.Total)
		}
		fmt.Fprintf(&b, "  %s %d/%d stories\n", m.bar.ViewAs(done), s.Completed, s.Total)
		fmt.Fprintf(&b, "  pending %d  in progress %d  failed %d  blocked %d\n", s.Pending, s.InProgress, s.Failed, s.Blocked)
		state := "idle"
		switch {
		case r.State.Running:
			state = fmt.Sprintf("running (iteration %d, %s)", r.State.Iteration, r.State.CurrentStory)
		case r.State.Paused:
			state = "paused"
		case r.State.LastStop != "":
			state = "stopped: " + r.State.LastStop
		}
		fmt.Fprintf(&b, "  state: %s\n", state)
		if r.Next != nil {
			fmt.Fprintf(&b, "  next: %s %s\n", r.Next.ID, r.Next.Title)
		}
	} else {
		b.WriteString(dimStyle.Render("  no backlog (rulebook ralph init)") + "\n")
	}

	b.WriteString("\n" + dimStyle.Render("r refresh • q quit") + "\n")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run shows the watcher until the user quits or ctx is cancelled.
func Run(ctx context.Context, root string, cfg *config.Config, log *zap.Logger) error {
	dirs := []string{
		filepath.Join(root, cfg.TasksDir),
		storage.ForProject(root).RalphPath(),
	}
	w, err := NewWatcher(dirs, DefaultDebounce, log)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	w.Start(ctx)
	defer w.Close()

	p := tea.NewProgram(NewModel(root, cfg, w.Changes()), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
