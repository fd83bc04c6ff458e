package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivellm/rulebook-sub008/internal/config"
	"github.com/hivellm/rulebook-sub008/internal/ralph"
	"github.com/hivellm/rulebook-sub008/internal/storage"
	"github.com/hivellm/rulebook-sub008/internal/tasks"
	"github.com/hivellm/rulebook-sub008/internal/ui"
)

var (
	ralphInitForce     bool
	ralphMaxIterations int
	ralphParallel      int
	ralphTool          string
	ralphForce         bool
	ralphQuiet         bool
	ralphHistoryLimit  int
)

var ralphCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Run the autonomous AI loop over the story backlog",
	Long: `Ralph repeatedly hands the highest-priority open user story to an AI
coding CLI (claude, codex, gemini or a custom command), then judges the
iteration by the quality gates: type check, lint, tests and coverage.
Gates with a configured command are run; the rest are read from the AI
tool's output.

State lives in .rulebook/ralph/:
  prd.json       the story backlog
  state.json     loop state (iteration, paused, last stop)
  progress.txt   human-readable log with learnings fed into each prompt
  history/       one JSON record per iteration
  ralph.log      structured log`,
}

var ralphInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the backlog from the active tasks",
	Args:  cobra.NoArgs,
	RunE:  runRalphInit,
}

var ralphRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run iterations until the backlog is done or a limit is hit",
	Args:  cobra.NoArgs,
	RunE:  runRalphRun,
}

var ralphStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show loop state and backlog progress",
	Args:  cobra.NoArgs,
	RunE:  runRalphStatus,
}

var ralphHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent iterations",
	Args:  cobra.NoArgs,
	RunE:  runRalphHistory,
}

var ralphPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop after the current iteration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPaused(true)
	},
}

var ralphResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Allow runs again after a pause",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPaused(false)
	},
}

func init() {
	ralphInitCmd.Flags().BoolVar(&ralphInitForce, "force", false, "Replace an existing backlog instead of merging new tasks into it")

	ralphRunCmd.Flags().IntVar(&ralphMaxIterations, "max-iterations", 0, "Iteration limit for this run (default: ralph.maxIterations)")
	ralphRunCmd.Flags().IntVar(&ralphParallel, "parallel", 0, "Stories to run concurrently (default: ralph.parallel)")
	ralphRunCmd.Flags().StringVar(&ralphTool, "tool", "", "AI tool: "+strings.Join(ralph.Tools(), ", "))
	ralphRunCmd.Flags().BoolVar(&ralphForce, "force", false, "Start even if state says a run is active (after a crash)")
	ralphRunCmd.Flags().BoolVarP(&ralphQuiet, "quiet", "q", false, "Do not stream the AI tool's output")

	ralphHistoryCmd.Flags().IntVar(&ralphHistoryLimit, "limit", 10, "Number of iterations to show (0 for all)")

	ralphCmd.AddCommand(ralphInitCmd, ralphRunCmd, ralphStatusCmd, ralphHistoryCmd, ralphPauseCmd, ralphResumeCmd)
	rootCmd.AddCommand(ralphCmd)
}

func runRalphInit(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	return initBacklog(root, cfg, ralphInitForce)
}

// initBacklog creates prd.json from the active tasks, or merges stories
// for new tasks into an existing backlog.
func initBacklog(root string, cfg *config.Config, force bool) error {
	project := cfg.ProjectName
	if project == "" {
		project = "project"
	}
	generated, err := ralph.FromTasks(project, tasks.NewManager(root, cfg.TasksDir))
	if err != nil {
		return err
	}

	store := storage.ForProject(root)
	existing, err := ralph.LoadPRD(store.PRDPath())
	switch {
	case errors.Is(err, ralph.ErrNoPRD), err == nil && force:
		if GetDryRun() {
			fmt.Printf("[dry-run] Would write %s with %d stories\n", store.PRDPath(), len(generated.UserStories))
			return nil
		}
		if err := store.Init(); err != nil {
			return err
		}
		if err := ralph.SavePRD(store.PRDPath(), generated); err != nil {
			return err
		}
		fmt.Printf("%s Created %s with %d stories\n", ui.OK("✓"), store.PRDPath(), len(generated.UserStories))
	case err != nil:
		return err
	default:
		added := existing.Merge(generated)
		if GetDryRun() {
			fmt.Printf("[dry-run] Would add %d stories to %s\n", added, store.PRDPath())
			return nil
		}
		if added > 0 {
			if err := ralph.SavePRD(store.PRDPath(), existing); err != nil {
				return err
			}
		}
		fmt.Printf("%s Added %d new stories to %s (%d total)\n", ui.OK("✓"), added, store.PRDPath(), len(existing.UserStories))
	}
	if len(generated.UserStories) == 0 {
		fmt.Println("  The backlog is empty. Create tasks (rulebook task create) or add stories to prd.json.")
	}
	return nil
}

func runRalphRun(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadProjectConfig(root)
	if err != nil {
		return err
	}
	if ralphTool != "" {
		cfg.Ralph.Tool = ralphTool
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger()
	defer func() { _ = log.Sync() }()

	opts := ralph.Options{
		Root:          root,
		Config:        cfg,
		MaxIterations: ralphMaxIterations,
		Parallel:      ralphParallel,
		DryRun:        GetDryRun(),
		Force:         ralphForce,
		Out:           os.Stdout,
		Logger:        log,
	}
	if !ralphQuiet && !GetDryRun() && GetOutput() == "table" {
		opts.Echo = os.Stdout
	}
	loop, err := ralph.New(opts)
	if err != nil {
		return err
	}

	res, err := loop.Run(ctx)
	if err != nil {
		return err
	}
	if GetOutput() != "table" {
		return emit(res, nil)
	}
	if res.StopReason == ralph.StopToolFailures {
		return fmt.Errorf("stopped after repeated %s failures; see %s", cfg.Ralph.Tool, storage.ForProject(root).LogPath())
	}
	return nil
}

func runRalphStatus(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	report, err := ralph.Status(storage.ForProject(root), cfg.Ralph.MaxFailures)
	if err != nil {
		return err
	}

	return emit(report, func() error {
		st := report.State
		s := report.Summary
		fmt.Printf("%s  %s\n", ui.Heading("Ralph"), report.Project)
		state := "idle"
		switch {
		case st.Running:
			state = fmt.Sprintf("running (pid %d, story %s)", st.PID, st.CurrentStory)
		case st.Paused:
			state = ui.Warn("paused")
		case st.LastStop != "":
			state = "stopped: " + st.LastStop
		}
		fmt.Printf("  State:      %s\n", state)
		fmt.Printf("  Iterations: %d\n", st.Iteration)
		if st.LastError != "" {
			fmt.Printf("  Last error: %s\n", ui.Fail(st.LastError))
		}
		fmt.Printf("  Stories:    %d/%d completed, %d pending, %d failed, %d blocked\n",
			s.Completed, s.Total, s.Pending, s.Failed, s.Blocked)
		if report.Next != nil {
			fmt.Printf("  Next:       %s %s\n", report.Next.ID, report.Next.Title)
		}
		fmt.Println()

		w := newTable()
		//nolint:errcheck // CLI tabwriter output to stdout
		fmt.Fprintln(w, "ID\tPRIORITY\tSTATUS\tATTEMPTS\tTITLE")
		for _, story := range report.Stories {
			//nolint:errcheck // CLI tabwriter output to stdout
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", story.ID, story.Priority, story.Status, story.Attempts, story.Title)
		}
		return w.Flush()
	})
}

func runRalphHistory(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	records, err := ralph.NewLedger(storage.ForProject(root)).History(ralphHistoryLimit)
	if err != nil {
		return err
	}
	if records == nil {
		records = []ralph.IterationRecord{}
	}

	return emit(records, func() error {
		if len(records) == 0 {
			fmt.Println("No iterations recorded yet.")
			return nil
		}
		w := newTable()
		//nolint:errcheck // CLI tabwriter output to stdout
		fmt.Fprintln(w, "ITER\tSTORY\tSTATUS\tGATES\tDURATION\tFINISHED")
		for _, r := range records {
			//nolint:errcheck // CLI tabwriter output to stdout
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				r.Iteration, r.StoryID, r.Status, gateSummary(r.Gates), r.Duration.Round(time.Second), r.FinishedAt)
		}
		return w.Flush()
	})
}

// gateSummary renders gates compactly, e.g. "T✓ L✗ U- C✓".
func gateSummary(gates []ralph.GateResult) string {
	letters := map[ralph.Gate]string{
		ralph.GateTypeCheck: "T",
		ralph.GateLint:      "L",
		ralph.GateTest:      "U",
		ralph.GateCoverage:  "C",
	}
	parts := make([]string, 0, len(gates))
	for _, g := range gates {
		mark := "✓"
		switch {
		case g.Skipped:
			mark = "-"
		case !g.Passed:
			mark = "✗"
		}
		parts = append(parts, letters[g.Gate]+mark)
	}
	return strings.Join(parts, " ")
}

func setPaused(paused bool) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	store := storage.ForProject(root)
	if !store.Initialized() {
		return storage.ErrNotInitialized
	}
	verb := "resume"
	if paused {
		verb = "pause"
	}
	if GetDryRun() {
		fmt.Printf("[dry-run] Would %s Ralph\n", verb)
		return nil
	}

	if paused {
		err = ralph.Pause(store)
	} else {
		err = ralph.Resume(store)
	}
	if err != nil {
		return err
	}
	if paused {
		fmt.Println("Ralph paused; a running loop stops after its current iteration.")
	} else {
		fmt.Println("Ralph resumed; start it with: rulebook ralph run")
	}
	return nil
}
