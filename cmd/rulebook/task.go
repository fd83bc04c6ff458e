package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hivellm/rulebook-sub008/internal/tasks"
	"github.com/hivellm/rulebook-sub008/internal/ui"
)

var (
	taskTitle    string
	taskModules  []string
	taskArchived bool
	taskForce    bool
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage spec-driven tasks",
	Long: `Tasks live under the tasks directory (default rulebook/tasks/<id>/):

  proposal.md          why the change is needed and what changes
  tasks.md             the implementation checklist
  specs/<module>/spec.md  requirement deltas (ADDED/MODIFIED/REMOVED)

Completed tasks are archived to <tasksDir>/archive/YYYY-MM-DD-<id>/.`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Scaffold a new task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks with progress",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task's proposal and checklist",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskValidateCmd = &cobra.Command{
	Use:   "validate [id...]",
	Short: "Validate tasks (all active tasks when no id is given)",
	RunE:  runTaskValidate,
}

var taskArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Validate and archive a finished task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskArchive,
}

var taskStatusCmd = &cobra.Command{
	Use:       "status <id> <status>",
	Short:     "Set a task's status",
	Long:      "Set a task's status: " + strings.Join(statusNames(), ", ") + ".",
	Args:      cobra.ExactArgs(2),
	RunE:      runTaskStatus,
	ValidArgs: statusNames(),
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (default: derived from the id)")
	taskCreateCmd.Flags().StringSliceVar(&taskModules, "module", nil, "Module that gets a spec delta (repeatable)")
	taskListCmd.Flags().BoolVar(&taskArchived, "archived", false, "Include archived tasks")
	taskArchiveCmd.Flags().BoolVar(&taskForce, "force", false, "Archive even if validation fails")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd, taskValidateCmd, taskArchiveCmd, taskStatusCmd)
	rootCmd.AddCommand(taskCmd)
}

func statusNames() []string {
	var out []string
	for _, s := range tasks.Statuses() {
		out = append(out, string(s))
	}
	return out
}

func taskManager() (*tasks.Manager, error) {
	root, err := projectRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	return tasks.NewManager(root, cfg.TasksDir), nil
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	m, err := taskManager()
	if err != nil {
		return err
	}
	id := args[0]
	if GetDryRun() {
		if !tasks.ValidID(id) {
			return fmt.Errorf("%w: %q", tasks.ErrInvalidID, id)
		}
		fmt.Printf("[dry-run] Would create %s/%s\n", m.Dir(), id)
		return nil
	}

	t, err := m.Create(id, tasks.CreateOptions{Title: taskTitle, Modules: taskModules})
	if err != nil {
		return err
	}
	return emit(t, func() error {
		fmt.Printf("%s Created task %s in %s\n", ui.OK("✓"), t.ID, t.Dir)
		fmt.Println("  Fill in proposal.md (Why, What Changes), then the checklist in tasks.md.")
		return nil
	})
}

func runTaskList(cmd *cobra.Command, args []string) error {
	m, err := taskManager()
	if err != nil {
		return err
	}
	list, err := m.List(taskArchived)
	if err != nil {
		return err
	}
	if list == nil {
		list = []tasks.Task{}
	}
	return emit(list, func() error {
		if len(list) == 0 {
			fmt.Println("No tasks. Create one with: rulebook task create <id>")
			return nil
		}
		w := newTable()
		//nolint:errcheck // CLI tabwriter output to stdout
		fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tTITLE")
		for _, t := range list {
			status := string(t.Status)
			if t.Archived {
				status = "archived " + t.ArchivedOn
			}
			//nolint:errcheck // CLI tabwriter output to stdout
			fmt.Fprintf(w, "%s\t%s\t%d/%d (%d%%)\t%s\n", t.ID, status, t.Progress.Done, t.Progress.Total, t.Progress.Percent(), t.Title)
		}
		return w.Flush()
	})
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	m, err := taskManager()
	if err != nil {
		return err
	}
	d, err := m.Show(args[0])
	if err != nil {
		return err
	}
	return emit(d, func() error {
		fmt.Printf("%s  %s  %d/%d done\n\n", ui.Heading(d.ID), d.Status, d.Progress.Done, d.Progress.Total)
		width := ui.Width(100)
		fmt.Println(ui.RenderMarkdown(d.Proposal, width))
		fmt.Println(ui.RenderMarkdown(d.Tasks, width))
		names := make([]string, 0, len(d.SpecDocs))
		for name := range d.SpecDocs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(ui.Dim("--- " + name))
			fmt.Println(ui.RenderMarkdown(d.SpecDocs[name], width))
		}
		return nil
	})
}

func runTaskValidate(cmd *cobra.Command, args []string) error {
	m, err := taskManager()
	if err != nil {
		return err
	}
	ids := args
	if len(ids) == 0 {
		list, err := m.List(false)
		if err != nil {
			return err
		}
		for _, t := range list {
			ids = append(ids, t.ID)
		}
	}

	results := make([]*tasks.ValidationResult, 0, len(ids))
	valid := true
	for _, id := range ids {
		res, err := m.Validate(id)
		if err != nil {
			return err
		}
		results = append(results, res)
		valid = valid && res.Valid
	}

	if err := emit(results, func() error {
		if len(results) == 0 {
			fmt.Println("No active tasks to validate.")
		}
		for _, r := range results {
			fmt.Printf("%s %s\n", ui.Check(r.Valid), r.ID)
			for _, e := range r.Errors {
				printIssue("error", "", e)
			}
			for _, w := range r.Warnings {
				printIssue("warning", "", w)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	if !valid {
		return errValidation
	}
	return nil
}

func runTaskArchive(cmd *cobra.Command, args []string) error {
	m, err := taskManager()
	if err != nil {
		return err
	}
	id := args[0]
	if GetDryRun() {
		res, err := m.Validate(id)
		if err != nil {
			return err
		}
		fmt.Printf("[dry-run] Would archive %s (valid: %t)\n", id, res.Valid)
		return nil
	}

	dest, err := m.Archive(id, taskForce)
	if err != nil {
		if errors.Is(err, tasks.ErrValidationFailed) {
			return fmt.Errorf("%w; fix the findings from `rulebook task validate %s` or pass --force", err, id)
		}
		return err
	}
	fmt.Printf("%s Archived %s to %s\n", ui.OK("✓"), id, dest)
	return nil
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	m, err := taskManager()
	if err != nil {
		return err
	}
	status, err := tasks.ParseStatus(args[1])
	if err != nil {
		return err
	}
	if GetDryRun() {
		fmt.Printf("[dry-run] Would set %s to %s\n", args[0], status)
		return nil
	}
	if err := m.SetStatus(args[0], status); err != nil {
		return err
	}
	fmt.Printf("%s %s is now %s\n", ui.OK("✓"), args[0], status)
	return nil
}
