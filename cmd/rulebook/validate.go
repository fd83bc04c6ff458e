package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hivellm/rulebook-sub008/internal/agents"
	"github.com/hivellm/rulebook-sub008/internal/tasks"
	"github.com/hivellm/rulebook-sub008/internal/ui"
)

// errValidation is returned after the findings have been printed.
var errValidation = errors.New("validation failed")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check AGENTS.md and every active task",
	Long: `Validate AGENTS.md (block markers, required blocks, empty sections) and
score it out of 100, then validate every active task's proposal, checklist
and spec deltas. Exits non-zero when anything has an error.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

type validateReport struct {
	AgentsFile string                    `json:"agentsFile" yaml:"agents_file"`
	Agents     *agents.Report            `json:"agents" yaml:"agents"`
	Tasks      []*tasks.ValidationResult `json:"tasks" yaml:"tasks"`
	Valid      bool                      `json:"valid" yaml:"valid"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(filepath.Join(root, cfg.AgentsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s not found (run rulebook init)", cfg.AgentsFile)
		}
		return err
	}
	report := validateReport{AgentsFile: cfg.AgentsFile, Agents: agents.Validate(string(content))}
	report.Valid = report.Agents.Valid()

	m := tasks.NewManager(root, cfg.TasksDir)
	list, err := m.List(false)
	if err != nil {
		return err
	}
	for _, t := range list {
		res, err := m.Validate(t.ID)
		if err != nil {
			return err
		}
		report.Tasks = append(report.Tasks, res)
		report.Valid = report.Valid && res.Valid
	}

	if err := emit(report, func() error { return printValidateReport(report) }); err != nil {
		return err
	}
	if !report.Valid {
		return errValidation
	}
	return nil
}

func printValidateReport(r validateReport) error {
	fmt.Printf("%s %s  score %d/100\n", ui.Check(r.Agents.Valid()), r.AgentsFile, r.Agents.Score)
	for _, i := range r.Agents.Issues {
		printIssue(string(i.Severity), i.Block, i.Message)
	}
	for _, t := range r.Tasks {
		fmt.Printf("%s task %s\n", ui.Check(t.Valid), t.ID)
		for _, e := range t.Errors {
			printIssue("error", "", e)
		}
		for _, w := range t.Warnings {
			printIssue("warning", "", w)
		}
	}
	return nil
}

func printIssue(severity, block, message string) {
	label := ui.Warn(severity)
	if severity == "error" {
		label = ui.Fail(severity)
	}
	if block != "" {
		message = block + ": " + message
	}
	fmt.Printf("    %s %s\n", label, message)
}
