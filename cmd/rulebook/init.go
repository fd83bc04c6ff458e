package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivellm/rulebook-sub008/internal/agents"
	"github.com/hivellm/rulebook-sub008/internal/config"
	"github.com/hivellm/rulebook-sub008/internal/detect"
	"github.com/hivellm/rulebook-sub008/internal/hooks"
	"github.com/hivellm/rulebook-sub008/internal/storage"
	"github.com/hivellm/rulebook-sub008/internal/templates"
	"github.com/hivellm/rulebook-sub008/internal/ui"
)

var (
	initYes     bool
	initLangs   []string
	initIDEs    []string
	initHooks   bool
	initRalph   bool
	initMinimal bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Detect the project and write AGENTS.md",
	Long: `Set up rulebook in a project.

init detects the project's languages and frameworks, writes the project
config (.rulebook/rulebook.json) with default quality gate commands, and
generates AGENTS.md. Existing AGENTS.md content outside rulebook's
<!-- NAME:START --> / <!-- NAME:END --> blocks is preserved.

Optionally:
  --ide cursor,claude   write IDE pointer files that reference AGENTS.md
  --hooks               install pre-commit/pre-push git hooks
  --ralph               create the Ralph backlog from existing tasks
  --minimal             only the core blocks (no language or framework rules)

Safe to run multiple times.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "Accept detected settings without prompting")
	initCmd.Flags().StringSliceVar(&initLangs, "lang", nil, "Languages to generate rules for (default: detected)")
	initCmd.Flags().StringSliceVar(&initIDEs, "ide", nil, "IDE pointer files to write ("+strings.Join(agents.SupportedIDEs(), ", ")+")")
	initCmd.Flags().BoolVar(&initHooks, "hooks", false, "Install git hooks running the quality gates")
	initCmd.Flags().BoolVar(&initRalph, "ralph", false, "Enable Ralph and create its backlog")
	initCmd.Flags().BoolVar(&initMinimal, "minimal", false, "Generate only the core blocks")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}

	det, err := detect.Detect(root)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	applyDetection(cfg, det)

	printDetection(det, cfg)

	if !initYes && !GetDryRun() && ui.IsTerminal(os.Stdin) {
		if !confirm("Proceed with these settings?") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if GetDryRun() {
		return dryRunInit(root, cfg)
	}

	store := storage.ForProject(root)
	if err := store.Init(); err != nil {
		return err
	}
	if err := config.SaveProject(config.ProjectConfigPath(root), cfg); err != nil {
		return err
	}
	fmt.Printf("%s Wrote %s\n", ui.OK("✓"), config.ProjectConfigPath(root))

	res, err := agents.Sync(root, cfg, agents.SyncOptions{Version: version})
	if err != nil {
		return err
	}
	printSync(res)

	if err := writeIDEFiles(root, cfg, false); err != nil {
		return err
	}

	if cfg.Features.GitHooks {
		if err := installHooks(root, cfg, false); err != nil {
			return err
		}
	}

	if cfg.Features.Ralph {
		if err := initBacklog(root, cfg, false); err != nil {
			return err
		}
	}

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  rulebook task create <id>   # start a spec-driven task")
	if cfg.Features.Ralph {
		fmt.Println("  rulebook ralph run          # let Ralph work through the backlog")
	}
	return nil
}

// applyDetection fills cfg from the detection and init flags. Values the
// user already has in the project config are kept unless a flag says
// otherwise.
func applyDetection(cfg *config.Config, det *detect.Detection) {
	now := time.Now().UTC().Format(time.RFC3339)
	cfg.Version = version
	if cfg.InstalledAt == "" {
		cfg.InstalledAt = now
	}
	cfg.UpdatedAt = now

	if cfg.ProjectName == "" {
		cfg.ProjectName = det.ProjectName
	}
	switch {
	case len(initLangs) > 0:
		cfg.Languages = lowerAll(initLangs)
	case len(cfg.Languages) == 0:
		cfg.Languages = det.LanguageNames()
	}
	if len(cfg.Frameworks) == 0 {
		cfg.Frameworks = det.FrameworkNames()
	}
	if initMinimal {
		cfg.Languages = nil
		cfg.Frameworks = nil
	}
	if len(initIDEs) > 0 {
		cfg.IDEs = lowerAll(initIDEs)
	}

	if cfg.Gates == (config.GatesConfig{}) {
		g := detect.GatesFor(det.LanguageNames())
		cfg.Gates = config.GatesConfig{TypeCheck: g.TypeCheck, Lint: g.Lint, Test: g.Test, Coverage: g.Coverage}
	}

	if initHooks {
		cfg.Features.GitHooks = true
	}
	if initRalph {
		cfg.Features.Ralph = true
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func printDetection(det *detect.Detection, cfg *config.Config) {
	fmt.Println(ui.Heading("Project detection"))
	fmt.Printf("  Project:    %s\n", cfg.ProjectName)
	if len(det.Languages) == 0 {
		fmt.Println("  Languages:  (none detected)")
	}
	for _, l := range det.Languages {
		fmt.Printf("  Language:   %-12s %3.0f%%  %s\n", l.Name, l.Confidence*100, ui.Dim(strings.Join(l.Indicators, ", ")))
	}
	for _, f := range det.Frameworks {
		fmt.Printf("  Framework:  %-12s %s\n", f.Name, ui.Dim(f.Source))
	}
	if det.ExistingAgents {
		fmt.Printf("  Existing %s will be merged, not replaced\n", cfg.AgentsFile)
	}
	if det.Truncated {
		fmt.Println(ui.Warn("  Scan stopped early; large tree"))
	}
	fmt.Printf("  Rules for:  %s\n", joinOrNone(append(append([]string{}, cfg.Languages...), cfg.Frameworks...)))
	fmt.Printf("  Coverage:   %d%%\n", cfg.CoverageThreshold)
	fmt.Println()
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "(none)"
	}
	return strings.Join(s, ", ")
}

func confirm(question string) bool {
	fmt.Printf("%s [Y/n] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "" || answer == "y" || answer == "yes"
}

func dryRunInit(root string, cfg *config.Config) error {
	fmt.Printf("[dry-run] Would write %s\n", config.ProjectConfigPath(root))
	res, err := agents.Sync(root, cfg, agents.SyncOptions{Version: version, DryRun: true})
	if err != nil {
		return err
	}
	verb := "update"
	if res.Created {
		verb = "create"
	}
	fmt.Printf("[dry-run] Would %s %s (blocks: %s)\n", verb, res.Path, joinOrNone(agents.BlockNames(cfg)))
	if err := writeIDEFiles(root, cfg, true); err != nil {
		return err
	}
	if cfg.Features.GitHooks {
		fmt.Printf("[dry-run] Would install git hooks: %s\n", strings.Join(hooks.Names(), ", "))
	}
	if cfg.Features.Ralph {
		fmt.Println("[dry-run] Would create the Ralph backlog from existing tasks")
	}
	return nil
}

func printSync(res *agents.SyncResult) {
	switch {
	case res.Created:
		fmt.Printf("%s Created %s\n", ui.OK("✓"), res.Path)
	case len(res.Updated)+len(res.Added)+len(res.Removed) == 0:
		fmt.Printf("%s %s is up to date\n", ui.OK("✓"), res.Path)
	default:
		fmt.Printf("%s Updated %s\n", ui.OK("✓"), res.Path)
	}
	if len(res.Added) > 0 {
		fmt.Printf("  added:    %s\n", strings.Join(res.Added, ", "))
	}
	if len(res.Updated) > 0 {
		VerbosePrintf("  updated:  %s\n", strings.Join(res.Updated, ", "))
	}
	if len(res.Removed) > 0 {
		fmt.Printf("  removed:  %s\n", strings.Join(res.Removed, ", "))
	}
	if len(res.Retained) > 0 {
		fmt.Printf("  kept:     %s %s\n", strings.Join(res.Retained, ", "), ui.Dim("(no longer generated)"))
	}
}

func writeIDEFiles(root string, cfg *config.Config, dry bool) error {
	if len(cfg.IDEs) == 0 {
		return nil
	}
	files, err := agents.WriteIDEFiles(root, cfg.IDEs, templates.DataFromConfig(cfg, version), dry)
	if err != nil {
		return err
	}
	for _, f := range files {
		prefix := ui.OK("✓")
		if dry {
			prefix = "[dry-run]"
		}
		if f.Action == agents.ActionSkipped {
			prefix = ui.Warn("!")
		}
		line := fmt.Sprintf("%s %s %s", prefix, f.Action, f.Path)
		if f.Reason != "" {
			line += " (" + f.Reason + ")"
		}
		fmt.Println(line)
	}
	return nil
}
