package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hivellm/rulebook-sub008/internal/ralph"
	"github.com/hivellm/rulebook-sub008/internal/ui"
)

var checkCoverageThreshold int

var checkCoverageCmd = &cobra.Command{
	Use:   "check-coverage",
	Short: "Run the coverage gate and compare it to the threshold",
	Long: `Run the configured coverage command (gates.coverage), extract the total
coverage from its output (istanbul/jest, go test -cover, pytest-cov or
cargo tarpaulin) and fail when it is below the threshold.`,
	RunE: runCheckCoverage,
}

func init() {
	checkCoverageCmd.Flags().IntVar(&checkCoverageThreshold, "threshold", 0, "Minimum coverage percentage (default: coverageThreshold from config)")
	rootCmd.AddCommand(checkCoverageCmd)
}

func runCheckCoverage(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	threshold := cfg.CoverageThreshold
	if checkCoverageThreshold > 0 {
		threshold = checkCoverageThreshold
	}

	if GetDryRun() {
		fmt.Printf("[dry-run] Would run %q and require %d%%\n", cfg.Gates.Coverage, threshold)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g := &ralph.GateRunner{Dir: root, Commands: cfg.Gates, Threshold: threshold, Timeout: cfg.IterationTimeoutDuration()}
	res, err := g.RunOne(ctx, ralph.GateCoverage)
	if err != nil {
		if errors.Is(err, ralph.ErrNoGateCommand) {
			return fmt.Errorf("%w (set one with: rulebook config set gates.coverage \"<command>\")", err)
		}
		return err
	}

	if err := emit(res, func() error {
		fmt.Printf("%s coverage %s\n", ui.Check(res.Passed), res.Detail)
		VerbosePrintf("  command: %s (exit %d, %s)\n", res.Command, res.ExitCode, res.Duration)
		return nil
	}); err != nil {
		return err
	}
	if !res.Passed {
		return fmt.Errorf("coverage gate failed: %s", res.Detail)
	}
	return nil
}
