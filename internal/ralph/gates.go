package ralph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hivellm/rulebook-sub008/internal/config"
)

// gateCommand returns the configured shell command for gate.
func gateCommand(gc config.GatesConfig, gate Gate) string {
	switch gate {
	case GateTypeCheck:
		return gc.TypeCheck
	case GateLint:
		return gc.Lint
	case GateTest:
		return gc.Test
	case GateCoverage:
		return gc.Coverage
	}
	return ""
}

// ShellResult is the captured outcome of a shell command.
type ShellResult struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// runShellFn runs a gate command; tests replace it.
var runShellFn = runShell

// runShell runs command through sh -c in dir with combined output. A
// non-zero exit is reported through ExitCode, not err.
func runShell(ctx context.Context, dir, command string) (ShellResult, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = cleanEnv()

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	res := ShellResult{Output: buf.String(), Duration: time.Since(start)}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", command, ctxErr)
	}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("%s execution failed: %w", command, err)
}

// GateRunner executes and classifies the quality gates for one iteration.
type GateRunner struct {
	Dir       string
	Commands  config.GatesConfig
	Threshold int
	// Timeout bounds each gate command; zero means no limit.
	Timeout time.Duration
}

// Run executes every configured gate concurrently and classifies the rest
// from aiOutput. Results are returned in AllGates order.
func (g *GateRunner) Run(ctx context.Context, aiOutput string) ([]GateResult, error) {
	gates := AllGates()
	results := make([]GateResult, len(gates))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, gate := range gates {
		command := gateCommand(g.Commands, gate)
		if command == "" {
			results[i] = Classify(gate, aiOutput, 0, false, g.Threshold)
			continue
		}
		eg.Go(func() error {
			r, err := g.runCommand(egCtx, gate, command)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// AllPassed reports whether every non-skipped gate passed.
func AllPassed(results []GateResult) bool {
	for _, r := range results {
		if !r.Skipped && !r.Passed {
			return false
		}
	}
	return true
}

// AnyCommand reports whether at least one result came from a gate command.
func AnyCommand(results []GateResult) bool {
	for _, r := range results {
		if r.Source == SourceCommand {
			return true
		}
	}
	return false
}

// RunOne executes the configured command for a single gate. A gate with
// no command returns ErrNoGateCommand.
func (g *GateRunner) RunOne(ctx context.Context, gate Gate) (GateResult, error) {
	command := gateCommand(g.Commands, gate)
	if command == "" {
		return GateResult{Gate: gate}, fmt.Errorf("%w: %s", ErrNoGateCommand, gate)
	}
	return g.runCommand(ctx, gate, command)
}

// runCommand runs one gate command under the per-gate timeout. Hitting the
// timeout fails the gate rather than returning an error.
func (g *GateRunner) runCommand(ctx context.Context, gate Gate, command string) (GateResult, error) {
	runCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	res, err := runShellFn(runCtx, g.Dir, command)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return GateResult{
				Gate: gate, Source: SourceCommand, Command: command, ExitCode: -1,
				Duration: res.Duration, Detail: fmt.Sprintf("timed out after %s", g.Timeout),
			}, nil
		}
		return GateResult{Gate: gate}, fmt.Errorf("%s gate: %w", gate, err)
	}
	r := Classify(gate, res.Output, res.ExitCode, true, g.Threshold)
	r.Command = command
	r.Duration = res.Duration
	return r, nil
}
