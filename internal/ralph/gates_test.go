package ralph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivellm/rulebook-sub008/internal/config"
)

func stubShell(t *testing.T, fn func(ctx context.Context, dir, command string) (ShellResult, error)) {
	t.Helper()
	orig := runShellFn
	runShellFn = fn
	t.Cleanup(func() { runShellFn = orig })
}

func TestGateRunner_MixesCommandsAndAIOutput(t *testing.T) {
	var mu sync.Mutex
	var ran []string
	stubShell(t, func(_ context.Context, _ string, command string) (ShellResult, error) {
		mu.Lock()
		ran = append(ran, command)
		mu.Unlock()
		switch command {
		case "lint":
			return ShellResult{Output: "✖ 2 problems (1 error, 1 warning)\n", ExitCode: 1}, nil
		case "cover":
			return ShellResult{Output: "All files |   97.1 |\n"}, nil
		}
		return ShellResult{}, nil
	})

	g := &GateRunner{
		Commands:  config.GatesConfig{Lint: "lint", Coverage: "cover"},
		Threshold: 95,
	}
	results, err := g.Run(context.Background(), "Tests:       3 passed, 3 total\n")
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.ElementsMatch(t, []string{"lint", "cover"}, ran)

	assert.Equal(t, GateTypeCheck, results[0].Gate)
	assert.True(t, results[0].Skipped)

	assert.Equal(t, GateLint, results[1].Gate)
	assert.False(t, results[1].Passed)
	assert.Equal(t, "lint", results[1].Command)

	assert.Equal(t, GateTest, results[2].Gate)
	assert.True(t, results[2].Passed)
	assert.Equal(t, SourceAIOutput, results[2].Source)

	assert.True(t, results[3].Passed)
	assert.InDelta(t, 97.1, results[3].Coverage, 0.001)

	assert.False(t, AllPassed(results))
	assert.True(t, AnyCommand(results))
}

func TestGateRunner_TimeoutFailsGate(t *testing.T) {
	stubShell(t, func(ctx context.Context, _ string, command string) (ShellResult, error) {
		<-ctx.Done()
		return ShellResult{}, ctx.Err()
	})

	g := &GateRunner{Commands: config.GatesConfig{Test: "slow"}, Timeout: 20 * time.Millisecond}
	results, err := g.Run(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, results[2].Passed)
	assert.Equal(t, "timed out after 20ms", results[2].Detail)
}

func TestGateRunner_CancelledContext(t *testing.T) {
	stubShell(t, func(ctx context.Context, _ string, _ string) (ShellResult, error) {
		return ShellResult{}, context.Canceled
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := &GateRunner{Commands: config.GatesConfig{Test: "x"}}
	_, err := g.Run(ctx, "")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunShell(t *testing.T) {
	requireBinary(t, "sh")
	res, err := runShell(context.Background(), t.TempDir(), "echo out; echo err >&2; exit 4")
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExitCode)
	assert.Contains(t, res.Output, "out")
	assert.Contains(t, res.Output, "err")
}

func TestGateRunner_RunOne(t *testing.T) {
	stubShell(t, func(_ context.Context, _ string, command string) (ShellResult, error) {
		return ShellResult{Output: "coverage: 81.5% of statements\n"}, nil
	})

	g := &GateRunner{Commands: config.GatesConfig{Coverage: "go test -cover ./..."}, Threshold: 80}
	r, err := g.RunOne(context.Background(), GateCoverage)
	require.NoError(t, err)
	assert.True(t, r.Passed)
	assert.InDelta(t, 81.5, r.Coverage, 0.001)
	assert.Equal(t, "go test -cover ./...", r.Command)

	_, err = g.RunOne(context.Background(), GateLint)
	assert.True(t, errors.Is(err, ErrNoGateCommand))
}
