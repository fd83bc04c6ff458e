package ralph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hivellm/rulebook-sub008/internal/config"
)

// Supported AI tools.
const (
	ToolClaude = "claude"
	ToolCodex  = "codex"
	ToolGemini = "gemini"
	ToolCustom = "custom"
)

// PromptPlaceholder is replaced by the prompt in custom tool arguments.
const PromptPlaceholder = "{prompt}"

// Tools lists the AI tools NewRunner accepts.
func Tools() []string {
	return []string{ToolClaude, ToolCodex, ToolGemini, ToolCustom}
}

// Output is what one AI tool invocation produced.
type Output struct {
	Command  string        `json:"command"`
	Stdout   string        `json:"-"`
	Stderr   string        `json:"-"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timedOut,omitempty"`
}

// Combined returns stdout followed by stderr.
func (o Output) Combined() string {
	if o.Stderr == "" {
		return o.Stdout
	}
	return o.Stdout + "\n" + o.Stderr
}

// Runner invokes an AI coding tool with a prompt.
type Runner interface {
	Name() string
	Run(ctx context.Context, prompt, dir string) (Output, error)
}

// lookPath resolves binaries. Package-level for testability.
var lookPath = exec.LookPath

// toolRunner runs one of the supported AI CLIs as a subprocess.
type toolRunner struct {
	tool    string
	command string
	args    []string
	timeout time.Duration
	echo    io.Writer
}

// NewRunner returns a Runner for the configured tool. When echo is non-nil
// the tool's output is copied to it as it streams.
func NewRunner(rc config.RalphConfig, timeout time.Duration, echo io.Writer) (Runner, error) {
	tool := strings.ToLower(strings.TrimSpace(rc.Tool))
	if tool == "" {
		tool = ToolClaude
	}

	command := rc.Command
	switch tool {
	case ToolClaude, ToolCodex, ToolGemini:
		if command == "" {
			command = tool
		}
	case ToolCustom:
		if command == "" {
			return nil, fmt.Errorf("%w: custom tool requires ralph.command", ErrUnknownTool)
		}
	default:
		return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownTool, rc.Tool, strings.Join(Tools(), "|"))
	}

	return &toolRunner{
		tool:    tool,
		command: command,
		args:    rc.Args,
		timeout: timeout,
		echo:    echo,
	}, nil
}

func (t *toolRunner) Name() string { return t.tool }

// CommandLine returns the argv for prompt and whether the prompt is fed
// on stdin instead.
func (t *toolRunner) CommandLine(prompt string) (args []string, useStdin bool) {
	switch t.tool {
	case ToolClaude:
		args = append([]string{"-p", prompt, "--dangerously-skip-permissions"}, t.args...)
	case ToolCodex:
		args = append([]string{"exec", prompt}, t.args...)
	case ToolGemini:
		args = append([]string{"-p", prompt}, t.args...)
	default:
		useStdin = true
		for _, a := range t.args {
			if strings.Contains(a, PromptPlaceholder) {
				useStdin = false
			}
			args = append(args, strings.ReplaceAll(a, PromptPlaceholder, prompt))
		}
	}
	return args, useStdin
}

// Describe renders the command line with the prompt elided, for dry runs
// and logs.
func Describe(r Runner) string {
	t, ok := r.(*toolRunner)
	if !ok {
		return r.Name()
	}
	args, useStdin := t.CommandLine("<prompt>")
	line := strings.TrimSpace(t.command + " " + strings.Join(args, " "))
	if useStdin {
		line += " < <prompt>"
	}
	return line
}

func (t *toolRunner) Run(ctx context.Context, prompt, dir string) (Output, error) {
	out := Output{Command: t.command}

	path, err := lookPath(t.command)
	if err != nil {
		return out, fmt.Errorf("%w: %s", ErrToolNotFound, t.command)
	}

	runCtx := ctx
	cancel := func() {}
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
	}
	defer cancel()

	args, useStdin := t.CommandLine(prompt)
	cmd := exec.CommandContext(runCtx, path, args...)
	cmd.Dir = dir
	cmd.Env = cleanEnv()
	if useStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if t.echo != nil {
		cmd.Stdout = io.MultiWriter(&stdout, t.echo)
		cmd.Stderr = io.MultiWriter(&stderr, t.echo)
	}

	start := time.Now()
	err = cmd.Run()
	out.Duration = time.Since(start)
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		out.TimedOut = true
		out.ExitCode = -1
		return out, fmt.Errorf("%s timed out after %s", t.command, t.timeout)
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if err == nil {
		return out, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, fmt.Errorf("%s exited with code %d: %w", t.command, out.ExitCode, err)
	}
	return out, fmt.Errorf("%s execution failed: %w", t.command, err)
}

// cleanEnv strips variables that make AI CLIs refuse to start inside
// another agent session.
func cleanEnv() []string {
	var env []string
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "CLAUDECODE=") || strings.HasPrefix(e, "CLAUDE_CODE_") {
			continue
		}
		env = append(env, e)
	}
	return env
}
