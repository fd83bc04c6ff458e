// Package ralph implements the autonomous loop: a PRD backlog of user
// stories, an AI tool runner, quality gate classification and the
// iteration driver that ties them together.
package ralph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivellm/rulebook-sub008/internal/config"
	"github.com/hivellm/rulebook-sub008/internal/logging"
	"github.com/hivellm/rulebook-sub008/internal/storage"
	"github.com/hivellm/rulebook-sub008/internal/tasks"
	"github.com/hivellm/rulebook-sub008/internal/templates"
	"github.com/hivellm/rulebook-sub008/internal/worker"
)

// learningsEntries is how many progress entries are fed into each prompt.
const learningsEntries = 3

// maxNoteLines bounds the failure notes kept on a story.
const maxNoteLines = 5

// Options configures a Loop.
type Options struct {
	Root   string
	Config *config.Config

	// MaxIterations overrides Config.Ralph.MaxIterations when positive.
	MaxIterations int
	// Parallel overrides Config.Ralph.Parallel when positive.
	Parallel int

	DryRun bool
	// Force starts a run even when the state file claims one is active.
	Force bool

	// Out receives progress lines; nil discards them.
	Out io.Writer
	// Echo receives the AI tool's output as it streams; nil disables it.
	Echo io.Writer

	Logger *zap.Logger
	// Runner replaces the configured AI tool.
	Runner Runner
}

// Result summarizes a finished run.
type Result struct {
	RunID      string  `json:"runId,omitempty" yaml:"run_id,omitempty"`
	Iterations int     `json:"iterations" yaml:"iterations"`
	StopReason string  `json:"stopReason" yaml:"stop_reason"`
	Summary    Summary `json:"summary" yaml:"summary"`
	Prompt     string  `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Command    string  `json:"command,omitempty" yaml:"command,omitempty"`
}

// Loop drives iterations until the backlog is done or a stop condition hits.
type Loop struct {
	root          string
	cfg           *config.Config
	store         *storage.FileStorage
	ledger        *Ledger
	runner        Runner
	gates         *GateRunner
	log           *zap.Logger
	out           io.Writer
	maxIterations int
	parallel      int
	dryRun        bool
	force         bool

	mu     sync.Mutex
	outMu  sync.Mutex
	prd    *PRD
	state  *State
	closer func()
}

// New validates opts and builds a Loop.
func New(opts Options) (*Loop, error) {
	if opts.Config == nil {
		return nil, errors.New("ralph: config is required")
	}
	cfg := opts.Config
	store := storage.ForProject(opts.Root)
	if !store.Initialized() {
		return nil, storage.ErrNotInitialized
	}

	runner := opts.Runner
	if runner == nil {
		r, err := NewRunner(cfg.Ralph, cfg.IterationTimeoutDuration(), opts.Echo)
		if err != nil {
			return nil, err
		}
		runner = r
	}

	l := &Loop{
		root:   opts.Root,
		cfg:    cfg,
		store:  store,
		ledger: NewLedger(store),
		runner: runner,
		gates: &GateRunner{
			Dir:       opts.Root,
			Commands:  cfg.Gates,
			Threshold: cfg.CoverageThreshold,
			Timeout:   cfg.IterationTimeoutDuration(),
		},
		log:           opts.Logger,
		out:           opts.Out,
		maxIterations: cfg.Ralph.MaxIterations,
		parallel:      cfg.Ralph.Parallel,
		dryRun:        opts.DryRun,
		force:         opts.Force,
	}
	if opts.MaxIterations > 0 {
		l.maxIterations = opts.MaxIterations
	}
	if opts.Parallel > 0 {
		l.parallel = opts.Parallel
	}
	if l.parallel < 1 {
		l.parallel = 1
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	if l.out == nil {
		l.out = io.Discard
	}
	return l, nil
}

func (l *Loop) printf(format string, args ...any) {
	l.outMu.Lock()
	defer l.outMu.Unlock()
	fmt.Fprintf(l.out, format, args...)
}

func (l *Loop) signal() string {
	if l.cfg.Ralph.CompletionSignal != "" {
		return l.cfg.Ralph.CompletionSignal
	}
	return config.DefaultCompletionSignal
}

// Run executes iterations until every story is done, the iteration limit
// is reached, the loop is paused, ctx is cancelled, or the AI tool fails
// MaxFailures times in a row.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	prd, err := LoadPRD(l.store.PRDPath())
	if err != nil {
		return nil, err
	}
	st, err := LoadState(l.store)
	if err != nil {
		return nil, err
	}
	if st.Paused {
		return nil, ErrPaused
	}
	if st.Running && !l.force {
		return nil, fmt.Errorf("%w (pid %d, run %s); use --force if it crashed", ErrAlreadyRunning, st.PID, st.RunID)
	}
	l.prd, l.state = prd, st

	if l.dryRun {
		return l.dryRunResult()
	}

	runID := uuid.NewString()
	st.RunID = runID
	st.Running = true
	st.PID = os.Getpid()
	st.StartedAt = nowFn().UTC().Format(time.RFC3339)
	st.LastStop, st.LastError = "", ""
	if err := SaveState(l.store, st); err != nil {
		return nil, err
	}

	if fileLog, closeFn, err := logging.NewFile(l.store.LogPath(), l.log); err == nil {
		l.log = fileLog
		l.closer = closeFn
	} else {
		l.printf("Warning: could not open %s: %v\n", l.store.LogPath(), err)
	}
	l.log = l.log.With(zap.String("run_id", runID))
	l.log.Info("run started",
		zap.String("tool", l.runner.Name()),
		zap.Int("max_iterations", l.maxIterations),
		zap.Int("parallel", l.parallel),
		zap.Int("stories", len(prd.UserStories)))

	iterations, reason, runErr := l.iterate(ctx)

	res := l.finish(runID, iterations, reason, runErr)
	if l.closer != nil {
		l.closer()
	}
	return res, runErr
}

func (l *Loop) iterate(ctx context.Context) (int, string, error) {
	maxFailures := l.cfg.Ralph.MaxFailures
	iterations := 0
	toolFailures := 0

	for {
		if ctx.Err() != nil {
			return iterations, StopCancelled, nil
		}
		if l.maxIterations > 0 && iterations >= l.maxIterations {
			l.printf("\nReached max iterations (%d). Stopping.\n", l.maxIterations)
			return iterations, StopMaxIterations, nil
		}
		if disk, err := LoadState(l.store); err == nil && disk.Paused {
			l.state.Paused = true
			l.printf("\nPaused. Run `rulebook ralph resume` to continue.\n")
			return iterations, StopPaused, nil
		}

		batch := l.nextBatch(iterations)
		if len(batch) == 0 {
			l.printf("\nAll stories are done.\n")
			return iterations, StopComplete, nil
		}

		outcomes, err := l.runBatch(ctx, batch)
		for _, o := range outcomes {
			if o.cancelled {
				continue
			}
			iterations++
			if o.toolErr != nil {
				toolFailures++
			} else {
				toolFailures = 0
			}
		}
		if err != nil {
			return iterations, StopError, err
		}
		if ctx.Err() != nil {
			return iterations, StopCancelled, nil
		}
		if maxFailures > 0 && toolFailures >= maxFailures {
			l.printf("\nAI tool failed %d time(s) in a row. Stopping.\n", toolFailures)
			return iterations, StopToolFailures, nil
		}
	}
}

// nextBatch returns the stories for the next round: the top candidate, or
// in parallel mode the first wave of non-conflicting candidates.
func (l *Loop) nextBatch(done int) []*Story {
	l.mu.Lock()
	defer l.mu.Unlock()

	candidates := l.prd.Candidates(l.cfg.Ralph.MaxFailures)
	if len(candidates) == 0 {
		return nil
	}
	limit := l.parallel
	if l.maxIterations > 0 && l.maxIterations-done < limit {
		limit = l.maxIterations - done
	}
	if limit <= 1 {
		return candidates[:1]
	}

	claims := make([]worker.Claim, len(candidates))
	byID := make(map[string]*Story, len(candidates))
	for i, s := range candidates {
		claims[i] = worker.Claim{ID: s.ID, Files: s.Files}
		byID[s.ID] = s
	}
	wave := worker.PlanWaves(claims, limit)[0]
	batch := make([]*Story, len(wave))
	for i, c := range wave {
		batch[i] = byID[c.ID]
	}
	return batch
}

// job is one dispatched story with its rendered prompt.
type job struct {
	iteration int
	story     Story
	prompt    string
	startedAt time.Time
}

type outcome struct {
	job       job
	output    Output
	toolErr   error
	gateErr   error
	gates     []GateResult
	signal    bool
	passed    bool
	cancelled bool
}

func (l *Loop) runBatch(ctx context.Context, batch []*Story) ([]outcome, error) {
	jobs, err := l.dispatch(batch)
	if err != nil {
		return nil, err
	}

	pool := worker.NewPool[job, outcome](len(jobs))
	results := pool.Process(ctx, jobs, l.execute)

	outcomes := make([]outcome, 0, len(results))
	for i, r := range results {
		o := r.Value
		if r.Err != nil {
			o = outcome{job: jobs[i], cancelled: true}
		}
		if err := l.apply(o); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// dispatch assigns iteration numbers, renders prompts and marks the batch
// in progress.
func (l *Loop) dispatch(batch []*Story) ([]job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	learnings, err := l.ledger.Tail(learningsEntries)
	if err != nil {
		l.log.Warn("read progress tail", zap.Error(err))
	}

	jobs := make([]job, 0, len(batch))
	var current []string
	for _, s := range batch {
		l.state.Iteration++
		prompt, err := BuildPrompt(l.promptData(l.state.Iteration, s, learnings))
		if err != nil {
			return nil, err
		}
		s.Status = StatusInProgress
		current = append(current, s.ID)
		jobs = append(jobs, job{iteration: l.state.Iteration, story: *s, prompt: prompt, startedAt: nowFn()})
	}
	l.state.CurrentStory = strings.Join(current, ",")

	if err := SavePRD(l.store.PRDPath(), l.prd); err != nil {
		return nil, err
	}
	if err := l.saveState(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (l *Loop) promptData(iteration int, s *Story, learnings string) PromptData {
	data := templates.DataFromConfig(l.cfg, "")
	project := l.prd.Project
	if project == "" {
		project = l.cfg.ProjectName
	}
	return PromptData{
		Iteration:         iteration,
		ProjectName:       project,
		Story:             *s,
		Summary:           l.prd.Summary(),
		Backlog:           l.prd.UserStories,
		Learnings:         learnings,
		Gates:             data.Gates,
		CoverageThreshold: l.cfg.CoverageThreshold,
		CompletionSignal:  l.signal(),
	}
}

// execute runs the AI tool and the gates for one job. It must not touch
// shared loop state besides printing.
func (l *Loop) execute(ctx context.Context, j job) (outcome, error) {
	o := outcome{job: j}
	l.printf("\n=== Ralph Iteration %d: %s %s ===\n", j.iteration, j.story.ID, j.story.Title)
	l.log.Info("iteration started", zap.Int("iteration", j.iteration), zap.String("story", j.story.ID))

	o.output, o.toolErr = l.runner.Run(ctx, j.prompt, l.root)
	if ctx.Err() != nil {
		o.cancelled = true
		return o, nil
	}
	if o.toolErr != nil {
		l.printf("[%s] %s failed: %v\n", j.story.ID, l.runner.Name(), o.toolErr)
	}

	combined := o.output.Combined()
	o.signal = HasCompletionSignal(combined, l.signal())
	o.gates, o.gateErr = l.gates.Run(ctx, combined)
	if ctx.Err() != nil {
		o.cancelled = true
		return o, nil
	}

	o.passed = o.toolErr == nil && o.gateErr == nil && AllPassed(o.gates) && (o.signal || AnyCommand(o.gates))
	return o, nil
}

// apply folds an outcome into the PRD, ledger and log.
func (l *Loop) apply(o outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	story, err := l.prd.Story(o.job.story.ID)
	if err != nil {
		return err
	}
	if o.cancelled {
		story.Status = StatusPending
		return SavePRD(l.store.PRDPath(), l.prd)
	}

	reason := failureReason(o)
	if o.passed {
		story.Status = StatusCompleted
		story.Passes = true
		l.completeTask(story)
	} else {
		story.Attempts++
		story.Passes = false
		story.Notes = appendNote(story.Notes, fmt.Sprintf("Iteration %d: %s", o.job.iteration, reason))
		story.Status = StatusFailed
		if limit := l.cfg.Ralph.MaxFailures; limit > 0 && story.Attempts >= limit {
			story.Status = StatusBlocked
		}
	}

	for _, g := range o.gates {
		l.log.Debug("gate",
			zap.Int("iteration", o.job.iteration),
			zap.String("gate", string(g.Gate)),
			zap.Bool("passed", g.Passed),
			zap.Bool("skipped", g.Skipped),
			zap.String("source", g.Source),
			zap.String("detail", g.Detail))
	}

	finished := nowFn()
	rec := IterationRecord{
		RunID:         l.state.RunID,
		Iteration:     o.job.iteration,
		StoryID:       story.ID,
		StoryTitle:    story.Title,
		Tool:          l.runner.Name(),
		StartedAt:     o.job.startedAt.UTC().Format(time.RFC3339),
		FinishedAt:    finished.UTC().Format(time.RFC3339),
		Duration:      o.output.Duration,
		ExitCode:      o.output.ExitCode,
		TimedOut:      o.output.TimedOut,
		SignalSeen:    o.signal,
		Gates:         o.gates,
		Status:        story.Status,
		Learnings:     ExtractLearnings(o.output.Stdout, l.signal()),
		OutputExcerpt: keepTail(o.output.Combined(), excerptLimit),
	}
	if !o.passed {
		rec.Error = reason
	}
	if err := l.ledger.Append(rec); err != nil {
		return err
	}

	l.log.Info("iteration finished",
		zap.Int("iteration", o.job.iteration),
		zap.String("story", story.ID),
		zap.String("status", string(story.Status)),
		zap.Int("attempts", story.Attempts),
		zap.Bool("completion_signal", o.signal),
		zap.Duration("duration", o.output.Duration))

	if o.passed {
		l.printf("[%s] completed in iteration %d\n", story.ID, o.job.iteration)
	} else {
		l.printf("[%s] %s after attempt %d: %s\n", story.ID, story.Status, story.Attempts, reason)
	}
	return SavePRD(l.store.PRDPath(), l.prd)
}

// completeTask marks the linked task completed; failures only warn.
func (l *Loop) completeTask(s *Story) {
	if s.TaskID == "" {
		return
	}
	m := tasks.NewManager(l.root, l.cfg.TasksDir)
	if err := m.SetStatus(s.TaskID, tasks.StatusCompleted); err != nil {
		l.log.Warn("update task status", zap.String("task", s.TaskID), zap.Error(err))
	}
}

func failureReason(o outcome) string {
	switch {
	case o.toolErr != nil:
		return o.toolErr.Error()
	case o.gateErr != nil:
		return o.gateErr.Error()
	}
	var failed []string
	for _, g := range o.gates {
		if !g.Skipped && !g.Passed {
			failed = append(failed, fmt.Sprintf("%s gate failed (%s)", g.Gate, g.Detail))
		}
	}
	if len(failed) > 0 {
		return strings.Join(failed, "; ")
	}
	if !o.signal && !AnyCommand(o.gates) {
		return "completion signal not found and no gate commands are configured"
	}
	return ""
}

func appendNote(notes, line string) string {
	lines := strings.Split(strings.TrimSpace(notes), "\n")
	if notes == "" {
		lines = nil
	}
	lines = append(lines, line)
	if len(lines) > maxNoteLines {
		lines = lines[len(lines)-maxNoteLines:]
	}
	return strings.Join(lines, "\n")
}

// saveState writes l.state, taking the paused flag from disk since
// `ralph pause` and `ralph resume` edit the file while a run is active.
func (l *Loop) saveState() error {
	if disk, err := LoadState(l.store); err == nil {
		l.state.Paused = disk.Paused
	}
	return SaveState(l.store, l.state)
}

// finish resets interrupted stories and records the stop in state.
func (l *Loop) finish(runID string, iterations int, reason string, runErr error) *Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.prd.UserStories {
		if l.prd.UserStories[i].Status == StatusInProgress {
			l.prd.UserStories[i].Status = StatusPending
		}
	}
	if err := SavePRD(l.store.PRDPath(), l.prd); err != nil {
		l.log.Warn("save PRD", zap.Error(err))
	}

	l.state.Running = false
	l.state.PID = 0
	l.state.CurrentStory = ""
	l.state.LastStop = reason
	if runErr != nil {
		l.state.LastError = runErr.Error()
	}
	if err := l.saveState(); err != nil {
		l.log.Warn("save state", zap.Error(err))
	}

	summary := l.prd.Summary()
	l.log.Info("run finished",
		zap.String("reason", reason),
		zap.Int("iterations", iterations),
		zap.Int("completed", summary.Completed),
		zap.Int("total", summary.Total))
	l.printf("\nRalph finished after %d iteration(s): %s (%d/%d stories completed)\n",
		iterations, reason, summary.Completed, summary.Total)

	return &Result{RunID: runID, Iterations: iterations, StopReason: reason, Summary: summary}
}

func (l *Loop) dryRunResult() (*Result, error) {
	res := &Result{StopReason: StopDryRun, Summary: l.prd.Summary(), Command: Describe(l.runner)}
	story := l.prd.Next(l.cfg.Ralph.MaxFailures)
	if story == nil {
		l.printf("[dry-run] No eligible stories; nothing to run.\n")
		return res, nil
	}

	learnings, err := l.ledger.Tail(learningsEntries)
	if err != nil {
		return nil, err
	}
	prompt, err := BuildPrompt(l.promptData(l.state.Iteration+1, story, learnings))
	if err != nil {
		return nil, err
	}
	res.Prompt = prompt
	l.printf("[dry-run] Next story: %s %s\n", story.ID, story.Title)
	l.printf("[dry-run] Would run: %s\n", res.Command)
	l.printf("[dry-run] Prompt:\n%s\n", prompt)
	return res, nil
}
