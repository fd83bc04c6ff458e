package ralph

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hivellm/rulebook-sub008/internal/storage"
)

// IterationRecord is written to history/iteration-NNN.json.
type IterationRecord struct {
	RunID         string        `json:"runId"`
	Iteration     int           `json:"iteration"`
	StoryID       string        `json:"storyId"`
	StoryTitle    string        `json:"storyTitle"`
	Tool          string        `json:"tool"`
	StartedAt     string        `json:"startedAt"`
	FinishedAt    string        `json:"finishedAt"`
	Duration      time.Duration `json:"duration"`
	ExitCode      int           `json:"exitCode"`
	TimedOut      bool          `json:"timedOut,omitempty"`
	SignalSeen    bool          `json:"completionSignal"`
	Gates         []GateResult  `json:"gates"`
	Status        StoryStatus   `json:"status"`
	Error         string        `json:"error,omitempty"`
	Learnings     string        `json:"learnings,omitempty"`
	OutputExcerpt string        `json:"outputExcerpt,omitempty"`
}

const (
	progressHeader = "# Ralph progress log\n"
	entryPrefix    = "## Iteration "
	excerptLimit   = 2000
	learningsLimit = 800
)

var historyNameRe = regexp.MustCompile(`^iteration-(\d+)\.json$`)

// Ledger persists iteration summaries for humans (progress.txt) and for
// tooling (history/*.json).
type Ledger struct {
	store *storage.FileStorage
}

// NewLedger returns a Ledger backed by store.
func NewLedger(store *storage.FileStorage) *Ledger {
	return &Ledger{store: store}
}

// Append records one iteration in both the progress log and history.
func (l *Ledger) Append(rec IterationRecord) error {
	path := l.store.ProgressPath()
	text := formatEntry(rec)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		text = progressHeader + "\n" + text
	}
	if err := l.store.AppendText(path, text); err != nil {
		return fmt.Errorf("append progress: %w", err)
	}

	name := fmt.Sprintf("iteration-%03d.json", rec.Iteration)
	if err := l.store.WriteJSON(filepath.Join(l.store.HistoryPath(), name), rec); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func formatEntry(rec IterationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%d - %s %s (%s)\n", entryPrefix, rec.Iteration, rec.StoryID, rec.StoryTitle, rec.Status)
	fmt.Fprintf(&b, "Run: %s | Tool: %s | Duration: %s | Exit: %d | Finished: %s\n",
		rec.RunID, rec.Tool, rec.Duration.Round(time.Second), rec.ExitCode, rec.FinishedAt)

	var gates []string
	for _, g := range rec.Gates {
		switch {
		case g.Skipped:
			gates = append(gates, string(g.Gate)+" skipped")
		case g.Passed:
			gates = append(gates, string(g.Gate)+" passed")
		default:
			gates = append(gates, fmt.Sprintf("%s FAILED (%s)", g.Gate, g.Detail))
		}
	}
	if len(gates) > 0 {
		fmt.Fprintf(&b, "Gates: %s\n", strings.Join(gates, ", "))
	}
	if rec.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", rec.Error)
	}
	if rec.Learnings != "" {
		fmt.Fprintf(&b, "Learnings:\n%s\n", rec.Learnings)
	}
	b.WriteString("\n")
	return b.String()
}

// Tail returns the last n progress entries, oldest first.
func (l *Ledger) Tail(n int) (string, error) {
	data, err := os.ReadFile(l.store.ProgressPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read progress: %w", err)
	}
	if n <= 0 {
		return "", nil
	}

	content := string(data)
	var starts []int
	for i := 0; i < len(content); {
		idx := strings.Index(content[i:], entryPrefix)
		if idx < 0 {
			break
		}
		pos := i + idx
		if pos == 0 || content[pos-1] == '\n' {
			starts = append(starts, pos)
		}
		i = pos + len(entryPrefix)
	}
	if len(starts) == 0 {
		return "", nil
	}
	if len(starts) > n {
		starts = starts[len(starts)-n:]
	}
	return strings.TrimSpace(content[starts[0]:]), nil
}

// History returns up to limit iteration records, newest first. A limit of
// zero returns all of them.
func (l *Ledger) History(limit int) ([]IterationRecord, error) {
	entries, err := os.ReadDir(l.store.HistoryPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}

	type numbered struct {
		n    int
		name string
	}
	var files []numbered
	for _, e := range entries {
		m := historyNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		files = append(files, numbered{n: atoi(m[1]), name: e.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].n > files[j].n })
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}

	records := make([]IterationRecord, 0, len(files))
	for _, f := range files {
		var rec IterationRecord
		if err := l.store.ReadJSON(filepath.Join(l.store.HistoryPath(), f.name), &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

var learningsHeadingRe = regexp.MustCompile(`(?mi)^(?:#+\s*)?learnings?:?\s*$`)

// ExtractLearnings pulls the learnings the AI tool reported: the section
// after a "Learnings" heading when present, else the last lines of output.
func ExtractLearnings(out, signal string) string {
	if signal != "" {
		out = strings.ReplaceAll(out, signal, "")
	}
	if loc := learningsHeadingRe.FindStringIndex(out); loc != nil {
		section := out[loc[1]:]
		if end := strings.Index(section, "\n#"); end >= 0 {
			section = section[:end]
		}
		return keepTail(strings.TrimSpace(section), learningsLimit)
	}

	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimRight(line, " \t\r"))
		}
	}
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return keepTail(strings.Join(lines, "\n"), learningsLimit)
}

// keepTail returns at most the last limit bytes of s, cut on a rune boundary.
func keepTail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	start := len(s) - limit
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
