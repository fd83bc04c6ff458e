package ralph

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hivellm/rulebook-sub008/internal/storage"
)

// nowFn is the clock; tests replace it.
var nowFn = time.Now

// Stop reasons recorded in State.LastStop.
const (
	StopComplete      = "complete"
	StopMaxIterations = "max-iterations"
	StopPaused        = "paused"
	StopCancelled     = "cancelled"
	StopToolFailures  = "tool-failures"
	StopDryRun        = "dry-run"
	StopError         = "error"
)

// State is persisted in .rulebook/ralph/state.json.
type State struct {
	RunID        string `json:"runId,omitempty"`
	Iteration    int    `json:"iteration"`
	Running      bool   `json:"running"`
	Paused       bool   `json:"paused"`
	PID          int    `json:"pid,omitempty"`
	StartedAt    string `json:"startedAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
	CurrentStory string `json:"currentStory,omitempty"`
	LastStop     string `json:"lastStop,omitempty"`
	LastError    string `json:"lastError,omitempty"`
}

// LoadState reads the state file; a missing file yields a zero State.
func LoadState(store *storage.FileStorage) (*State, error) {
	var st State
	if err := store.ReadJSON(store.StatePath(), &st); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &st, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	return &st, nil
}

// SaveState stamps UpdatedAt and writes the state file.
func SaveState(store *storage.FileStorage, st *State) error {
	st.UpdatedAt = nowFn().UTC().Format(time.RFC3339)
	if err := store.WriteJSON(store.StatePath(), st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Pause asks a running loop to stop after its current iteration and keeps
// new runs from starting until Resume.
func Pause(store *storage.FileStorage) error {
	st, err := LoadState(store)
	if err != nil {
		return err
	}
	st.Paused = true
	return SaveState(store, st)
}

// Resume clears the paused flag.
func Resume(store *storage.FileStorage) error {
	st, err := LoadState(store)
	if err != nil {
		return err
	}
	st.Paused = false
	return SaveState(store, st)
}

// StatusReport combines the loop state with the backlog.
type StatusReport struct {
	State   State   `json:"state" yaml:"state"`
	Project string  `json:"project,omitempty" yaml:"project,omitempty"`
	Summary Summary `json:"summary" yaml:"summary"`
	Next    *Story  `json:"next,omitempty" yaml:"next,omitempty"`
	Stories []Story `json:"stories" yaml:"stories"`
}

// Status reads state and PRD. A missing PRD returns ErrNoPRD.
func Status(store *storage.FileStorage, maxFailures int) (*StatusReport, error) {
	st, err := LoadState(store)
	if err != nil {
		return nil, err
	}
	prd, err := LoadPRD(store.PRDPath())
	if err != nil {
		return nil, err
	}
	r := &StatusReport{State: *st, Project: prd.Project, Summary: prd.Summary(), Stories: prd.UserStories}
	if next := prd.Next(maxFailures); next != nil {
		n := *next
		r.Next = &n
	}
	return r, nil
}
