package ralph

import "errors"

var (
	// ErrNoPRD is returned when prd.json does not exist.
	ErrNoPRD = errors.New("no PRD found (run rulebook ralph init)")

	// ErrStoryNotFound is returned when a story id is not in the PRD.
	ErrStoryNotFound = errors.New("story not found")

	// ErrDuplicateStory is returned when two stories share an id.
	ErrDuplicateStory = errors.New("duplicate story id")

	// ErrUnknownTool is returned for an AI tool rulebook cannot invoke.
	ErrUnknownTool = errors.New("unknown AI tool")

	// ErrToolNotFound is returned when the AI tool binary is not on PATH.
	ErrToolNotFound = errors.New("AI tool not found on PATH")

	// ErrAlreadyRunning is returned when a run is started while another is active.
	ErrAlreadyRunning = errors.New("ralph is already running")

	// ErrNoGateCommand is returned by GateRunner.RunOne for an unconfigured gate.
	ErrNoGateCommand = errors.New("no command configured for gate")

	// ErrPaused is returned when a run is started while the loop is paused.
	ErrPaused = errors.New("ralph is paused (run rulebook ralph resume)")
)
