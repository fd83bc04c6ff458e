package storage

import "errors"

// Sentinel errors for the storage package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrNotInitialized is returned when the .rulebook directory does not exist.
	ErrNotInitialized = errors.New("rulebook not initialized (run rulebook init)")

	// ErrEmptyPath is returned when a write is attempted without a target path.
	ErrEmptyPath = errors.New("path is required")
)
