package hooks

import "errors"

// ErrNotGitRepo is returned when the project root has no .git entry.
var ErrNotGitRepo = errors.New("not a git repository")
