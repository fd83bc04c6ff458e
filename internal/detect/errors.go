package detect

import "errors"

// ErrNotDirectory is returned when Detect is pointed at a file.
var ErrNotDirectory = errors.New("project root is not a directory")
