package tasks

import "errors"

var (
	// ErrInvalidID is returned for task ids that are not kebab-case.
	ErrInvalidID = errors.New("task id must be kebab-case (e.g. add-login-form)")

	// ErrTaskExists is returned by Create when the task directory already exists.
	ErrTaskExists = errors.New("task already exists")

	// ErrTaskNotFound is returned when no active task has the given id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrArchiveExists is returned when the archive destination is taken.
	ErrArchiveExists = errors.New("archive destination already exists")

	// ErrValidationFailed is returned by Archive for tasks that do not validate.
	ErrValidationFailed = errors.New("task validation failed")

	// ErrInvalidStatus is returned by SetStatus for unknown statuses.
	ErrInvalidStatus = errors.New("invalid task status")
)
