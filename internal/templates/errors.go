package templates

import "errors"

// ErrTemplateNotFound is returned when a template path is not embedded.
var ErrTemplateNotFound = errors.New("template not found")
