package agents

import "errors"

var (
	// ErrUnbalancedBlock is returned when a START marker has no matching END or vice versa.
	ErrUnbalancedBlock = errors.New("unbalanced block markers")

	// ErrNestedBlock is returned when a block opens inside another block.
	ErrNestedBlock = errors.New("nested block markers")
)
