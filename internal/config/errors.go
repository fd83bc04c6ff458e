package config

import "errors"

// Sentinel errors for the config package.
var (
	// ErrInvalidConfig is returned when the project config cannot be parsed.
	ErrInvalidConfig = errors.New("invalid project config")

	// ErrUnknownKey is returned by Set for keys that are not settable.
	ErrUnknownKey = errors.New("unknown config key")

	// ErrInvalidValue is returned by Set when a value does not fit the key's type.
	ErrInvalidValue = errors.New("invalid config value")
)
