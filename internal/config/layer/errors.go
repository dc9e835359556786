package layer

import "errors"

var (
	// ErrInvalidKey indicates a key is empty or has a malformed segment.
	ErrInvalidKey = errors.New("invalid configuration key")

	// ErrUnknownScope indicates a scope name or value outside the defined set.
	ErrUnknownScope = errors.New("unknown scope")

	// ErrUnsupportedValue indicates a value that cannot be represented as JSON.
	ErrUnsupportedValue = errors.New("unsupported configuration value")

	// ErrPathConflict indicates a write would descend through a non-map value.
	ErrPathConflict = errors.New("path traverses a non-map value")
)
