package persist

import (
	"errors"
	"fmt"
)

// Errors returned by the persistence layer.
var (
	// ErrPersistence matches every *Error.
	ErrPersistence = errors.New("persistence error")

	// ErrInvalidDocument indicates a file that is not a configuration document.
	ErrInvalidDocument = errors.New("invalid configuration document")

	// ErrBackupNotFound indicates an unknown backup id.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrNoBackupDir indicates backups were requested without a backup directory.
	ErrNoBackupDir = errors.New("no backup directory configured")
)

// Error describes a failed persistence operation.
type Error struct {
	// Op is the operation: "read", "write", "export", "backup", "restore".
	Op string
	// Path is the file involved, if any.
	Path string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrPersistence.
func (e *Error) Is(target error) bool {
	return target == ErrPersistence
}
