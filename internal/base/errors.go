package base

import (
	"errors"
	"fmt"
)

// ConfigError reports a construction-time incompatibility: a cell shape too
// large for the bucket size, descriptors that do not match an existing file,
// or invalid configuration values. It is fatal for the open attempt and is
// never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "quarry: config: " + e.Reason
}

// IsConfigError reports whether any error in err's chain is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IOError reports a failed file operation with enough context to diagnose
// disk-space or permission problems: the file path, the operation, and the
// bucket index it targeted. Row and Column are filled in by the write paths
// where they are meaningful (Row is the last fully completed row for bulk
// writes, Column the failing column for row writes).
type IOError struct {
	Path   string
	Op     string
	Bucket int64
	Row    int64
	Column string
	Err    error
}

func (e *IOError) Error() string {
	msg := fmt.Sprintf("quarry: %s %s", e.Op, e.Path)
	if e.Bucket >= 0 {
		msg += fmt.Sprintf(" bucket %d", e.Bucket)
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" column %q", e.Column)
	}
	if e.Row >= 0 {
		msg += fmt.Sprintf(" row %d", e.Row)
	}
	return msg + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError builds an IOError with the row and column context unset.
func NewIOError(op, path string, bucket int64, err error) *IOError {
	return &IOError{Path: path, Op: op, Bucket: bucket, Row: -1, Err: err}
}

// IsIOError reports whether any error in err's chain is an IOError.
func IsIOError(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe)
}
