package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFileFormat = errors.New("invalid file format")
	ErrMissingColumn     = errors.New("missing required column")
	ErrRangeExhausted    = errors.New("code range exhausted")
	ErrSerialExhausted   = fmt.Errorf("serial range exhausted: %w", ErrRangeExhausted)
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrOutOfScope        = errors.New("outside operator scope")
	ErrUploadHasErrors   = errors.New("upload has validation errors")
	ErrStatusConflict    = errors.New("job status changed concurrently")
	ErrInvalidInput      = errors.New("invalid input")
)

// ValidationError is a field-level problem found in a single upload row
// or request. Row is 1-based and matches the spreadsheet row number.
type ValidationError struct {
	Row     int
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: validation failed for field '%s' with value '%v': %s",
			e.Row, e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s",
		e.Field, e.Value, e.Message)
}

// RemoteOperationError wraps a failed call into the document store or the
// identity provider. The underlying message is preserved.
type RemoteOperationError struct {
	Op  string
	Err error
}

func (e RemoteOperationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e RemoteOperationError) Unwrap() error {
	return e.Err
}

func NewRemoteError(op string, err error) error {
	if err == nil {
		return nil
	}
	return RemoteOperationError{Op: op, Err: err}
}

// CleanupFailure is logged, never returned to callers as a blocking error.
type CleanupFailure struct {
	Op  string
	Err error
}

func (e CleanupFailure) Error() string {
	return fmt.Sprintf("cleanup %s failed: %s", e.Op, e.Err.Error())
}

func (e CleanupFailure) Unwrap() error {
	return e.Err
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
