package entity

import (
	"errors"
	"fmt"
)

// Error categories shared by every engine operation. Callers match them with
// errors.Is; the wrapped message carries the specific reason.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyDeleted = errors.New("already deleted")
	ErrValidation     = errors.New("validation failed")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
)

// ErrorKind names an error category for transports.
type ErrorKind string

const (
	KindNotFound       ErrorKind = "NotFound"
	KindAlreadyDeleted ErrorKind = "AlreadyDeleted"
	KindValidation     ErrorKind = "ValidationError"
	KindForbidden      ErrorKind = "Forbidden"
	KindConflict       ErrorKind = "Conflict"
	KindInternal       ErrorKind = "Internal"
)

// KindOf classifies err. Unknown errors are Internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyDeleted):
		return KindAlreadyDeleted
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

func NotFoundf(format string, args ...interface{}) error {
	return wrapf(ErrNotFound, format, args...)
}

func AlreadyDeletedf(format string, args ...interface{}) error {
	return wrapf(ErrAlreadyDeleted, format, args...)
}

func Validationf(format string, args ...interface{}) error {
	return wrapf(ErrValidation, format, args...)
}

func Forbiddenf(format string, args ...interface{}) error {
	return wrapf(ErrForbidden, format, args...)
}

func Conflictf(format string, args ...interface{}) error {
	return wrapf(ErrConflict, format, args...)
}

func wrapf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
