package importer

import (
	"errors"
	"fmt"

	"github.com/markduk/portalmover/internal/record"
)

// ErrorCode categorizes import errors.
type ErrorCode string

const (
	// ErrCodeUnknownRelationship indicates an association record whose entity
	// is not the intersect entity of any known relationship.
	ErrCodeUnknownRelationship ErrorCode = "UNKNOWN_RELATIONSHIP"

	// ErrCodeInvalidAssociation indicates an association record missing one
	// of its relationship's intersect attributes.
	ErrCodeInvalidAssociation ErrorCode = "INVALID_ASSOCIATION"

	// ErrCodeDuplicateIdentity indicates the input batch holds one identity
	// twice.
	ErrCodeDuplicateIdentity ErrorCode = "DUPLICATE_IDENTITY"

	// ErrCodeWriteFailed indicates the remote store rejected a write.
	ErrCodeWriteFailed ErrorCode = "WRITE_FAILED"
)

// ImportError is a per-record error raised by the engine.
type ImportError struct {
	Code    ErrorCode
	Message string
	Entity  string
	ID      string
	Err     error
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Entity != "" {
		msg = fmt.Sprintf("%s (%s(%s))", msg, e.Entity, e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying remote error, if any.
func (e *ImportError) Unwrap() error { return e.Err }

func newImportError(code ErrorCode, id record.Identity, err error, format string, args ...any) *ImportError {
	return &ImportError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Entity:  id.Entity,
		ID:      id.ID,
		Err:     err,
	}
}

func hasCode(err error, code ErrorCode) bool {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

// IsUnknownRelationship reports whether err is an unknown-relationship error.
func IsUnknownRelationship(err error) bool { return hasCode(err, ErrCodeUnknownRelationship) }

// IsInvalidAssociation reports whether err is an invalid-association error.
func IsInvalidAssociation(err error) bool { return hasCode(err, ErrCodeInvalidAssociation) }

// IsDuplicateIdentity reports whether err is a duplicate-identity error.
func IsDuplicateIdentity(err error) bool { return hasCode(err, ErrCodeDuplicateIdentity) }

// IsWriteFailed reports whether err is a rejected write.
func IsWriteFailed(err error) bool { return hasCode(err, ErrCodeWriteFailed) }

// SweepsExhaustedError reports records left in the batch after the sweep
// bound was reached.
type SweepsExhaustedError struct {
	RunID      string
	Sweeps     int
	Unresolved int
}

// Error implements the error interface.
func (e *SweepsExhaustedError) Error() string {
	return fmt.Sprintf("run %s stopped after %d sweeps with %d unresolved records",
		e.RunID, e.Sweeps, e.Unresolved)
}

// IsSweepsExhausted reports whether err is a SweepsExhaustedError.
func IsSweepsExhausted(err error) bool {
	var se *SweepsExhaustedError
	return errors.As(err, &se)
}
