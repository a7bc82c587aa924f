package meta

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// ErrValidation represents an error wherein malformed input (an empty
// template, unknown variable syntax, etc.) was rejected.
type ErrValidation struct {
	// Reason is a natural language explanation for why the input is invalid.
	Reason string `json:"reason,omitempty"`
	// Details may further qualify why the input is invalid. For instance, if the
	// Reason field states that schema validation failed, the Details field may
	// enumerate specific schema violations.
	Details []string `json:"details,omitempty"`
}

// NewErrValidation returns a new *ErrValidation.
func NewErrValidation(reason string, details ...string) *ErrValidation {
	return &ErrValidation{
		Reason:  reason,
		Details: details,
	}
}

func (e *ErrValidation) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("Validation failed: %s", e.Reason)
	}
	msg := fmt.Sprintf("Validation failed: %s:", e.Reason)
	for i, detail := range e.Details {
		msg = fmt.Sprintf("%s\n  %d. %s", msg, i, detail)
	}
	return msg
}

// MarshalJSON amends ErrValidation instances with type metadata.
func (e ErrValidation) MarshalJSON() ([]byte, error) {
	type Alias ErrValidation
	return json.Marshal(
		struct {
			TypeMeta `json:",inline"`
			Alias    `json:",inline"`
		}{
			TypeMeta: TypeMeta{
				APIVersion: APIVersion,
				Kind:       "ValidationError",
			},
			Alias: (Alias)(e),
		},
	)
}

// ErrNotFound represents an error wherein a resource presumed to exist could
// not be located.
type ErrNotFound struct {
	// Type identifies the type of the resource that could not be located.
	Type string `json:"type,omitempty"`
	// ID is the identifier of the resource of type Type that could not be
	// located.
	ID string `json:"id,omitempty"`
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found.", e.Type, e.ID)
}

// MarshalJSON amends ErrNotFound instances with type metadata.
func (e ErrNotFound) MarshalJSON() ([]byte, error) {
	type Alias ErrNotFound
	return json.Marshal(
		struct {
			TypeMeta `json:",inline"`
			Alias    `json:",inline"`
		}{
			TypeMeta: TypeMeta{
				APIVersion: APIVersion,
				Kind:       "NotFoundError",
			},
			Alias: (Alias)(e),
		},
	)
}

// ErrConflict represents an error wherein a request cannot be completed
// because it would violate some constraint of the system, for instance moving
// a terminal Deployment back to a non-terminal status.
type ErrConflict struct {
	// Type identifies the type of the resource that the conflict involved.
	Type string `json:"type,omitempty"`
	// ID is the identifier of the resource that has encountered a conflict.
	ID string `json:"id,omitempty"`
	// Reason is a natural language explanation around the nature of the
	// conflict.
	Reason string `json:"reason,omitempty"`
}

func (e *ErrConflict) Error() string {
	return e.Reason
}

// MarshalJSON amends ErrConflict instances with type metadata.
func (e ErrConflict) MarshalJSON() ([]byte, error) {
	type Alias ErrConflict
	return json.Marshal(
		struct {
			TypeMeta `json:",inline"`
			Alias    `json:",inline"`
		}{
			TypeMeta: TypeMeta{
				APIVersion: APIVersion,
				Kind:       "ConflictError",
			},
			Alias: (Alias)(e),
		},
	)
}

// ErrInternalServer represents a condition wherein the server has encountered
// an unexpected condition which prevented it from fulfilling the request.
type ErrInternalServer struct{}

func (e *ErrInternalServer) Error() string {
	return "An internal server error occurred."
}

// MarshalJSON amends ErrInternalServer instances with type metadata.
func (e ErrInternalServer) MarshalJSON() ([]byte, error) {
	type Alias ErrInternalServer
	return json.Marshal(
		struct {
			TypeMeta `json:",inline"`
			Alias    `json:",inline"`
		}{
			TypeMeta: TypeMeta{
				APIVersion: APIVersion,
				Kind:       "InternalServerError",
			},
			Alias: (Alias)(e),
		},
	)
}

// IsNotFound returns true if the cause of err is an *ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*ErrNotFound)
	return ok
}

// IsConflict returns true if the cause of err is an *ErrConflict.
func IsConflict(err error) bool {
	_, ok := errors.Cause(err).(*ErrConflict)
	return ok
}
