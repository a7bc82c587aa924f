package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrPipelineAbort represents a pipeline that stopped deploying Services
// because one of them failed. Services declared after the failed one were
// never deployed.
type ErrPipelineAbort struct {
	ProjectID string
	Service   string
	// Step names what the failed Service was doing, e.g. "create-app".
	Step string
	Err  error
}

func (e *ErrPipelineAbort) Error() string {
	return fmt.Sprintf(
		"pipeline for project %q aborted at step %s of service %q: %s",
		e.ProjectID,
		e.Step,
		e.Service,
		e.Err,
	)
}

// IsAbort returns true if the cause of the provided error is an
// *ErrPipelineAbort.
func IsAbort(err error) bool {
	_, ok := errors.Cause(err).(*ErrPipelineAbort)
	return ok
}
