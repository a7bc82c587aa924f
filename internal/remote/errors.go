package remote

import "github.com/pkg/errors"

// IsConnectionError returns true if the cause of the provided error is an
// *ErrConnection.
func IsConnectionError(err error) bool {
	_, ok := errors.Cause(err).(*ErrConnection)
	return ok
}

// IsCommandError returns true if the cause of the provided error is an
// *ErrCommand.
func IsCommandError(err error) bool {
	_, ok := errors.Cause(err).(*ErrCommand)
	return ok
}
