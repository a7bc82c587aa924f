package remote

import (
	"context"
	"fmt"
	"strconv"
)

// Target describes a remote host that commands may be executed on. A Target
// is immutable for the duration of a deployment.
type Target struct {
	// Host is the address used by the direct transport.
	Host string
	// Port is the port used by the direct transport.
	Port int
	// Username is the user the direct transport authenticates as.
	Username string
	// Credential is either a PEM-encoded private key or a password.
	Credential string
	// OverlayHostname is the host's name on the overlay network. When set, the
	// overlay transport is preferred over the direct transport.
	OverlayHostname string
}

// Address returns the host:port the direct transport dials.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return t.Host + ":" + strconv.Itoa(port)
}

// ExecOptions represents optional callbacks that receive a command's output
// as it arrives.
type ExecOptions struct {
	OnStdout func([]byte)
	OnStderr func([]byte)
}

// Result is the aggregated outcome of a command that ran to completion.
type Result struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Check returns an *ErrCommand if the command that produced the Result exited
// non-zero and nil otherwise.
func (r Result) Check(command string) error {
	if r.ExitCode == 0 {
		return nil
	}
	return &ErrCommand{
		Command:  command,
		ExitCode: r.ExitCode,
		Stderr:   r.Stderr,
	}
}

// Channel is an open session with a remote host.
type Channel interface {
	// Exec runs a command on the remote host, streaming output to the provided
	// callbacks as it arrives, and returns once the remote process has exited.
	// A non-zero exit is reported through Result.ExitCode, not as an error.
	// Transport failures are reported as an *ErrConnection.
	Exec(ctx context.Context, command string, opts ExecOptions) (Result, error)
	// Close releases the session.
	Close() error
}

// Opener is the interface for components that can open a Channel to a Target.
// Every transport is an Opener, as is the resilient Opener that composes them.
type Opener interface {
	Open(ctx context.Context, target Target) (Channel, error)
}

// ErrConnection represents a transport-level failure.
type ErrConnection struct {
	Transport string
	Host      string
	Err       error
}

func (e *ErrConnection) Error() string {
	return fmt.Sprintf(
		"%s transport error communicating with %q: %s",
		e.Transport,
		e.Host,
		e.Err,
	)
}

// ErrCommand represents a remote command that exited non-zero.
type ErrCommand struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ErrCommand) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	}
	return msg
}
