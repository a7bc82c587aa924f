package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/krancour/hoist/internal/meta"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/clock"
)

const (
	defaultPollInterval    = 10 * time.Second
	defaultPollMaxAttempts = 180
)

// ErrTimeout represents a Job that did not reach a terminal state within the
// polling bound.
type ErrTimeout struct {
	Queue    string
	ID       string
	Attempts int
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf(
		"job %q on queue %q did not complete after %d polls",
		e.ID,
		e.Queue,
		e.Attempts,
	)
}

// ErrJob represents a Job that failed or was found in a state that polling
// cannot make sense of.
type ErrJob struct {
	Queue   string
	ID      string
	State   JobState
	Message string
}

func (e *ErrJob) Error() string {
	return fmt.Sprintf(
		"job %q on queue %q ended in state %q: %s",
		e.ID,
		e.Queue,
		e.State,
		e.Message,
	)
}

// AwaitOptions represents configuration options for AwaitCompletion.
type AwaitOptions struct {
	// PollInterval is the delay between consecutive polls.
	// Default: 10 seconds
	PollInterval time.Duration
	// MaxAttempts bounds the number of polls.
	// Default: 180
	MaxAttempts int
	// Clock is used for sleeping between polls.
	// Default: the real clock
	Clock clock.Clock
	// Logger receives warnings about transient lookup failures.
	Logger *logrus.Entry
}

func (a *AwaitOptions) applyDefaults() {
	if a.PollInterval <= 0 {
		a.PollInterval = defaultPollInterval
	}
	if a.MaxAttempts <= 0 {
		a.MaxAttempts = defaultPollMaxAttempts
	}
	if a.Clock == nil {
		a.Clock = clock.RealClock{}
	}
	if a.Logger == nil {
		a.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
}

// AwaitCompletion polls the referenced Job until it reaches a terminal state,
// polling exactly options.MaxAttempts times at most. It returns nil if the
// Job completed, an *ErrJob if it failed or is in an unrecognized state, and
// an *ErrTimeout if the bound was reached first. Transient errors looking the
// Job up are logged and count as a poll.
func AwaitCompletion(
	ctx context.Context,
	handle Handle,
	options *AwaitOptions,
) error {
	opts := AwaitOptions{}
	if options != nil {
		opts = *options
	}
	opts.applyDefaults()
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			opts.Clock.Sleep(opts.PollInterval)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := handle.Job(ctx)
		if err != nil {
			if meta.IsNotFound(err) {
				return &ErrJob{
					Queue:   handle.Queue,
					ID:      handle.ID,
					State:   StateUnknown,
					Message: "job not found",
				}
			}
			opts.Logger.WithError(err).Warnf(
				"error polling job %q on queue %q (poll %d of %d)",
				handle.ID,
				handle.Queue,
				attempt,
				opts.MaxAttempts,
			)
			continue
		}
		switch job.State {
		case StateCompleted:
			return nil
		case StateWaiting, StateActive:
			continue
		case StateFailed:
			return &ErrJob{
				Queue:   handle.Queue,
				ID:      handle.ID,
				State:   job.State,
				Message: job.Error,
			}
		default:
			return &ErrJob{
				Queue:   handle.Queue,
				ID:      handle.ID,
				State:   job.State,
				Message: "unrecognized job state",
			}
		}
	}
	return &ErrTimeout{
		Queue:    handle.Queue,
		ID:       handle.ID,
		Attempts: opts.MaxAttempts,
	}
}
