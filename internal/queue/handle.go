package queue

import (
	"context"

	"github.com/krancour/hoist/internal/meta"
)

// JobGetter is the interface for components that can look up a Job.
type JobGetter interface {
	Get(ctx context.Context, queueName string, jobID string) (Job, error)
}

// Handle is a reference to an enqueued Job.
type Handle struct {
	Queue  string `json:"queue"`
	ID     string `json:"id"`
	getter JobGetter
}

// NewHandle returns a Handle for the specified Job that looks the Job up using
// the provided JobGetter.
func NewHandle(queueName string, jobID string, getter JobGetter) Handle {
	return Handle{
		Queue:  queueName,
		ID:     jobID,
		getter: getter,
	}
}

// Job retrieves the current version of the referenced Job.
func (h Handle) Job(ctx context.Context) (Job, error) {
	return h.getter.Get(ctx, h.Queue, h.ID)
}

// State returns the current state of the referenced Job. A Job that cannot be
// found is in the StateUnknown state.
func (h Handle) State(ctx context.Context) (JobState, error) {
	job, err := h.Job(ctx)
	if err != nil {
		if meta.IsNotFound(err) {
			return StateUnknown, nil
		}
		return StateUnknown, err
	}
	return job.State, nil
}
