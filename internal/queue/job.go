package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// JobState represents where a Job is in its lifecycle.
type JobState string

const (
	// StateWaiting represents a Job that has been enqueued but not yet claimed
	// by a worker.
	StateWaiting JobState = "waiting"
	// StateActive represents a Job currently being handled by a worker.
	StateActive JobState = "active"
	// StateCompleted represents a Job whose handler returned successfully.
	StateCompleted JobState = "completed"
	// StateFailed represents a Job whose handler returned an error (or
	// panicked) on its final attempt.
	StateFailed JobState = "failed"
	// StateUnknown represents a Job whose state could not be determined.
	StateUnknown JobState = "unknown"
)

// Terminal returns true for states no Job ever leaves.
func (j JobState) Terminal() bool {
	return j == StateCompleted || j == StateFailed
}

// Job is a unit of work. A Job is created on enqueue and afterwards mutated
// only by the worker that claims it.
type Job struct {
	// ID is supplied by the caller, typically <operation>:<entity>:<timestamp>.
	// It is a traceability key. While a Job is waiting or active, enqueuing
	// another Job with the same ID is a no-op.
	ID string `json:"id"`
	// Queue is the name of the queue the Job was enqueued on.
	Queue string `json:"queue"`
	// Payload is the JSON-encoded input to the Job's handler.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Channel is the event bus channel that the Job's failure is reported on.
	Channel string `json:"channel,omitempty"`
	// State is the Job's current state.
	State JobState `json:"state"`
	// Attempts counts how many times a worker has claimed the Job.
	Attempts uint8 `json:"attempts"`
	// Result is the JSON-encoded value returned by a successful handler.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is the message of the error returned by the most recent failed
	// attempt.
	Error    string     `json:"error,omitempty"`
	Created  *time.Time `json:"created,omitempty"`
	Started  *time.Time `json:"started,omitempty"`
	Finished *time.Time `json:"finished,omitempty"`
}

// DecodePayload unmarshals the Job's payload into the provided object.
func (j Job) DecodePayload(obj interface{}) error {
	return errors.Wrapf(
		json.Unmarshal(j.Payload, obj),
		"error decoding payload of job %q",
		j.ID,
	)
}

// HandlerFn is the signature for functions that handle Jobs. Whatever the
// function returns is JSON-encoded and recorded as the Job's result.
type HandlerFn func(ctx context.Context, job Job) (interface{}, error)

// EnqueueOptions represents optional settings for a single enqueued Job.
type EnqueueOptions struct {
	// Channel specifies the event bus channel the Job's failure should be
	// reported on. If left blank, a channel specific to the Job is used.
	Channel string
}

// Backend is the interface for the durable storage underlying the queues.
// Backends are shared by every queue in a Registry.
type Backend interface {
	// Push persists a new Job in the waiting state and makes it available to
	// the queue's workers. It returns false, and does nothing, if a Job with
	// the same ID is already waiting or active on that queue.
	Push(ctx context.Context, job Job) (bool, error)
	// Get retrieves a Job. It returns a *meta.ErrNotFound if no such Job
	// exists.
	Get(ctx context.Context, queueName string, jobID string) (Job, error)
	// Claim transitions the next waiting Job on the named queue to the active
	// state on behalf of the specified worker. It returns nil if there is no
	// waiting Job.
	Claim(ctx context.Context, queueName string, workerID string) (*Job, error)
	// Finish records the outcome of an attempt by the specified worker. A Job
	// in a terminal state is retired. A Job in the waiting state is returned to
	// the queue for another attempt.
	Finish(ctx context.Context, workerID string, job Job) error
	// Queues returns the names of all queues that have ever had a Job pushed.
	Queues(ctx context.Context) ([]string, error)
	// Maintain performs whatever bookkeeping the backend requires to keep the
	// specified worker's claims alive (heartbeats) and to recover claims held
	// by dead workers. It blocks until the context is canceled.
	Maintain(ctx context.Context, queueName string, workerID string) error
}
