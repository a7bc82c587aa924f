package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/krancour/hoist/internal/meta"
	"github.com/krancour/hoist/internal/queue"
)

type memQueue struct {
	pending []string
	jobs    map[string]queue.Job
}

// backend is an in-process implementation of the queue.Backend interface. It
// is suitable for tests and single-process deployments. Jobs do not survive a
// restart.
type backend struct {
	mu     sync.Mutex
	queues map[string]*memQueue
}

// NewBackend returns an in-process implementation of the queue.Backend
// interface.
func NewBackend() queue.Backend {
	return &backend{
		queues: map[string]*memQueue{},
	}
}

func (b *backend) queue(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{
			jobs: map[string]queue.Job{},
		}
		b.queues[name] = q
	}
	return q
}

func (b *backend) Push(_ context.Context, job queue.Job) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(job.Queue)
	if existing, ok := q.jobs[job.ID]; ok && !existing.State.Terminal() {
		return false, nil
	}
	job.State = queue.StateWaiting
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job.ID)
	return true, nil
}

func (b *backend) Get(
	_ context.Context,
	queueName string,
	jobID string,
) (queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queueName]; ok {
		if job, ok := q.jobs[jobID]; ok {
			return job, nil
		}
	}
	return queue.Job{}, &meta.ErrNotFound{
		Type: "Job",
		ID:   jobID,
	}
}

func (b *backend) Claim(
	_ context.Context,
	queueName string,
	_ string,
) (*queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok || len(q.pending) == 0 {
		return nil, nil
	}
	jobID := q.pending[0]
	q.pending = q.pending[1:]
	job := q.jobs[jobID]
	now := time.Now().UTC()
	job.State = queue.StateActive
	job.Attempts++
	job.Started = &now
	q.jobs[jobID] = job
	return &job, nil
}

func (b *backend) Finish(_ context.Context, _ string, job queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(job.Queue)
	q.jobs[job.ID] = job
	if job.State == queue.StateWaiting {
		// Retries go to the front of the line.
		q.pending = append([]string{job.ID}, q.pending...)
	}
	return nil
}

func (b *backend) Queues(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Maintain has nothing to do because an in-process backend's workers cannot
// die independently of it.
func (b *backend) Maintain(ctx context.Context, _ string, _ string) error {
	<-ctx.Done()
	return nil
}
