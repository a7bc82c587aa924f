package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/krancour/hoist/internal/common/logging"
	"github.com/krancour/hoist/internal/events"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	defaultIdlePause         = time.Second
	defaultDiscoveryInterval = 10 * time.Second
)

// QueueConfig represents the handling configuration for every queue belonging
// to a single operation.
type QueueConfig struct {
	// Handler handles each Job.
	Handler HandlerFn
	// Concurrency is the number of workers per queue.
	// Default: 1
	Concurrency int
	// MaxAttempts is the number of times a failing Job is attempted before it
	// is marked failed.
	// Default: 1
	MaxAttempts uint8
}

func (q *QueueConfig) applyDefaults() {
	if q.Concurrency <= 0 {
		q.Concurrency = 1
	}
	if q.MaxAttempts == 0 {
		q.MaxAttempts = 1
	}
}

// RegistryOptions represents configuration options for a Registry.
type RegistryOptions struct {
	// IdlePause is how long a worker waits after finding its queue empty.
	// Default: 1 second
	IdlePause time.Duration
	// DiscoveryInterval is how often a running Registry looks for queues
	// created by other processes.
	// Default: 10 seconds
	DiscoveryInterval time.Duration
}

func (r *RegistryOptions) applyDefaults() {
	if r.IdlePause <= 0 {
		r.IdlePause = defaultIdlePause
	}
	if r.DiscoveryInterval <= 0 {
		r.DiscoveryInterval = defaultDiscoveryInterval
	}
}

// Registry is the process-wide set of queues. Queues are created lazily on
// first reference and cached for the life of the process. Once Run has been
// called, every queue whose operation has a registered handler is consumed by
// that handler's workers.
type Registry struct {
	backend   Backend
	publisher events.Publisher
	options   RegistryOptions
	logger    *logrus.Entry

	mu      sync.Mutex
	configs map[string]QueueConfig
	queues  map[string]*Queue
	runCtx  context.Context
	wg      sync.WaitGroup
}

// NewRegistry returns a Registry backed by the provided Backend. Job failures
// are reported via the provided events.Publisher.
func NewRegistry(
	backend Backend,
	publisher events.Publisher,
	options *RegistryOptions,
	logger *logrus.Entry,
) *Registry {
	opts := RegistryOptions{}
	if options != nil {
		opts = *options
	}
	opts.applyDefaults()
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		backend:   backend,
		publisher: publisher,
		options:   opts,
		logger:    logger,
		configs:   map[string]QueueConfig{},
		queues:    map[string]*Queue{},
	}
}

// Handle registers a handler for every queue belonging to the specified
// operation. Handlers must be registered before Run is called.
func (r *Registry) Handle(operation string, config QueueConfig) {
	config.applyDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[operation] = config
}

// Queue returns the named queue, creating it if this is the first reference.
// If the Registry is running and a handler is registered for the queue's
// operation, workers for the new queue are started immediately.
func (r *Registry) Queue(name string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q
	}
	q := &Queue{
		name:      name,
		operation: Operation(name),
		registry:  r,
	}
	r.queues[name] = q
	if r.runCtx != nil {
		r.startWorkersLocked(q)
	}
	return q
}

// Get retrieves a Job from the underlying Backend.
func (r *Registry) Get(
	ctx context.Context,
	queueName string,
	jobID string,
) (Job, error) {
	return r.backend.Get(ctx, queueName, jobID)
}

// Enqueue enqueues a Job on the named queue. See Queue.Enqueue.
func (r *Registry) Enqueue(
	ctx context.Context,
	queueName string,
	jobID string,
	payload interface{},
	opts *EnqueueOptions,
) (Handle, error) {
	return r.Queue(queueName).Enqueue(ctx, jobID, payload, opts)
}

// Run starts workers for all known queues with a registered handler and then
// periodically discovers queues created elsewhere until the context is
// canceled. It returns only after every worker has stopped.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.runCtx != nil {
		r.mu.Unlock()
		return errors.New("registry is already running")
	}
	r.runCtx = ctx
	for operation := range r.configs {
		// Every operation's shared queue is always consumed.
		if _, ok := r.queues[operation]; !ok {
			r.queues[operation] = &Queue{
				name:      operation,
				operation: operation,
				registry:  r,
			}
		}
	}
	for _, q := range r.queues {
		r.startWorkersLocked(q)
	}
	r.mu.Unlock()

	r.discover(ctx)
	ticker := time.NewTicker(r.options.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.discover(ctx)
		case <-ctx.Done():
			r.wg.Wait()
			return ctx.Err()
		}
	}
}

func (r *Registry) discover(ctx context.Context) {
	names, err := r.backend.Queues(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.WithError(err).Warn("error discovering queues")
		}
		return
	}
	for _, name := range names {
		r.Queue(name)
	}
}

// startWorkersLocked must be called with r.mu held.
func (r *Registry) startWorkersLocked(q *Queue) {
	if q.started {
		return
	}
	config, ok := r.configs[q.operation]
	if !ok {
		return
	}
	q.started = true
	r.logger.WithField("queue", q.name).Debugf(
		"starting %d worker(s)",
		config.Concurrency,
	)
	for i := 0; i < config.Concurrency; i++ {
		w := newWorker(r, q.name, config)
		r.wg.Add(2)
		go func() {
			defer r.wg.Done()
			w.run(r.runCtx)
		}()
		go func() {
			defer r.wg.Done()
			if err := r.backend.Maintain(
				r.runCtx,
				q.name,
				w.id,
			); err != nil && r.runCtx.Err() == nil {
				w.logger.WithError(err).Error("error maintaining worker")
			}
		}()
	}
}

// Queue is a named, durable, FIFO queue of Jobs.
type Queue struct {
	name      string
	operation string
	registry  *Registry
	started   bool
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.name
}

// Enqueue JSON-encodes the payload and enqueues a Job with the specified ID.
// If a Job with the same ID is already waiting or active on this queue, no new
// Job is created and the returned Handle refers to the existing one.
func (q *Queue) Enqueue(
	ctx context.Context,
	jobID string,
	payload interface{},
	opts *EnqueueOptions,
) (Handle, error) {
	if opts == nil {
		opts = &EnqueueOptions{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Handle{}, errors.Wrapf(
			err,
			"error encoding payload for job %q",
			jobID,
		)
	}
	now := time.Now().UTC()
	job := Job{
		ID:      jobID,
		Queue:   q.name,
		Payload: payloadJSON,
		Channel: opts.Channel,
		State:   StateWaiting,
		Created: &now,
	}
	pushed, err := q.registry.backend.Push(ctx, job)
	if err != nil {
		return Handle{}, errors.Wrapf(
			err,
			"error enqueuing job %q on queue %q",
			jobID,
			q.name,
		)
	}
	if !pushed {
		q.registry.logger.WithFields(logrus.Fields{
			"queue": q.name,
			"job":   jobID,
		}).Debug("job already in flight; not enqueuing a duplicate")
	}
	return NewHandle(q.name, jobID, q.registry.backend), nil
}
