package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/krancour/hoist/internal/events"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// finishTimeout bounds how long recording an outcome may take once the
// worker's own context has been canceled.
const finishTimeout = 10 * time.Second

type worker struct {
	id        string
	queueName string
	config    QueueConfig
	backend   Backend
	publisher events.Publisher
	idlePause time.Duration
	logger    *logrus.Entry
}

func newWorker(r *Registry, queueName string, config QueueConfig) *worker {
	id := uuid.NewV4().String()
	return &worker{
		id:        id,
		queueName: queueName,
		config:    config,
		backend:   r.backend,
		publisher: r.publisher,
		idlePause: r.options.IdlePause,
		logger: r.logger.WithFields(logrus.Fields{
			"queue":  queueName,
			"worker": id,
		}),
	}
}

func (w *worker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.backend.Claim(ctx, w.queueName, w.id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.WithError(err).Error("error claiming job")
			w.pause(ctx)
			continue
		}
		if job == nil {
			w.pause(ctx)
			continue
		}
		w.process(ctx, *job)
	}
}

func (w *worker) pause(ctx context.Context) {
	select {
	case <-time.After(w.idlePause):
	case <-ctx.Done():
	}
}

func (w *worker) process(ctx context.Context, job Job) {
	logger := w.logger.WithFields(logrus.Fields{
		"job":     job.ID,
		"attempt": job.Attempts,
	})
	logger.Debug("handling job")

	result, err := w.invoke(ctx, job)
	if err == nil && result != nil {
		if job.Result, err = json.Marshal(result); err != nil {
			err = errors.Wrap(err, "error encoding job result")
		}
	}

	// Recording the outcome must survive the worker being stopped mid-job.
	finishCtx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	if err == nil {
		now := time.Now().UTC()
		job.State = StateCompleted
		job.Error = ""
		job.Finished = &now
		logger.Debug("job completed")
	} else {
		job.Error = err.Error()
		channel := job.Channel
		if channel == "" {
			channel = events.JobChannel(job.Queue, job.ID)
		}
		reporter := events.NewReporter(w.publisher, channel)
		if job.Attempts < w.config.MaxAttempts {
			job.State = StateWaiting
			logger.WithError(err).Warn("job attempt failed; will retry")
			reporter.Warn(
				finishCtx,
				"Attempt %d of %d failed: %s",
				job.Attempts,
				w.config.MaxAttempts,
				err,
			)
		} else {
			// Failure is published before the job is marked failed so that
			// anyone who observes the failed state can also find the reason.
			reporter.Fail(finishCtx, "%s", err)
			now := time.Now().UTC()
			job.State = StateFailed
			job.Finished = &now
			logger.WithError(err).Error("job failed")
		}
	}

	if err := w.backend.Finish(finishCtx, w.id, job); err != nil {
		logger.WithError(err).Error("error recording job outcome")
	}
}

func (w *worker) invoke(ctx context.Context, job Job) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithField("job", job.ID).Errorf(
				"handler panicked: %v\n%s",
				r,
				debug.Stack(),
			)
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return w.config.Handler(ctx, job)
}
