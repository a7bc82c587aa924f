package redis

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-redis/redis"
	"github.com/krancour/hoist/internal/common/logging"
	"github.com/krancour/hoist/internal/meta"
	"github.com/krancour/hoist/internal/queue"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// backend is a Redis-based implementation of the queue.Backend interface. Each
// queue is a pending list of job IDs plus hashes of job documents and job
// states. A claimed job's ID is atomically moved from the pending list to the
// claiming worker's own active list. Workers publish heartbeats to a sorted set
// and any worker's maintenance loop may return jobs held by a worker whose
// heartbeat has lapsed to the pending list.
type backend struct {
	redisClient      *redis.Client
	options          BackendOptions
	pushScriptSHA    string
	cleanerScriptSHA string
	logger           *logrus.Entry
}

// NewBackend returns a Redis-based implementation of the queue.Backend
// interface.
func NewBackend(
	redisClient *redis.Client,
	options *BackendOptions,
	logger *logrus.Entry,
) (queue.Backend, error) {
	opts := BackendOptions{}
	if options != nil {
		opts = *options
	}
	opts.applyDefaults()
	if logger == nil {
		logger = logging.Discard()
	}
	b := &backend{
		redisClient: redisClient,
		options:     opts,
		logger:      logger,
	}
	var err error
	if b.pushScriptSHA, err =
		redisClient.ScriptLoad(pushScript).Result(); err != nil {
		return nil, errors.Wrap(err, "error loading push script")
	}
	if b.cleanerScriptSHA, err =
		redisClient.ScriptLoad(cleanerScript).Result(); err != nil {
		return nil, errors.Wrap(err, "error loading cleaner script")
	}
	return b, nil
}

func (b *backend) Push(ctx context.Context, job queue.Job) (bool, error) {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return false, errors.Wrapf(err, "error encoding job %q", job.ID)
	}
	res, err := b.redisClient.WithContext(ctx).EvalSha(
		b.pushScriptSHA,
		[]string{
			statesHashName(b.options.RedisPrefix, job.Queue),
			jobsHashName(b.options.RedisPrefix, job.Queue),
			pendingListName(b.options.RedisPrefix, job.Queue),
			queuesSetName(b.options.RedisPrefix),
		},
		job.ID,
		jobJSON,
		job.Queue,
	).Result()
	if err != nil {
		return false, errors.Wrapf(
			err,
			"error pushing job %q onto queue %q",
			job.ID,
			job.Queue,
		)
	}
	pushed, _ := res.(int64)
	return pushed == 1, nil
}

func (b *backend) Get(
	ctx context.Context,
	queueName string,
	jobID string,
) (queue.Job, error) {
	job := queue.Job{}
	jobJSON, err := b.redisClient.WithContext(ctx).HGet(
		jobsHashName(b.options.RedisPrefix, queueName),
		jobID,
	).Bytes()
	if err == redis.Nil {
		return job, &meta.ErrNotFound{
			Type: "Job",
			ID:   jobID,
		}
	}
	if err != nil {
		return job, errors.Wrapf(
			err,
			"error retrieving job %q from queue %q",
			jobID,
			queueName,
		)
	}
	if err = json.Unmarshal(jobJSON, &job); err != nil {
		return job, errors.Wrapf(err, "error decoding job %q", jobID)
	}
	return job, nil
}

func (b *backend) Claim(
	ctx context.Context,
	queueName string,
	workerID string,
) (*queue.Job, error) {
	client := b.redisClient.WithContext(ctx)
	jobID, err := client.RPopLPush(
		pendingListName(b.options.RedisPrefix, queueName),
		activeListName(b.options.RedisPrefix, queueName, workerID),
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(
			err,
			"error claiming job from queue %q",
			queueName,
		)
	}
	job, err := b.Get(ctx, queueName, jobID)
	if err != nil {
		// A job ID without a job document can never be handled.
		if meta.IsNotFound(err) {
			b.logger.WithFields(logrus.Fields{
				"queue": queueName,
				"job":   jobID,
			}).Warn("discarding claimed job ID with no job document")
			client.LRem(
				activeListName(b.options.RedisPrefix, queueName, workerID),
				-1,
				jobID,
			)
			return nil, nil
		}
		return nil, err
	}
	now := time.Now().UTC()
	job.State = queue.StateActive
	job.Attempts++
	job.Started = &now
	if err := b.save(client.TxPipeline(), workerID, job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (b *backend) Finish(
	ctx context.Context,
	workerID string,
	job queue.Job,
) error {
	return b.save(b.redisClient.WithContext(ctx).TxPipeline(), workerID, job)
}

// save transactionally writes the job document and state. A job that is no
// longer active is removed from the worker's active list and, if it is
// waiting for another attempt, returned to the consuming end of the pending
// list.
func (b *backend) save(
	pipe redis.Pipeliner,
	workerID string,
	job queue.Job,
) error {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "error encoding job %q", job.ID)
	}
	pipe.HSet(
		jobsHashName(b.options.RedisPrefix, job.Queue),
		job.ID,
		jobJSON,
	)
	pipe.HSet(
		statesHashName(b.options.RedisPrefix, job.Queue),
		job.ID,
		string(job.State),
	)
	if job.State != queue.StateActive {
		pipe.LRem(
			activeListName(b.options.RedisPrefix, job.Queue, workerID),
			-1,
			job.ID,
		)
		if job.State == queue.StateWaiting {
			pipe.RPush(
				pendingListName(b.options.RedisPrefix, job.Queue),
				job.ID,
			)
		}
	}
	_, err = pipe.Exec()
	return errors.Wrapf(
		err,
		"error saving job %q on queue %q",
		job.ID,
		job.Queue,
	)
}

func (b *backend) Queues(ctx context.Context) ([]string, error) {
	names, err := b.redisClient.WithContext(ctx).SMembers(
		queuesSetName(b.options.RedisPrefix),
	).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error listing queues")
	}
	sort.Strings(names)
	return names, nil
}
