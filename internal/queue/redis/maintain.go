package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// Maintain emits heartbeats for the specified worker and periodically returns
// jobs held by dead workers on the same queue to the pending list. It returns
// nil when the context is canceled and an error if either activity fails too
// many consecutive times.
func (b *backend) Maintain(
	ctx context.Context,
	queueName string,
	workerID string,
) error {
	heartbeatTicker := time.NewTicker(*b.options.HeartbeatInterval)
	defer heartbeatTicker.Stop()
	cleanerTicker := time.NewTicker(*b.options.CleanerInterval)
	defer cleanerTicker.Stop()
	var heartbeatFailures, cleanerFailures uint8
	for {
		if err := b.heartbeat(ctx, queueName, workerID); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			heartbeatFailures++
			if heartbeatFailures > *b.options.MaxFailures {
				return err
			}
		} else {
			heartbeatFailures = 0
		}
		select {
		case <-heartbeatTicker.C:
		case <-cleanerTicker.C:
			if _, err := b.clean(ctx, queueName); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				cleanerFailures++
				if cleanerFailures > *b.options.MaxFailures {
					return err
				}
			} else {
				cleanerFailures = 0
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// heartbeat records proof of life for the specified worker so that no other
// worker's cleaner reclaims jobs the worker currently holds.
func (b *backend) heartbeat(
	ctx context.Context,
	queueName string,
	workerID string,
) error {
	return errors.Wrapf(
		b.redisClient.WithContext(ctx).ZAdd(
			workersSetName(b.options.RedisPrefix, queueName),
			redis.Z{
				Score:  float64(time.Now().Unix()),
				Member: activeListName(b.options.RedisPrefix, queueName, workerID),
			},
		).Err(),
		"error sending heartbeat for queue %q worker %q",
		queueName,
		workerID,
	)
}

// clean returns jobs held by workers whose last heartbeat is older than the
// dead worker threshold to the pending list.
func (b *backend) clean(ctx context.Context, queueName string) (int, error) {
	return b.cleanBefore(
		ctx,
		queueName,
		time.Now().Add(-*b.options.DeadWorkerThreshold),
	)
}

func (b *backend) cleanBefore(
	ctx context.Context,
	queueName string,
	threshold time.Time,
) (int, error) {
	res, err := b.redisClient.WithContext(ctx).EvalSha(
		b.cleanerScriptSHA,
		[]string{
			workersSetName(b.options.RedisPrefix, queueName),
			pendingListName(b.options.RedisPrefix, queueName),
			statesHashName(b.options.RedisPrefix, queueName),
		},
		threshold.Unix(),
	).Result()
	moved, _ := res.(int64)
	return int(moved), errors.Wrapf(
		err,
		"error reclaiming jobs from dead workers on queue %q",
		queueName,
	)
}
