package retries

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	seededRand   = rand.New(rand.NewSource(time.Now().UnixNano()))
	seededRandMu sync.Mutex
)

// ManageRetries invokes fn until it reports that no retry is warranted or
// maxAttempts have failed, sleeping with jittered exponential backoff (capped
// at maxBackoff) between attempts. Each failed attempt is logged as a warning
// to the provided entry.
func ManageRetries(
	ctx context.Context,
	logger *logrus.Entry,
	process string,
	maxAttempts uint8,
	maxBackoff time.Duration,
	fn func() (bool, error),
) error {
	var failedAttempts uint8
	for {
		retry, err := fn()
		if !retry {
			return err
		}
		failedAttempts++
		if failedAttempts >= maxAttempts {
			return errors.Wrapf(
				err,
				"failed %d attempt(s) to %s",
				failedAttempts,
				process,
			)
		}
		delay := jitteredExpBackoff(failedAttempts, maxBackoff)
		if logger != nil {
			logger.WithError(err).Warnf(
				"failed %d attempt(s) to %s; will retry in %s",
				failedAttempts,
				process,
				delay,
			)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func jitteredExpBackoff(
	failureCount uint8,
	maxDelay time.Duration,
) time.Duration {
	base := math.Pow(2, float64(failureCount))
	capped := math.Min(base, maxDelay.Seconds())
	seededRandMu.Lock()
	jittered := (1 + seededRand.Float64()) * (capped / 2)
	seededRandMu.Unlock()
	scaled := jittered * float64(time.Second)
	return time.Duration(scaled)
}
