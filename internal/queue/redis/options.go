package redis

import "time"

// BackendOptions represents configuration options for the Redis-based queue
// Backend.
type BackendOptions struct {
	// RedisPrefix specifies a prefix for all Redis keys to effect some
	// rudimentary namespacing within a single Redis database.
	RedisPrefix string

	// CleanerInterval specifies how frequently to reclaim jobs from dead
	// workers.
	// Min: 1 second
	// Max: 5 minutes
	// Default: 1 minute
	CleanerInterval *time.Duration
	// DeadWorkerThreshold specifies how much time must elapse since its last
	// heartbeat for a worker to be considered dead and its jobs reclaimed.
	// Min: 5 seconds
	// Max: 5 minutes
	// Default: 1 minute
	DeadWorkerThreshold *time.Duration
	// HeartbeatInterval specifies how frequently a worker proves it is alive.
	// Min: 1 second
	// Max: 5 minutes
	// Default: 15 seconds
	HeartbeatInterval *time.Duration
	// MaxFailures specifies the maximum number of consecutive times that a
	// heartbeat or cleanup may fail before maintenance gives up.
	// Min: 1
	// Max: 10
	// Default: 3
	MaxFailures *uint8
}

func (b *BackendOptions) applyDefaults() {
	b.CleanerInterval = clampDuration(
		b.CleanerInterval,
		time.Second,
		5*time.Minute,
		time.Minute,
	)
	b.DeadWorkerThreshold = clampDuration(
		b.DeadWorkerThreshold,
		5*time.Second,
		5*time.Minute,
		time.Minute,
	)
	b.HeartbeatInterval = clampDuration(
		b.HeartbeatInterval,
		time.Second,
		5*time.Minute,
		15*time.Second,
	)

	var minMaxFailures uint8 = 1
	var maxMaxFailures uint8 = 10
	var defaultMaxFailures uint8 = 3
	if b.MaxFailures == nil {
		b.MaxFailures = &defaultMaxFailures
	} else if *b.MaxFailures < minMaxFailures {
		b.MaxFailures = &minMaxFailures
	} else if *b.MaxFailures > maxMaxFailures {
		b.MaxFailures = &maxMaxFailures
	}
}

func clampDuration(
	d *time.Duration,
	min time.Duration,
	max time.Duration,
	def time.Duration,
) *time.Duration {
	switch {
	case d == nil:
		return &def
	case *d < min:
		return &min
	case *d > max:
		return &max
	}
	return d
}
