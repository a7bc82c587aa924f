package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/krancour/hoist/internal/events"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BusOptions represents configuration options for a Redis-based Bus.
type BusOptions struct {
	// RedisPrefix specifies a prefix for all Redis keys to effect some
	// rudimentary namespacing within a single Redis database.
	RedisPrefix string
	// CaptureSize is the number of recent messages retained per channel for
	// read-back.
	// Default: 1000
	CaptureSize int64
	// CaptureTTL is how long a channel's captured messages outlive the last
	// message published to it.
	// Default: 24 hours
	CaptureTTL time.Duration
	// SubscriberBufferSize is the number of undelivered Events buffered per
	// subscriber before further Events are dropped for that subscriber.
	// Default: 100
	SubscriberBufferSize int
}

func (b *BusOptions) applyDefaults() {
	if b.CaptureSize <= 0 {
		b.CaptureSize = 1000
	}
	if b.CaptureTTL <= 0 {
		b.CaptureTTL = 24 * time.Hour
	}
	if b.SubscriberBufferSize <= 0 {
		b.SubscriberBufferSize = 100
	}
}

// bus is a Redis-based implementation of the events.Bus interface. Messages
// fan out over Redis PUBLISH/SUBSCRIBE and are simultaneously captured in a
// capped list per channel so they can be read back.
type bus struct {
	redisClient *redis.Client
	options     BusOptions
	logger      *logrus.Entry
}

// NewBus returns a Redis-based implementation of the events.Bus interface. The
// *redis.Client is owned by the caller and is not closed by Close.
func NewBus(
	redisClient *redis.Client,
	options *BusOptions,
	logger *logrus.Entry,
) events.Bus {
	if options == nil {
		options = &BusOptions{}
	}
	options.applyDefaults()
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &bus{
		redisClient: redisClient,
		options:     *options,
		logger:      logger,
	}
}

func (b *bus) Publish(_ context.Context, channel string, message string) {
	eventJSON, err := json.Marshal(
		events.Event{
			Channel:   channel,
			Message:   message,
			Timestamp: time.Now().UTC(),
		},
	)
	if err != nil {
		b.logger.WithError(err).Errorf("error encoding event for %q", channel)
		return
	}
	capturedKey := capturedListName(b.options.RedisPrefix, channel)
	pipeline := b.redisClient.TxPipeline()
	pipeline.RPush(capturedKey, message)
	pipeline.LTrim(capturedKey, -b.options.CaptureSize, -1)
	pipeline.Expire(capturedKey, b.options.CaptureTTL)
	pipeline.Publish(channelName(b.options.RedisPrefix, channel), eventJSON)
	if _, err := pipeline.Exec(); err != nil {
		b.logger.WithError(err).Warnf("error publishing to channel %q", channel)
	}
}

func (b *bus) Subscribe(
	ctx context.Context,
	channel string,
) (<-chan events.Event, error) {
	pubsub := b.redisClient.Subscribe(channelName(b.options.RedisPrefix, channel))
	// Wait for confirmation that the subscription is established so that no
	// message published after Subscribe returns can be missed.
	if _, err := pubsub.Receive(); err != nil {
		pubsub.Close() // nolint: errcheck
		return nil, errors.Wrapf(err, "error subscribing to channel %q", channel)
	}
	messageCh := pubsub.Channel()
	eventCh := make(chan events.Event, b.options.SubscriberBufferSize)
	go func() {
		defer close(eventCh)
		defer pubsub.Close() // nolint: errcheck
		for {
			select {
			case msg, ok := <-messageCh:
				if !ok {
					return
				}
				event := events.Event{}
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.WithError(err).Warnf(
						"dropping malformed event from channel %q",
						channel,
					)
					continue
				}
				select {
				case eventCh <- event:
				default: // Subscriber isn't keeping up; it misses this one
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return eventCh, nil
}

func (b *bus) Recent(
	_ context.Context,
	channel string,
	limit int,
) ([]string, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	messages, err := b.redisClient.LRange(
		capturedListName(b.options.RedisPrefix, channel),
		start,
		-1,
	).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrapf(
			err,
			"error reading recent messages for channel %q",
			channel,
		)
	}
	if messages == nil {
		messages = []string{}
	}
	return messages, nil
}

func (b *bus) Close() error {
	return nil
}

func prefixedName(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", prefix, key)
}

func channelName(prefix, channel string) string {
	return prefixedName(prefix, fmt.Sprintf("events:%s", channel))
}

func capturedListName(prefix, channel string) string {
	return prefixedName(prefix, fmt.Sprintf("events:%s:captured", channel))
}
