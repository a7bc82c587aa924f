package events

import (
	"context"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/clock"
)

// MemoryBusOptions represents configuration options for an in-process Bus.
type MemoryBusOptions struct {
	// SubscriberBufferSize is the number of undelivered Events buffered per
	// subscriber before further Events are dropped for that subscriber.
	// Default: 100
	SubscriberBufferSize int
	// CaptureSize is the number of recent messages retained per channel for
	// read-back.
	// Default: 1000
	CaptureSize int
	// CaptureTTL is how long a channel's captured messages outlive the last
	// message published to it.
	// Default: 24 hours
	CaptureTTL time.Duration
	// Clock is used to timestamp Events and expire captured messages.
	// Default: the real clock
	Clock clock.Clock
}

func (m *MemoryBusOptions) applyDefaults() {
	if m.SubscriberBufferSize <= 0 {
		m.SubscriberBufferSize = 100
	}
	if m.CaptureSize <= 0 {
		m.CaptureSize = 1000
	}
	if m.CaptureTTL <= 0 {
		m.CaptureTTL = 24 * time.Hour
	}
	if m.Clock == nil {
		m.Clock = clock.RealClock{}
	}
}

// capture is the recent messages of one channel.
type capture struct {
	messages  []string
	expiresAt time.Time
}

type memoryBus struct {
	options     MemoryBusOptions
	mu          sync.Mutex
	subscribers map[string]map[chan Event]struct{}
	recent      map[string]*capture
}

// NewMemoryBus returns an in-process implementation of the Bus interface. It
// suits single-process deployments and tests. Subscribers whose buffers are
// full miss Events rather than block publishers.
func NewMemoryBus(options *MemoryBusOptions) Bus {
	if options == nil {
		options = &MemoryBusOptions{}
	}
	options.applyDefaults()
	return &memoryBus{
		options:     *options,
		subscribers: map[string]map[chan Event]struct{}{},
		recent:      map[string]*capture{},
	}
}

func (m *memoryBus) Publish(_ context.Context, channel string, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.options.Clock.Now()
	m.evictExpired(now)
	c, ok := m.recent[channel]
	if !ok {
		c = &capture{}
		m.recent[channel] = c
	}
	c.messages = append(c.messages, message)
	if overflow := len(c.messages) - m.options.CaptureSize; overflow > 0 {
		c.messages = c.messages[overflow:]
	}
	c.expiresAt = now.Add(m.options.CaptureTTL)
	event := Event{
		Channel:   channel,
		Message:   message,
		Timestamp: now.UTC(),
	}
	for ch := range m.subscribers[channel] {
		select {
		case ch <- event:
		default: // This subscriber isn't keeping up; it misses this one
		}
	}
}

func (m *memoryBus) Subscribe(
	ctx context.Context,
	channel string,
) (<-chan Event, error) {
	ch := make(chan Event, m.options.SubscriberBufferSize)
	m.mu.Lock()
	if _, ok := m.subscribers[channel]; !ok {
		m.subscribers[channel] = map[chan Event]struct{}{}
	}
	m.subscribers[channel][ch] = struct{}{}
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if subs, ok := m.subscribers[channel]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(m.subscribers, channel)
			}
		}
	}()
	return ch, nil
}

func (m *memoryBus) Recent(
	_ context.Context,
	channel string,
	limit int,
) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictExpired(m.options.Clock.Now())
	var captured []string
	if c, ok := m.recent[channel]; ok {
		captured = c.messages
	}
	if limit > 0 && len(captured) > limit {
		captured = captured[len(captured)-limit:]
	}
	out := make([]string, len(captured))
	copy(out, captured)
	return out, nil
}

// evictExpired drops the captured messages of every channel nothing has been
// published to within the CaptureTTL. The caller must hold the lock.
func (m *memoryBus) evictExpired(now time.Time) {
	for channel, c := range m.recent {
		if !now.Before(c.expiresAt) {
			delete(m.recent, channel)
		}
	}
}

func (m *memoryBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for channel, subs := range m.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(m.subscribers, channel)
	}
	return nil
}
