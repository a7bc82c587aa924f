package queue_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krancour/hoist/internal/events"
	"github.com/krancour/hoist/internal/queue"
	"github.com/krancour/hoist/internal/queue/memory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var testAwaitOptions = &queue.AwaitOptions{
	PollInterval: 10 * time.Millisecond,
	MaxAttempts:  500,
}

var testRegistryOptions = &queue.RegistryOptions{
	IdlePause:         5 * time.Millisecond,
	DiscoveryInterval: 10 * time.Millisecond,
}

func runRegistry(t *testing.T, registry *queue.Registry) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		registry.Run(ctx) // nolint: errcheck
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRegistryHandlesJobs(t *testing.T) {
	bus := events.NewMemoryBus(nil)
	registry := queue.NewRegistry(
		memory.NewBackend(),
		bus,
		testRegistryOptions,
		nil,
	)
	registry.Handle("echo", queue.QueueConfig{
		Handler: func(_ context.Context, job queue.Job) (interface{}, error) {
			var payload map[string]string
			if err := job.DecodePayload(&payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	})
	runRegistry(t, registry)

	handle, err := registry.Enqueue(
		context.Background(),
		"echo",
		"echo:1",
		map[string]string{"foo": "bar"},
		nil,
	)
	require.NoError(t, err)
	require.NoError(
		t,
		queue.AwaitCompletion(context.Background(), handle, testAwaitOptions),
	)
	job, err := handle.Job(context.Background())
	require.NoError(t, err)
	require.Equal(t, queue.StateCompleted, job.State)
	require.JSONEq(t, `{"foo":"bar"}`, string(job.Result))
	require.NotNil(t, job.Finished)
}

func TestRegistryRetriesAndReportsFailures(t *testing.T) {
	bus := events.NewMemoryBus(nil)
	registry := queue.NewRegistry(
		memory.NewBackend(),
		bus,
		testRegistryOptions,
		nil,
	)
	var calls int32
	registry.Handle("flaky", queue.QueueConfig{
		MaxAttempts: 2,
		Handler: func(context.Context, queue.Job) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("remote host unreachable")
		},
	})
	runRegistry(t, registry)

	handle, err := registry.Enqueue(
		context.Background(),
		"flaky",
		"flaky:1",
		struct{}{},
		&queue.EnqueueOptions{Channel: "deployments/abc"},
	)
	require.NoError(t, err)
	err = queue.AwaitCompletion(context.Background(), handle, testAwaitOptions)
	require.Error(t, err)
	jobErr, ok := err.(*queue.ErrJob)
	require.True(t, ok)
	require.Equal(t, queue.StateFailed, jobErr.State)
	require.Equal(t, "remote host unreachable", jobErr.Message)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// The failure was already published when the failed state was observed.
	messages, err := bus.Recent(context.Background(), "deployments/abc", 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.False(t, events.IsFailure(messages[0]))
	require.True(t, events.IsFailure(messages[1]))
	require.True(t, strings.Contains(messages[1], "remote host unreachable"))
}

func TestRegistryRecoversFromPanics(t *testing.T) {
	bus := events.NewMemoryBus(nil)
	registry := queue.NewRegistry(
		memory.NewBackend(),
		bus,
		testRegistryOptions,
		nil,
	)
	registry.Handle("panicky", queue.QueueConfig{
		Handler: func(context.Context, queue.Job) (interface{}, error) {
			panic("nil map")
		},
	})
	runRegistry(t, registry)

	handle, err := registry.Enqueue(
		context.Background(),
		"panicky",
		"panicky:1",
		nil,
		nil,
	)
	require.NoError(t, err)
	err = queue.AwaitCompletion(context.Background(), handle, testAwaitOptions)
	require.Error(t, err)
	messages, err := bus.Recent(
		context.Background(),
		events.JobChannel("panicky", "panicky:1"),
		10,
	)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.True(t, events.IsFailure(messages[0]))
}

func TestRegistryDiscoversQueuesCreatedElsewhere(t *testing.T) {
	backend := memory.NewBackend()
	bus := events.NewMemoryBus(nil)
	consumer := queue.NewRegistry(backend, bus, testRegistryOptions, nil)
	var handled int32
	consumer.Handle("deploy-app", queue.QueueConfig{
		Handler: func(context.Context, queue.Job) (interface{}, error) {
			atomic.AddInt32(&handled, 1)
			return nil, nil
		},
	})
	runRegistry(t, consumer)

	// A producer that never runs workers, as in the API server.
	producer := queue.NewRegistry(backend, bus, testRegistryOptions, nil)
	handle, err := producer.Enqueue(
		context.Background(),
		queue.QueueName("deploy-app", "host-1"),
		"deploy-app:svc:1",
		nil,
		nil,
	)
	require.NoError(t, err)
	require.NoError(
		t,
		queue.AwaitCompletion(context.Background(), handle, testAwaitOptions),
	)
	require.Equal(t, int32(1), atomic.LoadInt32(&handled))
}

func TestRegistryEnqueueDeduplicatesInFlightJobs(t *testing.T) {
	registry := queue.NewRegistry(
		memory.NewBackend(),
		events.NewMemoryBus(nil),
		testRegistryOptions,
		nil,
	)
	ctx := context.Background()
	first, err := registry.Enqueue(ctx, "idle", "idle:1", 1, nil)
	require.NoError(t, err)
	second, err := registry.Enqueue(ctx, "idle", "idle:1", 2, nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	job, err := second.Job(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", string(job.Payload))
}
