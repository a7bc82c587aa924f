package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/krancour/hoist/internal/meta"
	"github.com/krancour/hoist/internal/queue"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) (*backend, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	b, err := NewBackend(client, &BackendOptions{RedisPrefix: "test"}, nil)
	require.NoError(t, err)
	return b.(*backend), mr
}

func newJob(id string) queue.Job {
	now := time.Now().UTC()
	return queue.Job{
		ID:      id,
		Queue:   "deploy-app@host-1",
		Payload: []byte(`{"serviceID":"svc"}`),
		State:   queue.StateWaiting,
		Created: &now,
	}
}

func TestBackendPushAndGet(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Get(ctx, "deploy-app@host-1", "job-1")
	require.Error(t, err)
	require.True(t, meta.IsNotFound(err))

	pushed, err := b.Push(ctx, newJob("job-1"))
	require.NoError(t, err)
	require.True(t, pushed)

	job, err := b.Get(ctx, "deploy-app@host-1", "job-1")
	require.NoError(t, err)
	require.Equal(t, queue.StateWaiting, job.State)
	require.JSONEq(t, `{"serviceID":"svc"}`, string(job.Payload))

	names, err := b.Queues(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"deploy-app@host-1"}, names)
}

func TestBackendPushDeduplicatesInFlightJobs(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	pushed, err := b.Push(ctx, newJob("job-1"))
	require.NoError(t, err)
	require.True(t, pushed)

	// Waiting
	pushed, err = b.Push(ctx, newJob("job-1"))
	require.NoError(t, err)
	require.False(t, pushed)

	// Active
	claimed, err := b.Claim(ctx, "deploy-app@host-1", "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	pushed, err = b.Push(ctx, newJob("job-1"))
	require.NoError(t, err)
	require.False(t, pushed)

	// Terminal jobs may be replaced
	claimed.State = queue.StateCompleted
	require.NoError(t, b.Finish(ctx, "worker-1", *claimed))
	pushed, err = b.Push(ctx, newJob("job-1"))
	require.NoError(t, err)
	require.True(t, pushed)
}

func TestBackendClaimIsFIFO(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		_, err := b.Push(ctx, newJob(id))
		require.NoError(t, err)
	}
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		job, err := b.Claim(ctx, "deploy-app@host-1", "worker-1")
		require.NoError(t, err)
		require.NotNil(t, job)
		require.Equal(t, id, job.ID)
		require.Equal(t, queue.StateActive, job.State)
		require.Equal(t, uint8(1), job.Attempts)
		require.NotNil(t, job.Started)
	}
	job, err := b.Claim(ctx, "deploy-app@host-1", "worker-1")
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestBackendFinish(t *testing.T) {
	testCases := []struct {
		name       string
		state      queue.JobState
		assertions func(*testing.T, *backend, *miniredis.Miniredis)
	}{
		{
			name:  "job completed",
			state: queue.StateCompleted,
			assertions: func(t *testing.T, b *backend, mr *miniredis.Miniredis) {
				job, err := b.Get(context.Background(), "deploy-app@host-1", "job-1")
				require.NoError(t, err)
				require.Equal(t, queue.StateCompleted, job.State)
				require.False(
					t,
					mr.Exists(activeListName("test", "deploy-app@host-1", "worker-1")),
				)
				next, err := b.Claim(context.Background(), "deploy-app@host-1", "worker-1")
				require.NoError(t, err)
				require.Nil(t, next)
			},
		},
		{
			name:  "job waiting for retry",
			state: queue.StateWaiting,
			assertions: func(t *testing.T, b *backend, mr *miniredis.Miniredis) {
				next, err := b.Claim(context.Background(), "deploy-app@host-1", "worker-1")
				require.NoError(t, err)
				require.NotNil(t, next)
				require.Equal(t, "job-1", next.ID)
				require.Equal(t, uint8(2), next.Attempts)
			},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			b, mr := newTestBackend(t)
			ctx := context.Background()
			_, err := b.Push(ctx, newJob("job-1"))
			require.NoError(t, err)
			job, err := b.Claim(ctx, "deploy-app@host-1", "worker-1")
			require.NoError(t, err)
			job.State = testCase.state
			require.NoError(t, b.Finish(ctx, "worker-1", *job))
			testCase.assertions(t, b, mr)
		})
	}
}

func TestBackendReclaimsJobsFromDeadWorkers(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Push(ctx, newJob("job-1"))
	require.NoError(t, err)
	_, err = b.Claim(ctx, "deploy-app@host-1", "worker-1")
	require.NoError(t, err)
	require.NoError(t, b.heartbeat(ctx, "deploy-app@host-1", "worker-1"))

	// The worker is still alive
	moved, err := b.cleanBefore(ctx, "deploy-app@host-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, moved)

	// The worker has died
	moved, err = b.cleanBefore(ctx, "deploy-app@host-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	job, err := b.Claim(ctx, "deploy-app@host-1", "worker-2")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, uint8(2), job.Attempts)
}
