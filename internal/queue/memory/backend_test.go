package memory

import (
	"context"
	"testing"

	"github.com/krancour/hoist/internal/meta"
	"github.com/krancour/hoist/internal/queue"
	"github.com/stretchr/testify/require"
)

func TestBackend(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()

	_, err := b.Get(ctx, "set-variables", "job-1")
	require.True(t, meta.IsNotFound(err))

	for _, id := range []string{"job-1", "job-2"} {
		pushed, err := b.Push(ctx, queue.Job{ID: id, Queue: "set-variables"})
		require.NoError(t, err)
		require.True(t, pushed)
	}
	pushed, err := b.Push(ctx, queue.Job{ID: "job-1", Queue: "set-variables"})
	require.NoError(t, err)
	require.False(t, pushed)

	job, err := b.Claim(ctx, "set-variables", "worker")
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, queue.StateActive, job.State)
	require.Equal(t, uint8(1), job.Attempts)

	job.State = queue.StateWaiting
	require.NoError(t, b.Finish(ctx, "worker", *job))
	job, err = b.Claim(ctx, "set-variables", "worker")
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, uint8(2), job.Attempts)

	job.State = queue.StateFailed
	require.NoError(t, b.Finish(ctx, "worker", *job))
	stored, err := b.Get(ctx, "set-variables", "job-1")
	require.NoError(t, err)
	require.Equal(t, queue.StateFailed, stored.State)

	job, err = b.Claim(ctx, "set-variables", "worker")
	require.NoError(t, err)
	require.Equal(t, "job-2", job.ID)

	job, err = b.Claim(ctx, "set-variables", "worker")
	require.NoError(t, err)
	require.Nil(t, job)

	names, err := b.Queues(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"set-variables"}, names)
}
