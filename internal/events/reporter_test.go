package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReporter(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()
	ctx := context.Background()
	r := NewReporter(bus, "deployments/foo")
	require.Equal(t, "deployments/foo", r.Channel())
	r.Info(ctx, "creating app %s", "web")
	r.Warn(ctx, "no variables")
	r.Fail(ctx, "deploy failed: %d", 1)
	recent, err := bus.Recent(ctx, "deployments/foo", 0)
	require.NoError(t, err)
	require.Equal(
		t,
		[]string{
			"-----> creating app web",
			" !     no variables",
			"!!!!! deploy failed: 1",
		},
		recent,
	)
	require.False(t, IsFailure(recent[0]))
	require.False(t, IsFailure(recent[1]))
	require.True(t, IsFailure(recent[2]))
}

func TestLineWriter(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()
	ctx := context.Background()
	w := NewLineWriter(ctx, NewReporter(bus, "foo"))
	_, err := w.Write([]byte("hel"))
	require.NoError(t, err)
	w.WriteChunk([]byte("lo\nwor"))
	w.WriteChunk([]byte("ld\r\n\npartial"))
	recent, err := bus.Recent(ctx, "foo", 0)
	require.NoError(t, err)
	require.Equal(
		t,
		[]string{OutputPrefix + "hello", OutputPrefix + "world", OutputPrefix},
		recent,
	)
	w.Flush()
	recent, err = bus.Recent(ctx, "foo", 1)
	require.NoError(t, err)
	require.Equal(t, []string{OutputPrefix + "partial"}, recent)
	w.Flush() // Nothing buffered; publishes nothing
	recent, err = bus.Recent(ctx, "foo", 0)
	require.NoError(t, err)
	require.Len(t, recent, 4)
}

func TestStreams(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()
	ctx := context.Background()
	streams := NewStreams(ctx, NewReporter(bus, "foo"))
	streams.Stdout.WriteChunk([]byte("build"))
	streams.Stderr.WriteChunk([]byte("warn"))
	streams.Stdout.WriteChunk([]byte("ing\n"))
	streams.Stderr.WriteChunk([]byte("ing\nlast"))
	streams.Flush()
	recent, err := bus.Recent(ctx, "foo", 0)
	require.NoError(t, err)
	require.Equal(
		t,
		[]string{
			OutputPrefix + "building",
			OutputPrefix + "warning",
			OutputPrefix + "last",
		},
		recent,
	)
}
