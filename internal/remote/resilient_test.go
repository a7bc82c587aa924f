package remote

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	name   string
	execFn func(command string) (Result, error)
	execs  []string
	closed bool
}

func (f *fakeChannel) Exec(
	_ context.Context,
	command string,
	opts ExecOptions,
) (Result, error) {
	f.execs = append(f.execs, command)
	res, err := f.execFn(command)
	if err == nil && opts.OnStdout != nil && res.Stdout != "" {
		opts.OnStdout([]byte(res.Stdout))
	}
	return res, err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type fakeOpener struct {
	opens   int
	openErr error
	channel *fakeChannel
}

func (f *fakeOpener) Open(context.Context, Target) (Channel, error) {
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.channel, nil
}

func succeed(name string) func(string) (Result, error) {
	return func(string) (Result, error) {
		return Result{Stdout: name}, nil
	}
}

func TestResilientOpener(t *testing.T) {
	overlayTarget := Target{
		Host:            "203.0.113.10",
		Port:            22,
		Username:        "dokku",
		OverlayHostname: "host-1",
	}
	testCases := []struct {
		name       string
		target     Target
		overlay    *fakeOpener
		assertions func(*testing.T, *fakeOpener, *fakeOpener, Result, error)
	}{
		{
			name:   "no overlay hostname",
			target: Target{Host: "203.0.113.10"},
			overlay: &fakeOpener{
				channel: &fakeChannel{execFn: succeed("overlay")},
			},
			assertions: func(
				t *testing.T,
				direct *fakeOpener,
				overlay *fakeOpener,
				res Result,
				err error,
			) {
				require.NoError(t, err)
				require.Equal(t, "direct", res.Stdout)
				require.Equal(t, 0, overlay.opens)
			},
		},
		{
			name:   "overlay healthy",
			target: overlayTarget,
			overlay: &fakeOpener{
				channel: &fakeChannel{execFn: succeed("overlay")},
			},
			assertions: func(
				t *testing.T,
				direct *fakeOpener,
				overlay *fakeOpener,
				res Result,
				err error,
			) {
				require.NoError(t, err)
				require.Equal(t, "overlay", res.Stdout)
				require.Equal(t, []string{"true", "dokku apps:list"}, overlay.channel.execs)
				require.Equal(t, 0, direct.opens)
			},
		},
		{
			name:   "overlay cannot be opened",
			target: overlayTarget,
			overlay: &fakeOpener{
				openErr: &ErrConnection{Transport: "overlay", Host: "host-1"},
			},
			assertions: func(
				t *testing.T,
				direct *fakeOpener,
				_ *fakeOpener,
				res Result,
				err error,
			) {
				require.NoError(t, err)
				require.Equal(t, "direct", res.Stdout)
				require.Equal(t, 1, direct.opens)
			},
		},
		{
			name:   "overlay probe exits non-zero",
			target: overlayTarget,
			overlay: &fakeOpener{
				channel: &fakeChannel{
					execFn: func(string) (Result, error) {
						return Result{ExitCode: 255}, nil
					},
				},
			},
			assertions: func(
				t *testing.T,
				direct *fakeOpener,
				overlay *fakeOpener,
				res Result,
				err error,
			) {
				require.NoError(t, err)
				require.Equal(t, Result{Stdout: "direct"}, res)
				require.True(t, overlay.channel.closed)
				require.Equal(t, []string{"dokku apps:list"}, direct.channel.execs)
			},
		},
		{
			name:   "overlay session fails mid-exec",
			target: overlayTarget,
			overlay: &fakeOpener{
				channel: &fakeChannel{
					execFn: func(command string) (Result, error) {
						if command == "true" {
							return Result{}, nil
						}
						return Result{}, errors.Wrap(
							&ErrConnection{Transport: "overlay", Host: "host-1"},
							"error running command",
						)
					},
				},
			},
			assertions: func(
				t *testing.T,
				direct *fakeOpener,
				overlay *fakeOpener,
				res Result,
				err error,
			) {
				require.NoError(t, err)
				require.Equal(t, "direct", res.Stdout)
				require.True(t, overlay.channel.closed)
				require.Equal(t, 1, direct.opens)
				require.Equal(t, []string{"dokku apps:list"}, direct.channel.execs)
			},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			direct := &fakeOpener{
				channel: &fakeChannel{execFn: succeed("direct")},
			}
			opener := NewResilientOpener(direct, testCase.overlay, nil, nil)
			ch, err := opener.Open(context.Background(), testCase.target)
			require.NoError(t, err)
			res, err := ch.Exec(context.Background(), "dokku apps:list", ExecOptions{})
			testCase.assertions(t, direct, testCase.overlay, res, err)
		})
	}
}

func TestResilientChannelDoesNotRetryCommandErrors(t *testing.T) {
	direct := &fakeOpener{channel: &fakeChannel{execFn: succeed("direct")}}
	overlay := &fakeOpener{
		channel: &fakeChannel{
			execFn: func(command string) (Result, error) {
				if command == "true" {
					return Result{}, nil
				}
				return Result{ExitCode: 1, Stderr: "no such app"}, nil
			},
		},
	}
	opener := NewResilientOpener(direct, overlay, nil, nil)
	ch, err := opener.Open(
		context.Background(),
		Target{Host: "203.0.113.10", OverlayHostname: "host-1"},
	)
	require.NoError(t, err)
	res, err := ch.Exec(context.Background(), "dokku apps:report web", ExecOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.ExitCode)
	require.Equal(t, 0, direct.opens)
	cmdErr := res.Check("dokku apps:report web")
	require.True(t, IsCommandError(cmdErr))
	require.Contains(t, cmdErr.Error(), "no such app")
}

func TestTargetAddress(t *testing.T) {
	require.Equal(t, "example.com:22", Target{Host: "example.com"}.Address())
	require.Equal(t, "example.com:2222", Target{Host: "example.com", Port: 2222}.Address())
}
