package remote

import (
	"context"
	"sync"

	"github.com/krancour/hoist/internal/common/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultProbeCommand = "true"

// ResilientOpenerOptions represents configuration options for a resilient
// Opener.
type ResilientOpenerOptions struct {
	// ProbeCommand is run over a freshly opened overlay Channel to prove the
	// overlay path works end to end.
	// Default: true
	ProbeCommand string
}

type resilientOpener struct {
	direct  Opener
	overlay Opener
	options ResilientOpenerOptions
	logger  *logrus.Entry
}

// NewResilientOpener returns an Opener that prefers the overlay transport for
// Targets with an overlay hostname and silently falls back to the direct
// transport whenever the overlay cannot be opened or fails its liveness probe.
// Channels it opens also recover from transport failures of an overlay
// session by reconnecting directly and retrying the failed command once.
func NewResilientOpener(
	direct Opener,
	overlay Opener,
	options *ResilientOpenerOptions,
	logger *logrus.Entry,
) Opener {
	opts := ResilientOpenerOptions{}
	if options != nil {
		opts = *options
	}
	if opts.ProbeCommand == "" {
		opts.ProbeCommand = defaultProbeCommand
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &resilientOpener{
		direct:  direct,
		overlay: overlay,
		options: opts,
		logger:  logger,
	}
}

func (r *resilientOpener) Open(
	ctx context.Context,
	target Target,
) (Channel, error) {
	if target.OverlayHostname != "" && r.overlay != nil {
		if ch, ok := r.openOverlay(ctx, target); ok {
			return &resilientChannel{
				opener:  r,
				target:  target,
				current: ch,
				overlay: true,
			}, nil
		}
	}
	ch, err := r.direct.Open(ctx, target)
	if err != nil {
		return nil, err
	}
	return &resilientChannel{
		opener:  r,
		target:  target,
		current: ch,
	}, nil
}

func (r *resilientOpener) openOverlay(
	ctx context.Context,
	target Target,
) (Channel, bool) {
	logger := r.logger.WithField("host", target.OverlayHostname)
	ch, err := r.overlay.Open(ctx, target)
	if err != nil {
		logger.WithError(err).Debug(
			"overlay transport unavailable; falling back to direct transport",
		)
		return nil, false
	}
	res, err := ch.Exec(ctx, r.options.ProbeCommand, ExecOptions{})
	if err == nil {
		err = res.Check(r.options.ProbeCommand)
	}
	if err != nil {
		logger.WithError(err).Debug(
			"overlay liveness probe failed; falling back to direct transport",
		)
		ch.Close() // nolint: errcheck
		return nil, false
	}
	return ch, true
}

type resilientChannel struct {
	opener  *resilientOpener
	target  Target
	mu      sync.Mutex
	current Channel
	overlay bool
}

func (r *resilientChannel) Exec(
	ctx context.Context,
	command string,
	opts ExecOptions,
) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.current.Exec(ctx, command, opts)
	if err == nil || !r.overlay || !IsConnectionError(err) {
		return res, err
	}
	r.opener.logger.WithField("host", r.target.OverlayHostname).WithError(err).
		Warn("overlay session failed; reconnecting with direct transport")
	r.current.Close() // nolint: errcheck
	ch, derr := r.opener.direct.Open(ctx, r.target)
	if derr != nil {
		return res, errors.Wrap(derr, "error reconnecting with direct transport")
	}
	r.current = ch
	r.overlay = false
	return r.current.Exec(ctx, command, opts)
}

func (r *resilientChannel) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current.Close()
}
