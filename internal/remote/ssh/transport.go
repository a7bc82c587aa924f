package ssh

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/krancour/hoist/internal/remote"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	directTransportName  = "direct"
	overlayTransportName = "overlay"
	readChunkSize        = 32 * 1024
)

// NewOpener returns a remote.Opener that prefers the overlay transport and
// falls back to the direct transport.
func NewOpener(config Config, logger *logrus.Entry) (remote.Opener, error) {
	direct, err := NewDirectTransport(config)
	if err != nil {
		return nil, err
	}
	overlay, err := NewOverlayTransport(config)
	if err != nil {
		return nil, err
	}
	return remote.NewResilientOpener(
		direct,
		overlay,
		&remote.ResilientOpenerOptions{
			ProbeCommand: config.ProbeCommand,
		},
		logger,
	), nil
}

type transport struct {
	name            string
	config          Config
	hostKeyCallback ssh.HostKeyCallback
	// addressFn and clientConfigFn derive where to dial and how to
	// authenticate from a Target.
	addressFn      func(remote.Target) string
	clientConfigFn func(remote.Target) (*ssh.ClientConfig, error)
}

// NewDirectTransport returns a remote.Opener that dials a Target's host and
// port and authenticates as its username using its credential. A credential
// that parses as a private key is used as one. Anything else is treated as a
// password.
func NewDirectTransport(config Config) (remote.Opener, error) {
	t, err := newTransport(directTransportName, config)
	if err != nil {
		return nil, err
	}
	t.addressFn = func(target remote.Target) string {
		return target.Address()
	}
	t.clientConfigFn = func(target remote.Target) (*ssh.ClientConfig, error) {
		auth := []ssh.AuthMethod{}
		if target.Credential != "" {
			signer, err := ssh.ParsePrivateKey([]byte(target.Credential))
			if err == nil {
				auth = append(auth, ssh.PublicKeys(signer))
			} else {
				auth = append(auth, ssh.Password(target.Credential))
			}
		}
		return &ssh.ClientConfig{
			User:            target.Username,
			Auth:            auth,
			HostKeyCallback: t.hostKeyCallback,
			Timeout:         config.DialTimeout,
		}, nil
	}
	return t, nil
}

// NewOverlayTransport returns a remote.Opener that dials a Target's overlay
// hostname. It presents no credential.
func NewOverlayTransport(config Config) (remote.Opener, error) {
	t, err := newTransport(overlayTransportName, config)
	if err != nil {
		return nil, err
	}
	t.addressFn = func(target remote.Target) string {
		return net.JoinHostPort(
			target.OverlayHostname,
			strconv.Itoa(config.OverlayPort),
		)
	}
	t.clientConfigFn = func(remote.Target) (*ssh.ClientConfig, error) {
		return &ssh.ClientConfig{
			User:            config.OverlayUsername,
			HostKeyCallback: t.hostKeyCallback,
			Timeout:         config.DialTimeout,
		}, nil
	}
	return t, nil
}

func newTransport(name string, config Config) (*transport, error) {
	t := &transport{
		name:   name,
		config: config,
	}
	if config.KnownHostsFile == "" {
		t.hostKeyCallback = ssh.InsecureIgnoreHostKey() // nolint: gosec
		return t, nil
	}
	var err error
	if t.hostKeyCallback, err = knownhosts.New(config.KnownHostsFile); err != nil {
		return nil, errors.Wrapf(
			err,
			"error loading known hosts from %q",
			config.KnownHostsFile,
		)
	}
	return t, nil
}

func (t *transport) Open(
	ctx context.Context,
	target remote.Target,
) (remote.Channel, error) {
	address := t.addressFn(target)
	clientConfig, err := t.clientConfigFn(target)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: t.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, t.connectionError(address, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		conn.Close() // nolint: errcheck
		return nil, t.connectionError(address, err)
	}
	return &channel{
		transport: t,
		address:   address,
		client:    ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

func (t *transport) connectionError(address string, err error) error {
	return &remote.ErrConnection{
		Transport: t.name,
		Host:      address,
		Err:       err,
	}
}

type channel struct {
	transport *transport
	address   string
	client    *ssh.Client
}

func (c *channel) Exec(
	ctx context.Context,
	command string,
	opts remote.ExecOptions,
) (remote.Result, error) {
	res := remote.Result{}
	session, err := c.client.NewSession()
	if err != nil {
		return res, c.transport.connectionError(c.address, err)
	}
	defer session.Close()

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return res, c.transport.connectionError(c.address, err)
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return res, c.transport.connectionError(c.address, err)
	}

	var stdout, stderr bytes.Buffer
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		stream(stdoutPipe, &stdout, opts.OnStdout)
	}()
	go func() {
		defer wg.Done()
		stream(stderrPipe, &stderr, opts.OnStderr)
	}()

	if err = session.Start(command); err != nil {
		return res, c.transport.connectionError(c.address, err)
	}

	done := make(chan error, 1)
	go func() {
		// Output must be fully drained before Wait is called.
		wg.Wait()
		done <- session.Wait()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		session.Close() // nolint: errcheck
		<-done
		return res, errors.Wrapf(ctx.Err(), "command %q interrupted", command)
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, c.transport.connectionError(c.address, err)
	}
	return res, nil
}

func (c *channel) Close() error {
	return c.client.Close()
}

// stream copies r into buf, passing each chunk to fn as it is read.
func stream(r io.Reader, buf *bytes.Buffer, fn func([]byte)) {
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if fn != nil {
				out := make([]byte, n)
				copy(out, chunk[:n])
				fn(out)
			}
		}
		if err != nil {
			return
		}
	}
}
