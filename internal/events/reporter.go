package events

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
)

// Message prefixes distinguish progress, warnings, and failures in a channel's
// human-readable output.
const (
	InfoPrefix    = "-----> "
	WarningPrefix = " !     "
	FailurePrefix = "!!!!! "
	OutputPrefix  = "       "
)

// IsFailure returns true if the provided message was published by
// Reporter.Fail.
func IsFailure(message string) bool {
	return strings.HasPrefix(message, FailurePrefix)
}

// Reporter publishes human-readable, prefixed messages to a single channel.
type Reporter struct {
	publisher Publisher
	channel   string
}

// NewReporter returns a Reporter that publishes to the named channel.
func NewReporter(publisher Publisher, channel string) *Reporter {
	return &Reporter{
		publisher: publisher,
		channel:   channel,
	}
}

// Channel returns the name of the channel the Reporter publishes to.
func (r *Reporter) Channel() string {
	return r.channel
}

// Info publishes a progress message.
func (r *Reporter) Info(ctx context.Context, format string, args ...interface{}) {
	r.publish(ctx, InfoPrefix, format, args...)
}

// Warn publishes a warning that does not, by itself, fail anything.
func (r *Reporter) Warn(ctx context.Context, format string, args ...interface{}) {
	r.publish(ctx, WarningPrefix, format, args...)
}

// Fail publishes a failure message.
func (r *Reporter) Fail(ctx context.Context, format string, args ...interface{}) {
	r.publish(ctx, FailurePrefix, format, args...)
}

// Output publishes a single line of command output.
func (r *Reporter) Output(ctx context.Context, line string) {
	r.publisher.Publish(ctx, r.channel, OutputPrefix+line)
}

func (r *Reporter) publish(
	ctx context.Context,
	prefix string,
	format string,
	args ...interface{},
) {
	r.publisher.Publish(ctx, r.channel, prefix+fmt.Sprintf(format, args...))
}

// LineWriter is an io.Writer that splits whatever is written to it into lines
// and publishes each complete line through a Reporter. It is safe for
// concurrent use, but it buffers a single stream; see Streams for stdout and
// stderr.
type LineWriter struct {
	ctx      context.Context
	reporter *Reporter
	mu       sync.Mutex
	buf      bytes.Buffer
}

// NewLineWriter returns a LineWriter that publishes through the provided
// Reporter.
func NewLineWriter(ctx context.Context, reporter *Reporter) *LineWriter {
	return &LineWriter{
		ctx:      ctx,
		reporter: reporter,
	}
}

func (l *LineWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		idx := bytes.IndexByte(l.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(l.buf.Next(idx + 1))
		l.reporter.Output(l.ctx, strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// WriteChunk is Write without the return values, handy as an output callback.
func (l *LineWriter) WriteChunk(p []byte) {
	l.Write(p) // nolint: errcheck
}

// Flush publishes any buffered partial line.
func (l *LineWriter) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() > 0 {
		l.reporter.Output(l.ctx, strings.TrimRight(l.buf.String(), "\r\n"))
		l.buf.Reset()
	}
}

// Streams pairs one LineWriter per output stream of a remote command, so a
// partial stdout line is never joined with a partial stderr line.
type Streams struct {
	Stdout *LineWriter
	Stderr *LineWriter
}

// NewStreams returns Streams that publish through the provided Reporter.
func NewStreams(ctx context.Context, reporter *Reporter) *Streams {
	return &Streams{
		Stdout: NewLineWriter(ctx, reporter),
		Stderr: NewLineWriter(ctx, reporter),
	}
}

// Flush publishes any buffered partial line of either stream.
func (s *Streams) Flush() {
	s.Stdout.Flush()
	s.Stderr.Flush()
}
