package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
)

var _ core.Stream = (*stream)(nil)

// stream adapts a response body to core.Stream. Every read is bounded by
// timeout; on expiry the request context is canceled, which unblocks the
// pending read.
type stream struct {
	body    io.ReadCloser
	cancel  context.CancelFunc
	timeout time.Duration

	size     int64
	received int64
	eof      bool
	timedOut atomic.Bool
}

func newStream(body io.ReadCloser, size int64, cancel context.CancelFunc, timeout time.Duration) *stream {
	return &stream{body: body, size: size, cancel: cancel, timeout: timeout}
}

// Read fills p the way a blocking socket read with a receive timeout would:
// it returns early only at end of stream or on error. n may be positive when
// err is not nil.
func (s *stream) Read(p []byte) (int, error) {
	if s.eof {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) {
		timer := time.AfterFunc(s.timeout, func() {
			s.timedOut.Store(true)
			s.cancel()
		})
		m, err := s.body.Read(p[n:])
		timer.Stop()

		n += m
		s.received += int64(m)
		if err != nil {
			return n, s.classify(err)
		}
	}
	return n, nil
}

func (s *stream) classify(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// A short body is reported through Complete.
		s.eof = true
		return io.EOF
	case s.timedOut.Load():
		return fmt.Errorf("%w after %s", core.ErrReadTimeout, s.timeout)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ENOTCONN),
		errors.Is(err, syscall.EPIPE), errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %w", core.ErrConnectionLost, err)
	default:
		return err
	}
}

func (s *stream) Complete() bool {
	if s.size < 0 {
		return s.eof
	}
	return s.received == s.size
}

func (s *stream) Size() int64 {
	return s.size
}

func (s *stream) Close() error {
	s.cancel()
	return s.body.Close()
}
