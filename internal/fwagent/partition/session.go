package partition

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/pkg/image"
	"github.com/autopeer-io/fwagent/pkg/log"
)

var _ core.Session = (*session)(nil)

type session struct {
	mu sync.Mutex

	id    string
	store *Store
	part  core.Partition
	w     SlotWriter

	written int64
	closed  bool
}

func newSession(s *Store, p core.Partition, w SlotWriter) *session {
	return &session{
		id:    uuid.NewString(),
		store: s,
		part:  p,
		w:     w,
	}
}

func (s *session) ID() string                { return s.id }
func (s *session) Partition() core.Partition { return s.part }

func (s *session) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *session) Write(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.ErrSessionClosed
	}
	if s.written+int64(len(b)) > s.part.Size {
		return fmt.Errorf("%w: %d bytes into %d byte partition %s",
			core.ErrNoSpace, s.written+int64(len(b)), s.part.Size, s.part.Label)
	}
	n, err := s.w.Write(b)
	s.written += int64(n)
	if err != nil {
		return fmt.Errorf("write %s at %d: %w", s.part.Label, s.written, err)
	}
	return nil
}

func (s *session) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.ErrSessionClosed
	}
	s.closed = true

	if err := s.w.Commit(); err != nil {
		s.store.release(s)
		return fmt.Errorf("commit %s: %w", s.part.Label, err)
	}

	info, err := s.verify()
	if err != nil {
		s.store.release(s)
		return err
	}
	if err := s.store.finish(s, info); err != nil {
		return fmt.Errorf("record image in %s: %w", s.part.Label, err)
	}

	log.Debug("Finalized write session", "partition", s.part.Label, "session", s.id,
		"bytes", s.written, "version", info.Descriptor.Version)
	return nil
}

func (s *session) verify() (*image.Info, error) {
	rd, size, err := s.store.media.Open(s.part.Label)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.part.Label, err)
	}
	defer rd.Close()

	if size < s.written {
		return nil, fmt.Errorf("%w: slot holds %d bytes, %d written", core.ErrValidationFailed, size, s.written)
	}
	info, err := image.Verify(rd, s.written)
	if errors.Is(err, image.ErrInvalidImage) {
		return nil, fmt.Errorf("%w: %w", core.ErrValidationFailed, err)
	}
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", s.part.Label, err)
	}
	return info, nil
}

func (s *session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.w.Discard()
	s.store.release(s)
	log.Debug("Aborted write session", "partition", s.part.Label, "session", s.id, "bytes", s.written)
}
