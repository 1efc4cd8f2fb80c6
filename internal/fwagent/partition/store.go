package partition

import (
	"errors"
	"fmt"
	"sync"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/pkg/image"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/options"
)

var _ core.PartitionStore = (*Store)(nil)

// Store implements core.PartitionStore on top of a Meta for the table and a
// Media for slot contents.
type Store struct {
	mu sync.Mutex

	meta  Meta
	media Media
	table *Table

	// running is fixed for the lifetime of the process.
	running string

	// session is the single open write session, if any.
	session *session
}

// New returns a store configured by opts.
func New(opts *options.PartitionOptions) (*Store, error) {
	switch opts.Backend {
	case options.PartitionBackendMemory:
		return NewMemoryStore(opts.Slots, opts.SlotSize, NewMemoryMedia())
	default:
		meta, err := OpenBoltMeta(opts.DBPath)
		if err != nil {
			return nil, err
		}
		media, err := NewFileMedia(opts.SlotDir, opts.Devices)
		if err != nil {
			_ = meta.Close()
			return nil, err
		}
		s, err := Open(meta, media, opts.Slots, opts.SlotSize)
		if err != nil {
			_ = meta.Close()
			return nil, err
		}
		return s, nil
	}
}

// NewMemoryStore returns a store whose table and slots live in memory.
func NewMemoryStore(slots int, size int64, media *MemoryMedia) (*Store, error) {
	return Open(&MemoryMeta{}, media, slots, size)
}

// Open loads the table from meta, creating a fresh layout of slots
// partitions on first use, and applies the boot confirmation rules:
// an activated image gets one trial boot; booting it a second time
// without MarkValid marks it invalid and returns to the previous slot.
func Open(meta Meta, media Media, slots int, size int64) (*Store, error) {
	t, err := meta.Load()
	if errors.Is(err, errNoTable) {
		t = NewTable(slots, size)
		log.Info("Initialized partition table", "slots", slots, "size", size)
	} else if err != nil {
		return nil, fmt.Errorf("load partition table: %w", err)
	}

	s := &Store{meta: meta, media: media, table: t}

	boot := t.find(t.Boot)
	if boot == nil {
		return nil, fmt.Errorf("%w: boot partition %q", core.ErrUnknownPartition, t.Boot)
	}
	if boot.State == core.StatePending {
		if !t.Trial {
			t.Trial = true
			log.Info("Booting unconfirmed image", "partition", boot.Label)
		} else {
			log.Warn("Unconfirmed image booted twice, rolling back", "partition", boot.Label, "previous", t.Previous)
			t.reject(boot.Label)
		}
	}
	s.running = t.Boot

	s.scan()

	if err := meta.Save(t); err != nil {
		return nil, fmt.Errorf("save partition table: %w", err)
	}
	return s, nil
}

// scan fills in descriptors of slots holding a valid image that the table
// does not know about yet.
func (s *Store) scan() {
	for i := range s.table.Records {
		r := &s.table.Records[i]
		if len(r.Descriptor) != 0 {
			continue
		}
		rd, size, err := s.media.Open(r.Label)
		if err != nil {
			continue
		}
		info, err := image.Verify(rd, size)
		_ = rd.Close()
		if err != nil {
			log.Debug("Slot holds no valid image", "partition", r.Label, "err", err)
			continue
		}
		r.Descriptor = info.Descriptor.Encode()
		r.Length = info.Length
		r.Ready = true
		log.Info("Found image in slot", "partition", r.Label, "version", info.Descriptor.Version)
	}
}

func (s *Store) Running() core.Partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.find(s.running).Partition
}

func (s *Store) Boot() core.Partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.find(s.table.Boot).Partition
}

func (s *Store) UpdateTarget() (core.Partition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.table.next(s.running)
	if r == nil {
		return core.Partition{}, false
	}
	return r.Partition, true
}

func (s *Store) LastInvalid() (core.Partition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.table.Records {
		if r.State == core.StateInvalid {
			return r.Partition, true
		}
	}
	return core.Partition{}, false
}

func (s *Store) Descriptor(p core.Partition) (*image.AppDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.table.find(p.Label)
	if r == nil || len(r.Descriptor) == 0 {
		return nil, false
	}
	d, err := image.ParseDescriptor(r.Descriptor)
	if err != nil {
		return nil, false
	}
	return d, true
}

func (s *Store) Partitions() []core.Partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Partition, 0, len(s.table.Records))
	for _, r := range s.table.Records {
		out = append(out, r.Partition)
	}
	return out
}

func (s *Store) BeginWrite(p core.Partition) (core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return nil, core.ErrSessionBusy
	}
	r := s.table.find(p.Label)
	if r == nil {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownPartition, p.Label)
	}
	if r.Label == s.running {
		return nil, fmt.Errorf("refusing to write the running partition %q", r.Label)
	}

	// Clear readiness before erasing so a crash cannot leave a stale image activatable.
	next := s.table.clone()
	nr := next.find(r.Label)
	nr.Ready = false
	nr.Length = 0
	if err := s.meta.Save(next); err != nil {
		return nil, fmt.Errorf("save partition table: %w", err)
	}
	s.table = next

	w, err := s.media.Erase(r.Label)
	if err != nil {
		return nil, fmt.Errorf("erase %s: %w", r.Label, err)
	}

	s.session = newSession(s, r.Partition, w)
	log.Debug("Opened write session", "partition", r.Label, "session", s.session.id)
	return s.session, nil
}

func (s *Store) Activate(p core.Partition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.table.find(p.Label)
	if r == nil {
		return fmt.Errorf("%w: %q", core.ErrUnknownPartition, p.Label)
	}
	if s.session != nil && s.session.part.Label == r.Label {
		return fmt.Errorf("%w: %q has an open session", core.ErrNotFinalized, r.Label)
	}
	if !r.Ready {
		return fmt.Errorf("%w: %q", core.ErrNotFinalized, r.Label)
	}

	next := s.table.clone()
	nr := next.find(r.Label)
	if r.Label != s.running {
		next.Previous = s.running
		nr.State = core.StatePending
	}
	next.Boot = r.Label
	next.Trial = false

	if err := s.meta.Save(next); err != nil {
		return fmt.Errorf("save boot selection: %w", err)
	}
	s.table = next
	log.Info("Boot partition set", "partition", r.Label)
	return nil
}

// MarkValid confirms the running image and cancels a pending rollback.
func (s *Store) MarkValid() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r := s.table.find(s.running); r.State == core.StateValid && !s.table.Trial {
		return nil
	}
	next := s.table.clone()
	next.find(s.running).State = core.StateValid
	next.Trial = false
	if err := s.meta.Save(next); err != nil {
		return fmt.Errorf("save partition table: %w", err)
	}
	s.table = next
	log.Info("Running image marked valid", "partition", s.running)
	return nil
}

// MarkInvalid rejects the image held by p. If p is selected for the next
// boot, the selection returns to the slot booted before it.
func (s *Store) MarkInvalid(p core.Partition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table.find(p.Label) == nil {
		return fmt.Errorf("%w: %q", core.ErrUnknownPartition, p.Label)
	}
	if s.session != nil && s.session.part.Label == p.Label {
		return fmt.Errorf("%w: %q", core.ErrSessionBusy, p.Label)
	}

	next := s.table.clone()
	next.reject(p.Label)
	if err := s.meta.Save(next); err != nil {
		return fmt.Errorf("save partition table: %w", err)
	}
	s.table = next
	log.Warn("Image marked invalid", "partition", p.Label, "boot", next.Boot)
	return nil
}

// Close releases the metadata backend. An open session is aborted.
func (s *Store) Close() error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess != nil {
		sess.Abort()
	}
	return s.meta.Close()
}

// finish records the outcome of a finalized session and releases it.
func (s *Store) finish(sess *session, info *image.Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == sess {
		s.session = nil
	}
	if info == nil {
		return nil
	}

	next := s.table.clone()
	r := next.find(sess.part.Label)
	r.Descriptor = info.Descriptor.Encode()
	r.Length = info.Length
	r.Ready = true
	if r.State == core.StateInvalid {
		r.State = core.StateUnset
	}
	if err := s.meta.Save(next); err != nil {
		return err
	}
	s.table = next
	return nil
}

func (s *Store) release(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == sess {
		s.session = nil
	}
}
