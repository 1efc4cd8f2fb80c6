package partition

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Media stores the raw bytes of each slot.
type Media interface {
	// Erase opens the slot for sequential writing from offset 0, truncating
	// it where the medium allows.
	Erase(label string) (SlotWriter, error)

	// Open opens the slot for reading and returns its current length, or
	// the capacity of a slot that is not truncated on Erase.
	Open(label string) (SlotReader, int64, error)
}

type SlotWriter interface {
	io.Writer
	// Commit flushes the written bytes to stable storage and closes the writer.
	Commit() error
	// Discard closes the writer without flushing.
	Discard()
}

type SlotReader interface {
	io.ReaderAt
	io.Closer
}

// FileMedia keeps one file per slot under a directory. A slot mapped to a
// device path is written in place instead: the device is never truncated,
// so Open reports its capacity and readers rely on the recorded image length.
type FileMedia struct {
	dir     string
	devices map[string]string
}

func NewFileMedia(dir string, devices map[string]string) (*FileMedia, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create slot directory: %w", err)
	}
	return &FileMedia{dir: dir, devices: devices}, nil
}

func (m *FileMedia) path(label string) (string, bool) {
	if dev, ok := m.devices[label]; ok {
		return dev, true
	}
	return filepath.Join(m.dir, label+".bin"), false
}

func (m *FileMedia) Erase(label string) (SlotWriter, error) {
	path, device := m.path(label)
	flag := os.O_CREATE | os.O_TRUNC | os.O_WRONLY
	if device {
		flag = os.O_WRONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileWriter{f: f}, nil
}

func (m *FileMedia) Open(label string) (SlotReader, int64, error) {
	path, _ := m.path(label)
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	// Stat reports 0 for block devices; seeking to the end works for both.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, size, nil
}

type fileWriter struct {
	f *os.File
}

func (w *fileWriter) Write(b []byte) (int, error) { return w.f.Write(b) }

func (w *fileWriter) Commit() error {
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

func (w *fileWriter) Discard() { _ = w.f.Close() }

// MemoryMedia keeps slots in memory.
type MemoryMedia struct {
	mu    sync.Mutex
	slots map[string][]byte
}

func NewMemoryMedia() *MemoryMedia {
	return &MemoryMedia{slots: make(map[string][]byte)}
}

// Load replaces the content of a slot. Used to seed the running image.
func (m *MemoryMedia) Load(label string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[label] = bytes.Clone(data)
}

func (m *MemoryMedia) Erase(label string) (SlotWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[label] = nil
	return &memWriter{m: m, label: label}, nil
}

func (m *MemoryMedia) Open(label string) (SlotReader, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.slots[label]
	if !ok {
		return nil, 0, os.ErrNotExist
	}
	return nopCloser{bytes.NewReader(data)}, int64(len(data)), nil
}

type memWriter struct {
	m     *MemoryMedia
	label string
}

func (w *memWriter) Write(b []byte) (int, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	w.m.slots[w.label] = append(w.m.slots[w.label], b...)
	return len(b), nil
}

func (w *memWriter) Commit() error { return nil }
func (w *memWriter) Discard()      {}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }
