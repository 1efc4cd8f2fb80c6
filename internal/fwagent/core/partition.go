package core

import (
	"errors"

	"github.com/autopeer-io/fwagent/pkg/image"
)

// Role tells what a partition is used for.
type Role string

const (
	RoleFactory Role = "factory"
	RoleOTA     Role = "ota"
)

// ImageState is the validity marker kept for each partition.
type ImageState string

const (
	StateUnset ImageState = "unset"
	// StatePending is set by activation and cleared by a confirmed boot.
	StatePending ImageState = "pending-verify"
	StateValid   ImageState = "valid"
	StateInvalid ImageState = "invalid"
)

// Partition is a fixed region of persistent storage.
type Partition struct {
	Label  string     `json:"label"`
	Role   Role       `json:"role"`
	Index  int        `json:"index"`
	Offset int64      `json:"offset"`
	Size   int64      `json:"size"`
	State  ImageState `json:"state"`
}

var (
	// ErrSessionBusy is returned by BeginWrite while another session is open.
	ErrSessionBusy = errors.New("a write session is already open")

	// ErrSessionClosed is returned by Write and Finalize on a finished session.
	ErrSessionClosed = errors.New("write session is closed")

	// ErrValidationFailed is returned by Finalize when the written image is not valid.
	ErrValidationFailed = errors.New("image validation failed")

	// ErrNotFinalized is returned by Activate for a partition without a cleanly finalized image.
	ErrNotFinalized = errors.New("partition holds no finalized image")

	// ErrNoSpace is returned by Write when the image outgrows the partition.
	ErrNoSpace = errors.New("image larger than partition")

	// ErrUnknownPartition is returned for labels missing from the partition table.
	ErrUnknownPartition = errors.New("unknown partition")
)

// PartitionStore is the view of the storage layout used by the update engine.
type PartitionStore interface {
	// Running returns the partition the current image was booted from.
	Running() Partition

	// Boot returns the partition selected for the next boot.
	Boot() Partition

	// UpdateTarget returns the partition the next update is written to.
	UpdateTarget() (Partition, bool)

	// LastInvalid returns the partition carrying the invalid marker, if any.
	LastInvalid() (Partition, bool)

	// Descriptor returns the application descriptor of the image held by p.
	Descriptor(p Partition) (*image.AppDescriptor, bool)

	// BeginWrite erases p and opens a sequential write session on it.
	BeginWrite(p Partition) (Session, error)

	// Activate selects p for the next boot. It does not restart.
	Activate(p Partition) error

	// Partitions returns the whole table ordered by offset.
	Partitions() []Partition
}

// Session is an open, append-only write to one partition.
type Session interface {
	ID() string
	Partition() Partition

	// Written is the number of bytes accepted so far.
	Written() int64

	Write(b []byte) error

	// Finalize closes the session and validates the image.
	// Validation failures wrap ErrValidationFailed.
	Finalize() error

	// Abort releases the session. It is safe to call at any time and more than once.
	Abort()
}
