package partition

import (
	"fmt"
	"sort"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
)

// baseOffset mirrors the first application slot of a typical flash layout.
const baseOffset = 0x10000

// Record is the persisted form of one partition.
type Record struct {
	core.Partition

	// Length is the size of the image written by the last finalized session.
	Length int64 `json:"length,omitempty"`

	// Descriptor holds the raw application descriptor of that image.
	Descriptor []byte `json:"descriptor,omitempty"`

	// Ready is set once a session on this partition finalized cleanly and
	// cleared when a new session begins.
	Ready bool `json:"ready,omitempty"`
}

// Table is the persisted partition table plus boot selection.
type Table struct {
	Records []Record `json:"records"`

	// Boot is the label selected for the next boot.
	Boot string `json:"boot"`

	// Previous is the label booted before the last activation; the boot
	// rollback returns to it.
	Previous string `json:"previous,omitempty"`

	// Trial is set while a pending image runs its first, unconfirmed boot.
	Trial bool `json:"trial,omitempty"`
}

// NewTable lays out n OTA slots of size bytes and boots the first one.
func NewTable(n int, size int64) *Table {
	t := &Table{}
	for i := 0; i < n; i++ {
		t.Records = append(t.Records, Record{Partition: core.Partition{
			Label:  fmt.Sprintf("ota_%d", i),
			Role:   core.RoleOTA,
			Index:  i,
			Offset: baseOffset + int64(i)*size,
			Size:   size,
			State:  core.StateUnset,
		}})
	}
	if n > 0 {
		t.Boot = t.Records[0].Label
	}
	return t
}

func (t *Table) sort() {
	sort.Slice(t.Records, func(i, j int) bool { return t.Records[i].Offset < t.Records[j].Offset })
}

func (t *Table) find(label string) *Record {
	for i := range t.Records {
		if t.Records[i].Label == label {
			return &t.Records[i]
		}
	}
	return nil
}

// next picks the OTA slot following the running one, wrapping around.
// A device running from factory gets the first OTA slot.
func (t *Table) next(running string) *Record {
	var slots []*Record
	for i := range t.Records {
		if t.Records[i].Role == core.RoleOTA {
			slots = append(slots, &t.Records[i])
		}
	}
	if len(slots) == 0 {
		return nil
	}
	for i, r := range slots {
		if r.Label == running {
			if n := slots[(i+1)%len(slots)]; n.Label != running {
				return n
			}
			return nil
		}
	}
	return slots[0]
}

// markInvalid puts the invalid marker on label and clears it everywhere else.
func (t *Table) markInvalid(label string) {
	for i := range t.Records {
		r := &t.Records[i]
		switch {
		case r.Label == label:
			r.State = core.StateInvalid
			r.Ready = false
		case r.State == core.StateInvalid:
			r.State = core.StateUnset
		}
	}
}

// reject marks label invalid and ends its trial. When label is the boot
// selection, boot moves to Previous, or to the next OTA slot if Previous
// is unknown.
func (t *Table) reject(label string) {
	t.markInvalid(label)
	if t.Boot != label {
		return
	}
	t.Trial = false
	prev := t.find(t.Previous)
	if prev == nil || prev.Label == label {
		prev = t.next(label)
	}
	if prev != nil {
		t.Boot = prev.Label
	}
}

func (t *Table) clone() *Table {
	c := &Table{Boot: t.Boot, Previous: t.Previous, Trial: t.Trial}
	c.Records = make([]Record, len(t.Records))
	for i, r := range t.Records {
		r.Descriptor = append([]byte(nil), r.Descriptor...)
		c.Records[i] = r
	}
	return c
}
