package options

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PartitionOptions)(nil)

const (
	PartitionBackendBolt   = "bolt"
	PartitionBackendMemory = "memory"
)

// PartitionOptions selects and configures the partition store.
type PartitionOptions struct {
	Backend string `json:"backend" mapstructure:"backend"`

	// DBPath is the bbolt file holding the partition table and boot state.
	DBPath string `json:"db-path" mapstructure:"db-path"`

	// SlotDir holds one file per slot when a slot has no device path.
	SlotDir string `json:"slot-dir" mapstructure:"slot-dir"`

	// Devices maps slot labels to block devices (or preallocated files)
	// that are written in place, e.g. ota_0=/dev/mmcblk0p2.
	Devices map[string]string `json:"devices" mapstructure:"devices"`

	// Slots is the number of OTA slots created on first start.
	Slots int `json:"slots" mapstructure:"slots"`

	// SlotSize is the capacity of each slot in bytes.
	SlotSize int64 `json:"slot-size" mapstructure:"slot-size"`

	// ConfirmBoot marks the running partition valid at start, before the
	// broker is reached. By default an image is confirmed once the MQTT
	// connection is up.
	ConfirmBoot bool `json:"confirm-boot" mapstructure:"confirm-boot"`

	// ConfirmTimeout bounds how long an unconfirmed image may run without
	// reaching the broker before it is marked invalid and the device restarts.
	// Zero disables the deadline.
	ConfirmTimeout time.Duration `json:"confirm-timeout" mapstructure:"confirm-timeout"`
}

func NewPartitionOptions() *PartitionOptions {
	return &PartitionOptions{
		Backend:  PartitionBackendBolt,
		DBPath:   "/var/lib/fwagent/partitions.db",
		SlotDir:  "/var/lib/fwagent/slots",
		Slots:    2,
		SlotSize: 16 << 20,

		ConfirmTimeout: 5 * time.Minute,
	}
}

func (o *PartitionOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	switch o.Backend {
	case PartitionBackendBolt:
		if o.DBPath == "" || o.SlotDir == "" {
			errs = append(errs, fmt.Errorf("--partition.db-path and --partition.slot-dir are required for the %q backend", o.Backend))
		}
	case PartitionBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("--partition.backend must be %q or %q, got %q",
			PartitionBackendBolt, PartitionBackendMemory, o.Backend))
	}
	if o.Slots < 2 {
		errs = append(errs, fmt.Errorf("--partition.slots must be at least 2, got %d", o.Slots))
	}
	if o.SlotSize <= 0 {
		errs = append(errs, fmt.Errorf("--partition.slot-size must be positive, got %d", o.SlotSize))
	}
	if o.ConfirmTimeout < 0 {
		errs = append(errs, fmt.Errorf("--partition.confirm-timeout must not be negative, got %s", o.ConfirmTimeout))
	}

	labels := make([]string, 0, len(o.Devices))
	for label := range o.Devices {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		var n int
		if _, err := fmt.Sscanf(label, "ota_%d", &n); err != nil || fmt.Sprintf("ota_%d", n) != label || n < 0 || n >= o.Slots {
			errs = append(errs, fmt.Errorf("--partition.devices: unknown slot %q", label))
		}
		if o.Devices[label] == "" {
			errs = append(errs, fmt.Errorf("--partition.devices: empty path for slot %q", label))
		}
	}

	return errs
}

func (o *PartitionOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Backend, "partition.backend", o.Backend, "Partition store backend ('bolt' or 'memory').")
	fs.StringVar(&o.DBPath, "partition.db-path", o.DBPath, "Path of the partition table database.")
	fs.StringVar(&o.SlotDir, "partition.slot-dir", o.SlotDir, "Directory holding the slot images.")
	fs.IntVar(&o.Slots, "partition.slots", o.Slots, "Number of OTA slots created on first start.")
	fs.Int64Var(&o.SlotSize, "partition.slot-size", o.SlotSize, "Capacity of each slot in bytes.")
	fs.StringToStringVar(&o.Devices, "partition.devices", o.Devices, "Slots written in place on a device, as label=path pairs (e.g. ota_0=/dev/mmcblk0p2).")
	fs.BoolVar(&o.ConfirmBoot, "partition.confirm-boot", o.ConfirmBoot, "Mark the running partition valid at start instead of after the broker connection is up.")
	fs.DurationVar(&o.ConfirmTimeout, "partition.confirm-timeout", o.ConfirmTimeout, "Reject an unconfirmed image that cannot reach the broker within this time. 0 disables.")
}
