package options

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(o *PartitionOptions)
		wantErr int
	}{
		{name: "defaults", modify: func(*PartitionOptions) {}},
		{name: "device slot", modify: func(o *PartitionOptions) {
			o.Devices = map[string]string{"ota_0": "/dev/mmcblk0p2", "ota_1": "/dev/mmcblk0p3"}
		}},
		{name: "slot out of range", modify: func(o *PartitionOptions) {
			o.Devices = map[string]string{"ota_2": "/dev/mmcblk0p4"}
		}, wantErr: 1},
		{name: "negative slot", modify: func(o *PartitionOptions) {
			o.Devices = map[string]string{"ota_-1": "/dev/mmcblk0p4"}
		}, wantErr: 1},
		{name: "not an ota slot", modify: func(o *PartitionOptions) {
			o.Devices = map[string]string{"nvs": "/dev/mmcblk0p1", "ota_01": "/dev/mmcblk0p2"}
		}, wantErr: 2},
		{name: "empty path", modify: func(o *PartitionOptions) {
			o.Devices = map[string]string{"ota_1": ""}
		}, wantErr: 1},
		{name: "negative confirm timeout", modify: func(o *PartitionOptions) {
			o.ConfirmTimeout = -time.Second
		}, wantErr: 1},
		{name: "unknown backend", modify: func(o *PartitionOptions) {
			o.Backend = "sqlite"
		}, wantErr: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewPartitionOptions()
			tt.modify(o)
			assert.Len(t, o.Validate(), tt.wantErr)
		})
	}
}

func TestPartitionOptionsFlags(t *testing.T) {
	o := NewPartitionOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--partition.devices=ota_0=/dev/mmcblk0p2,ota_1=/dev/mmcblk0p3",
		"--partition.confirm-timeout=90s",
	}))
	assert.Equal(t, map[string]string{"ota_0": "/dev/mmcblk0p2", "ota_1": "/dev/mmcblk0p3"}, o.Devices)
	assert.Equal(t, 90*time.Second, o.ConfirmTimeout)
	assert.False(t, o.ConfirmBoot)
	assert.Empty(t, o.Validate())
}
