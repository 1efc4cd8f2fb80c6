package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	o := NewAgentOptions()
	require.NoError(t, o.Complete())
	assert.NoError(t, o.Validate())
	assert.Equal(t, "fwagent", o.Log.Name)
}

func TestValidateAggregates(t *testing.T) {
	o := NewAgentOptions()
	o.MqttOptions.Broker = ""
	o.OTAOptions.BufferSize = 100
	o.RestartOptions.Mode = "halt"

	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--mqtt.broker")
	assert.Contains(t, err.Error(), "--ota.buffer-size")
	assert.Contains(t, err.Error(), "--restart.mode")
}

func TestFlags(t *testing.T) {
	fss := NewAgentOptions().Flags()
	for _, name := range []string{"mqtt", "ota", "partition", "s3", "status", "restart", "http", "Log"} {
		assert.Contains(t, fss.FlagSets, name)
	}
	assert.NotNil(t, fss.FlagSet("ota").Lookup("ota.read-timeout"))
	assert.NotNil(t, fss.FlagSet("partition").Lookup("partition.confirm-boot"))
}

func TestConfig(t *testing.T) {
	o := NewAgentOptions()
	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Same(t, o.OTAOptions, cfg.OTAOptions)
	assert.Same(t, o.PartitionOptions, cfg.PartitionOptions)
}
