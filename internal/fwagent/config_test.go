package fwagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/pkg/options"
)

func testConfig() *Config {
	cfg := &Config{
		MqttOptions:      options.NewMqttOptions(),
		HttpOptions:      options.NewHttpOptions(),
		S3Options:        options.NewS3Options(),
		OTAOptions:       options.NewOTAOptions(),
		PartitionOptions: options.NewPartitionOptions(),
		StatusOptions:    options.NewStatusOptions(),
		RestartOptions:   options.NewRestartOptions(),
	}
	cfg.MqttOptions.DeviceID = "IoT_0011223344ff"
	cfg.PartitionOptions.Backend = options.PartitionBackendMemory
	cfg.RestartOptions.Mode = options.RestartModeNone
	return cfg
}

func TestNewAgent(t *testing.T) {
	cfg := testConfig()

	a, err := cfg.NewAgent()
	require.NoError(t, err)

	assert.Equal(t, "IoT_0011223344ff", a.deviceID)
	assert.NotNil(t, a.server)
	assert.Equal(t, "ota_0", a.store.Running().Label)
	assert.False(t, a.hub.IsConnected())
	require.NoError(t, a.store.Close())
}

func TestNewAgentWithoutServer(t *testing.T) {
	cfg := testConfig()
	cfg.HttpOptions.Enabled = false

	a, err := cfg.NewAgent()
	require.NoError(t, err)
	assert.Nil(t, a.server)
	require.NoError(t, a.store.Close())
}

func TestNewSources(t *testing.T) {
	cfg := testConfig()

	mux, err := cfg.newSources()
	require.NoError(t, err)
	_, err = mux.Open(context.Background(), "s3://firmware/fw.bin")
	assert.ErrorIs(t, err, core.ErrUnsupportedScheme)

	cfg.S3Options.Endpoint = "127.0.0.1:9000"
	cfg.S3Options.AccessKeyID = "minio"
	cfg.S3Options.SecretAccessKey = "minio123"
	mux, err = cfg.newSources()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = mux.Open(ctx, "s3://firmware/fw.bin")
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrUnsupportedScheme)
}
