package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/internal/fwagent/partition"
	"github.com/autopeer-io/fwagent/pkg/image"
)

func writeImage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestInspect(t *testing.T) {
	img := image.Build(image.AppDescriptor{Version: "2.0.0", ProjectName: "blinky", IDFVersion: "v5.1"}, true,
		bytes.Repeat([]byte{0x11}, 1024))

	var out bytes.Buffer
	require.NoError(t, inspect(&out, writeImage(t, img)))
	assert.Contains(t, out.String(), "2.0.0")
	assert.Contains(t, out.String(), "blinky")
	assert.Contains(t, out.String(), "yes")

	corrupt := bytes.Clone(img)
	corrupt[len(corrupt)-40] ^= 0xFF
	out.Reset()
	require.NoError(t, inspect(&out, writeImage(t, corrupt)))
	assert.Contains(t, out.String(), "2.0.0")
	assert.Contains(t, out.String(), "no (")

	assert.Error(t, inspect(&out, writeImage(t, img[:100])))
}

func TestPartitionsCommand(t *testing.T) {
	views := []partition.View{
		{Partition: core.Partition{Label: "ota_0", Role: core.RoleOTA, Offset: 0x10000, Size: 1 << 20, State: core.StateValid}, Running: true, Boot: true, Version: "1.9.0"},
		{Partition: core.Partition{Label: "ota_1", Role: core.RoleOTA, Offset: 0x110000, Size: 1 << 20, State: core.StateUnset}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/partitions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(views)
	}))
	defer srv.Close()

	cmd := newPartitionsCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--server", srv.URL + "/"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "LABEL")
	assert.Contains(t, out.String(), "ota_0")
	assert.Contains(t, out.String(), "0x110000")
	assert.Contains(t, out.String(), "1.9.0")
}

func TestFetchPartitionsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fetchPartitions(srv.URL, time.Second)
	assert.ErrorContains(t, err, "500")
}
