package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fwagent/internal/fwagent/ota"
	"github.com/autopeer-io/fwagent/internal/fwagent/partition"
	"github.com/autopeer-io/fwagent/internal/fwagent/status"
	"github.com/autopeer-io/fwagent/pkg/image"
	"github.com/autopeer-io/fwagent/pkg/options"
)

type fakePublisher struct{ connected atomic.Bool }

func (p *fakePublisher) Publish(context.Context, string, []byte) error { return nil }
func (p *fakePublisher) IsConnected() bool                             { return p.connected.Load() }

type fixedStatus status.Report

func (s fixedStatus) Snapshot() status.Report { return status.Report(s) }

type fixedOutcome struct {
	out *ota.Outcome
}

func (o fixedOutcome) LastOutcome() (ota.Outcome, bool) {
	if o.out == nil {
		return ota.Outcome{}, false
	}
	return *o.out, true
}

func newTestServer(t *testing.T, pub *fakePublisher, last *ota.Outcome) *httptest.Server {
	t.Helper()

	media := partition.NewMemoryMedia()
	media.Load("ota_0", image.Build(image.AppDescriptor{Version: "1.9.0", ProjectName: "fwagent"}, false, bytes.Repeat([]byte{7}, 512)))
	store, err := partition.NewMemoryStore(2, 1<<20, media)
	require.NoError(t, err)

	st := fixedStatus{Partition: "ota_0", OTAState: "idle", Version: "1.9.0"}
	s := New(options.NewHttpOptions(), store, st, fixedOutcome{last}, pub)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestProbes(t *testing.T) {
	pub := &fakePublisher{}
	srv := newTestServer(t, pub, nil)

	code, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", string(body))

	code, _ = get(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	pub.connected.Store(true)
	code, _ = get(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, &fakePublisher{}, nil)

	code, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "fwagent_ota_in_progress")
}

func TestPartitions(t *testing.T) {
	srv := newTestServer(t, &fakePublisher{}, nil)

	code, body := get(t, srv.URL+"/api/v1/partitions")
	require.Equal(t, http.StatusOK, code)

	var views []partition.View
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 2)
	assert.Equal(t, "ota_0", views[0].Label)
	assert.True(t, views[0].Running)
	assert.True(t, views[0].Boot)
	assert.Equal(t, "1.9.0", views[0].Version)
	assert.Equal(t, "ota_1", views[1].Label)
	assert.False(t, views[1].Running)
	assert.Empty(t, views[1].Version)
}

func TestStatus(t *testing.T) {
	last := &ota.Outcome{URL: "https://host/fw.bin", Reason: ota.ReasonBlockedRollback, Err: errors.New("version \"2.0.0\" previously failed")}
	srv := newTestServer(t, &fakePublisher{}, last)

	code, body := get(t, srv.URL+"/api/v1/status")
	require.Equal(t, http.StatusOK, code)

	var resp struct {
		Status     status.Report `json:"status"`
		LastUpdate *ota.Outcome  `json:"lastUpdate"`
		Error      string        `json:"lastUpdateError"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "ota_0", resp.Status.Partition)
	require.NotNil(t, resp.LastUpdate)
	assert.Equal(t, ota.ReasonBlockedRollback, resp.LastUpdate.Reason)
	assert.Contains(t, resp.Error, "previously failed")
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &fakePublisher{}, nil)

	resp, err := http.Post(srv.URL+"/api/v1/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
