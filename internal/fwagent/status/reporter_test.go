package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/fwagent/internal/fwagent/partition"
	"github.com/autopeer-io/fwagent/pkg/image"
	"github.com/autopeer-io/fwagent/pkg/options"
)

type fakePublisher struct {
	mu       sync.Mutex
	fail     int
	attempts int
	payloads [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, subtopic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.fail > 0 {
		p.fail--
		return errors.New("not connected")
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) IsConnected() bool { return true }

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

type fixedState string

func (s fixedState) State() string { return string(s) }

func newStore(t *testing.T) *partition.Store {
	t.Helper()
	media := partition.NewMemoryMedia()
	media.Load("ota_0", image.Build(image.AppDescriptor{Version: "1.9.0"}, false, bytes.Repeat([]byte{1}, 512)))
	s, err := partition.NewMemoryStore(2, 1<<20, media)
	require.NoError(t, err)
	return s
}

func TestSnapshot(t *testing.T) {
	start := time.Unix(1700000000, 0)
	clk := clocktesting.NewFakeClock(start)
	r := NewReporter(&fakePublisher{}, newStore(t), fixedState("idle"), options.NewStatusOptions(), WithClock(clk))

	clk.Step(90 * time.Second)
	rep := r.Snapshot()

	assert.Equal(t, start.Unix()+90, rep.UnixTime)
	assert.Equal(t, int64(90), rep.Uptime)
	assert.Equal(t, "ota_0", rep.Partition)
	assert.Equal(t, "idle", rep.OTAState)
	assert.Equal(t, "1.9.0", rep.Version)
	assert.LessOrEqual(t, rep.HeapI, rep.Heap8)
}

func TestFreeHeap(t *testing.T) {
	tests := []struct {
		name          string
		ms            runtime.MemStats
		total, resident uint64
	}{
		{"idle partly released", runtime.MemStats{HeapSys: 64 << 20, HeapInuse: 16 << 20, HeapIdle: 48 << 20, HeapReleased: 40 << 20}, 48 << 20, 8 << 20},
		{"nothing released", runtime.MemStats{HeapSys: 8 << 20, HeapInuse: 6 << 20, HeapIdle: 2 << 20}, 2 << 20, 2 << 20},
		{"all released", runtime.MemStats{HeapSys: 8 << 20, HeapInuse: 6 << 20, HeapIdle: 2 << 20, HeapReleased: 2 << 20}, 2 << 20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, resident := freeHeap(&tt.ms)
			assert.Equal(t, tt.total, total)
			assert.Equal(t, tt.resident, resident)
		})
	}
}

func TestReportOncePayload(t *testing.T) {
	pub := &fakePublisher{}
	r := NewReporter(pub, newStore(t), fixedState("writing"), options.NewStatusOptions())

	_, ok := r.Last()
	assert.False(t, ok)

	require.NoError(t, r.ReportOnce(context.Background()))
	require.Len(t, pub.payloads, 1)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &fields))
	for _, k := range []string{"unixtime", "partition", "otastate", "uptime", "heap8", "heapi", "version"} {
		assert.Contains(t, fields, k)
	}
	assert.Equal(t, "writing", fields["otastate"])

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, "ota_0", last.Partition)
}

func TestRunRetriesSooner(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	pub := &fakePublisher{fail: 1}
	opts := options.NewStatusOptions()
	r := NewReporter(pub, newStore(t), fixedState("idle"), opts, WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- r.Run(ctx) }()

	waitFor := func(n int) {
		require.Eventually(t, func() bool { return pub.count() == n && clk.HasWaiters() }, time.Second, time.Millisecond)
	}

	// The first report fails, so the next one follows after the retry interval.
	waitFor(1)
	clk.Step(opts.RetryInterval)
	waitFor(2)

	// The second succeeded: the retry interval is no longer enough.
	clk.Step(opts.RetryInterval)
	assert.True(t, clk.HasWaiters())
	assert.Equal(t, 2, pub.count())

	clk.Step(opts.Interval - opts.RetryInterval)
	waitFor(3)

	cancel()
	require.NoError(t, <-done)
}
