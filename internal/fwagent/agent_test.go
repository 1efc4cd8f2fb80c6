package fwagent

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/internal/fwagent/partition"
	"github.com/autopeer-io/fwagent/pkg/image"
	"github.com/autopeer-io/fwagent/pkg/mqtt"
	"github.com/autopeer-io/fwagent/pkg/options"
)

// brokerClient is an always reachable broker.
type brokerClient struct {
	mu        sync.Mutex
	connected bool
	hooks     []mqtt.ConnectHook
}

func (c *brokerClient) Start(ctx context.Context) error {
	c.mu.Lock()
	c.connected = true
	hooks := append([]mqtt.ConnectHook(nil), c.hooks...)
	c.mu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
	return nil
}

func (c *brokerClient) Disconnect(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *brokerClient) Publish(context.Context, string, int, bool, []byte) error {
	if !c.IsConnected() {
		return mqtt.ErrNotConnected
	}
	return nil
}

func (c *brokerClient) Subscribe(context.Context, string, int, mqtt.MessageHandler) error {
	return nil
}

func (c *brokerClient) Unsubscribe(context.Context, string) error { return nil }

func (c *brokerClient) OnConnect(h mqtt.ConnectHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

func (c *brokerClient) AwaitConnection(context.Context) error { return nil }

func (c *brokerClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func useBroker(t *testing.T) {
	t.Helper()
	prev := newMQTTClient
	newMQTTClient = func(*mqtt.ClientConfig) (mqtt.Client, error) { return &brokerClient{}, nil }
	t.Cleanup(func() { newMQTTClient = prev })
}

type recordingRestarter struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingRestarter) Restart(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return nil
}

func (r *recordingRestarter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func boltConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig()
	cfg.HttpOptions.Enabled = false
	cfg.PartitionOptions.Backend = options.PartitionBackendBolt
	cfg.PartitionOptions.DBPath = filepath.Join(dir, "partitions.db")
	cfg.PartitionOptions.SlotDir = filepath.Join(dir, "slots")
	cfg.PartitionOptions.SlotSize = 1 << 20
	return cfg
}

// runUntilConfirmed starts the agent and stops it once the running image is valid.
func runUntilConfirmed(t *testing.T, a *Agent) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return a.store.Running().State == core.StateValid
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestActivatedImageSurvivesRestarts(t *testing.T) {
	useBroker(t)
	cfg := boltConfig(t)
	require.False(t, cfg.PartitionOptions.ConfirmBoot)

	store, err := partition.New(cfg.PartitionOptions)
	require.NoError(t, err)
	target, ok := store.UpdateTarget()
	require.True(t, ok)
	sess, err := store.BeginWrite(target)
	require.NoError(t, err)
	require.NoError(t, sess.Write(image.Build(image.AppDescriptor{Version: "2.0.0", ProjectName: "fwagent"}, true,
		bytes.Repeat([]byte{0x5A}, 4096))))
	require.NoError(t, sess.Finalize())
	require.NoError(t, store.Activate(target))
	require.NoError(t, store.Close())

	// First restart: trial boot, confirmed once the broker is reached.
	a, err := cfg.NewAgent()
	require.NoError(t, err)
	require.Equal(t, "ota_1", a.store.Running().Label)
	require.Equal(t, core.StatePending, a.store.Running().State)
	runUntilConfirmed(t, a)

	// Second restart keeps the confirmed image.
	a, err = cfg.NewAgent()
	require.NoError(t, err)
	defer a.store.Close()

	assert.Equal(t, "ota_1", a.store.Running().Label)
	assert.Equal(t, core.StateValid, a.store.Running().State)
	_, invalid := a.store.LastInvalid()
	assert.False(t, invalid)
}

func pendingStore(t *testing.T) *partition.Store {
	t.Helper()
	tbl := partition.NewTable(2, 1<<20)
	tbl.Records[1].State = core.StatePending
	tbl.Boot = "ota_1"
	tbl.Previous = "ota_0"

	meta := &partition.MemoryMeta{}
	require.NoError(t, meta.Save(tbl))
	s, err := partition.Open(meta, partition.NewMemoryMedia(), 2, 1<<20)
	require.NoError(t, err)
	return s
}

func TestWatchBoot(t *testing.T) {
	tests := []struct {
		name        string
		connected   bool
		wantBoot    string
		wantInvalid bool
		wantRestart int
	}{
		{name: "broker reached", connected: true, wantBoot: "ota_1"},
		{name: "deadline passed", wantBoot: "ota_0", wantInvalid: true, wantRestart: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clocktesting.NewFakeClock(time.Now())
			r := &recordingRestarter{}
			a := &Agent{
				confirmTimeout: time.Minute,
				store:          pendingStore(t),
				restarter:      r,
				clock:          clk,
			}
			require.Equal(t, "ota_1", a.store.Running().Label)

			connected := make(chan struct{})
			if tt.connected {
				close(connected)
			}
			done := make(chan struct{})
			go func() {
				a.watchBoot(context.Background(), connected)
				close(done)
			}()

			if !tt.connected {
				require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
				clk.Step(time.Minute)
			}
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("watchBoot did not return")
			}

			assert.Equal(t, tt.wantBoot, a.store.Boot().Label)
			_, invalid := a.store.LastInvalid()
			assert.Equal(t, tt.wantInvalid, invalid)
			assert.Equal(t, tt.wantRestart, r.count())
		})
	}
}
