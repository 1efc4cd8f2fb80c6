package hub

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/fwagent/pkg/mqtt/topic"
)

type published struct {
	topic   string
	qos     int
	retain  bool
	payload string
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]mqtt.MessageHandler
	hooks     []mqtt.ConnectHook
	published []published
}

var _ mqtt.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) Start(ctx context.Context) error {
	c.connect(ctx)
	return nil
}

// connect behaves like a (re)connection: the state flips first, then hooks run.
func (c *fakeClient) connect(ctx context.Context) {
	c.mu.Lock()
	c.connected = true
	hooks := append([]mqtt.ConnectHook(nil), c.hooks...)
	c.mu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
}

// drop loses the connection without a clean disconnect.
func (c *fakeClient) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) Disconnect(context.Context) {
	c.drop()
}

func (c *fakeClient) OnConnect(h mqtt.ConnectHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

func (c *fakeClient) Publish(_ context.Context, topic string, qos int, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return mqtt.ErrNotConnected
	}
	c.published = append(c.published, published{topic, qos, retain, string(payload)})
	return nil
}

func (c *fakeClient) Subscribe(_ context.Context, topic string, _ int, h mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = h
	return nil
}

func (c *fakeClient) Unsubscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	return nil
}

func (c *fakeClient) AwaitConnection(context.Context) error { return nil }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) handler(topic string) mqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[topic]
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

func startHub(t *testing.T, queueSize int) (*Hub, *fakeClient) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mc := newFakeClient()
	h := New(mc, mqtttopic.NewTopicBuilder("devices", "IoT_aabbccddeeff"), "cmd", queueSize)
	require.NoError(t, h.Start(ctx))
	return h, mc
}

func TestStart(t *testing.T) {
	_, mc := startHub(t, 4)

	assert.NotNil(t, mc.handler("devices/IoT_aabbccddeeff/cmd"))
	assert.Equal(t, []published{
		{topic: "devices/IoT_aabbccddeeff/online", qos: 1, retain: true, payload: OnlinePayload},
	}, mc.sent())
}

func TestOnlineFlagRestoredOnReconnect(t *testing.T) {
	h, mc := startHub(t, 4)
	online := published{topic: "devices/IoT_aabbccddeeff/online", qos: 1, retain: true, payload: OnlinePayload}

	mc.drop()
	assert.False(t, h.IsConnected())
	mc.connect(context.Background())
	mc.drop()
	mc.connect(context.Background())

	assert.Equal(t, []published{online, online, online}, mc.sent())
}

func TestDeliver(t *testing.T) {
	h, mc := startHub(t, 4)
	deliver := mc.handler("devices/IoT_aabbccddeeff/cmd")

	payload := []byte(`{"cmd":"restart"}`)
	deliver(context.Background(), "devices/IoT_aabbccddeeff/cmd", payload)
	deliver(context.Background(), "devices/other/cmd", []byte(`{}`))
	payload[0] = 'x'

	require.Len(t, h.Messages(), 1)
	msg := <-h.Messages()
	assert.Equal(t, core.Message{Subtopic: "cmd", Payload: []byte(`{"cmd":"restart"}`)}, msg)
}

func TestDeliverDropsWhenFull(t *testing.T) {
	h, mc := startHub(t, 2)
	deliver := mc.handler("devices/IoT_aabbccddeeff/cmd")

	for _, p := range []string{"a", "b", "c"} {
		deliver(context.Background(), "devices/IoT_aabbccddeeff/cmd", []byte(p))
	}

	require.Len(t, h.Messages(), 2)
	assert.Equal(t, "a", string((<-h.Messages()).Payload))
	assert.Equal(t, "b", string((<-h.Messages()).Payload))
}

func TestPublish(t *testing.T) {
	h, mc := startHub(t, 1)

	require.NoError(t, h.Publish(context.Background(), "status", []byte(`{}`)))
	assert.Contains(t, mc.sent(), published{topic: "devices/IoT_aabbccddeeff/status", qos: 1, retain: false, payload: `{}`})

	h.Stop()
	assert.False(t, h.IsConnected())
	assert.Contains(t, mc.sent(), published{topic: "devices/IoT_aabbccddeeff/online", qos: 1, retain: true, payload: OfflinePayload})
	assert.ErrorIs(t, h.Publish(context.Background(), "status", []byte(`{}`)), mqtt.ErrNotConnected)
}

func TestDeviceIDFrom(t *testing.T) {
	mac, err := net.ParseMAC("24:0a:c4:12:ab:cd")
	require.NoError(t, err)

	ifaces := []net.Interface{
		{Name: "lo", Flags: net.FlagLoopback | net.FlagUp},
		{Name: "tun0", Flags: net.FlagUp},
		{Name: "eth0", Flags: net.FlagUp, HardwareAddr: mac},
	}
	assert.Equal(t, "IoT_240ac412abcd", deviceIDFrom(ifaces))
	assert.Empty(t, deviceIDFrom(ifaces[:2]))
}
