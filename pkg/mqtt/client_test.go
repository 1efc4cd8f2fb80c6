package mqtt

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"dev/cmd", "dev/cmd", true},
		{"dev/cmd", "dev/status", false},
		{"dev/+", "dev/cmd", true},
		{"dev/+", "dev/cmd/x", false},
		{"dev/#", "dev/cmd/x", true},
		{"+/cmd", "dev/cmd", true},
		{"dev/+/x", "dev/cmd", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, topicsMatch(tt.filter, tt.topic), "%s vs %s", tt.filter, tt.topic)
	}
}

func TestTopicFilter(t *testing.T) {
	assert.Equal(t, "dev/cmd", topicFilter("$share/agents/dev/cmd"))
	assert.Equal(t, "dev/cmd", topicFilter("dev/cmd"))
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)

	_, err = NewClient(&ClientConfig{BrokerURL: "tcp://localhost:1883"})
	require.Error(t, err, "client id is required")

	c, err := NewClient(&ClientConfig{BrokerURL: "tcp://localhost:1883", ClientID: "dev1"})
	require.NoError(t, err)
	assert.False(t, c.IsConnected())

	err = c.Publish(context.Background(), "dev1/status", 1, false, nil)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestNewClientDefaults(t *testing.T) {
	cfg := &ClientConfig{BrokerURL: "tcp://localhost:1883", ClientID: "dev1"}
	_, err := NewClient(cfg)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, uint16(60), cfg.KeepAlive)
}

func TestRoute(t *testing.T) {
	c, err := NewClient(&ClientConfig{BrokerURL: "tcp://localhost:1883", ClientID: "dev1"})
	require.NoError(t, err)
	pc := c.(*pahoClient)

	var got []string
	record := func(name string) MessageHandler {
		return func(_ context.Context, topic string, payload []byte) {
			got = append(got, name+":"+topic+":"+string(payload))
		}
	}
	pc.subs["dev1/cmd"] = subscription{filter: "dev1/cmd", qos: 1, handler: record("exact")}
	pc.subs["dev1/#"] = subscription{filter: "dev1/#", qos: 0, handler: record("wild")}

	ok, err := pc.route(paho.PublishReceived{Packet: &paho.Publish{Topic: "dev1/cmd", Payload: []byte("a")}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"wild:dev1/cmd:a", "exact:dev1/cmd:a"}, got)

	got = nil
	_, _ = pc.route(paho.PublishReceived{Packet: &paho.Publish{Topic: "dev2/cmd"}})
	assert.Empty(t, got)
}

func TestIsTLS(t *testing.T) {
	for scheme, want := range map[string]bool{
		"mqtt": false, "tcp": false, "ws": false,
		"mqtts": true, "ssl": true, "tls": true, "wss": true,
	} {
		u, err := url.Parse(scheme + "://broker:8883")
		require.NoError(t, err)
		assert.Equal(t, want, isTLS(u), scheme)
	}
}

func TestConnectHooksSeeConnectedState(t *testing.T) {
	c, err := NewClient(&ClientConfig{BrokerURL: "tcp://localhost:1883", ClientID: "dev1"})
	require.NoError(t, err)
	pc := c.(*pahoClient)
	pc.ctx = context.Background()

	seen := make(chan string, 2)
	c.OnConnect(func(context.Context) { seen <- "first" })
	c.OnConnect(func(context.Context) {
		if c.IsConnected() {
			seen <- "connected"
		} else {
			seen <- "disconnected"
		}
	})

	// No subscriptions are registered, so the connection manager is never used.
	pc.onConnectionUp(nil, nil)

	assert.Equal(t, "first", <-seen)
	assert.Equal(t, "connected", <-seen)
}
