package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/fwagent/pkg/log"
)

type pahoClient struct {
	cfg *ClientConfig
	cm  *autopaho.ConnectionManager

	connected atomic.Bool

	// ctx is the lifetime passed to Start, handed to connect hooks.
	ctx context.Context

	mu    sync.RWMutex
	subs  map[string]subscription
	hooks []ConnectHook
}

type subscription struct {
	filter  string
	qos     byte
	handler MessageHandler
}

func (s subscription) packet() *paho.Subscribe {
	return &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: s.filter, QoS: s.qos}},
	}
}

// NewClient creates a new MQTT client implementing the Client interface.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{
		cfg:  cfg,
		subs: make(map[string]subscription),
	}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return err
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.cfg.ReconnectDelay),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		WillMessage:                   c.willMessage(),
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.route,
			},
		},
		OnConnectionUp: c.onConnectionUp,
		OnConnectError: c.onConnectError,
	}
	if isTLS(brokerURL) {
		pahoCfg.TlsCfg = &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify}
	}

	log.Info("Starting MQTT Client", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)

	c.ctx = ctx
	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return err
	}
	c.cm = cm
	return nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	if c.cm == nil {
		return
	}
	_ = c.cm.Disconnect(ctx)
	c.connected.Store(false)
	log.Info("MQTT Client disconnected")
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}

	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

// Subscribe records the handler before sending SUBSCRIBE so that it is
// replayed by onConnectionUp if the packet is lost to a reconnect.
func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	if c.cm == nil {
		return ErrNotStarted
	}

	sub := subscription{filter: topic, qos: byte(qos), handler: handler}
	c.mu.Lock()
	c.subs[topic] = sub
	c.mu.Unlock()

	if _, err := c.cm.Subscribe(ctx, sub.packet()); err != nil {
		return fmt.Errorf("failed to send subscription packet: %w", err)
	}

	log.Info("Subscribed to topic", "topic", topic)
	return nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, topic string) error {
	if c.cm == nil {
		return ErrNotStarted
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	_, err := c.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}})
	return err
}

func (c *pahoClient) OnConnect(hook ConnectHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	return c.cm.AwaitConnection(ctx)
}

// IsConnected is tracked from the connection callbacks.
func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

// snapshot returns the subscriptions ordered by filter.
func (c *pahoClient) snapshot() []subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]subscription, 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].filter < out[j].filter })
	return out
}

func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)
	log.Info("MQTT Connection established")

	subs := c.snapshot()
	c.mu.RLock()
	hooks := append([]ConnectHook(nil), c.hooks...)
	c.mu.RUnlock()

	// autopaho 要求该回调不阻塞；重新订阅和钩子都要等 broker 应答，放到独立 goroutine。
	go c.afterConnect(cm, subs, hooks)
}

// afterConnect re-subscribes (the broker may not have kept the session)
// and then runs the connect hooks.
func (c *pahoClient) afterConnect(cm *autopaho.ConnectionManager, subs []subscription, hooks []ConnectHook) {
	for _, s := range subs {
		if _, err := cm.Subscribe(c.ctx, s.packet()); err != nil {
			log.Error(err, "Failed to re-subscribe", "topic", s.filter)
			continue
		}
		log.Debug("Re-subscribed", "topic", s.filter)
	}
	for _, h := range hooks {
		h(c.ctx)
	}
}

func (c *pahoClient) onConnectError(err error) {
	c.connected.Store(false)
	log.Error(err, "MQTT Connection failed, retrying", "delay", c.cfg.ReconnectDelay)
}

func (c *pahoClient) onClientError(err error) {
	c.connected.Store(false)
	log.Error(err, "MQTT Client internal error")
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	log.Warn("MQTT Server requested disconnect", "reason", reason)
}

// route dispatches an inbound publish to every matching handler.
// Handlers run inline on the reader goroutine, which keeps delivery in
// arrival order; they must hand off anything slow.
func (c *pahoClient) route(p paho.PublishReceived) (bool, error) {
	topic := p.Packet.Topic
	matched := false
	for _, s := range c.snapshot() {
		if topicsMatch(topicFilter(s.filter), topic) {
			s.handler(context.Background(), topic, p.Packet.Payload)
			matched = true
		}
	}

	if !matched {
		log.Debug("Received message on unhandled topic", "topic", topic)
	}
	return true, nil
}

func (c *pahoClient) willMessage() *paho.WillMessage {
	if c.cfg.WillTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   c.cfg.WillTopic,
		Payload: c.cfg.WillPayload,
		QoS:     byte(c.cfg.WillQoS),
		Retain:  c.cfg.WillRetain,
	}
}

func isTLS(u *url.URL) bool {
	switch u.Scheme {
	case "mqtts", "ssl", "tls", "wss":
		return true
	}
	return false
}

// topicsMatch reports whether topic matches filter, honouring + and #.
func topicsMatch(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, part := range fp {
		if part == "#" {
			return true
		}
		if i >= len(tp) || (part != "+" && part != tp[i]) {
			return false
		}
	}
	return len(fp) == len(tp)
}

// topicFilter strips the $share/<group>/ prefix of a shared subscription.
func topicFilter(filter string) string {
	if rest, ok := strings.CutPrefix(filter, "$share/"); ok {
		if _, f, ok := strings.Cut(rest, "/"); ok {
			return f
		}
	}
	return filter
}
