package hub

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/fwagent/pkg/mqtt/topic"
)

const (
	// OnlinePayload is retained on the online topic while connected.
	OnlinePayload = "1"
	// OfflinePayload replaces it on clean shutdown and as the last will.
	OfflinePayload = "0"
)

// Hub adapts the MQTT client to the device: it feeds the command subtopic
// into a bounded queue and publishes on device subtopics.
type Hub struct {
	mc       mqtt.Client
	topics   *mqtttopic.TopicBuilder
	subtopic string

	queue chan core.Message
}

var _ core.Publisher = (*Hub)(nil)

// New returns a hub subscribed to subtopic with a queue of queueSize messages.
func New(client mqtt.Client, topicbuilder *mqtttopic.TopicBuilder, subtopic string, queueSize int) *Hub {
	return &Hub{
		mc:       client,
		topics:   topicbuilder,
		subtopic: subtopic,
		queue:    make(chan core.Message, queueSize),
	}
}

// Messages returns the inbound queue.
func (b *Hub) Messages() <-chan core.Message {
	return b.queue
}

// Publish sends payload on {base}/{subtopic} with QoS 1, not retained.
func (b *Hub) Publish(ctx context.Context, subtopic string, payload []byte) error {
	return b.mc.Publish(ctx, b.topics.Subtopic(subtopic), 1, false, payload)
}

func (b *Hub) IsConnected() bool {
	return b.mc.IsConnected()
}

// Start connects and subscribes to the command topic. The online flag is
// published on every connection, so it is restored after the broker has
// sent the last will.
func (b *Hub) Start(ctx context.Context) error {
	b.mc.OnConnect(b.announce)
	if err := b.mc.Start(ctx); err != nil {
		return err
	}

	if err := b.mc.AwaitConnection(ctx); err != nil {
		return err
	}

	topic := b.topics.Subtopic(b.subtopic)
	if err := b.mc.Subscribe(ctx, topic, 1, b.deliver); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	log.Info("Subscribed to command topic", "base", b.topics.Base(), "subtopic", b.subtopic)

	go wait.UntilWithContext(ctx, b.updateMetric, time.Second)

	return nil
}

func (b *Hub) announce(ctx context.Context) {
	topic := b.topics.Online()
	if err := b.mc.Publish(ctx, topic, 1, true, []byte(OnlinePayload)); err != nil {
		log.Error(err, "Failed to publish online flag", "topic", topic)
		return
	}
	log.Debug("Published online flag", "topic", topic)
}

func (b *Hub) Stop() {
	log.Info("Disconnecting MQTT client...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if b.mc.IsConnected() {
		if err := b.mc.Publish(ctx, b.topics.Online(), 1, true, []byte(OfflinePayload)); err != nil {
			log.Error(err, "Failed to clear online flag")
		}
	}
	b.mc.Disconnect(ctx)
	metrics.MQTTConnected.Set(0)
}

// deliver runs on the client reader goroutine and must not block.
func (b *Hub) deliver(_ context.Context, topic string, payload []byte) {
	sub, ok := b.topics.SplitSubtopic(topic)
	if !ok {
		log.Warn("Ignoring message outside the device topic", "topic", topic)
		return
	}

	msg := core.Message{Subtopic: sub, Payload: append([]byte(nil), payload...)}
	select {
	case b.queue <- msg:
	default:
		log.Warn("Command queue full, dropping message", "topic", topic, "capacity", cap(b.queue))
	}
}

func (b *Hub) updateMetric(context.Context) {
	if b.mc.IsConnected() {
		metrics.MQTTConnected.Set(1)
	} else {
		metrics.MQTTConnected.Set(0)
	}
}
