package mqtt

import (
	"context"
)

// MessageHandler processes one inbound publish.
//
// Handlers run on the client's reader goroutine, one at a time and in the
// order the broker delivered the messages. A handler that blocks stalls
// every subscription, so anything slow belongs on a queue.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// ConnectHook runs after every successful (re)connection, once the client
// reports IsConnected and the registered subscriptions were sent again.
// Hooks run sequentially on a goroutine of their own and may publish.
type ConnectHook func(ctx context.Context)

// Client is the device's view of the broker connection.
//
// The connection is kept alive in the background: after a drop the client
// reconnects with a fixed delay, re-subscribes and runs its ConnectHooks.
// Publishing never waits for that to happen.
type Client interface {
	// Start begins connecting and returns immediately. ctx bounds the
	// lifetime of the connection, not the connect attempt.
	Start(ctx context.Context) error

	// Disconnect sends DISCONNECT and stops reconnecting.
	// The last will is not published on a clean disconnect.
	Disconnect(ctx context.Context)

	// Publish sends payload on topic. While the connection is down it
	// fails at once with ErrNotConnected; nothing is queued for later.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for a topic filter (+ and # allowed) and
	// sends SUBSCRIBE. The filter survives reconnects.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe forgets the filter and sends UNSUBSCRIBE.
	Unsubscribe(ctx context.Context, topic string) error

	// OnConnect registers hook for every future connection. Register hooks
	// before Start so that the first connection is not missed.
	OnConnect(hook ConnectHook)

	// AwaitConnection blocks until the transport is up or ctx is done.
	// IsConnected may still lag behind it for a moment; use OnConnect for
	// work that must only run while connected.
	AwaitConnection(ctx context.Context) error

	// IsConnected reports the state seen by the connection callbacks.
	IsConnected() bool
}
