package core

import (
	"context"
)

// Message is an inbound message already stripped of the device base topic.
type Message struct {
	Subtopic string
	Payload  []byte
}

// Publisher sends a payload on a subtopic of the device base topic.
type Publisher interface {
	Publish(ctx context.Context, subtopic string, payload []byte) error
	IsConnected() bool
}

// Restarter restarts the device. A successful call may never return.
type Restarter interface {
	Restart(reason string) error
}

// StateReporter exposes the current update state for status reports.
type StateReporter interface {
	State() string
}
