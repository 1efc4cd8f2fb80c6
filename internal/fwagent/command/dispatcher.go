package command

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/internal/fwagent/ota"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/pkg/log"
)

// DefaultYield is the pause after every message.
const DefaultYield = 50 * time.Millisecond

// Updater runs a firmware update; ota.Engine implements it.
type Updater interface {
	Update(ctx context.Context, url string) ota.Outcome
}

// Dispatcher consumes the inbound queue and runs the commands it carries,
// one at a time and in receipt order.
type Dispatcher struct {
	subtopic  string
	queue     <-chan core.Message
	updater   Updater
	restarter core.Restarter

	clock        clock.Clock
	restartDelay time.Duration
	yield        time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the clock used for delays.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithYield changes the pause after every message.
func WithYield(y time.Duration) Option {
	return func(d *Dispatcher) { d.yield = y }
}

// NewDispatcher returns a dispatcher accepting commands on subtopic.
// restartDelay is applied before a commanded restart.
func NewDispatcher(subtopic string, queue <-chan core.Message, updater Updater, restarter core.Restarter,
	restartDelay time.Duration, opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		subtopic:     subtopic,
		queue:        queue,
		updater:      updater,
		restarter:    restarter,
		clock:        clock.RealClock{},
		restartDelay: restartDelay,
		yield:        DefaultYield,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run receives until ctx is canceled or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Info("Command dispatcher started", "subtopic", d.subtopic)
	defer log.Info("Command dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.Handle(ctx, msg)
		}

		if d.yield <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-d.clock.After(d.yield):
		}
	}
}

// Handle processes a single message. Messages that cannot be processed are
// logged and dropped.
func (d *Dispatcher) Handle(ctx context.Context, msg core.Message) {
	if msg.Subtopic != d.subtopic {
		metrics.CommandsTotal.WithLabelValues("foreign").Inc()
		log.Warn("Discarding message on unexpected subtopic", "subtopic", msg.Subtopic, "want", d.subtopic)
		return
	}

	cmd, err := Parse(msg.Payload)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues("malformed").Inc()
		log.Error(err, "Discarding command", "payload", string(msg.Payload))
		return
	}

	switch cmd.Name {
	case NameUpdate:
		metrics.CommandsTotal.WithLabelValues(NameUpdate).Inc()
		log.Info("Received firmware update command", "url", cmd.Argument)
		out := d.updater.Update(ctx, cmd.Argument)
		if !out.Activated {
			log.Warn("Firmware update did not complete", "outcome", out.String())
		}
	case NameRestart:
		metrics.CommandsTotal.WithLabelValues(NameRestart).Inc()
		log.Info("Received restart command, restarting", "delay", d.restartDelay)
		d.clock.Sleep(d.restartDelay)
		_ = log.Sync()
		if err := d.restarter.Restart("restart command"); err != nil {
			log.Error(err, "Restart failed")
		}
	default:
		metrics.CommandsTotal.WithLabelValues("unknown").Inc()
		log.Warn("Unknown command", "cmd", cmd.Name)
	}
}
