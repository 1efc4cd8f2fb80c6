package fwagent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fwagent/internal/fwagent/command"
	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/internal/fwagent/hub"
	"github.com/autopeer-io/fwagent/internal/fwagent/partition"
	"github.com/autopeer-io/fwagent/internal/fwagent/server"
	"github.com/autopeer-io/fwagent/internal/fwagent/status"
	"github.com/autopeer-io/fwagent/pkg/log"
)

// Agent owns the long running parts of the device agent.
type Agent struct {
	deviceID    string
	confirmBoot bool

	// confirmTimeout bounds how long an unconfirmed image may run without
	// reaching the broker. Zero disables the deadline.
	confirmTimeout time.Duration

	store      *partition.Store
	restarter  core.Restarter
	clock      clock.Clock
	hub        *hub.Hub
	dispatcher *command.Dispatcher
	reporter   *status.Reporter

	// server is nil when the local HTTP server is disabled.
	server *server.Server
}

// Run blocks until ctx is canceled or one of the components fails.
func (a *Agent) Run(ctx context.Context) error {
	defer func() {
		if err := a.store.Close(); err != nil {
			log.Error(err, "Failed to close partition store")
		}
	}()

	running, boot := a.store.Running(), a.store.Boot()
	version := ""
	if d, ok := a.store.Descriptor(running); ok {
		version = d.Version
	}
	log.Info("Starting fwagent", "deviceID", a.deviceID, "partition", running.Label,
		"state", running.State, "boot", boot.Label, "version", version)

	if a.confirmBoot {
		if err := a.store.MarkValid(); err != nil {
			return fmt.Errorf("failed to confirm boot: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error { return a.server.Run(gctx) })
	}

	connected := make(chan struct{})
	if a.confirmTimeout > 0 && a.store.Running().State == core.StatePending {
		g.Go(func() error {
			a.watchBoot(gctx, connected)
			return nil
		})
	}

	if err := a.hub.Start(gctx); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("failed to start hub: %w", err)
	}
	close(connected)
	defer a.hub.Stop()

	// 能连上 broker 才算新镜像启动成功。
	if err := a.store.MarkValid(); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("failed to confirm boot: %w", err)
	}

	g.Go(func() error { return a.dispatcher.Run(gctx) })
	g.Go(func() error { return a.reporter.Run(gctx) })

	err := g.Wait()
	log.Info("Agent shutting down...")
	return err
}

// watchBoot rejects the running image and restarts the device when the broker
// is not reached within confirmTimeout.
func (a *Agent) watchBoot(ctx context.Context, connected <-chan struct{}) {
	select {
	case <-ctx.Done():
		return
	case <-connected:
		return
	case <-a.clock.After(a.confirmTimeout):
	}

	running := a.store.Running()
	log.Warn("Image not confirmed in time, rolling back", "partition", running.Label, "timeout", a.confirmTimeout)
	if err := a.store.MarkInvalid(running); err != nil {
		log.Error(err, "Failed to reject unconfirmed image", "partition", running.Label)
		return
	}
	if err := a.restarter.Restart("boot confirmation timed out"); err != nil {
		log.Error(err, "Failed to restart after rejecting image")
	}
}
