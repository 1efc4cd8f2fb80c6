package ota

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/fwagent/internal/pkg/util/fsm"
	"github.com/autopeer-io/fwagent/pkg/image"
	"github.com/autopeer-io/fwagent/pkg/log"
)

func attemptOf(e *fsm.Event) (*attempt, error) {
	a, ok := fsmutil.Arg[*attempt](e, 0)
	if !ok {
		return nil, fmt.Errorf("event %s carries no attempt", e.Event)
	}
	return a, nil
}

func (e *Engine) actionSelectTarget(ctx context.Context, ev *fsm.Event) error {
	a, err := attemptOf(ev)
	if err != nil {
		return err
	}

	running := e.store.Running()
	target, ok := e.store.UpdateTarget()
	if !ok {
		return abort(ReasonNoTarget, errors.New("no update partition available"))
	}
	a.target = target
	a.outcome.Target = target.Label

	boot := e.store.Boot()
	if boot.Label != running.Label {
		log.Warn("Configured boot partition differs from the running one", "boot", boot.Label, "running", running.Label)
	}
	log.Info("Writing to partition", "label", target.Label, "offset", fmt.Sprintf("0x%x", target.Offset), "running", running.Label)

	a.next = EventConnect
	return nil
}

func (e *Engine) actionConnect(ctx context.Context, ev *fsm.Event) error {
	a, err := attemptOf(ev)
	if err != nil {
		return err
	}

	s, err := e.source.Open(a.ctx, a.url)
	if err != nil {
		return abort(ReasonConnectError, err)
	}
	a.stream = s
	log.Debug("Connected to image source", "url", a.url, "size", s.Size())

	a.next = EventReceive
	return nil
}

// actionHeaderCheck reads the first chunk, which must hold the whole image
// prefix, and runs the version checks before any byte is written.
func (e *Engine) actionHeaderCheck(ctx context.Context, ev *fsm.Event) error {
	a, err := attemptOf(ev)
	if err != nil {
		return err
	}

	n, rerr := a.stream.Read(a.buf)
	if n < image.MinPrefixLen {
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return readAbort(rerr)
		}
		return abort(ReasonShortPacket, fmt.Errorf("first chunk has %d bytes, need %d", n, image.MinPrefixLen))
	}

	prefix, err := image.ParsePrefix(a.buf[:n])
	if err != nil {
		return abort(ReasonImageCorrupt, err)
	}
	desc := prefix.Descriptor
	a.outcome.Version = desc.Version
	log.Info("New firmware version", "version", desc.Version, "project", desc.ProjectName, "idf", desc.IDFVersion)

	var runningVersion string
	if d, ok := e.store.Descriptor(e.store.Running()); ok {
		runningVersion = d.Version
		log.Info("Running firmware version", "version", d.Version)
	}

	if inv, ok := e.store.LastInvalid(); ok {
		if d, ok := e.store.Descriptor(inv); ok {
			log.Info("Last invalid firmware version", "version", d.Version, "partition", inv.Label)
			if d.Version == desc.Version {
				return abort(ReasonBlockedRollback,
					fmt.Errorf("version %q previously failed to boot from %s", desc.Version, inv.Label))
			}
		}
	}

	if runningVersion != "" {
		if e.rejectSameVersion && runningVersion == desc.Version {
			return abort(ReasonSameVersion, fmt.Errorf("version %q is already running", desc.Version))
		}
		if c, ok := image.CompareVersions(desc.Version, runningVersion); ok && c < 0 {
			log.Warn("Installing an older firmware version", "from", runningVersion, "to", desc.Version)
		}
	}

	s, err := e.store.BeginWrite(a.target)
	if err != nil {
		return abort(ReasonBeginError, err)
	}
	a.session = s
	a.headerChecked = true
	log.Info("Firmware update session opened", "session", s.ID())

	if err := e.write(a, a.buf[:n]); err != nil {
		return err
	}

	a.pending = rerr
	a.next = EventWrite
	return nil
}

// actionWrite copies the rest of the stream into the session.
func (e *Engine) actionWrite(ctx context.Context, ev *fsm.Event) error {
	a, err := attemptOf(ev)
	if err != nil {
		return err
	}

	rerr := a.pending
	a.pending = nil
	for rerr == nil {
		if err := a.ctx.Err(); err != nil {
			return abort(ReasonCanceled, err)
		}

		var n int
		n, rerr = a.stream.Read(a.buf)
		if n > 0 {
			if err := e.write(a, a.buf[:n]); err != nil {
				return err
			}
		}
	}

	if !errors.Is(rerr, io.EOF) {
		return readAbort(rerr)
	}

	log.Info("Image received", "bytes", a.outcome.BytesWritten)
	a.next = EventFinalize
	return nil
}

func (e *Engine) write(a *attempt, chunk []byte) error {
	if err := a.session.Write(chunk); err != nil {
		return abort(ReasonWriteError, err)
	}
	a.outcome.BytesWritten += int64(len(chunk))
	metrics.OTABytesWritten.Add(float64(len(chunk)))
	log.Debug("Written image chunk", "length", len(chunk), "total", a.outcome.BytesWritten)
	return nil
}

func readAbort(err error) error {
	switch {
	case errors.Is(err, core.ErrConnectionLost):
		return abort(ReasonConnectionLost, err)
	case errors.Is(err, core.ErrReadTimeout):
		return abort(ReasonReadTimeout, err)
	default:
		return abort(ReasonReadError, err)
	}
}

func (e *Engine) actionFinalize(ctx context.Context, ev *fsm.Event) error {
	a, err := attemptOf(ev)
	if err != nil {
		return err
	}

	if !a.stream.Complete() {
		return abort(ReasonIncomplete,
			fmt.Errorf("received %d of %d bytes", a.outcome.BytesWritten, a.stream.Size()))
	}

	err = a.session.Finalize()
	switch {
	case errors.Is(err, core.ErrValidationFailed):
		return abort(ReasonImageCorrupt, err)
	case err != nil:
		return abort(ReasonFinalizeError, err)
	}
	a.session = nil

	a.next = EventActivate
	return nil
}

func (e *Engine) actionActivate(ctx context.Context, ev *fsm.Event) error {
	a, err := attemptOf(ev)
	if err != nil {
		return err
	}

	if err := e.store.Activate(a.target); err != nil {
		return abort(ReasonActivationError, err)
	}

	a.next = EventReboot
	return nil
}

func (e *Engine) actionReboot(ctx context.Context, ev *fsm.Event) error {
	a, err := attemptOf(ev)
	if err != nil {
		return err
	}

	a.release()
	a.outcome.Activated = true
	a.outcome.Reason = ""
	a.next = EventReset

	log.Info("Firmware update complete, prepare to restart system", "partition", a.target.Label, "version", a.outcome.Version)
	e.clock.Sleep(e.restartDelay)
	_ = log.Sync()

	if err := e.restarter.Restart("firmware update"); err != nil {
		a.outcome.Err = err
		log.Error(err, "Restart after firmware update failed", "partition", a.target.Label)
	}
	return nil
}

func (e *Engine) actionAbort(ctx context.Context, ev *fsm.Event) error {
	a, err := attemptOf(ev)
	if err != nil {
		return err
	}

	a.release()
	a.next = EventReset

	kv := []any{"reason", a.outcome.Reason, "url", a.url, "from", ev.Src,
		"headerChecked", a.headerChecked, "bytes", a.outcome.BytesWritten}
	switch a.outcome.Reason {
	case ReasonBlockedRollback, ReasonSameVersion, ReasonCanceled:
		log.Warn("Firmware update aborted", append(kv, "err", a.outcome.Err)...)
	default:
		log.Error(a.outcome.Err, "Firmware update aborted", kv...)
	}
	return nil
}
