package ota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/pkg/image"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/options"
)

var _ core.StateReporter = (*Engine)(nil)

// Engine downloads an image, writes it to the update partition, selects it
// for boot and restarts. At most one attempt runs at a time.
type Engine struct {
	store     core.PartitionStore
	source    core.Source
	restarter core.Restarter
	clock     clock.Clock

	bufferSize        int
	rejectSameVersion bool
	restartDelay      time.Duration

	// guard admits a single attempt; a second caller gets ReasonBusy.
	guard sync.Mutex
	fsm   *fsm.FSM

	mu   sync.RWMutex
	last *Outcome
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the clock used for the restart delay.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func NewEngine(store core.PartitionStore, src core.Source, restarter core.Restarter, opts *options.OTAOptions, o ...Option) *Engine {
	e := &Engine{
		store:             store,
		source:            src,
		restarter:         restarter,
		clock:             clock.RealClock{},
		bufferSize:        opts.BufferSize,
		rejectSameVersion: opts.RejectSameVersion,
		restartDelay:      opts.RestartDelay,
	}
	if e.bufferSize < image.MinPrefixLen {
		e.bufferSize = image.MinPrefixLen
	}
	for _, fn := range o {
		fn(e)
	}
	e.fsm = e.newStateMachine()
	return e
}

// attempt is the state of one Update call. It is owned by the goroutine
// running Update.
type attempt struct {
	// ctx bounds the network work of the attempt. The state machine itself
	// runs detached from it so that cleanup always completes.
	ctx context.Context

	url     string
	started time.Time

	target  core.Partition
	stream  core.Stream
	session core.Session
	buf     []byte

	// pending is a read error that arrived together with the last chunk.
	pending error

	// headerChecked is set once the prefix was parsed and accepted.
	headerChecked bool

	next    string
	outcome Outcome
}

// Update runs one attempt against url. It returns when the attempt was
// aborted, or after the restart was requested on success.
func (e *Engine) Update(ctx context.Context, url string) Outcome {
	if !e.guard.TryLock() {
		log.Warn("Firmware update already in progress, ignoring request", "url", url)
		return Outcome{URL: url, Reason: ReasonBusy}
	}
	defer e.guard.Unlock()

	metrics.OTAInProgress.Set(1)
	defer metrics.OTAInProgress.Set(0)

	a := &attempt{
		ctx:     ctx,
		url:     url,
		started: e.clock.Now(),
		buf:     make([]byte, e.bufferSize),
		outcome: Outcome{URL: url},
	}

	log.Info("Starting firmware update", "url", url)
	e.drive(ctx, a)

	metrics.OTAUpdatesTotal.WithLabelValues(a.outcome.label()).Inc()
	metrics.OTADuration.WithLabelValues(a.outcome.label()).Observe(e.clock.Since(a.started).Seconds())

	e.mu.Lock()
	last := a.outcome
	e.last = &last
	e.mu.Unlock()

	return a.outcome
}

// drive feeds events to the state machine until an action stops asking for more.
func (e *Engine) drive(ctx context.Context, a *attempt) {
	fsmCtx := context.WithoutCancel(ctx)

	next := EventStart
	for next != "" {
		a.next = ""
		err := e.fsm.Event(fsmCtx, next, a)

		var ae *abortError
		switch {
		case err == nil:
			next = a.next
		case errors.As(err, &ae) && next != EventAbort:
			if ctx.Err() != nil {
				ae = &abortError{reason: ReasonCanceled, err: ctx.Err()}
			}
			a.outcome.Reason = ae.reason
			a.outcome.Err = ae.err
			next = EventAbort
		case next != EventAbort && e.fsm.Can(EventAbort):
			a.outcome.Reason = ReasonInternal
			a.outcome.Err = err
			next = EventAbort
		default:
			// Nothing left to try; park the machine so the next attempt can start.
			log.Error(err, "Firmware update state machine failed", "state", e.fsm.Current(), "event", next)
			a.outcome.Reason = ReasonInternal
			a.outcome.Err = err
			a.release()
			e.fsm.SetState(StateIdle)
			next = ""
		}
	}
}

// State returns the current state for status reports.
func (e *Engine) State() string {
	return e.fsm.Current()
}

// LastOutcome returns the result of the most recent attempt.
func (e *Engine) LastOutcome() (Outcome, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return Outcome{}, false
	}
	return *e.last, true
}

// release aborts the session and closes the stream. Safe to call repeatedly.
func (a *attempt) release() {
	if a.session != nil {
		a.session.Abort()
		a.session = nil
	}
	if a.stream != nil {
		_ = a.stream.Close()
		a.stream = nil
	}
}
