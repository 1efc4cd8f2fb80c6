package status

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/options"
)

// Report is the periodic status message.
type Report struct {
	UnixTime  int64  `json:"unixtime"`
	Partition string `json:"partition"`
	OTAState  string `json:"otastate"`
	Uptime    int64  `json:"uptime"`

	// Heap8 is the free heap, including spans already returned to the OS.
	Heap8 uint64 `json:"heap8"`
	// HeapI is the free heap still resident in process memory.
	HeapI uint64 `json:"heapi"`

	Version string `json:"version,omitempty"`
}

// Reporter publishes a Report every interval, or after the shorter retry
// interval when the previous publish failed.
type Reporter struct {
	publisher core.Publisher
	store     core.PartitionStore
	state     core.StateReporter

	clock    clock.Clock
	started  time.Time
	interval time.Duration
	retry    time.Duration
	subtopic string

	mu   sync.RWMutex
	last *Report
}

type Option func(*Reporter)

func WithClock(c clock.Clock) Option {
	return func(r *Reporter) { r.clock = c }
}

func NewReporter(pub core.Publisher, store core.PartitionStore, state core.StateReporter,
	opts *options.StatusOptions, o ...Option,
) *Reporter {
	r := &Reporter{
		publisher: pub,
		store:     store,
		state:     state,
		clock:     clock.RealClock{},
		interval:  opts.Interval,
		retry:     opts.RetryInterval,
		subtopic:  opts.Subtopic,
	}
	for _, fn := range o {
		fn(r)
	}
	r.started = r.clock.Now()
	return r
}

// Run reports until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) error {
	log.Info("Status reporter started", "interval", r.interval, "retryInterval", r.retry)

	for {
		delay := r.interval
		if err := r.ReportOnce(ctx); err != nil {
			log.Warn("Status report failed, retrying", "err", err, "after", r.retry)
			delay = r.retry
		}

		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(delay):
		}
	}
}

// ReportOnce builds and publishes a single report.
func (r *Reporter) ReportOnce(ctx context.Context) error {
	rep := r.Snapshot()

	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	if err := r.publisher.Publish(ctx, r.subtopic, payload); err != nil {
		metrics.StatusReportsTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.StatusReportsTotal.WithLabelValues("success").Inc()

	r.mu.Lock()
	r.last = &rep
	r.mu.Unlock()

	log.Debug("Status reported", "partition", rep.Partition, "otastate", rep.OTAState, "uptime", rep.Uptime)
	return nil
}

// Snapshot returns the current status without publishing it.
func (r *Reporter) Snapshot() Report {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	now := r.clock.Now()
	running := r.store.Running()
	rep := Report{
		UnixTime:  now.Unix(),
		Partition: running.Label,
		OTAState:  r.state.State(),
		Uptime:    int64(now.Sub(r.started).Seconds()),
	}
	rep.Heap8, rep.HeapI = freeHeap(&ms)
	if d, ok := r.store.Descriptor(running); ok {
		rep.Version = d.Version
	}
	return rep
}

// freeHeap 对应固件上报的两个空闲堆大小：heap8 为全部空闲，heapi 为仍驻留内存的空闲部分。
func freeHeap(ms *runtime.MemStats) (total, resident uint64) {
	total = ms.HeapSys - ms.HeapInuse
	if ms.HeapIdle > ms.HeapReleased {
		resident = ms.HeapIdle - ms.HeapReleased
	}
	return total, resident
}

// Last returns the most recent report that was published.
func (r *Reporter) Last() (Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}
