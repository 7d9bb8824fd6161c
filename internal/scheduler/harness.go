// Package scheduler extracts an inline runLoop select-over-tickers
// pattern into a reusable, independently-testable type driving the
// phase switcher's three periodic tasks — a 250ms control tick, an
// offset snapshot publish, and an offset telemetry append — plus a
// one-shot deferred task queue for marshaling HTTP command handlers
// onto the scheduling goroutine.
package scheduler

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Periods drives the three scheduled tasks: the 250ms tick, the 250ms
// snapshot publish (offset 10ms so it never races the tick in the same
// instant), and the 60s telemetry append (offset 20ms).
const (
	TickPeriod      = 250 * time.Millisecond
	SnapshotPeriod  = 250 * time.Millisecond
	SnapshotOffset  = 10 * time.Millisecond
	TelemetryPeriod = 60 * time.Second
	TelemetryOffset = 20 * time.Millisecond
)

// Callbacks are the three periodic hooks a Harness drives; each is
// passed the time read from the clock given to New. All three are
// expected to run to completion without blocking for more than a few
// milliseconds.
type Callbacks struct {
	Tick            func(now time.Time)
	PublishSnapshot func(now time.Time)
	RecordTelemetry func(now time.Time)
}

// Harness multiplexes the three periodic tasks plus a Defer queue onto a
// single goroutine via one select loop, so every call into the
// callbacks happens on the same goroutine and needs no locking —
// grounded on cmd/boiler-sensor's runLoop, generalized from one ticker
// to three plus a task queue.
type Harness struct {
	cb Callbacks

	deferCh chan func()
	stopCh  chan struct{}
	doneCh  chan struct{}

	now func() time.Time
	log logrus.FieldLogger
}

// New creates a Harness. now defaults to time.Now if nil; log defaults
// to logrus.StandardLogger() if nil.
func New(cb Callbacks, now func() time.Time, log logrus.FieldLogger) *Harness {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Harness{
		cb:      cb,
		deferCh: make(chan func(), 64),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		now:     now,
		log:     log.WithField("component", "scheduler"),
	}
}

// Defer enqueues fn to run on the scheduler's goroutine, interleaved
// with the periodic tasks (when a deferred task and a periodic task are
// both ready, either may run first). HTTP command handlers use this instead of calling
// switcher methods directly. It is safe to call from any goroutine,
// including after the harness has stopped — a stopped harness silently
// drops deferred tasks rather than blocking the caller.
func (h *Harness) Defer(fn func()) {
	select {
	case h.deferCh <- fn:
	case <-h.stopCh:
	}
}

// Run drives the three periodic tasks and the defer queue until Stop is
// called. It blocks; callers run it in its own goroutine.
func (h *Harness) Run() {
	defer close(h.doneCh)

	tickTicker := time.NewTicker(TickPeriod)
	defer tickTicker.Stop()

	// The snapshot and telemetry tickers are phase-offset from the tick
	// ticker by starting a delay timer once, then handing off to a
	// regular ticker — time.Ticker has no built-in phase offset.
	snapshotStart := time.NewTimer(SnapshotOffset)
	telemetryStart := time.NewTimer(TelemetryOffset)
	defer snapshotStart.Stop()
	defer telemetryStart.Stop()

	var snapshotTicker, telemetryTicker *time.Ticker
	defer func() {
		if snapshotTicker != nil {
			snapshotTicker.Stop()
		}
		if telemetryTicker != nil {
			telemetryTicker.Stop()
		}
	}()

	for {
		var snapshotC, telemetryC <-chan time.Time
		if snapshotTicker != nil {
			snapshotC = snapshotTicker.C
		}
		if telemetryTicker != nil {
			telemetryC = telemetryTicker.C
		}

		select {
		case <-h.stopCh:
			return

		case fn := <-h.deferCh:
			fn()

		case <-tickTicker.C:
			h.cb.Tick(h.now())

		case <-snapshotStart.C:
			snapshotTicker = time.NewTicker(SnapshotPeriod)
			h.cb.PublishSnapshot(h.now())

		case <-telemetryStart.C:
			telemetryTicker = time.NewTicker(TelemetryPeriod)
			h.cb.RecordTelemetry(h.now())

		case <-snapshotC:
			h.cb.PublishSnapshot(h.now())

		case <-telemetryC:
			h.cb.RecordTelemetry(h.now())
		}
	}
}

// Stop halts Run and waits for it to return. Call it once: a second
// call panics, since it closes an already-closed channel.
func (h *Harness) Stop() {
	close(h.stopCh)
	<-h.doneCh
}
