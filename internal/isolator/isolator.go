// Package isolator runs strategy code under a wall-clock timeout and a heap
// budget. Work is cancelled through its context; code that cannot observe a
// context, such as a JavaScript VM, is stopped through registered interrupt
// hooks which keep firing until the work exits or the grace period ends.
package isolator

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/telemetry"
)

const (
	// DefaultPollInterval is how often the watchdog samples time and heap.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultGracePeriod bounds how long a cancelled run may take to exit.
	DefaultGracePeriod = 2 * time.Second
)

// State is the outcome of a supervised run.
type State string

const (
	StateRunning        State = "Running"
	StateCompleted      State = "Completed"
	StateTimedOut       State = "TimedOut"
	StateMemoryExceeded State = "MemoryExceeded"
	StateCancelled      State = "Cancelled"
	StateFailed         State = "Failed"
)

// Interrupter is implemented by runtimes that can abort code which never
// checks its context.
type Interrupter interface {
	Interrupt(reason error)
}

// InterruptFunc adapts a function to Interrupter.
type InterruptFunc func(reason error)

// Interrupt calls f(reason).
func (f InterruptFunc) Interrupt(reason error) { f(reason) }

// Result describes a finished run.
type Result struct {
	RunID    uuid.UUID
	State    State
	Elapsed  time.Duration
	PeakHeap uint64
	// Unresponsive is set when the work ignored cancellation for the whole
	// grace period. Its goroutine is abandoned.
	Unresponsive bool
	Err          error
}

// Option configures an Isolator.
type Option func(*Isolator)

// WithPollInterval sets the watchdog sampling interval.
func WithPollInterval(d time.Duration) Option {
	return func(i *Isolator) {
		if d > 0 {
			i.poll = d
		}
	}
}

// WithGracePeriod sets how long cancelled work may take to return.
func WithGracePeriod(d time.Duration) Option {
	return func(i *Isolator) {
		if d > 0 {
			i.grace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Isolator) {
		if logger != nil {
			i.logger = logger.Named("isolator")
		}
	}
}

// WithHeapReader replaces the heap sampler, which defaults to HeapAlloc
// from runtime.ReadMemStats.
func WithHeapReader(read func() uint64) Option {
	return func(i *Isolator) {
		if read != nil {
			i.heap = read
		}
	}
}

// WithCollector replaces the collection triggered before a run is failed
// for exceeding its memory cap.
func WithCollector(gc func()) Option {
	return func(i *Isolator) {
		if gc != nil {
			i.gc = gc
		}
	}
}

// Isolator supervises runs. It is safe for concurrent use; interrupt hooks
// are shared by every run.
type Isolator struct {
	poll   time.Duration
	grace  time.Duration
	logger *zap.Logger
	heap   func() uint64
	gc     func()

	mu       sync.Mutex
	hooks    map[uint64]Interrupter
	nextHook uint64

	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// New constructs an Isolator.
func New(opts ...Option) *Isolator {
	iso := &Isolator{
		poll:   DefaultPollInterval,
		grace:  DefaultGracePeriod,
		logger: zap.NewNop(),
		heap:   heapAlloc,
		gc:     runtime.GC,
		hooks:  make(map[uint64]Interrupter),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(iso)
		}
	}
	meter := otel.Meter("isolator")
	iso.runs, _ = meter.Int64Counter("isolator.runs",
		metric.WithDescription("Supervised runs by outcome"),
		metric.WithUnit("{run}"))
	iso.duration, _ = meter.Float64Histogram("isolator.run.duration",
		metric.WithDescription("Wall-clock duration of supervised runs"),
		metric.WithUnit("s"))
	return iso
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}

// Register adds an interrupt hook and returns a function removing it.
func (i *Isolator) Register(h Interrupter) func() {
	if h == nil {
		return func() {}
	}
	i.mu.Lock()
	i.nextHook++
	id := i.nextHook
	i.hooks[id] = h
	i.mu.Unlock()
	return func() {
		i.mu.Lock()
		delete(i.hooks, id)
		i.mu.Unlock()
	}
}

func (i *Isolator) interrupt(reason error) {
	i.mu.Lock()
	hooks := make([]Interrupter, 0, len(i.hooks))
	for _, h := range i.hooks {
		hooks = append(hooks, h)
	}
	i.mu.Unlock()
	for _, h := range hooks {
		h.Interrupt(reason)
	}
}

// RunWithLimit runs work until it returns, timeout elapses, the process heap
// stays above memoryCap after a collection, or ctx is done. A zero timeout or
// memoryCap disables that limit. The returned error is nil only for
// Completed runs.
func (i *Isolator) RunWithLimit(ctx context.Context, timeout time.Duration, memoryCap uint64, work func(ctx context.Context) error) (Result, error) {
	res := Result{RunID: uuid.New(), State: StateRunning}
	start := time.Now()
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := make(chan error, 1)
	go func() {
		var catcher panics.Catcher
		var err error
		catcher.Try(func() { err = work(runCtx) })
		if rec := catcher.Recovered(); rec != nil {
			err = rec.AsError()
		}
		done <- err
	}()

	ticker := time.NewTicker(i.poll)
	defer ticker.Stop()
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var reason error
	for reason == nil {
		select {
		case err := <-done:
			res.Err = err
			switch {
			case err == nil:
				res.State = StateCompleted
			case ctx.Err() != nil:
				res.State = StateCancelled
			default:
				res.State = StateFailed
			}
			return i.finish(ctx, res, start), err
		case <-deadline:
			res.State = StateTimedOut
			reason = errs.New("isolator", errs.CodeResourceLimit,
				errs.WithCanonicalCode(errs.CanonicalTimedOut),
				errs.WithMessage("run exceeded "+timeout.String()),
				errs.WithField("run_id", res.RunID.String()))
		case <-ctx.Done():
			res.State = StateCancelled
			reason = errs.New("isolator", errs.CodeUnavailable,
				errs.WithCanonicalCode(errs.CanonicalCancelled),
				errs.WithCause(context.Cause(ctx)),
				errs.WithField("run_id", res.RunID.String()))
		case <-ticker.C:
			heap := i.sample(&res)
			if memoryCap == 0 || heap <= memoryCap {
				continue
			}
			i.gc()
			if heap = i.sample(&res); heap > memoryCap {
				res.State = StateMemoryExceeded
				reason = errs.New("isolator", errs.CodeResourceLimit,
					errs.WithCanonicalCode(errs.CanonicalMemoryExceeded),
					errs.WithMessage("heap above memory cap after collection"),
					errs.WithField("heap", strconv.FormatUint(heap, 10)),
					errs.WithField("cap", strconv.FormatUint(memoryCap, 10)),
					errs.WithField("run_id", res.RunID.String()))
			}
		}
	}

	res.Err = reason
	cancel(reason)
	i.interrupt(reason)
	i.logger.Warn("stopping run",
		zap.String("run_id", res.RunID.String()),
		zap.String("state", string(res.State)),
		zap.Error(reason))

	if !i.awaitExit(done, reason) {
		res.Unresponsive = true
		res.Err = errs.New("isolator", errs.CodeResourceLimit,
			errs.WithCanonicalCode(errs.CanonicalUnresponsive),
			errs.WithMessage("work ignored cancellation for "+i.grace.String()),
			errs.WithCause(reason),
			errs.WithField("run_id", res.RunID.String()))
		i.logger.Error("run is unresponsive",
			zap.String("run_id", res.RunID.String()),
			zap.Duration("grace", i.grace),
			zap.Error(res.Err))
	}
	return i.finish(ctx, res, start), res.Err
}

// awaitExit re-fires the interrupt hooks on an exponential schedule until
// the worker returns or the grace period runs out.
func (i *Isolator) awaitExit(done <-chan error, reason error) bool {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = max(i.grace/20, time.Millisecond)
	schedule.MaxInterval = max(i.grace/4, time.Millisecond)
	schedule.Reset()

	grace := time.NewTimer(i.grace)
	defer grace.Stop()
	for {
		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			wait = schedule.MaxInterval
		}
		retry := time.NewTimer(wait)
		select {
		case <-done:
			retry.Stop()
			return true
		case <-grace.C:
			retry.Stop()
			return false
		case <-retry.C:
			i.interrupt(reason)
		}
	}
}

func (i *Isolator) sample(res *Result) uint64 {
	heap := i.heap()
	if heap > res.PeakHeap {
		res.PeakHeap = heap
	}
	return heap
}

func (i *Isolator) finish(ctx context.Context, res Result, start time.Time) Result {
	res.Elapsed = time.Since(start)
	attrs := metric.WithAttributes(telemetry.AttrState.String(string(res.State)))
	i.runs.Add(ctx, 1, attrs)
	i.duration.Record(ctx, res.Elapsed.Seconds(), attrs)
	if res.State == StateFailed {
		i.logger.Error("run failed",
			zap.String("run_id", res.RunID.String()),
			zap.Error(res.Err))
	}
	return res
}
