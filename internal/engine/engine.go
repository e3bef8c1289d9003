package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/feed"
	"github.com/coachpo/quantcore/internal/fill"
	"github.com/coachpo/quantcore/internal/holding"
	"github.com/coachpo/quantcore/internal/isolator"
	"github.com/coachpo/quantcore/internal/orders"
	"github.com/coachpo/quantcore/internal/portfolio"
	"github.com/coachpo/quantcore/internal/risk"
	"github.com/coachpo/quantcore/internal/session"
	"github.com/coachpo/quantcore/internal/strategy"
	"github.com/coachpo/quantcore/internal/telemetry"
	"github.com/coachpo/quantcore/internal/transactions"
)

// Security configures one subscribed instrument.
type Security struct {
	Symbol string
	Kind   portfolio.Kind
	// Leverage defaults to 1.
	Leverage decimal.Decimal
	// Model defaults to the base fill model without fees.
	Model fill.Model
}

// Config describes a run.
type Config struct {
	StartingCash decimal.Decimal
	Securities   []Security
	Risk         risk.Limits
	// OrdersPerDay sizes the run's order cap over Start..End when
	// Risk.MaxOrders is zero.
	OrdersPerDay int
	Start, End   time.Time

	// CallbackTimeout and MemoryCap bound every strategy callback when an
	// isolator is configured. Zero disables the limit.
	CallbackTimeout time.Duration
	MemoryCap       uint64
	// SkipTimedOutSlices continues the replay after a callback times out
	// instead of aborting the run. Unresponsive callbacks always abort.
	SkipTimedOutSlices bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every component of the run.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIsolator supervises strategy callbacks.
func WithIsolator(iso *isolator.Isolator) Option {
	return func(e *Engine) { e.iso = iso }
}

// Engine replays market data through a strategy. An Engine runs once.
type Engine struct {
	cfg       Config
	id        uuid.UUID
	logger    *zap.Logger
	iso       *isolator.Isolator
	strategy  strategy.Strategy
	ctx       Context
	processor *Processor
	algorithm *Algorithm
	outbox    *outbox

	lookahead feed.Data
	report    Report
	skipped   metric.Int64Counter
}

// New wires a fresh portfolio, order table and processor for strat.
func New(cfg Config, strat strategy.Strategy, opts ...Option) (*Engine, error) {
	if strat == nil {
		return nil, errs.New("engine", errs.CodeInvalid, errs.WithMessage("strategy required"))
	}
	e := &Engine{cfg: cfg, id: uuid.New(), logger: zap.NewNop(), strategy: strat, outbox: &outbox{}}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = e.logger.With(zap.String("session_id", e.id.String()))

	clock := session.NewVirtualClock(cfg.Start)
	p := portfolio.New(cfg.StartingCash)
	for _, sec := range cfg.Securities {
		leverage := sec.Leverage
		if leverage.IsZero() {
			leverage = decimal.NewFromInt(1)
		}
		if err := p.AddSecurity(portfolio.Security{
			Symbol:   sec.Symbol,
			Kind:     sec.Kind,
			Leverage: leverage,
			Model:    sec.Model,
			Exchange: session.NewExchange(CalendarFor(sec.Kind), clock),
		}); err != nil {
			return nil, err
		}
	}

	limits := cfg.Risk
	if limits.MaxOrders == 0 && !cfg.Start.IsZero() && cfg.End.After(cfg.Start) {
		limits.MaxOrders = risk.OrderCap(cfg.Start, cfg.End, cfg.OrdersPerDay)
	}
	r := risk.NewManager(limits)
	tx := transactions.NewManager(p,
		transactions.WithLogger(e.logger),
		transactions.WithRisk(r),
		transactions.WithClock(clock),
		transactions.WithEventHandler(e.outbox.push))

	e.ctx = Context{Logger: e.logger, Clock: clock, Portfolio: p, Transactions: tx, Risk: r}
	e.processor = NewProcessor(e.ctx)
	e.algorithm = NewAlgorithm(e.ctx)
	e.report.SessionID = e.id.String()
	e.skipped, _ = otel.Meter("engine").Int64Counter("engine.callbacks.skipped",
		metric.WithDescription("Strategy callbacks skipped after timing out"),
		metric.WithUnit("{callback}"))
	return e, nil
}

// CalendarFor returns the trading calendar of an instrument class.
func CalendarFor(kind portfolio.Kind) session.Calendar {
	switch kind {
	case portfolio.KindEquity:
		return session.NewEquity()
	case portfolio.KindForex:
		return session.NewForex()
	default:
		return session.AlwaysOpen{}
	}
}

// Context exposes the run's collaborators.
func (e *Engine) Context() Context { return e.ctx }

// Algorithm exposes the strategy-facing API.
func (e *Engine) Algorithm() *Algorithm { return e.algorithm }

// Run replays feeder until it is exhausted, ctx is done or a strategy
// callback fails. The report is filled in even when an error is returned.
func (e *Engine) Run(ctx context.Context, feeder feed.Feeder) (Report, error) {
	if in, ok := e.strategy.(isolator.Interrupter); ok && e.iso != nil {
		defer e.iso.Register(in)()
	}

	procCtx, stop := context.WithCancel(ctx)
	var wg conc.WaitGroup
	wg.Go(func() { e.processor.Run(procCtx) })
	defer func() {
		stop()
		wg.Wait()
	}()

	err := e.run(ctx, feeder)
	e.finishReport()
	return e.report, err
}

func (e *Engine) run(ctx context.Context, feeder feed.Feeder) error {
	if err := e.invoke(ctx, "initialize", func(ctx context.Context) error {
		return e.strategy.Initialize(ctx, e.algorithm)
	}); err != nil {
		return err
	}

	var day time.Time
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		slice, err := e.nextSlice(feeder)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("engine: read feed: %w", err)
		}
		if !day.IsZero() && !sameDate(day, slice.Time) {
			if err := e.endOfDay(ctx, day); err != nil {
				return err
			}
		}
		day = slice.Time
		if err := e.step(ctx, slice); err != nil {
			return err
		}
	}
	if !day.IsZero() {
		return e.endOfDay(ctx, day)
	}
	return nil
}

// step advances the frontier to one slice, settles the queue against it,
// runs OnData and settles again so orders placed in OnData see the same prices.
func (e *Engine) step(ctx context.Context, slice strategy.Slice) error {
	e.processor.Exclusive(func() {
		e.ctx.Clock.AdvanceTo(slice.Time)
		for _, data := range slice.Data {
			if err := e.ctx.Portfolio.UpdateMarket(data.Snapshot()); err != nil {
				e.logger.Debug("data for unsubscribed symbol", zap.String("symbol", data.Symbol()))
			}
		}
	})
	if e.report.Start.IsZero() {
		e.report.Start = slice.Time
	}
	e.report.End = slice.Time
	e.report.Slices++

	e.processor.Cycle(ctx)
	if err := e.deliver(ctx); err != nil {
		return err
	}
	if err := e.invoke(ctx, "on_data", func(ctx context.Context) error {
		return e.strategy.OnData(ctx, slice)
	}); err != nil {
		return err
	}
	e.processor.Cycle(ctx)
	return e.deliver(ctx)
}

func (e *Engine) endOfDay(ctx context.Context, day time.Time) error {
	y, m, d := day.Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	if err := e.invoke(ctx, "on_end_of_day", func(ctx context.Context) error {
		return e.strategy.OnEndOfDay(ctx, date)
	}); err != nil {
		return err
	}
	return e.deliver(ctx)
}

// deliver hands queued order events to the strategy until none are left.
func (e *Engine) deliver(ctx context.Context) error {
	for {
		events := e.outbox.drain()
		if len(events) == 0 {
			return nil
		}
		for _, ev := range events {
			e.report.Events++
			if err := e.invoke(ctx, "on_order_event", func(ctx context.Context) error {
				return e.strategy.OnOrderEvent(ctx, ev)
			}); err != nil {
				return err
			}
		}
	}
}

// invoke runs one strategy callback, under the isolator when configured.
func (e *Engine) invoke(ctx context.Context, name string, fn func(context.Context) error) error {
	if e.iso == nil {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("engine: %s: %w", name, err)
		}
		return nil
	}
	res, err := e.iso.RunWithLimit(ctx, e.cfg.CallbackTimeout, e.cfg.MemoryCap, fn)
	if res.PeakHeap > e.report.PeakHeap {
		e.report.PeakHeap = res.PeakHeap
	}
	if err == nil {
		return nil
	}
	if res.State == isolator.StateTimedOut && !res.Unresponsive && e.cfg.SkipTimedOutSlices {
		e.report.SkippedCallbacks++
		e.skipped.Add(ctx, 1, metric.WithAttributes(telemetry.AttrCallback.String(name)))
		e.logger.Warn("callback timed out, skipping",
			zap.String("callback", name),
			zap.String("run_id", res.RunID.String()),
			zap.Duration("elapsed", res.Elapsed))
		return nil
	}
	e.logger.Error("callback aborted the run",
		zap.String("callback", name),
		zap.String("run_id", res.RunID.String()),
		zap.String("state", string(res.State)),
		zap.Error(err))
	return fmt.Errorf("engine: %s: %w", name, err)
}

// nextSlice groups consecutive points with equal timestamps. Later points
// for the same symbol replace earlier ones.
func (e *Engine) nextSlice(feeder feed.Feeder) (strategy.Slice, error) {
	first := e.lookahead
	e.lookahead = nil
	if first == nil {
		var err error
		if first, err = feeder.Next(); err != nil {
			return strategy.Slice{}, err
		}
	}
	slice := strategy.Slice{Time: first.Time(), Data: map[string]feed.Data{
		orders.NormalizeSymbol(first.Symbol()): first,
	}}
	for {
		next, err := feeder.Next()
		if errors.Is(err, io.EOF) {
			return slice, nil
		}
		if err != nil {
			return strategy.Slice{}, err
		}
		if !next.Time().Equal(slice.Time) {
			e.lookahead = next
			return slice, nil
		}
		slice.Data[orders.NormalizeSymbol(next.Symbol())] = next
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// Report summarises a run.
type Report struct {
	SessionID        string              `json:"session_id"`
	Start            time.Time           `json:"start"`
	End              time.Time           `json:"end"`
	Slices           int                 `json:"slices"`
	Events           int                 `json:"events"`
	SkippedCallbacks int                 `json:"skipped_callbacks"`
	PeakHeap         uint64              `json:"peak_heap"`
	Orders           []orders.Order      `json:"orders"`
	Holdings         []holding.Snapshot  `json:"holdings"`
	Totals           portfolio.Totals    `json:"totals"`
	Analytics        portfolio.Analytics `json:"analytics"`
}

func (e *Engine) finishReport() {
	e.report.Orders = e.ctx.Transactions.Orders(nil)
	e.report.Holdings = e.ctx.Portfolio.Holdings()
	e.report.Totals = e.ctx.Portfolio.Totals()
	e.report.Analytics = e.ctx.Portfolio.Analytics()
}
