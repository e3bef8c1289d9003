// Package transactions owns the authoritative order table: it admits orders,
// allocates IDs, keeps the per-symbol evaluation queues and commits every
// status transition.
package transactions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/fill"
	"github.com/coachpo/quantcore/internal/orders"
	"github.com/coachpo/quantcore/internal/portfolio"
	"github.com/coachpo/quantcore/internal/risk"
	"github.com/coachpo/quantcore/internal/telemetry"
)

// ErrUnknownOrder is the cause of every not-found error the manager returns.
var ErrUnknownOrder = errors.New("unknown order")

// Portfolio is the capital and pricing capability the manager consumes.
type Portfolio interface {
	Security(symbol string) (portfolio.Security, bool)
	Market(symbol string) (fill.Snapshot, bool)
	BuyingPowerAt(symbol string, direction orders.Direction) (decimal.Decimal, uint64)
	Version() uint64
}

// Clock supplies simulation time for order timestamps.
type Clock interface {
	Now() time.Time
}

// EventHandler observes committed order events in commit order. It runs
// outside the manager lock, must not block and must not call back into the
// manager.
type EventHandler func(orders.Event)

// Request describes an order to place.
type Request struct {
	Symbol   string
	Quantity int64
	Type     orders.Type
	// Price is the limit or stop price; ignored for market orders.
	Price decimal.Decimal
	Tag   string
}

// committed is an event waiting for delivery. done is closed once the
// event has reached every handler.
type committed struct {
	event orders.Event
	done  chan struct{}
}

type record struct {
	order     orders.Order
	revision  uint64
	events    []orders.Event
	done      chan struct{}
	canceling bool
}

// Item is one entry of a symbol's evaluation queue.
type Item struct {
	OrderID  int64
	Revision uint64
	Cancel   bool
	seq      uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger.Named("transactions")
		}
	}
}

// WithRisk installs pre-trade limits.
func WithRisk(r *risk.Manager) Option {
	return func(m *Manager) { m.risk = r }
}

// WithClock sets the clock used to stamp orders and events.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithEventHandler registers a handler for committed events.
func WithEventHandler(h EventHandler) Option {
	return func(m *Manager) {
		if h != nil {
			m.handlers = append(m.handlers, h)
		}
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Manager is safe for concurrent use by any number of producers and one fill processor.
type Manager struct {
	portfolio Portfolio
	risk      *risk.Manager
	clock     Clock
	logger    *zap.Logger
	handlers  []EventHandler

	nextID  atomic.Int64
	nextSeq atomic.Uint64

	mu     sync.RWMutex
	orders map[int64]*record
	queues map[string]*deque.Deque[Item]
	log    []orders.Event
	// pending holds committed events not yet handed to the handlers.
	pending []committed

	publishMu sync.Mutex
	wake      chan struct{}

	placed   metric.Int64Counter
	rejected metric.Int64Counter
}

// NewManager builds a manager over the given portfolio.
func NewManager(p Portfolio, opts ...Option) *Manager {
	m := &Manager{
		portfolio: p,
		clock:     wallClock{},
		logger:    zap.NewNop(),
		orders:    make(map[int64]*record),
		queues:    make(map[string]*deque.Deque[Item]),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	meter := otel.Meter("transactions")
	m.placed, _ = meter.Int64Counter("transactions.orders.placed",
		metric.WithDescription("Orders admitted to the evaluation queue"),
		metric.WithUnit("{order}"))
	m.rejected, _ = meter.Int64Counter("transactions.orders.rejected",
		metric.WithDescription("Orders rejected at admission"),
		metric.WithUnit("{order}"))
	return m
}

// Wake returns a channel that receives a value whenever new work is queued.
func (m *Manager) Wake() <-chan struct{} { return m.wake }

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// PlaceOrder validates and admits an order. Rejected orders are recorded as
// Invalid and still consume an ID; the returned error explains the rejection.
func (m *Manager) PlaceOrder(ctx context.Context, req Request) (int64, error) {
	now := m.clock.Now()
	order := orders.New(req.Symbol, req.Quantity, req.Type, req.Price, now)
	order.Tag = req.Tag

	checked, err := m.admit(&order)
	if err != nil {
		return m.reject(ctx, order, err), err
	}

	m.mu.Lock()
	// fills commit under m.mu, so a check repeated here sees a portfolio no fill can change before admission
	if m.portfolio.Version() != checked {
		if enough, _ := m.sufficientCapital(order); !enough {
			m.mu.Unlock()
			err := errs.New("transactions", errs.CodeInsufficientCapital,
				errs.WithMessage("insufficient buying power after portfolio change"),
				errs.WithField("symbol", order.Symbol))
			return m.reject(ctx, order, err), err
		}
	}
	if m.risk != nil {
		if err := m.risk.Admit(order); err != nil {
			m.mu.Unlock()
			return m.reject(ctx, order, err), err
		}
	}
	// IDs are allocated under the table lock so ID order matches queue order
	order.ID = m.nextID.Add(1)
	rec := &record{order: order, done: make(chan struct{})}
	m.orders[order.ID] = rec
	_, _ = m.transitionLocked(rec, orders.StatusSubmitted, orders.Event{})
	m.enqueueLocked(order.Symbol, Item{OrderID: order.ID, Revision: rec.revision})
	m.mu.Unlock()

	m.placed.Add(ctx, 1, metric.WithAttributes(telemetry.OrderAttributes(order.Symbol, string(order.Type))...))
	m.logger.Debug("order submitted",
		zap.Int64("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.Int64("quantity", order.Quantity),
		zap.String("type", string(order.Type)),
		zap.String("price", order.Price.String()))
	m.flush()
	m.signal()
	return order.ID, nil
}

func (m *Manager) reject(ctx context.Context, order orders.Order, cause error) int64 {
	m.mu.Lock()
	order.ID = m.nextID.Add(1)
	rec := &record{order: order, done: make(chan struct{})}
	m.orders[order.ID] = rec
	_, _ = m.transitionLocked(rec, orders.StatusInvalid, orders.Event{Message: cause.Error()})
	m.mu.Unlock()

	m.rejected.Add(ctx, 1, metric.WithAttributes(telemetry.AttrReason.String(string(errs.CanonicalOf(cause)))))
	m.logger.Info("order rejected",
		zap.Int64("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.Error(cause))
	m.flush()
	return order.ID
}

// UpdateOrder replaces the terms of an open order and moves it to the back
// of its symbol queue.
func (m *Manager) UpdateOrder(id int64, terms orders.Terms) error {
	if terms.Quantity == 0 {
		return errs.New("transactions", errs.CodeValidation,
			errs.WithCanonicalCode(errs.CanonicalZeroQuantity),
			errs.WithField("order_id", fmt.Sprint(id)))
	}
	if !terms.Price.IsPositive() {
		return errs.New("transactions", errs.CodeValidation,
			errs.WithCanonicalCode(errs.CanonicalZeroPrice),
			errs.WithField("order_id", fmt.Sprint(id)))
	}

	m.mu.Lock()
	rec, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return notFound(id)
	}
	if rec.order.Status.IsTerminal() {
		m.mu.Unlock()
		return conflict(id, rec.order.Status)
	}
	rec.order.Quantity = terms.Quantity
	rec.order.Price = terms.Price
	if terms.Tag != "" {
		rec.order.Tag = terms.Tag
	}
	rec.order.Time = m.clock.Now()
	rec.revision++
	if _, err := m.transitionLocked(rec, orders.StatusUpdate, orders.Event{}); err != nil {
		m.mu.Unlock()
		return err
	}
	m.removeFromQueueLocked(rec.order.Symbol, func(it Item) bool { return it.OrderID == id && !it.Cancel })
	m.enqueueLocked(rec.order.Symbol, Item{OrderID: id, Revision: rec.revision})
	m.mu.Unlock()

	m.flush()
	m.signal()
	return nil
}

// CancelOrder queues a cancellation behind every item already queued for
// the order's symbol.
func (m *Manager) CancelOrder(id int64) error {
	m.mu.Lock()
	rec, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return notFound(id)
	}
	if rec.order.Status.IsTerminal() {
		m.mu.Unlock()
		return conflict(id, rec.order.Status)
	}
	if rec.canceling {
		m.mu.Unlock()
		return nil
	}
	rec.canceling = true
	m.enqueueLocked(rec.order.Symbol, Item{OrderID: id, Cancel: true})
	m.mu.Unlock()

	m.signal()
	return nil
}

// HasSufficientBuyingPower reports whether the order's margin requirement,
// |value| / leverage, fits in the buying power for its symbol and
// direction. Unknown symbols and non-positive leverage fail closed.
func (m *Manager) HasSufficientBuyingPower(order orders.Order) bool {
	ok, _ := m.sufficientCapital(order)
	return ok
}

func (m *Manager) sufficientCapital(order orders.Order) (bool, uint64) {
	sec, found := m.portfolio.Security(order.Symbol)
	if !found || !sec.Leverage.IsPositive() {
		return false, 0
	}
	required := order.Value().Abs().Div(sec.Leverage)
	available, version := m.portfolio.BuyingPowerAt(order.Symbol, order.Direction())
	return required.LessThanOrEqual(available), version
}

// Order returns a copy of the order.
func (m *Manager) Order(id int64) (orders.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.orders[id]
	if !ok {
		return orders.Order{}, false
	}
	return rec.order, true
}

// Orders returns copies of every order matching filter, ordered by ID. A nil
// filter matches all orders.
func (m *Manager) Orders(filter func(orders.Order) bool) []orders.Order {
	m.mu.RLock()
	out := make([]orders.Order, 0, len(m.orders))
	for _, rec := range m.orders {
		if filter == nil || filter(rec.order) {
			out = append(out, rec.order)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenOrders returns the orders still awaiting evaluation for symbol, or for
// every symbol when symbol is empty.
func (m *Manager) OpenOrders(symbol string) []orders.Order {
	symbol = orders.NormalizeSymbol(symbol)
	return m.Orders(func(o orders.Order) bool {
		return o.Status.IsOpen() && (symbol == "" || o.Symbol == symbol)
	})
}

// Events returns the committed events of one order.
func (m *Manager) Events(id int64) []orders.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.orders[id]
	if !ok {
		return nil
	}
	return append([]orders.Event(nil), rec.events...)
}

// AllEvents returns every committed event in commit order.
func (m *Manager) AllEvents() []orders.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]orders.Event(nil), m.log...)
}

// Wait blocks until the order is terminal or ctx is done.
func (m *Manager) Wait(ctx context.Context, id int64) (orders.Order, error) {
	m.mu.RLock()
	rec, ok := m.orders[id]
	m.mu.RUnlock()
	if !ok {
		return orders.Order{}, notFound(id)
	}
	select {
	case <-rec.done:
		o, _ := m.Order(id)
		return o, nil
	case <-ctx.Done():
		o, _ := m.Order(id)
		return o, ctx.Err()
	}
}

// flush hands pending events to the handlers in commit order. One
// goroutine publishes at a time; a caller that finds another publisher busy
// waits for it, so its own events are delivered by the time flush returns.
func (m *Manager) flush() {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, c := range batch {
			for _, h := range m.handlers {
				h(c.event)
			}
			if c.done != nil {
				close(c.done)
			}
		}
	}
}

// transitionLocked commits a status change and records its event.
func (m *Manager) transitionLocked(rec *record, to orders.Status, ev orders.Event) (orders.Event, error) {
	from := rec.order.Status
	if !orders.CanTransition(from, to) {
		return orders.Event{}, errs.New("transactions", errs.CodeStateConflict,
			errs.WithMessage(fmt.Sprintf("illegal transition %s -> %s", from, to)),
			errs.WithField("order_id", fmt.Sprint(rec.order.ID)))
	}
	rec.order.Status = to
	ev.OrderID = rec.order.ID
	ev.Symbol = rec.order.Symbol
	ev.Status = to
	if ev.Time.IsZero() {
		ev.Time = m.clock.Now()
	}
	rec.events = append(rec.events, ev)
	m.log = append(m.log, ev)
	c := committed{event: ev}
	if to.IsTerminal() {
		// waiters are released only after the terminal event is delivered
		c.done = rec.done
	}
	m.pending = append(m.pending, c)
	return ev, nil
}

func (m *Manager) enqueueLocked(symbol string, item Item) {
	q, ok := m.queues[symbol]
	if !ok {
		q = &deque.Deque[Item]{}
		m.queues[symbol] = q
	}
	item.seq = m.nextSeq.Add(1)
	q.PushBack(item)
}

func (m *Manager) removeFromQueueLocked(symbol string, match func(Item) bool) {
	q, ok := m.queues[symbol]
	if !ok {
		return
	}
	for i := q.Index(match); i >= 0; i = q.Index(match) {
		q.Remove(i)
	}
	if q.Len() == 0 {
		delete(m.queues, symbol)
	}
}

func notFound(id int64) error {
	return errs.New("transactions", errs.CodeNotFound,
		errs.WithCanonicalCode(errs.CanonicalOrderNotFound),
		errs.WithCause(ErrUnknownOrder),
		errs.WithField("order_id", fmt.Sprint(id)))
}

func conflict(id int64, status orders.Status) error {
	canonical := errs.CanonicalAlreadyFilled
	if status == orders.StatusCanceled {
		canonical = errs.CanonicalAlreadyCanceled
	}
	return errs.New("transactions", errs.CodeStateConflict,
		errs.WithCanonicalCode(canonical),
		errs.WithMessage("order is "+string(status)),
		errs.WithField("order_id", fmt.Sprint(id)))
}
