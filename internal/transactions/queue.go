package transactions

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quantcore/internal/orders"
)

// PendingSymbols lists symbols with queued work in lexical order.
func (m *Manager) PendingSymbols() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.queues))
	for sym, q := range m.queues {
		if q.Len() > 0 {
			out = append(out, sym)
		}
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Queue returns a copy of the queued items for symbol in admission order.
func (m *Manager) Queue(symbol string) []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[orders.NormalizeSymbol(symbol)]
	if !ok {
		return nil
	}
	out := make([]Item, 0, q.Len())
	for i := 0; i < q.Len(); i++ {
		out = append(out, q.At(i))
	}
	return out
}

// Lookup returns the order an item refers to if the item is still current:
// the order is open and its terms have not been replaced since queuing.
func (m *Manager) Lookup(item Item) (orders.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.orders[item.OrderID]
	if !ok || rec.revision != item.Revision || !rec.order.Status.IsOpen() {
		return orders.Order{}, false
	}
	return rec.order, true
}

// Fill describes an execution to commit.
type Fill struct {
	Price    decimal.Decimal
	Quantity int64
	Fee      decimal.Decimal
	Message  string
}

// CommitFill marks the order filled. apply books the fill into the
// portfolio; it runs under the order table lock, before any waiter is
// released, and a failing apply leaves the order open. Items that are no
// longer current are dropped with a state conflict.
func (m *Manager) CommitFill(item Item, f Fill, apply func() error) (orders.Event, error) {
	m.mu.Lock()
	rec, ok := m.orders[item.OrderID]
	if !ok {
		m.dropLocked(item)
		m.mu.Unlock()
		return orders.Event{}, notFound(item.OrderID)
	}
	if rec.revision != item.Revision || !rec.order.Status.IsOpen() {
		m.dropLocked(item)
		status := rec.order.Status
		m.mu.Unlock()
		return orders.Event{}, conflict(item.OrderID, status)
	}
	if apply != nil {
		if err := apply(); err != nil {
			m.mu.Unlock()
			return orders.Event{}, err
		}
	}
	rec.order.Price = f.Price
	ev, err := m.transitionLocked(rec, orders.StatusFilled, orders.Event{
		FillPrice:    f.Price,
		FillQuantity: f.Quantity,
		Fee:          f.Fee,
		Message:      f.Message,
	})
	m.dropLocked(item)
	m.mu.Unlock()
	if err != nil {
		return orders.Event{}, err
	}
	m.flush()
	return ev, nil
}

// CommitCancel applies a queued cancellation marker. If the order reached a
// terminal status first the marker is discarded with a state conflict.
func (m *Manager) CommitCancel(item Item) (orders.Event, error) {
	m.mu.Lock()
	m.dropLocked(item)
	rec, ok := m.orders[item.OrderID]
	if !ok {
		m.mu.Unlock()
		return orders.Event{}, notFound(item.OrderID)
	}
	rec.canceling = false
	if rec.order.Status.IsTerminal() {
		status := rec.order.Status
		m.mu.Unlock()
		return orders.Event{}, conflict(item.OrderID, status)
	}
	ev, err := m.transitionLocked(rec, orders.StatusCanceled, orders.Event{Message: "canceled by request"})
	m.removeFromQueueLocked(rec.order.Symbol, func(it Item) bool { return it.OrderID == item.OrderID })
	m.mu.Unlock()
	if err != nil {
		return orders.Event{}, err
	}
	m.flush()
	return ev, nil
}

func (m *Manager) dropLocked(item Item) {
	rec, ok := m.orders[item.OrderID]
	symbol := ""
	if ok {
		symbol = rec.order.Symbol
	}
	if symbol == "" {
		return
	}
	m.removeFromQueueLocked(symbol, func(it Item) bool { return it.seq == item.seq })
}

// Discard removes an item that no longer refers to a current order.
func (m *Manager) Discard(item Item) {
	m.mu.Lock()
	m.dropLocked(item)
	m.mu.Unlock()
}
