// Package strategy defines the contract between user trading logic and the
// engine, together with a few reference strategies written in Go.
package strategy

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coachpo/quantcore/internal/feed"
	"github.com/coachpo/quantcore/internal/holding"
	"github.com/coachpo/quantcore/internal/orders"
	"github.com/coachpo/quantcore/internal/portfolio"
)

// Strategy is user trading logic. The engine calls it from a single
// goroutine, so implementations need no locking of their own.
type Strategy interface {
	Initialize(ctx context.Context, api API) error
	OnData(ctx context.Context, slice Slice) error
	OnOrderEvent(ctx context.Context, event orders.Event) error
	OnEndOfDay(ctx context.Context, date time.Time) error
}

// OrderOptions adjusts a single order submission.
type OrderOptions struct {
	// Async returns as soon as the order is admitted instead of waiting for
	// a market order to reach a terminal status.
	Async bool
	Tag   string
}

// OrderOption configures OrderOptions.
type OrderOption func(*OrderOptions)

// WithAsync makes a market order return after admission.
func WithAsync() OrderOption {
	return func(o *OrderOptions) { o.Async = true }
}

// WithTag labels the order.
func WithTag(tag string) OrderOption {
	return func(o *OrderOptions) { o.Tag = tag }
}

// ApplyOrderOptions folds opts into OrderOptions.
func ApplyOrderOptions(opts ...OrderOption) OrderOptions {
	var out OrderOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// API is the trading surface a strategy sees. Order placement methods
// return the order ID even when the order is rejected; the error explains
// the rejection.
type API interface {
	Time() time.Time
	Logger() *zap.Logger

	Order(ctx context.Context, symbol string, quantity int64, opts ...OrderOption) (int64, error)
	LimitOrder(ctx context.Context, symbol string, quantity int64, limit decimal.Decimal, opts ...OrderOption) (int64, error)
	StopOrder(ctx context.Context, symbol string, quantity int64, stop decimal.Decimal, opts ...OrderOption) (int64, error)
	CancelOrder(id int64) error
	UpdateOrder(id int64, terms orders.Terms) error
	Liquidate(ctx context.Context, symbol string) ([]int64, error)
	SetHoldings(ctx context.Context, symbol string, fraction decimal.Decimal, liquidateOthers bool) (int64, error)

	GetOrder(id int64) (orders.Order, bool)
	OpenOrders(symbol string) []orders.Order
	Holding(symbol string) holding.Snapshot
	BuyingPower(symbol string, direction orders.Direction) decimal.Decimal
	Portfolio() portfolio.Totals
}

// Slice is every data point sharing one timestamp, keyed by symbol.
type Slice struct {
	Time time.Time
	Data map[string]feed.Data
}

// Get returns the point for symbol.
func (s Slice) Get(symbol string) (feed.Data, bool) {
	d, ok := s.Data[orders.NormalizeSymbol(symbol)]
	return d, ok
}

// Bar returns the trade bar for symbol, if the point is one.
func (s Slice) Bar(symbol string) (*feed.TradeBar, bool) {
	d, ok := s.Get(symbol)
	if !ok {
		return nil, false
	}
	bar, ok := d.(*feed.TradeBar)
	return bar, ok
}

// Symbols lists the symbols present in lexical order.
func (s Slice) Symbols() []string {
	out := make([]string, 0, len(s.Data))
	for sym := range s.Data {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Base implements every callback as a no-op and keeps the API handle.
// Embed it to implement only the callbacks you need.
type Base struct {
	API API
}

func (b *Base) Initialize(_ context.Context, api API) error {
	b.API = api
	return nil
}

func (*Base) OnData(context.Context, Slice) error              { return nil }
func (*Base) OnOrderEvent(context.Context, orders.Event) error { return nil }
func (*Base) OnEndOfDay(context.Context, time.Time) error      { return nil }
