package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/holding"
	"github.com/coachpo/quantcore/internal/orders"
	"github.com/coachpo/quantcore/internal/portfolio"
	"github.com/coachpo/quantcore/internal/strategy"
	"github.com/coachpo/quantcore/internal/transactions"
)

// Algorithm is the strategy-facing API of a run.
type Algorithm struct {
	c      Context
	logger *zap.Logger

	// gate serialises synchronous submissions so a strategy never has two
	// blocking market orders in flight.
	gate sync.Mutex
}

var _ strategy.API = (*Algorithm)(nil)

// NewAlgorithm builds the facade over c.
func NewAlgorithm(c Context) *Algorithm {
	return &Algorithm{c: c, logger: c.logger().Named("algorithm")}
}

// Time is the simulation frontier.
func (a *Algorithm) Time() time.Time { return a.c.Clock.Now() }

func (a *Algorithm) Logger() *zap.Logger { return a.logger }

// Order places a market order. Unless WithAsync is given it blocks until
// the order is terminal or ctx is done.
func (a *Algorithm) Order(ctx context.Context, symbol string, quantity int64, opts ...strategy.OrderOption) (int64, error) {
	o := strategy.ApplyOrderOptions(opts...)
	req := transactions.Request{Symbol: symbol, Quantity: quantity, Type: orders.TypeMarket, Tag: o.Tag}
	if o.Async {
		return a.c.Transactions.PlaceOrder(ctx, req)
	}
	return a.placeAndWait(ctx, req)
}

// LimitOrder places a limit order and returns after admission.
func (a *Algorithm) LimitOrder(ctx context.Context, symbol string, quantity int64, limit decimal.Decimal, opts ...strategy.OrderOption) (int64, error) {
	o := strategy.ApplyOrderOptions(opts...)
	return a.c.Transactions.PlaceOrder(ctx, transactions.Request{
		Symbol: symbol, Quantity: quantity, Type: orders.TypeLimit, Price: limit, Tag: o.Tag,
	})
}

// StopOrder places a stop market order and returns after admission.
func (a *Algorithm) StopOrder(ctx context.Context, symbol string, quantity int64, stop decimal.Decimal, opts ...strategy.OrderOption) (int64, error) {
	o := strategy.ApplyOrderOptions(opts...)
	return a.c.Transactions.PlaceOrder(ctx, transactions.Request{
		Symbol: symbol, Quantity: quantity, Type: orders.TypeStop, Price: stop, Tag: o.Tag,
	})
}

func (a *Algorithm) placeAndWait(ctx context.Context, req transactions.Request) (int64, error) {
	a.gate.Lock()
	defer a.gate.Unlock()
	id, err := a.c.Transactions.PlaceOrder(ctx, req)
	if err != nil {
		return id, err
	}
	if _, err := a.c.Transactions.Wait(ctx, id); err != nil {
		return id, err
	}
	return id, nil
}

func (a *Algorithm) CancelOrder(id int64) error { return a.c.Transactions.CancelOrder(id) }

func (a *Algorithm) UpdateOrder(id int64, terms orders.Terms) error {
	return a.c.Transactions.UpdateOrder(id, terms)
}

// Liquidate closes every invested holding, or only symbol's when symbol is
// not empty, with synchronous market orders. It returns the IDs placed and
// the first error met; later holdings are still attempted.
func (a *Algorithm) Liquidate(ctx context.Context, symbol string) ([]int64, error) {
	target := orders.NormalizeSymbol(symbol)
	var ids []int64
	var first error
	for _, h := range a.c.Portfolio.Invested() {
		if target != "" && h.Symbol != target {
			continue
		}
		id, err := a.Order(ctx, h.Symbol, -h.Quantity, strategy.WithTag("liquidate"))
		ids = append(ids, id)
		if err != nil && first == nil {
			first = err
		}
	}
	return ids, first
}

// SetHoldings rebalances symbol to fraction of the leveraged portfolio value,
// with fraction clamped to [-1, 1]. With liquidateOthers every other holding
// is closed first. It returns the rebalancing order's ID, or zero when the
// holding is already on target.
func (a *Algorithm) SetHoldings(ctx context.Context, symbol string, fraction decimal.Decimal, liquidateOthers bool) (int64, error) {
	symbol = orders.NormalizeSymbol(symbol)
	sec, ok := a.c.Portfolio.Security(symbol)
	if !ok {
		return 0, errs.New("algorithm", errs.CodeValidation,
			errs.WithCanonicalCode(errs.CanonicalUnknownSymbol),
			errs.WithField("symbol", symbol))
	}
	one := decimal.NewFromInt(1)
	switch {
	case fraction.GreaterThan(one):
		fraction = one
	case fraction.LessThan(one.Neg()):
		fraction = one.Neg()
	}

	if liquidateOthers {
		for _, h := range a.c.Portfolio.Invested() {
			if h.Symbol == symbol {
				continue
			}
			if _, err := a.Order(ctx, h.Symbol, -h.Quantity, strategy.WithTag("rebalance")); err != nil {
				return 0, err
			}
		}
	}

	price := a.c.Portfolio.CurrentPrice(symbol)
	if !price.IsPositive() {
		return 0, errs.New("algorithm", errs.CodeValidation,
			errs.WithCanonicalCode(errs.CanonicalPriceUnavailable),
			errs.WithField("symbol", symbol))
	}
	total := a.c.Portfolio.TotalPortfolioValue().Mul(sec.Leverage)
	delta := total.Mul(fraction).Sub(a.c.Portfolio.Holding(symbol).HoldingsValue())
	// truncation keeps the order inside the buying power it was sized from
	quantity := delta.Div(price).Truncate(0).IntPart()
	if quantity == 0 {
		return 0, nil
	}
	return a.Order(ctx, symbol, quantity, strategy.WithTag("rebalance"))
}

func (a *Algorithm) GetOrder(id int64) (orders.Order, bool) { return a.c.Transactions.Order(id) }

func (a *Algorithm) OpenOrders(symbol string) []orders.Order {
	return a.c.Transactions.OpenOrders(symbol)
}

func (a *Algorithm) Holding(symbol string) holding.Snapshot { return a.c.Portfolio.Holding(symbol) }

// BuyingPower is the margin available to an order on symbol in direction.
func (a *Algorithm) BuyingPower(symbol string, direction orders.Direction) decimal.Decimal {
	return a.c.Portfolio.BuyingPower(symbol, direction)
}

func (a *Algorithm) Portfolio() portfolio.Totals { return a.c.Portfolio.Totals() }

// outbox buffers committed order events until the driver can deliver them
// on the strategy goroutine.
type outbox struct {
	mu     sync.Mutex
	events []orders.Event
}

func (o *outbox) push(ev orders.Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *outbox) drain() []orders.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.events
	o.events = nil
	return out
}
