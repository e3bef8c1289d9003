// Package orders defines the order record, its lifecycle statuses and the
// events emitted for every committed status transition.
package orders

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates supported order types.
type Type string

const (
	// TypeMarket executes at the current reference price.
	TypeMarket Type = "Market"
	// TypeLimit executes once the price range touches the limit.
	TypeLimit Type = "Limit"
	// TypeStop executes once the price crosses the stop.
	TypeStop Type = "Stop"
)

// Valid reports whether t names a known order type.
func (t Type) Valid() bool {
	switch t {
	case TypeMarket, TypeLimit, TypeStop:
		return true
	}
	return false
}

// Direction captures the side implied by the sign of an order quantity.
type Direction string

const (
	DirectionBuy  Direction = "Buy"
	DirectionSell Direction = "Sell"
	DirectionHold Direction = "Hold"
)

// DirectionOf returns the direction implied by a signed quantity.
func DirectionOf(quantity int64) Direction {
	switch {
	case quantity > 0:
		return DirectionBuy
	case quantity < 0:
		return DirectionSell
	default:
		return DirectionHold
	}
}

// Order is a request to change a position in one symbol.
type Order struct {
	ID       int64           `json:"id"`
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	Type     Type            `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Status   Status          `json:"status"`
	Time     time.Time       `json:"time"`
	Tag      string          `json:"tag,omitempty"`
}

// New builds an order in the New status with a normalised symbol.
func New(symbol string, quantity int64, typ Type, price decimal.Decimal, at time.Time) Order {
	return Order{
		Symbol:   NormalizeSymbol(symbol),
		Quantity: quantity,
		Type:     typ,
		Price:    price,
		Status:   StatusNew,
		Time:     at,
	}
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Direction reports the order side.
func (o Order) Direction() Direction {
	return DirectionOf(o.Quantity)
}

// AbsoluteQuantity returns the unsigned order size.
func (o Order) AbsoluteQuantity() int64 {
	if o.Quantity < 0 {
		return -o.Quantity
	}
	return o.Quantity
}

// Value returns quantity times price, signed by direction.
func (o Order) Value() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

// Terms are the mutable parts of an order accepted by an update.
type Terms struct {
	Quantity int64
	Price    decimal.Decimal
	Tag      string
}

// Event is the notification emitted once per committed order transition.
type Event struct {
	OrderID      int64           `json:"order_id"`
	Symbol       string          `json:"symbol"`
	Status       Status          `json:"status"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	FillQuantity int64           `json:"fill_quantity"`
	Fee          decimal.Decimal `json:"fee"`
	Message      string          `json:"message,omitempty"`
	Time         time.Time       `json:"time"`
}

// Direction reports the side of the fill carried by the event.
func (e Event) Direction() Direction {
	return DirectionOf(e.FillQuantity)
}

// IsFill reports whether the event carries executed quantity.
func (e Event) IsFill() bool {
	return e.FillQuantity != 0 && (e.Status == StatusFilled || e.Status == StatusPartiallyFilled)
}
