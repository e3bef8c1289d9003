// Package fill decides whether and at what price a submitted order executes
// against the latest market snapshot.
package fill

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/orders"
)

// PolicyCurrentPrice documents the execution price rule shared by every model
// in this package: limit and stop orders execute at the current reference
// price, not at their trigger price.
const PolicyCurrentPrice = "current_price"

// Snapshot is the market state an order is evaluated against.
type Snapshot struct {
	Symbol string
	Price  decimal.Decimal
	HasBar bool
	Low    decimal.Decimal
	High   decimal.Decimal
	Time   time.Time
}

// Range returns the low/high the limit test touches: the bar range when a
// bar is present, otherwise the last price twice.
func (s Snapshot) Range() (decimal.Decimal, decimal.Decimal) {
	if s.HasBar {
		return s.Low, s.High
	}
	return s.Price, s.Price
}

// Decision is the outcome of evaluating one order.
type Decision struct {
	Filled   bool
	Price    decimal.Decimal
	Quantity int64
}

// Model evaluates orders for one instrument class. Implementations must not
// mutate shared state.
type Model interface {
	Evaluate(snap Snapshot, order orders.Order) (Decision, error)
	OrderFee(quantity int64, price decimal.Decimal) decimal.Decimal
	SlippageApproximation(snap Snapshot, order orders.Order) decimal.Decimal
}

// BaseModel implements market, limit and stop fills with optional fee and
// slippage schedules. The zero value charges nothing.
type BaseModel struct {
	Fee      FeeModel
	Slippage SlippageModel
}

// NewBaseModel returns a model with no fees or slippage.
func NewBaseModel() BaseModel { return BaseModel{} }

// Evaluate implements Model.
func (m BaseModel) Evaluate(snap Snapshot, order orders.Order) (Decision, error) {
	if order.Status == orders.StatusCanceled {
		return Decision{}, nil
	}
	if snap.Price.LessThanOrEqual(decimal.Zero) {
		return Decision{}, errs.New("fill", errs.CodeFillEvaluation,
			errs.WithCanonicalCode(errs.CanonicalPriceUnavailable),
			errs.WithMessage("no reference price"),
			errs.WithField("symbol", order.Symbol))
	}
	switch order.Type {
	case orders.TypeMarket:
		return m.fillAt(snap), nil
	case orders.TypeLimit:
		return m.limit(snap, order), nil
	case orders.TypeStop:
		return m.stop(snap, order), nil
	default:
		return Decision{}, errs.New("fill", errs.CodeFillEvaluation,
			errs.WithMessage("unsupported order type "+string(order.Type)))
	}
}

func (m BaseModel) limit(snap Snapshot, order orders.Order) Decision {
	low, high := snap.Range()
	switch order.Direction() {
	case orders.DirectionBuy:
		if low.LessThanOrEqual(order.Price) {
			return m.fillAt(snap)
		}
	case orders.DirectionSell:
		if high.GreaterThanOrEqual(order.Price) {
			return m.fillAt(snap)
		}
	}
	return Decision{}
}

func (m BaseModel) stop(snap Snapshot, order orders.Order) Decision {
	switch order.Direction() {
	case orders.DirectionBuy:
		if snap.Price.GreaterThan(order.Price) {
			return m.fillAt(snap)
		}
	case orders.DirectionSell:
		if snap.Price.LessThan(order.Price) {
			return m.fillAt(snap)
		}
	}
	return Decision{}
}

func (m BaseModel) fillAt(snap Snapshot) Decision {
	return Decision{Filled: true, Price: snap.Price}
}

// OrderFee implements Model.
func (m BaseModel) OrderFee(quantity int64, price decimal.Decimal) decimal.Decimal {
	if m.Fee == nil {
		return decimal.Zero
	}
	return m.Fee.Fee(quantity, price)
}

// SlippageApproximation implements Model.
func (m BaseModel) SlippageApproximation(snap Snapshot, order orders.Order) decimal.Decimal {
	if m.Slippage == nil {
		return decimal.Zero
	}
	return m.Slippage.Adjust(snap, order)
}

// EquityModel fills like BaseModel and charges a per-share commission.
type EquityModel struct {
	BaseModel
}

// NewEquityModel returns an equity model using fee; a nil fee charges nothing.
func NewEquityModel(fee FeeModel) EquityModel {
	return EquityModel{BaseModel{Fee: fee}}
}

// ForexModel fills like BaseModel with a proportional fee and basis-point slippage.
type ForexModel struct {
	BaseModel
}

// NewForexModel returns a forex model. Either argument may be nil.
func NewForexModel(fee FeeModel, slippage SlippageModel) ForexModel {
	return ForexModel{BaseModel{Fee: fee, Slippage: slippage}}
}
