package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/orders"
)

// ErrUnknownStrategy reports a name Builtin does not recognise.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Params configures the built-in strategies.
type Params struct {
	Symbol    string
	Fraction  decimal.Decimal
	Window    int
	Threshold decimal.Decimal
	Quantity  int64
}

// Builtin constructs a reference strategy by name.
func Builtin(name string, p Params) (Strategy, error) {
	if strings.TrimSpace(p.Symbol) == "" {
		return nil, fmt.Errorf("strategy %s: symbol required", name)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "noop":
		return &Base{}, nil
	case "buyandhold":
		fraction := p.Fraction
		if fraction.IsZero() {
			fraction = decimal.NewFromInt(1)
		}
		return &BuyAndHold{Symbol: p.Symbol, Fraction: fraction}, nil
	case "meanreversion":
		return &MeanReversion{Symbol: p.Symbol, Window: p.Window, Threshold: p.Threshold, Quantity: p.Quantity}, nil
	case "momentum":
		return &Momentum{Symbol: p.Symbol, Lookback: p.Window, Threshold: p.Threshold, Quantity: p.Quantity}, nil
	}
	return nil, fmt.Errorf("strategy %q: %w", name, ErrUnknownStrategy)
}

// BuyAndHold allocates Fraction of the portfolio to Symbol on the first data
// point and holds it.
type BuyAndHold struct {
	Base
	Symbol   string
	Fraction decimal.Decimal

	invested bool
}

func (s *BuyAndHold) OnData(ctx context.Context, slice Slice) error {
	if s.invested {
		return nil
	}
	if _, ok := slice.Get(s.Symbol); !ok {
		return nil
	}
	id, err := s.API.SetHoldings(ctx, s.Symbol, s.Fraction, false)
	if err != nil {
		// closed sessions and stale prices are retried on the next point
		if errs.Is(err, errs.CodeValidation) {
			return nil
		}
		return err
	}
	s.invested = true
	s.API.Logger().Info("allocated", zap.String("symbol", s.Symbol), zap.Int64("order_id", id))
	return nil
}

// MeanReversion places limit orders when the price strays from its simple
// moving average by more than Threshold percent, and flattens once it
// reverts to within half the threshold.
type MeanReversion struct {
	Base
	Symbol    string
	Window    int
	Threshold decimal.Decimal
	Quantity  int64

	prices  []decimal.Decimal
	pending int64
}

func (s *MeanReversion) OnData(ctx context.Context, slice Slice) error {
	point, ok := slice.Get(s.Symbol)
	if !ok {
		return nil
	}
	window := max(s.Window, 2)
	price := point.Value()
	s.prices = append(s.prices, price)
	if len(s.prices) > window {
		s.prices = s.prices[len(s.prices)-window:]
	}
	if len(s.prices) < window {
		return nil
	}

	avg := decimal.Avg(s.prices[0], s.prices[1:]...)
	if avg.IsZero() {
		return nil
	}
	deviation := price.Sub(avg).Div(avg).Mul(decimal.NewFromInt(100))
	held := s.API.Holding(s.Symbol)
	log := s.API.Logger()

	if held.Invested() && deviation.Abs().LessThan(s.Threshold.Div(decimal.NewFromInt(2))) {
		_, err := s.API.Liquidate(ctx, s.Symbol)
		log.Debug("reverted to mean", zap.String("deviation", deviation.StringFixed(2)), zap.Error(err))
		return nil
	}
	if held.Invested() || s.pending != 0 {
		return nil
	}

	qty := max(s.Quantity, 1)
	switch {
	case deviation.LessThan(s.Threshold.Neg()):
	case deviation.GreaterThan(s.Threshold):
		qty = -qty
	default:
		return nil
	}
	id, err := s.API.LimitOrder(ctx, s.Symbol, qty, price)
	if err != nil {
		log.Info("limit order rejected", zap.Error(err))
		return nil
	}
	s.pending = id
	log.Debug("limit order placed",
		zap.Int64("order_id", id),
		zap.Int64("quantity", qty),
		zap.String("average", avg.StringFixed(4)))
	return nil
}

func (s *MeanReversion) OnOrderEvent(_ context.Context, ev orders.Event) error {
	if ev.OrderID == s.pending && ev.Status.IsTerminal() {
		s.pending = 0
	}
	return nil
}

// Momentum goes long when the price rose more than Threshold percent over
// the last Lookback points and short when it fell as much, using synchronous
// market orders.
type Momentum struct {
	Base
	Symbol    string
	Lookback  int
	Threshold decimal.Decimal
	Quantity  int64

	prices   []decimal.Decimal
	position int
}

func (s *Momentum) OnData(ctx context.Context, slice Slice) error {
	point, ok := slice.Get(s.Symbol)
	if !ok {
		return nil
	}
	lookback := max(s.Lookback, 2)
	s.prices = append(s.prices, point.Value())
	if len(s.prices) > lookback {
		s.prices = s.prices[len(s.prices)-lookback:]
	}
	if len(s.prices) < lookback || s.prices[0].IsZero() {
		return nil
	}

	first := s.prices[0]
	momentum := point.Value().Sub(first).Div(first).Mul(decimal.NewFromInt(100))
	qty := max(s.Quantity, 1)
	target := 0
	switch {
	case momentum.GreaterThan(s.Threshold) && s.position <= 0:
		target = 1
	case momentum.LessThan(s.Threshold.Neg()) && s.position >= 0:
		target = -1
	default:
		return nil
	}

	delta := int64(target)*qty - s.API.Holding(s.Symbol).Quantity
	if delta == 0 {
		s.position = target
		return nil
	}
	id, err := s.API.Order(ctx, s.Symbol, delta, WithTag("momentum"))
	if err != nil {
		s.API.Logger().Info("momentum order rejected", zap.Int64("order_id", id), zap.Error(err))
		return nil
	}
	if o, ok := s.API.GetOrder(id); ok && o.Status == orders.StatusFilled {
		s.position = target
	}
	s.API.Logger().Debug("momentum signal",
		zap.String("momentum", momentum.StringFixed(3)),
		zap.Int("position", s.position))
	return nil
}
