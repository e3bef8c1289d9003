package transactions

import (
	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/orders"
)

// admit runs the pre-trade checks in order and, for market orders, stamps
// the current reference price on the order. It returns the portfolio
// version the capital check observed. Risk limits are only checked here;
// PlaceOrder charges them when the order is admitted.
func (m *Manager) admit(order *orders.Order) (uint64, error) {
	if order.Symbol == "" {
		return 0, validation(errs.CanonicalUnknownSymbol, "order symbol is required", "")
	}
	if order.Quantity == 0 {
		return 0, validation(errs.CanonicalZeroQuantity, "order quantity must be non-zero", order.Symbol)
	}
	if !order.Type.Valid() {
		return 0, validation(errs.CanonicalUnknown, "unsupported order type "+string(order.Type), order.Symbol)
	}
	sec, ok := m.portfolio.Security(order.Symbol)
	if !ok {
		return 0, validation(errs.CanonicalUnknownSymbol, "symbol is not subscribed", order.Symbol)
	}
	market, ok := m.portfolio.Market(order.Symbol)
	if !ok || !market.Price.IsPositive() {
		return 0, validation(errs.CanonicalPriceUnavailable, "no price for symbol", order.Symbol)
	}
	switch order.Type {
	case orders.TypeMarket:
		order.Price = market.Price
		if sec.Exchange != nil && !sec.Exchange.IsOpen() {
			return 0, validation(errs.CanonicalMarketClosed, "market orders require an open session", order.Symbol)
		}
	default:
		if !order.Price.IsPositive() {
			return 0, validation(errs.CanonicalZeroPrice, "limit and stop orders need a positive price", order.Symbol)
		}
	}

	enough, version := m.sufficientCapital(*order)
	if !enough {
		return 0, errs.New("transactions", errs.CodeInsufficientCapital,
			errs.WithMessage("insufficient buying power"),
			errs.WithField("symbol", order.Symbol),
			errs.WithField("value", order.Value().String()))
	}

	if m.risk != nil {
		if err := m.risk.CheckOrder(*order); err != nil {
			return 0, err
		}
	}
	return version, nil
}

func validation(canonical errs.CanonicalCode, message, symbol string) error {
	return errs.New("transactions", errs.CodeValidation,
		errs.WithCanonicalCode(canonical),
		errs.WithMessage(message),
		errs.WithField("symbol", symbol))
}
