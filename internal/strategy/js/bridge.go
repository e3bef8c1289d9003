package js

import (
	"strings"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/holding"
	"github.com/coachpo/quantcore/internal/orders"
	"github.com/coachpo/quantcore/internal/strategy"
)

// bridge builds the global algo object. Order functions return the order ID
// on success and a negative errs.ResultCode on rejection, so scripts can
// branch on the result without exceptions.
func (s *Strategy) bridge(rt *goja.Runtime) *goja.Object {
	algo := rt.NewObject()
	set := func(name string, fn any) { _ = algo.Set(name, fn) }

	set("time", func() int64 {
		_, api := s.current()
		if api == nil {
			return 0
		}
		return api.Time().UnixMilli()
	})
	set("log", func(args ...any) { s.logger.Info(joinArgs(args)) })

	set("order", func(symbol string, quantity int64, opts map[string]any) int64 {
		ctx, api := s.current()
		if api == nil {
			return int64(errs.ResultGeneral)
		}
		id, err := api.Order(ctx, symbol, quantity, orderOptions(opts)...)
		return s.code("order", id, err)
	})
	set("limitOrder", func(symbol string, quantity int64, price float64, opts map[string]any) int64 {
		ctx, api := s.current()
		if api == nil {
			return int64(errs.ResultGeneral)
		}
		id, err := api.LimitOrder(ctx, symbol, quantity, decimal.NewFromFloat(price), orderOptions(opts)...)
		return s.code("limitOrder", id, err)
	})
	set("stopOrder", func(symbol string, quantity int64, price float64, opts map[string]any) int64 {
		ctx, api := s.current()
		if api == nil {
			return int64(errs.ResultGeneral)
		}
		id, err := api.StopOrder(ctx, symbol, quantity, decimal.NewFromFloat(price), orderOptions(opts)...)
		return s.code("stopOrder", id, err)
	})
	set("cancel", func(id int64) int64 {
		_, api := s.current()
		if api == nil {
			return int64(errs.ResultGeneral)
		}
		return s.code("cancel", 0, api.CancelOrder(id))
	})
	set("update", func(id, quantity int64, price float64, tag string) int64 {
		_, api := s.current()
		if api == nil {
			return int64(errs.ResultGeneral)
		}
		err := api.UpdateOrder(id, orders.Terms{Quantity: quantity, Price: decimal.NewFromFloat(price), Tag: tag})
		return s.code("update", 0, err)
	})
	set("liquidate", func(symbol string) []int64 {
		ctx, api := s.current()
		if api == nil {
			return nil
		}
		ids, err := api.Liquidate(ctx, symbol)
		if err != nil {
			s.logger.Info("liquidate incomplete", zap.String("symbol", symbol), zap.Error(err))
		}
		return ids
	})
	set("setHoldings", func(symbol string, fraction float64, liquidateOthers bool) int64 {
		ctx, api := s.current()
		if api == nil {
			return int64(errs.ResultGeneral)
		}
		id, err := api.SetHoldings(ctx, symbol, decimal.NewFromFloat(fraction), liquidateOthers)
		return s.code("setHoldings", id, err)
	})

	set("getOrder", func(id int64) any {
		_, api := s.current()
		if api == nil {
			return nil
		}
		o, ok := api.GetOrder(id)
		if !ok {
			return nil
		}
		return orderValue(o)
	})
	set("openOrders", func(symbol string) []map[string]any {
		_, api := s.current()
		if api == nil {
			return nil
		}
		open := api.OpenOrders(symbol)
		out := make([]map[string]any, 0, len(open))
		for _, o := range open {
			out = append(out, orderValue(o))
		}
		return out
	})
	set("holding", func(symbol string) map[string]any {
		_, api := s.current()
		if api == nil {
			return nil
		}
		return holdingValue(api.Holding(symbol))
	})
	set("buyingPower", func(symbol, side string) float64 {
		_, api := s.current()
		if api == nil {
			return 0
		}
		direction := orders.DirectionBuy
		if strings.EqualFold(strings.TrimSpace(side), "sell") {
			direction = orders.DirectionSell
		}
		return api.BuyingPower(symbol, direction).InexactFloat64()
	})
	set("portfolio", func() map[string]any {
		_, api := s.current()
		if api == nil {
			return nil
		}
		t := api.Portfolio()
		return map[string]any{
			"cash":             t.Cash.InexactFloat64(),
			"holdingsValue":    t.HoldingsValue.InexactFloat64(),
			"portfolioValue":   t.PortfolioValue.InexactFloat64(),
			"unrealizedProfit": t.UnrealizedProfit.InexactFloat64(),
			"realizedProfit":   t.RealizedProfit.InexactFloat64(),
			"fees":             t.Fees.InexactFloat64(),
			"marginRemaining":  t.MarginRemaining.InexactFloat64(),
		}
	})
	return algo
}

func (s *Strategy) code(op string, id int64, err error) int64 {
	if err == nil {
		return id
	}
	code := errs.ResultCodeOf(err)
	s.logger.Debug("order call rejected",
		zap.String("op", op),
		zap.Int64("order_id", id),
		zap.Int("code", int(code)),
		zap.Error(err))
	return int64(code)
}

func orderOptions(opts map[string]any) []strategy.OrderOption {
	var out []strategy.OrderOption
	if async, ok := opts["async"].(bool); ok && async {
		out = append(out, strategy.WithAsync())
	}
	if tag, ok := opts["tag"].(string); ok && tag != "" {
		out = append(out, strategy.WithTag(tag))
	}
	return out
}

func orderValue(o orders.Order) map[string]any {
	return map[string]any{
		"id":       o.ID,
		"symbol":   o.Symbol,
		"quantity": o.Quantity,
		"type":     string(o.Type),
		"price":    o.Price.InexactFloat64(),
		"status":   string(o.Status),
		"time":     o.Time.UnixMilli(),
		"tag":      o.Tag,
	}
}

func holdingValue(h holding.Snapshot) map[string]any {
	return map[string]any{
		"symbol":           h.Symbol,
		"quantity":         h.Quantity,
		"averagePrice":     h.AveragePrice.InexactFloat64(),
		"lastPrice":        h.LastPrice.InexactFloat64(),
		"holdingsValue":    h.HoldingsValue().InexactFloat64(),
		"unrealizedProfit": h.UnrealizedProfit.InexactFloat64(),
		"realizedProfit":   h.RealizedProfit.InexactFloat64(),
		"fees":             h.TotalFees.InexactFloat64(),
	}
}
