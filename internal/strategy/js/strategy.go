package js

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/coachpo/quantcore/internal/feed"
	"github.com/coachpo/quantcore/internal/isolator"
	"github.com/coachpo/quantcore/internal/orders"
	"github.com/coachpo/quantcore/internal/strategy"
)

// Strategy adapts a JavaScript module to strategy.Strategy. The module may
// export initialize(params), onData(slice), onOrderEvent(event) and
// onEndOfDay(date); missing exports are skipped.
type Strategy struct {
	module   *Module
	instance *Instance
	params   map[string]any
	logger   *zap.Logger

	mu  sync.Mutex
	api strategy.API
	ctx context.Context
}

var (
	_ strategy.Strategy    = (*Strategy)(nil)
	_ isolator.Interrupter = (*Strategy)(nil)
)

// NewStrategy instantiates module on its own VM. params is passed to
// initialize unchanged.
func NewStrategy(module *Module, params map[string]any, logger *zap.Logger) (*Strategy, error) {
	if module == nil {
		return nil, fmt.Errorf("js strategy: module required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Strategy{
		module: module,
		params: cloneParams(params),
		logger: logger.Named("js").With(zap.String("strategy", module.Name)),
	}
	instance, err := NewInstance(module, func(rt *goja.Runtime) (*goja.Object, error) {
		if err := rt.Set("algo", s.bridge(rt)); err != nil {
			return nil, err
		}
		return s.console(rt), nil
	})
	if err != nil {
		return nil, err
	}
	s.instance = instance
	return s, nil
}

// Name is the module name.
func (s *Strategy) Name() string { return s.module.Name }

func (s *Strategy) Initialize(ctx context.Context, api strategy.API) error {
	s.mu.Lock()
	s.api = api
	s.mu.Unlock()
	return s.invoke(ctx, "initialize", s.params)
}

func (s *Strategy) OnData(ctx context.Context, slice strategy.Slice) error {
	return s.invoke(ctx, "onData", sliceValue(slice))
}

func (s *Strategy) OnOrderEvent(ctx context.Context, ev orders.Event) error {
	return s.invoke(ctx, "onOrderEvent", eventValue(ev))
}

func (s *Strategy) OnEndOfDay(ctx context.Context, date time.Time) error {
	return s.invoke(ctx, "onEndOfDay", date.Format(time.DateOnly))
}

// Interrupt aborts the running callback. The engine's isolator calls it when
// a callback overruns its limits.
func (s *Strategy) Interrupt(reason error) {
	s.logger.Debug("interrupting", zap.Error(reason))
	s.instance.Interrupt(reason)
}

// Close releases the VM.
func (s *Strategy) Close() { s.instance.Close() }

func (s *Strategy) invoke(ctx context.Context, method string, args ...any) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	_, err := s.instance.Call(method, args...)
	if err == nil || errors.Is(err, ErrFunctionMissing) {
		return nil
	}
	return fmt.Errorf("js strategy %s.%s: %w", s.module.Name, method, err)
}

// current returns the context and API of the callback in progress.
func (s *Strategy) current() (context.Context, strategy.API) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, s.api
}

func (s *Strategy) console(rt *goja.Runtime) *goja.Object {
	console := rt.NewObject()
	_ = console.Set("log", func(args ...any) { s.logger.Info(joinArgs(args)) })
	_ = console.Set("info", func(args ...any) { s.logger.Info(joinArgs(args)) })
	_ = console.Set("warn", func(args ...any) { s.logger.Warn(joinArgs(args)) })
	_ = console.Set("error", func(args ...any) { s.logger.Error(joinArgs(args)) })
	return console
}

func joinArgs(args []any) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprint(&b, arg)
	}
	return b.String()
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func sliceValue(slice strategy.Slice) map[string]any {
	data := make(map[string]any, len(slice.Data))
	for sym, point := range slice.Data {
		data[sym] = dataValue(point)
	}
	return map[string]any{
		"time": slice.Time.UnixMilli(),
		"data": data,
	}
}

func dataValue(point feed.Data) map[string]any {
	out := map[string]any{
		"symbol": point.Symbol(),
		"time":   point.Time().UnixMilli(),
		"price":  point.Value().InexactFloat64(),
	}
	switch p := point.(type) {
	case *feed.TradeBar:
		out["kind"] = "bar"
		out["open"] = p.Open.InexactFloat64()
		out["high"] = p.High.InexactFloat64()
		out["low"] = p.Low.InexactFloat64()
		out["close"] = p.Close.InexactFloat64()
		out["volume"] = p.Volume
	case *feed.Tick:
		out["kind"] = "tick"
		out["quantity"] = p.Quantity
		out["bid"] = p.Bid.InexactFloat64()
		out["ask"] = p.Ask.InexactFloat64()
	}
	return out
}

func eventValue(ev orders.Event) map[string]any {
	return map[string]any{
		"orderId":      ev.OrderID,
		"symbol":       ev.Symbol,
		"status":       string(ev.Status),
		"fillPrice":    ev.FillPrice.InexactFloat64(),
		"fillQuantity": ev.FillQuantity,
		"fee":          ev.Fee.InexactFloat64(),
		"message":      ev.Message,
		"time":         ev.Time.UnixMilli(),
	}
}
