package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/feed"
	"github.com/coachpo/quantcore/internal/holding"
	"github.com/coachpo/quantcore/internal/orders"
	"github.com/coachpo/quantcore/internal/portfolio"
)

type call struct {
	method string
	symbol string
	qty    int64
	price  decimal.Decimal
}

type fakeAPI struct {
	calls    []call
	holdings map[string]int64
	failNext error
	nextID   int64
}

func newFakeAPI() *fakeAPI { return &fakeAPI{holdings: map[string]int64{}} }

func (f *fakeAPI) record(c call) (int64, error) {
	f.calls = append(f.calls, c)
	f.nextID++
	if err := f.failNext; err != nil {
		f.failNext = nil
		return f.nextID, err
	}
	return f.nextID, nil
}

func (f *fakeAPI) Time() time.Time     { return time.Time{} }
func (f *fakeAPI) Logger() *zap.Logger { return zap.NewNop() }
func (f *fakeAPI) Order(_ context.Context, symbol string, qty int64, _ ...OrderOption) (int64, error) {
	id, err := f.record(call{method: "order", symbol: symbol, qty: qty})
	if err == nil {
		f.holdings[symbol] += qty
	}
	return id, err
}
func (f *fakeAPI) LimitOrder(_ context.Context, symbol string, qty int64, limit decimal.Decimal, _ ...OrderOption) (int64, error) {
	return f.record(call{method: "limit", symbol: symbol, qty: qty, price: limit})
}
func (f *fakeAPI) StopOrder(_ context.Context, symbol string, qty int64, stop decimal.Decimal, _ ...OrderOption) (int64, error) {
	return f.record(call{method: "stop", symbol: symbol, qty: qty, price: stop})
}
func (f *fakeAPI) CancelOrder(int64) error              { return nil }
func (f *fakeAPI) UpdateOrder(int64, orders.Terms) error { return nil }
func (f *fakeAPI) Liquidate(_ context.Context, symbol string) ([]int64, error) {
	id, err := f.record(call{method: "liquidate", symbol: symbol})
	f.holdings[symbol] = 0
	return []int64{id}, err
}
func (f *fakeAPI) SetHoldings(_ context.Context, symbol string, fraction decimal.Decimal, _ bool) (int64, error) {
	return f.record(call{method: "setholdings", symbol: symbol, price: fraction})
}
func (f *fakeAPI) GetOrder(id int64) (orders.Order, bool) {
	return orders.Order{ID: id, Status: orders.StatusFilled}, true
}
func (f *fakeAPI) OpenOrders(string) []orders.Order { return nil }
func (f *fakeAPI) Holding(symbol string) holding.Snapshot {
	return holding.Snapshot{Symbol: symbol, Quantity: f.holdings[symbol]}
}
func (f *fakeAPI) BuyingPower(string, orders.Direction) decimal.Decimal { return decimal.Zero }
func (f *fakeAPI) Portfolio() portfolio.Totals                        { return portfolio.Totals{} }

func slice(symbol, price string) Slice {
	return Slice{Data: map[string]feed.Data{
		symbol: &feed.Tick{Sym: symbol, Price: decimal.RequireFromString(price)},
	}}
}

func TestBuyAndHoldAllocatesOnce(t *testing.T) {
	api := newFakeAPI()
	s, err := Builtin("buyandhold", Params{Symbol: "SPY"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, api))

	require.NoError(t, s.OnData(ctx, slice("QQQ", "10")))
	require.Empty(t, api.calls)

	api.failNext = errs.New("test", errs.CodeValidation, errs.WithCanonicalCode(errs.CanonicalMarketClosed))
	require.NoError(t, s.OnData(ctx, slice("SPY", "10")))
	require.NoError(t, s.OnData(ctx, slice("SPY", "11")))
	require.NoError(t, s.OnData(ctx, slice("SPY", "12")))

	require.Len(t, api.calls, 2, "retried after the rejection then held")
	require.True(t, api.calls[1].price.Equal(decimal.NewFromInt(1)))
}

func TestMeanReversionBuysBelowAverage(t *testing.T) {
	api := newFakeAPI()
	s := &MeanReversion{Symbol: "SPY", Window: 3, Threshold: decimal.NewFromInt(5), Quantity: 10}
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, api))

	for _, p := range []string{"100", "100"} {
		require.NoError(t, s.OnData(ctx, slice("SPY", p)))
	}
	require.Empty(t, api.calls)

	require.NoError(t, s.OnData(ctx, slice("SPY", "80")))
	require.Len(t, api.calls, 1)
	require.Equal(t, "limit", api.calls[0].method)
	require.Equal(t, int64(10), api.calls[0].qty)

	// a pending order suppresses further signals until it is terminal
	require.NoError(t, s.OnData(ctx, slice("SPY", "70")))
	require.Len(t, api.calls, 1)
	require.NoError(t, s.OnOrderEvent(ctx, orders.Event{OrderID: 1, Status: orders.StatusCanceled}))
	require.NoError(t, s.OnData(ctx, slice("SPY", "60")))
	require.Len(t, api.calls, 2)
}

func TestMomentumFollowsTrend(t *testing.T) {
	api := newFakeAPI()
	s := &Momentum{Symbol: "SPY", Lookback: 2, Threshold: decimal.NewFromInt(1), Quantity: 5}
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx, api))

	require.NoError(t, s.OnData(ctx, slice("SPY", "100")))
	require.NoError(t, s.OnData(ctx, slice("SPY", "105")))
	require.Equal(t, int64(5), api.holdings["SPY"])

	require.NoError(t, s.OnData(ctx, slice("SPY", "95")))
	require.Equal(t, int64(-5), api.holdings["SPY"])
	require.Equal(t, int64(-10), api.calls[1].qty)
}

func TestBuiltinRejectsUnknownNames(t *testing.T) {
	_, err := Builtin("arbitrage", Params{Symbol: "SPY"})
	require.ErrorIs(t, err, ErrUnknownStrategy)
	_, err = Builtin("noop", Params{})
	require.Error(t, err)
}

func TestOrderOptions(t *testing.T) {
	o := ApplyOrderOptions(WithAsync(), nil, WithTag("x"))
	require.True(t, o.Async)
	require.Equal(t, "x", o.Tag)
}
