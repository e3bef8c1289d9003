package fill

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/orders"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func submitted(qty int64, typ orders.Type, price string) orders.Order {
	o := orders.New("SPY", qty, typ, d(price), time.Unix(0, 0))
	o.Status = orders.StatusSubmitted
	return o
}

func bar(price, low, high string) Snapshot {
	return Snapshot{Symbol: "SPY", Price: d(price), HasBar: true, Low: d(low), High: d(high)}
}

func TestMarketFillsAtReferencePrice(t *testing.T) {
	dec, err := NewBaseModel().Evaluate(Snapshot{Price: d("101.25")}, submitted(3, orders.TypeMarket, "0"))
	require.NoError(t, err)
	require.True(t, dec.Filled)
	require.True(t, dec.Price.Equal(d("101.25")))
}

func TestBuyLimitUsesBarLowAndCurrentPrice(t *testing.T) {
	m := NewBaseModel()
	order := submitted(10, orders.TypeLimit, "100")

	dec, err := m.Evaluate(bar("102", "100.5", "103"), order)
	require.NoError(t, err)
	require.False(t, dec.Filled)

	dec, err = m.Evaluate(bar("102", "100", "103"), order)
	require.NoError(t, err)
	require.True(t, dec.Filled)
	require.True(t, dec.Price.Equal(d("102")), "executes at the reference price, not the limit")
}

func TestSellLimitUsesBarHigh(t *testing.T) {
	m := NewBaseModel()
	order := submitted(-10, orders.TypeLimit, "105")

	dec, _ := m.Evaluate(bar("101", "99", "104.99"), order)
	require.False(t, dec.Filled)

	dec, _ = m.Evaluate(bar("101", "99", "105"), order)
	require.True(t, dec.Filled)
	require.True(t, dec.Price.Equal(d("101")))
}

func TestLimitWithoutBarUsesLastPrice(t *testing.T) {
	m := NewBaseModel()
	dec, _ := m.Evaluate(Snapshot{Price: d("99")}, submitted(1, orders.TypeLimit, "100"))
	require.True(t, dec.Filled)
	dec, _ = m.Evaluate(Snapshot{Price: d("100.01")}, submitted(1, orders.TypeLimit, "100"))
	require.False(t, dec.Filled)
}

func TestStopTriggersOnStrictCross(t *testing.T) {
	m := NewBaseModel()
	buy := submitted(5, orders.TypeStop, "50")
	sell := submitted(-5, orders.TypeStop, "50")

	dec, _ := m.Evaluate(Snapshot{Price: d("50")}, buy)
	require.False(t, dec.Filled)
	dec, _ = m.Evaluate(Snapshot{Price: d("50.5")}, buy)
	require.True(t, dec.Filled)
	require.True(t, dec.Price.Equal(d("50.5")))

	dec, _ = m.Evaluate(Snapshot{Price: d("50")}, sell)
	require.False(t, dec.Filled)
	dec, _ = m.Evaluate(Snapshot{Price: d("49")}, sell)
	require.True(t, dec.Filled)
}

func TestCanceledOrderShortCircuits(t *testing.T) {
	order := submitted(5, orders.TypeMarket, "0")
	order.Status = orders.StatusCanceled
	for _, m := range []Model{NewBaseModel(), NewEquityModel(DefaultEquityFee), NewForexModel(nil, nil)} {
		dec, err := m.Evaluate(Snapshot{}, order)
		require.NoError(t, err)
		require.False(t, dec.Filled)
	}
}

func TestFeesDefaultToZero(t *testing.T) {
	m := NewBaseModel()
	require.True(t, m.OrderFee(100, d("10")).IsZero())
	require.True(t, m.SlippageApproximation(Snapshot{Price: d("10")}, submitted(1, orders.TypeMarket, "0")).IsZero())
}

func TestFeeSchedules(t *testing.T) {
	eq := NewEquityModel(DefaultEquityFee)
	require.True(t, eq.OrderFee(100, d("10")).Equal(d("1")))
	require.True(t, eq.OrderFee(-1000, d("10")).Equal(d("5")))

	fx := NewForexModel(ProportionalFee{Rate: d("0.0002")}, BasisPointSlippage{BPS: d("2")})
	require.True(t, fx.OrderFee(10000, d("1.1")).Equal(d("2.2")))
	slip := fx.SlippageApproximation(Snapshot{Price: d("1.5")}, submitted(1, orders.TypeMarket, "0"))
	require.True(t, slip.Equal(d("0.0003")), slip.String())
}

type panicModel struct{ BaseModel }

func (panicModel) Evaluate(Snapshot, orders.Order) (Decision, error) { panic("bad bar") }

type failingModel struct{ BaseModel }

func (failingModel) Evaluate(Snapshot, orders.Order) (Decision, error) {
	return Decision{Filled: true}, errors.New("feed gap")
}

func TestSafeEvaluateRecoversFailures(t *testing.T) {
	order := submitted(1, orders.TypeMarket, "0")

	dec, err := SafeEvaluate(panicModel{}, Snapshot{Price: d("1")}, order)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeFillEvaluation))
	require.False(t, dec.Filled)

	dec, err = SafeEvaluate(failingModel{}, Snapshot{Price: d("1")}, order)
	require.True(t, errs.Is(err, errs.CodeFillEvaluation))
	require.False(t, dec.Filled)

	_, err = SafeEvaluate(NewBaseModel(), Snapshot{}, order)
	require.Equal(t, errs.CanonicalPriceUnavailable, errs.CanonicalOf(err))
}

func TestSafeEvaluateDefaultsQuantity(t *testing.T) {
	dec, err := SafeEvaluate(NewBaseModel(), Snapshot{Price: d("3")}, submitted(-7, orders.TypeMarket, "0"))
	require.NoError(t, err)
	require.Equal(t, int64(-7), dec.Quantity)
}
