package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/fill"
	"github.com/coachpo/quantcore/internal/orders"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newTestPortfolio(t *testing.T, leverage string) *Portfolio {
	t.Helper()
	p := New(d("100000"))
	require.NoError(t, p.AddSecurity(Security{Symbol: "spy", Kind: KindEquity, Leverage: d(leverage)}))
	require.NoError(t, p.UpdateMarket(fill.Snapshot{Symbol: "SPY", Price: d("100"), HasBar: true, Low: d("99"), High: d("101")}))
	return p
}

func TestMarketSnapshotIsPriceSource(t *testing.T) {
	p := newTestPortfolio(t, "1")

	require.True(t, p.CurrentPrice("spy").Equal(d("100")))
	low, high, ok := p.CurrentBarRange("SPY")
	require.True(t, ok)
	require.True(t, low.Equal(d("99")))
	require.True(t, high.Equal(d("101")))
	require.True(t, p.Leverage("SPY").Equal(d("1")))
	require.True(t, p.Leverage("QQQ").IsZero())

	err := p.UpdateMarket(fill.Snapshot{Symbol: "QQQ", Price: d("1")})
	require.True(t, errs.Is(err, errs.CodeNotFound))
}

func TestApplyFillMovesCashAndHolding(t *testing.T) {
	p := newTestPortfolio(t, "1")

	_, err := p.ApplyFill("SPY", 100, d("100"), d("1"))
	require.NoError(t, err)
	require.True(t, p.Cash().Equal(d("89999")))

	h := p.Holding("spy")
	require.Equal(t, int64(100), h.Quantity)
	require.True(t, h.AveragePrice.Equal(d("100")))

	require.NoError(t, p.UpdateMarket(fill.Snapshot{Symbol: "SPY", Price: d("110")}))
	totals := p.Totals()
	require.True(t, totals.HoldingsValue.Equal(d("11000")))
	require.True(t, totals.UnrealizedProfit.Equal(d("1000")))
	require.True(t, totals.PortfolioValue.Equal(d("100999")))

	net, err := p.ApplyFill("SPY", -100, d("110"), decimal.Zero)
	require.NoError(t, err)
	require.True(t, net.Equal(d("1000")))
	require.True(t, p.Cash().Equal(d("100999")))
	require.Empty(t, p.Invested())

	a := p.Analytics()
	require.Equal(t, 2, a.FilledOrders)
	require.True(t, a.TotalVolume.Equal(d("200")))
	require.True(t, a.PeakEquity.Equal(d("100999")))
}

func TestBuyingPowerUnlevered(t *testing.T) {
	p := newTestPortfolio(t, "1")

	require.True(t, p.BuyingPower("SPY", orders.DirectionBuy).Equal(d("100000")))

	_, err := p.ApplyFill("SPY", 1000, d("100"), decimal.Zero)
	require.NoError(t, err)

	require.True(t, p.BuyingPower("SPY", orders.DirectionBuy).IsZero())
	require.True(t, p.BuyingPower("SPY", orders.DirectionSell).Equal(d("200000")))
}

func TestBuyingPowerLevered(t *testing.T) {
	p := newTestPortfolio(t, "2")

	_, err := p.ApplyFill("SPY", 2000, d("100"), decimal.Zero)
	require.NoError(t, err)

	require.True(t, p.Cash().Equal(d("-100000")))
	require.True(t, p.TotalPortfolioValue().Equal(d("100000")))
	require.True(t, p.BuyingPower("SPY", orders.DirectionBuy).IsZero())
	require.True(t, p.BuyingPower("SPY", orders.DirectionSell).Equal(d("200000")))
}

func TestVersionTracksMutations(t *testing.T) {
	p := newTestPortfolio(t, "1")
	_, v1 := p.BuyingPowerAt("SPY", orders.DirectionBuy)
	_, v2 := p.BuyingPowerAt("SPY", orders.DirectionBuy)
	require.Equal(t, v1, v2)

	require.NoError(t, p.UpdateMarket(fill.Snapshot{Symbol: "SPY", Price: d("101")}))
	require.NotEqual(t, v1, p.Version())
}

func TestDrawdownTracksPeak(t *testing.T) {
	p := newTestPortfolio(t, "1")
	_, err := p.ApplyFill("SPY", 100, d("100"), decimal.Zero)
	require.NoError(t, err)

	require.NoError(t, p.UpdateMarket(fill.Snapshot{Symbol: "SPY", Price: d("120")}))
	require.NoError(t, p.UpdateMarket(fill.Snapshot{Symbol: "SPY", Price: d("90")}))

	a := p.Analytics()
	require.True(t, a.PeakEquity.Equal(d("102000")))
	require.True(t, a.MaxDrawdown.Equal(d("3000")))
}
