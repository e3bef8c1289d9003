package orders

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNewNormalizesSymbolAndStatus(t *testing.T) {
	o := New("  spy ", -10, TypeLimit, decimal.NewFromInt(400), time.Unix(0, 0))

	require.Equal(t, "SPY", o.Symbol)
	require.Equal(t, StatusNew, o.Status)
	require.Equal(t, DirectionSell, o.Direction())
	require.Equal(t, int64(10), o.AbsoluteQuantity())
	require.True(t, o.Value().Equal(decimal.NewFromInt(-4000)))
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	all := []Status{StatusNew, StatusUpdate, StatusSubmitted, StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusNone, StatusInvalid}
	for _, from := range []Status{StatusFilled, StatusCanceled, StatusInvalid} {
		require.True(t, from.IsTerminal())
		for _, to := range all {
			require.Falsef(t, CanTransition(from, to), "%s -> %s must be illegal", from, to)
		}
	}
}

func TestLifecycleTransitions(t *testing.T) {
	require.True(t, CanTransition(StatusNew, StatusSubmitted))
	require.True(t, CanTransition(StatusNew, StatusInvalid))
	require.False(t, CanTransition(StatusNew, StatusFilled))
	require.True(t, CanTransition(StatusSubmitted, StatusFilled))
	require.True(t, CanTransition(StatusSubmitted, StatusCanceled))
	require.False(t, CanTransition(StatusSubmitted, StatusInvalid))
	require.True(t, CanTransition(StatusUpdate, StatusFilled))
	require.True(t, CanTransition(StatusPartiallyFilled, StatusFilled))
}

func TestEventIsFill(t *testing.T) {
	require.True(t, Event{Status: StatusFilled, FillQuantity: 5}.IsFill())
	require.False(t, Event{Status: StatusSubmitted}.IsFill())
	require.False(t, Event{Status: StatusCanceled}.IsFill())
	require.Equal(t, DirectionSell, Event{FillQuantity: -3}.Direction())
}
