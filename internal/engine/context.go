// Package engine drives a backtest: it replays market data into the
// portfolio, evaluates queued orders against it, and calls the strategy
// under the isolator.
package engine

import (
	"go.uber.org/zap"

	"github.com/coachpo/quantcore/internal/portfolio"
	"github.com/coachpo/quantcore/internal/risk"
	"github.com/coachpo/quantcore/internal/session"
	"github.com/coachpo/quantcore/internal/transactions"
)

// Context carries the collaborators shared by the processor, the algorithm
// facade and the driver of one run.
type Context struct {
	Logger       *zap.Logger
	Clock        *session.VirtualClock
	Portfolio    *portfolio.Portfolio
	Transactions *transactions.Manager
	Risk         *risk.Manager
}

func (c Context) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
