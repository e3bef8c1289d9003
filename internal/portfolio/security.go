package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quantcore/internal/fill"
	"github.com/coachpo/quantcore/internal/holding"
	"github.com/coachpo/quantcore/internal/session"
)

// Kind names the instrument class of a security.
type Kind string

const (
	KindBase   Kind = "base"
	KindEquity Kind = "equity"
	KindForex  Kind = "forex"
)

// Security describes one subscribed instrument.
type Security struct {
	Symbol   string
	Kind     Kind
	Leverage decimal.Decimal
	Model    fill.Model
	Exchange *session.Exchange
}

type entry struct {
	security Security
	holding  *holding.Holding
	market   fill.Snapshot
	hasData  bool
}

func newEntry(sec Security) *entry {
	var closeFee holding.FeeFunc
	if sec.Model != nil {
		closeFee = sec.Model.OrderFee
	}
	return &entry{
		security: sec,
		holding:  holding.New(sec.Symbol, closeFee),
	}
}
