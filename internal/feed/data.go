// Package feed turns historical market data files into time-ordered Data
// points. Each data kind knows how to parse one line and where its files
// live; kinds are looked up by name in a Registry.
package feed

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quantcore/internal/fill"
)

// Data is one market observation for one symbol.
type Data interface {
	Symbol() string
	Time() time.Time
	// Value is the reference price of the observation.
	Value() decimal.Decimal
	Snapshot() fill.Snapshot
	Clone() Data
}

// TradeBar is an OHLCV bar ending at Time.
type TradeBar struct {
	Sym    string          `json:"symbol"`
	At     time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

func (b *TradeBar) Symbol() string         { return b.Sym }
func (b *TradeBar) Time() time.Time        { return b.At }
func (b *TradeBar) Value() decimal.Decimal { return b.Close }

// Snapshot prices the bar at its close and exposes its range to the fill models.
func (b *TradeBar) Snapshot() fill.Snapshot {
	return fill.Snapshot{
		Symbol: b.Sym,
		Price:  b.Close,
		HasBar: true,
		Low:    b.Low,
		High:   b.High,
		Time:   b.At,
	}
}

func (b *TradeBar) Clone() Data {
	out := *b
	return &out
}

// Tick is a single trade or quote. Quote ticks carry Bid and Ask and are
// valued at the mid.
type Tick struct {
	Sym      string          `json:"symbol"`
	At       time.Time       `json:"time"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity,omitempty"`
	Bid      decimal.Decimal `json:"bid"`
	Ask      decimal.Decimal `json:"ask"`
}

func (t *Tick) Symbol() string         { return t.Sym }
func (t *Tick) Time() time.Time        { return t.At }
func (t *Tick) Value() decimal.Decimal { return t.Price }

func (t *Tick) Snapshot() fill.Snapshot {
	return fill.Snapshot{Symbol: t.Sym, Price: t.Price, Time: t.At}
}

func (t *Tick) Clone() Data {
	out := *t
	return &out
}
