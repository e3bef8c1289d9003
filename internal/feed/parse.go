package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quantcore/internal/portfolio"
)

// equity files store prices as integers in units of 1/10000 of a dollar.
var equityScale = decimal.NewFromInt(10000)

const forexLayout = "20060102 15:04:05.0000"

// TradeBarKind parses minute bars.
//
// Equity lines are "ms,open,high,low,close,volume" with ms counted from
// midnight of the file's date and scaled integer prices. Forex lines are
// "yyyymmdd hh:mm:ss.ffff,open,high,low,close".
type TradeBarKind struct{}

func (TradeBarKind) Name() string { return "tradebar" }

func (TradeBarKind) Source(root string, sub Subscription, date time.Time) string {
	return dailyPath(root, sub, "trade", date)
}

func (TradeBarKind) ParseLine(sub Subscription, line string, date time.Time) (Data, error) {
	fields := splitLine(line)
	bar := &TradeBar{Sym: sub.Symbol}
	var err error
	switch sub.Market {
	case portfolio.KindForex:
		if len(fields) < 5 {
			return nil, fmt.Errorf("tradebar: want 5 fields, got %d", len(fields))
		}
		if bar.At, err = time.ParseInLocation(forexLayout, fields[0], sub.location()); err != nil {
			return nil, fmt.Errorf("tradebar: time: %w", err)
		}
		if err = parsePrices(fields[1:5], decimal.Decimal{}, &bar.Open, &bar.High, &bar.Low, &bar.Close); err != nil {
			return nil, err
		}
	default:
		if len(fields) < 6 {
			return nil, fmt.Errorf("tradebar: want 6 fields, got %d", len(fields))
		}
		if bar.At, err = offsetTime(date, fields[0], sub.location()); err != nil {
			return nil, err
		}
		if err = parsePrices(fields[1:5], equityScale, &bar.Open, &bar.High, &bar.Low, &bar.Close); err != nil {
			return nil, err
		}
		if bar.Volume, err = strconv.ParseInt(fields[5], 10, 64); err != nil {
			return nil, fmt.Errorf("tradebar: volume: %w", err)
		}
	}
	return bar, nil
}

// TickKind parses trade ticks for equities ("ms,price,quantity[,...]") and
// quote ticks for forex ("yyyymmdd hh:mm:ss.ffff,bid,ask").
type TickKind struct{}

func (TickKind) Name() string { return "tick" }

func (TickKind) Source(root string, sub Subscription, date time.Time) string {
	return dailyPath(root, sub, "tick", date)
}

func (TickKind) ParseLine(sub Subscription, line string, date time.Time) (Data, error) {
	fields := splitLine(line)
	tick := &Tick{Sym: sub.Symbol}
	var err error
	switch sub.Market {
	case portfolio.KindForex:
		if len(fields) < 3 {
			return nil, fmt.Errorf("tick: want 3 fields, got %d", len(fields))
		}
		if tick.At, err = time.ParseInLocation(forexLayout, fields[0], sub.location()); err != nil {
			return nil, fmt.Errorf("tick: time: %w", err)
		}
		if err = parsePrices(fields[1:3], decimal.Decimal{}, &tick.Bid, &tick.Ask); err != nil {
			return nil, err
		}
		tick.Price = tick.Bid.Add(tick.Ask.Sub(tick.Bid).Div(decimal.NewFromInt(2)))
	default:
		if len(fields) < 3 {
			return nil, fmt.Errorf("tick: want 3 fields, got %d", len(fields))
		}
		if tick.At, err = offsetTime(date, fields[0], sub.location()); err != nil {
			return nil, err
		}
		if err = parsePrices(fields[1:2], equityScale, &tick.Price); err != nil {
			return nil, err
		}
		if tick.Quantity, err = strconv.ParseInt(fields[2], 10, 64); err != nil {
			return nil, fmt.Errorf("tick: quantity: %w", err)
		}
	}
	return tick, nil
}

func splitLine(line string) []string {
	fields := strings.Split(strings.TrimSpace(line), ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

// parsePrices decodes fields into dst, dividing by scale when it is non-zero.
func parsePrices(fields []string, scale decimal.Decimal, dst ...*decimal.Decimal) error {
	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			return fmt.Errorf("price %q: %w", f, err)
		}
		if !scale.IsZero() {
			v = v.Div(scale)
		}
		*dst[i] = v
	}
	return nil
}

// offsetTime resolves a millisecond offset from local midnight of date as a
// wall-clock time, so daylight saving changes do not shift the session.
func offsetTime(date time.Time, field string, loc *time.Location) (time.Time, error) {
	ms, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("time offset %q: %w", field, err)
	}
	if ms < 0 || ms >= int64(24*time.Hour/time.Millisecond) {
		return time.Time{}, fmt.Errorf("time offset %d outside the day", ms)
	}
	offset := time.Duration(ms) * time.Millisecond
	y, m, d := date.Date()
	h := int(offset / time.Hour)
	mi := int(offset % time.Hour / time.Minute)
	s := int(offset % time.Minute / time.Second)
	ns := int(offset % time.Second)
	return time.Date(y, m, d, h, mi, s, ns, loc), nil
}
