package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Feeder yields market data in time order and returns io.EOF when exhausted.
type Feeder interface {
	Next() (Data, error)
}

// CSVFeeder reads trade ticks from a single CSV file with a header row and
// the columns timestamp,price,quantity,symbol. Timestamps are Unix
// nanoseconds or RFC 3339.
type CSVFeeder struct {
	file   io.Closer
	reader *csv.Reader
	line   int
}

// NewCSVFeeder opens filePath and consumes its header.
func NewCSVFeeder(filePath string) (*CSVFeeder, error) {
	// #nosec G304 -- file path is operator provided via CLI flags.
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	f, err := newCSVFeeder(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	f.file = file
	return f, nil
}

func newCSVFeeder(r io.Reader) (*CSVFeeder, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	return &CSVFeeder{reader: reader, line: 1}, nil
}

// Next returns the next tick from the file.
func (f *CSVFeeder) Next() (Data, error) {
	record, err := f.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read csv record: %w", err)
	}
	f.line++
	if len(record) < 4 {
		return nil, fmt.Errorf("csv line %d: want 4 columns, got %d", f.line, len(record))
	}

	at, err := parseTimestamp(record[0])
	if err != nil {
		return nil, fmt.Errorf("csv line %d: %w", f.line, err)
	}
	price, err := decimal.NewFromString(record[1])
	if err != nil {
		return nil, fmt.Errorf("csv line %d: parse price: %w", f.line, err)
	}
	qty, err := strconv.ParseInt(record[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("csv line %d: parse quantity: %w", f.line, err)
	}
	return &Tick{
		Sym:      strings.ToUpper(strings.TrimSpace(record[3])),
		At:       at,
		Price:    price,
		Quantity: qty,
	}, nil
}

// Close releases the underlying file.
func (f *CSVFeeder) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ns, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(0, ns).UTC(), nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return at, nil
}
