package feed

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DailyFeeder replays one subscription from per-day files between two dates.
// Missing days are skipped; malformed lines are logged and skipped.
type DailyFeeder struct {
	root   string
	sub    Subscription
	day    time.Time
	end    time.Time
	logger *zap.Logger

	file    *os.File
	scanner *bufio.Scanner
	date    time.Time
	line    int
}

// NewDailyFeeder replays sub for every calendar day from start to end inclusive.
func NewDailyFeeder(root string, sub Subscription, start, end time.Time, logger *zap.Logger) (*DailyFeeder, error) {
	if sub.Kind == nil {
		return nil, fmt.Errorf("daily feeder %s: %w", sub.Symbol, ErrUnknownKind)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DailyFeeder{
		root:   root,
		sub:    sub,
		day:    calendarDay(start),
		end:    calendarDay(end),
		logger: logger.Named("feed").With(zap.String("symbol", sub.Symbol), zap.String("kind", sub.Kind.Name())),
	}, nil
}

func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Next returns the next parsed line.
func (f *DailyFeeder) Next() (Data, error) {
	for {
		if f.scanner == nil {
			if err := f.openNextDay(); err != nil {
				return nil, err
			}
		}
		if !f.scanner.Scan() {
			err := f.scanner.Err()
			f.closeDay()
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", f.sub.Symbol, err)
			}
			continue
		}
		f.line++
		line := strings.TrimSpace(f.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		data, err := f.sub.Kind.ParseLine(f.sub, line, f.date)
		if err != nil {
			f.logger.Warn("skipping malformed line",
				zap.String("date", f.date.Format(time.DateOnly)),
				zap.Int("line", f.line),
				zap.Error(err))
			continue
		}
		return data, nil
	}
}

func (f *DailyFeeder) openNextDay() error {
	for !f.day.After(f.end) {
		date := f.day
		f.day = f.day.AddDate(0, 0, 1)
		path := f.sub.Kind.Source(f.root, f.sub, date)
		// #nosec G304 -- path is derived from the configured data root.
		file, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			f.logger.Debug("no data for day", zap.String("path", path))
			continue
		}
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		f.file = file
		f.scanner = bufio.NewScanner(file)
		f.date = date
		f.line = 0
		return nil
	}
	return io.EOF
}

func (f *DailyFeeder) closeDay() {
	if f.file != nil {
		_ = f.file.Close()
	}
	f.file = nil
	f.scanner = nil
}

// Close releases the open file, if any.
func (f *DailyFeeder) Close() error {
	f.closeDay()
	return nil
}
