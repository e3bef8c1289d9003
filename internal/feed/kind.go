package feed

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coachpo/quantcore/internal/portfolio"
)

// ErrUnknownKind reports a data kind missing from the registry.
var ErrUnknownKind = errors.New("unknown data kind")

// Subscription binds a symbol to the kind of data replayed for it.
type Subscription struct {
	Symbol string
	Market portfolio.Kind
	Kind   Kind
	// Location is the exchange time zone that intraday offsets are read in.
	// Nil means UTC.
	Location *time.Location
}

func (s Subscription) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// Kind parses one flavour of market data.
type Kind interface {
	Name() string
	// ParseLine decodes one line of a daily file for date.
	ParseLine(sub Subscription, line string, date time.Time) (Data, error)
	// Source returns the path of the daily file for date under root.
	Source(root string, sub Subscription, date time.Time) string
}

// Registry maps kind names to implementations.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry creates a registry holding kinds.
func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{kinds: make(map[string]Kind)}
	for _, k := range kinds {
		r.Register(k)
	}
	return r
}

// DefaultRegistry holds the built-in trade bar and tick kinds.
func DefaultRegistry() *Registry {
	return NewRegistry(TradeBarKind{}, TickKind{})
}

// Register adds or replaces a kind.
func (r *Registry) Register(k Kind) {
	if k == nil {
		panic("feed kind required")
	}
	r.mu.Lock()
	r.kinds[strings.ToLower(k.Name())] = k
	r.mu.Unlock()
}

// Lookup finds a kind by name, case-insensitively.
func (r *Registry) Lookup(name string) (Kind, error) {
	r.mu.RLock()
	k, ok := r.kinds[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("feed kind %q: %w", name, ErrUnknownKind)
	}
	return k, nil
}

// dailyPath lays files out as root/<market>/<symbol>/<yyyymmdd>_<kind>.csv.
func dailyPath(root string, sub Subscription, kind string, date time.Time) string {
	market := string(sub.Market)
	if market == "" {
		market = string(portfolio.KindBase)
	}
	return filepath.Join(root, market, strings.ToLower(sub.Symbol), date.Format("20060102")+"_"+kind+".csv")
}
