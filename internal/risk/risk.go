// Package risk applies pre-trade limits that are independent of capital:
// order rate, order count per run and per-order size.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/orders"
)

// DefaultOrdersPerDay bounds how many orders a run may place per simulated day.
const DefaultOrdersPerDay = 100

// Limits defines risk parameters for a single strategy.
type Limits struct {
	// MaxOrderQuantity caps the absolute size of a single order. Zero disables the check.
	MaxOrderQuantity int64 `yaml:"maxOrderQuantity"`

	// MaxNotionalValue caps the absolute value of a single order. Zero disables the check.
	MaxNotionalValue decimal.Decimal `yaml:"maxNotionalValue"`

	// OrderThrottle is the maximum rate of orders per second. Zero disables throttling.
	OrderThrottle float64 `yaml:"orderThrottle"`

	// OrderBurst is the throttle bucket size.
	OrderBurst int `yaml:"orderBurst"`

	// MaxOrders caps the number of orders admitted during a run. Zero disables the check.
	MaxOrders int `yaml:"maxOrders"`
}

// OrderCap returns the order count allowed for a run spanning start to end
// at perDay orders per simulated day.
func OrderCap(start, end time.Time, perDay int) int {
	if perDay <= 0 {
		perDay = DefaultOrdersPerDay
	}
	days := int(end.Sub(start).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days * perDay
}

// Manager enforces risk limits for trading strategies. The throttle is
// measured in simulation time: each order is charged at its own timestamp.
type Manager struct {
	limits Limits

	mu       sync.Mutex
	limiter  *rate.Limiter // nil when throttling is disabled
	admitted int
}

// NewManager creates a new risk manager with the given limits.
func NewManager(limits Limits) *Manager {
	m := &Manager{limits: limits}
	if limits.OrderThrottle > 0 {
		burst := limits.OrderBurst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(limits.OrderThrottle), burst)
	}
	return m
}

// CheckOrder evaluates an order against the configured limits without
// consuming anything. Admit charges the order once it is accepted.
func (m *Manager) CheckOrder(order orders.Order) error {
	if limit := m.limits.MaxOrderQuantity; limit > 0 && order.AbsoluteQuantity() > limit {
		return limitExceeded(fmt.Sprintf("order quantity %d exceeds max order quantity %d", order.AbsoluteQuantity(), limit))
	}
	if limit := m.limits.MaxNotionalValue; limit.IsPositive() && order.Value().Abs().GreaterThan(limit) {
		return limitExceeded(fmt.Sprintf("order value %s exceeds max notional %s", order.Value().Abs(), limit))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.capLocked(); err != nil {
		return err
	}
	if m.limiter != nil && m.limiter.TokensAt(order.Time) < 1 {
		return throttled()
	}
	return nil
}

// Admit counts an accepted order against the run cap and takes a throttle
// token at the order's timestamp. It fails without side effects when either
// limit has been reached since CheckOrder.
func (m *Manager) Admit(order orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.capLocked(); err != nil {
		return err
	}
	if m.limiter != nil && !m.limiter.AllowN(order.Time, 1) {
		return throttled()
	}
	m.admitted++
	return nil
}

// Admitted reports how many orders were admitted.
func (m *Manager) Admitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admitted
}

func (m *Manager) capLocked() error {
	if m.limits.MaxOrders > 0 && m.admitted >= m.limits.MaxOrders {
		return limitExceeded(fmt.Sprintf("order count reached the run limit of %d", m.limits.MaxOrders))
	}
	return nil
}

func throttled() error {
	return limitExceeded("order throttle limit exceeded")
}

func limitExceeded(message string) error {
	return errs.New("risk", errs.CodeValidation,
		errs.WithCanonicalCode(errs.CanonicalOrderLimitExceeded),
		errs.WithMessage(message))
}
