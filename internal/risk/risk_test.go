package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quantcore/errs"
	"github.com/coachpo/quantcore/internal/orders"
)

var epoch = time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)

func order(qty int64, price int64) orders.Order {
	return orders.New("SPY", qty, orders.TypeMarket, decimal.NewFromInt(price), epoch)
}

func orderAt(at time.Time) orders.Order {
	return orders.New("SPY", 1, orders.TypeMarket, decimal.NewFromInt(1), at)
}

func TestManager_Throttle_SimulationTime(t *testing.T) {
	manager := NewManager(Limits{
		OrderThrottle: 10, // 10 orders per second
		OrderBurst:    10,
	})

	for i := 0; i < 10; i++ {
		if err := manager.CheckOrder(orderAt(epoch)); err != nil {
			t.Fatalf("order %d should have passed, but got error: %v", i+1, err)
		}
		if err := manager.Admit(orderAt(epoch)); err != nil {
			t.Fatalf("order %d should have been admitted, but got error: %v", i+1, err)
		}
	}

	started := time.Now()
	err := manager.CheckOrder(orderAt(epoch))
	if errs.CanonicalOf(err) != errs.CanonicalOrderLimitExceeded {
		t.Fatalf("11th order should have been throttled, got %v", err)
	}
	if err := manager.Admit(orderAt(epoch)); errs.CanonicalOf(err) != errs.CanonicalOrderLimitExceeded {
		t.Fatalf("11th admission should have been throttled, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 20*time.Millisecond {
		t.Fatalf("throttle blocked for %s", elapsed)
	}

	next := epoch.Add(200 * time.Millisecond)
	if err := manager.CheckOrder(orderAt(next)); err != nil {
		t.Fatalf("order after the refill interval rejected: %v", err)
	}
	if err := manager.Admit(orderAt(next)); err != nil {
		t.Fatalf("order after the refill interval not admitted: %v", err)
	}
	if manager.Admitted() != 11 {
		t.Fatalf("admitted = %d, want 11", manager.Admitted())
	}
}

func TestManager_CheckOrder_DoesNotConsume(t *testing.T) {
	manager := NewManager(Limits{OrderThrottle: 1, MaxOrders: 1})

	for i := 0; i < 5; i++ {
		if err := manager.CheckOrder(order(1, 1)); err != nil {
			t.Fatalf("check %d rejected: %v", i+1, err)
		}
	}
	if manager.Admitted() != 0 {
		t.Fatalf("admitted = %d after checks only, want 0", manager.Admitted())
	}
	if err := manager.Admit(order(1, 1)); err != nil {
		t.Fatalf("admit rejected: %v", err)
	}
}

func TestManager_CheckOrder_SizeLimits(t *testing.T) {
	manager := NewManager(Limits{MaxOrderQuantity: 10, MaxNotionalValue: decimal.NewFromInt(500)})

	err := manager.CheckOrder(order(-11, 1))
	if errs.CanonicalOf(err) != errs.CanonicalOrderLimitExceeded {
		t.Fatalf("expected order limit rejection, got %v", err)
	}
	if err := manager.CheckOrder(order(6, 100)); err == nil {
		t.Fatal("order above max notional should have been rejected")
	}
	if err := manager.CheckOrder(order(5, 100)); err != nil {
		t.Fatalf("order within limits rejected: %v", err)
	}
}

func TestManager_SizeRejectionSkipsThrottle(t *testing.T) {
	manager := NewManager(Limits{MaxOrderQuantity: 10, OrderThrottle: 1})

	if err := manager.CheckOrder(order(11, 1)); err == nil {
		t.Fatal("oversized order should have been rejected")
	}
	if err := manager.Admit(order(1, 1)); err != nil {
		t.Fatalf("throttle token was spent on a rejected order: %v", err)
	}
}

func TestManager_RunCap(t *testing.T) {
	manager := NewManager(Limits{MaxOrders: 2})

	for i := 0; i < 2; i++ {
		if err := manager.CheckOrder(order(1, 1)); err != nil {
			t.Fatalf("order %d rejected: %v", i+1, err)
		}
		if err := manager.Admit(order(1, 1)); err != nil {
			t.Fatalf("order %d not admitted: %v", i+1, err)
		}
	}
	err := manager.CheckOrder(order(1, 1))
	if errs.ResultCodeOf(err) != errs.ResultOrderLimitExceeded {
		t.Fatalf("expected result code -5, got %v", err)
	}
	if err := manager.Admit(order(1, 1)); errs.ResultCodeOf(err) != errs.ResultOrderLimitExceeded {
		t.Fatalf("expected result code -5 on admit, got %v", err)
	}
	if manager.Admitted() != 2 {
		t.Fatalf("admitted = %d, want 2", manager.Admitted())
	}
}

func TestOrderCap(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := OrderCap(start, start.AddDate(0, 0, 30), 0); got != 3000 {
		t.Fatalf("OrderCap = %d, want 3000", got)
	}
	if got := OrderCap(start, start, 5); got != 5 {
		t.Fatalf("same-day OrderCap = %d, want 5", got)
	}
}
