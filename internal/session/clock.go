package session

import (
	"sync"
	"time"
)

// Clock reads and pushes the simulation frontier. AdvanceTo reports whether
// the frontier moved; a timestamp at or before it is a no-op.
type Clock interface {
	Now() time.Time
	AdvanceTo(t time.Time) bool
}

// VirtualClock holds the frontier shared by the engine, the exchanges and
// the order book. Readers outnumber the single driver that moves it.
type VirtualClock struct {
	mu       sync.RWMutex
	frontier time.Time
}

func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{frontier: start}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frontier
}

func (c *VirtualClock) AdvanceTo(t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !t.After(c.frontier) {
		return false
	}
	c.frontier = t
	return true
}
