package testutil

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StubClock is a manually advanced clock. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return &StubClock{now: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator hands out sequential version 4 UUIDs ending in the
// counter, so test failures show which row an id belongs to:
// 00000000-0000-4000-8000-000000000001, ...02, and so on.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter uint64
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++

	var id uuid.UUID
	id[6] = 0x40
	binary.BigEndian.PutUint64(id[8:], g.counter|0x8000000000000000)
	return id
}
