package clock

import (
	"sync"
	"time"

	"crmdash/internal/ports"
)

type System struct{}

var _ ports.Clock = System{}

func (System) Now() time.Time { return time.Now() }

// Fake is a manually advanced clock for simulated-time tests and demos.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

var _ ports.Clock = (*Fake)(nil)

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}
