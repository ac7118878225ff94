// Package clock abstracts time for testability. Production code
// injects Real(); tests inject a Fake with manual time control so
// retry delays and due-date checks run without real waiting.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by components that schedule work.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the caller for at least d.
	Sleep(d time.Duration)

	// NewTicker returns a ticker delivering on C every d.
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer. Read ticks from C; call Stop when
// done.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}

// Fake is a deterministic Clock for tests. Time stands still until
// Advance is called; Sleep advances time immediately and records the
// requested duration. Safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	slept   []time.Duration
	tickers []chan time.Time
}

// NewFake creates a Fake clock starting at initial.
func NewFake(initial time.Time) *Fake {
	return &Fake{now: initial}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

// Sleep advances the clock by d without blocking and records d.
func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	f.slept = append(f.slept, d)
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
}

// Slept returns the durations passed to Sleep, in order.
func (f *Fake) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]time.Duration, len(f.slept))
	copy(out, f.slept)

	return out
}

// NewTicker returns a ticker driven by Tick, not by wall time.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	f.tickers = append(f.tickers, ch)

	return &Ticker{C: ch, stop: func() {}}
}

// Tick delivers one tick to every ticker created from this clock.
// Ticks to a full channel are dropped, matching time.Ticker.
func (f *Fake) Tick() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.tickers {
		select {
		case ch <- f.now:
		default:
		}
	}
}
