// Package ticker provides an interval ticker that fires on absolute
// multiples of the interval measured from its start instant, so
// scheduling jitter and slow consumers never accumulate drift.
package ticker

import (
	"fmt"
	"sync"
	"time"
)

// Ticker delivers ticks on C aligned to multiples of the interval.
// Unlike time.Ticker, each delay is recomputed from the monotonic
// start instant, so the average period is exactly the interval even
// when individual ticks are delivered late.
type Ticker struct {
	c        chan time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// New starts a ticker firing every interval, aligned to multiples of
// the interval from the moment of creation. Unread ticks are dropped,
// matching time.Ticker semantics. Panics if interval is not positive.
func New(interval time.Duration) *Ticker {
	if interval <= 0 {
		panic(fmt.Sprintf("ticker: non-positive interval %v", interval))
	}
	t := &Ticker{
		c:    make(chan time.Time, 1),
		stop: make(chan struct{}),
	}
	go t.run(interval)
	return t
}

// C returns the channel on which ticks are delivered.
func (t *Ticker) C() <-chan time.Time {
	return t.c
}

// Stop terminates the ticker. It does not close C. Stop is idempotent
// and safe to call from any goroutine.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Ticker) run(interval time.Duration) {
	start := time.Now()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		// Fire at the next multiple of interval since start, however
		// long the previous cycle took. An exact multiple schedules a
		// full interval ahead rather than an immediate re-fire.
		elapsed := time.Since(start)
		timer.Reset(interval - elapsed%interval)

		select {
		case <-t.stop:
			return
		case now := <-timer.C:
			select {
			case t.c <- now:
			default:
			}
		}
	}
}
