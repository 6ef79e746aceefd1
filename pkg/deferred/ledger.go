package deferred

import (
	"sync"
	"time"
)

// ledger remembers when each throttle key last ran.
// Entries are only removed by reset/resetAll.
type ledger struct {
	now func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func newLedger(now func() time.Time) *ledger {
	if now == nil {
		now = time.Now
	}
	return &ledger{now: now, last: make(map[string]time.Time)}
}

// stamp records one accepted tryAcquire so it can be rolled back.
type stamp struct {
	at      time.Time
	prev    time.Time
	hadPrev bool
}

// tryAcquire accepts key when interval has elapsed since the last accepted
// call (or there was none) and records now as the new last execution.
// Check and update happen under one lock. remaining is set when rejected.
func (l *ledger) tryAcquire(key string, interval time.Duration) (ok bool, remaining time.Duration, st stamp) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	last, had := l.last[key]
	if had && interval > 0 {
		if elapsed := now.Sub(last); elapsed < interval {
			return false, interval - elapsed, stamp{}
		}
	}
	l.last[key] = now
	return true, 0, stamp{at: now, prev: last, hadPrev: had}
}

// release undoes the acquisition recorded in st, but only while key still
// holds that timestamp. A later acceptance is never disturbed.
func (l *ledger) release(key string, st stamp) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.last[key]
	if !ok || !cur.Equal(st.at) {
		return false
	}
	if st.hadPrev {
		l.last[key] = st.prev
	} else {
		delete(l.last, key)
	}
	return true
}

func (l *ledger) reset(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.last[key]; !ok {
		return false
	}
	delete(l.last, key)
	return true
}

func (l *ledger) resetAll() int {
	l.mu.Lock()
	n := len(l.last)
	l.last = make(map[string]time.Time)
	l.mu.Unlock()
	return n
}

func (l *ledger) len() int {
	l.mu.Lock()
	n := len(l.last)
	l.mu.Unlock()
	return n
}
