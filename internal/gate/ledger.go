package gate

import (
	"context"
	"sync"
	"time"
)

// Ledger records accepted submission timestamps per client identifier.
type Ledger struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	window  time.Duration
}

// NewLedger returns an empty ledger counting submissions over window.
func NewLedger(window time.Duration) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ledger{
		entries: make(map[string][]time.Time),
		window:  window,
	}
}

// Window returns the rolling window the ledger counts over.
func (l *Ledger) Window() time.Duration { return l.window }

// Count returns the number of submissions for clientID within the window
// ending at now, pruning anything older.
func (l *Ledger) Count(clientID string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pruneLocked(clientID, now))
}

// Clients returns the number of client identifiers currently tracked.
func (l *Ledger) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// reserve appends now for clientID only if fewer than max submissions are
// within the window. The check and the append happen under one lock.
func (l *Ledger) reserve(clientID string, now time.Time, max int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.pruneLocked(clientID, now)
	if len(ts) >= max {
		return false
	}
	l.entries[clientID] = append(ts, now)
	return true
}

// retryAfter returns how long until the oldest in-window submission for
// clientID expires, or 0 when nothing is recorded.
func (l *Ledger) retryAfter(clientID string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.pruneLocked(clientID, now)
	if len(ts) == 0 {
		return 0
	}
	return ts[0].Add(l.window).Sub(now)
}

// full reports whether clientID has max or more submissions in the window.
func (l *Ledger) full(clientID string, now time.Time, max int) bool {
	return l.Count(clientID, now) >= max
}

// remove drops one timestamp equal to at from clientID's sequence.
func (l *Ledger) remove(clientID string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.entries[clientID]
	for i, t := range ts {
		if t.Equal(at) {
			ts = append(ts[:i:i], ts[i+1:]...)
			break
		}
	}
	if len(ts) == 0 {
		delete(l.entries, clientID)
		return
	}
	l.entries[clientID] = ts
}

// pruneLocked filters clientID's sequence to the window and stores the result.
// Caller must hold l.mu.
func (l *Ledger) pruneLocked(clientID string, now time.Time) []time.Time {
	ts, ok := l.entries[clientID]
	if !ok {
		return nil
	}
	kept := l.within(ts, now)
	if len(kept) == 0 {
		delete(l.entries, clientID)
		return nil
	}
	l.entries[clientID] = kept
	return kept
}

// within returns the suffix of ts that falls inside the window ending at now.
// ts is chronological so everything before the first kept entry is expired.
func (l *Ledger) within(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	for i, t := range ts {
		if t.After(cutoff) {
			if i == 0 {
				return ts
			}
			out := make([]time.Time, len(ts)-i)
			copy(out, ts[i:])
			return out
		}
	}
	return nil
}

// Sweep prunes every client to the window ending at now and deletes clients
// left with no submissions. Returns the clients still tracked and the number
// removed.
func (l *Ledger) Sweep(now time.Time) (clients, removed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, ts := range l.entries {
		kept := l.within(ts, now)
		if len(kept) == 0 {
			delete(l.entries, id)
			removed++
			continue
		}
		l.entries[id] = kept
	}
	return len(l.entries), removed
}

// RunSweeper sweeps the ledger every interval until ctx is cancelled.
// onSweep, if set, receives the results of each sweep.
func (l *Ledger) RunSweeper(ctx context.Context, interval time.Duration, onSweep func(clients, removed int)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, removed := l.Sweep(now)
			if onSweep != nil {
				onSweep(n, removed)
			}
		}
	}
}
