// Package keylock provides per-key mutual exclusion for adapters that
// serialise writes to the same entity id.
package keylock

import (
	"sort"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out one mutex per key. Entries are released once no caller
// holds or waits for them.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Lock acquires every key in ascending order and returns a func that
// releases them. Duplicate keys are locked once.
func (l *Locker) Lock(keys ...string) (unlock func()) {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	held := make([]*entry, 0, len(sorted))
	for _, k := range sorted {
		e := l.acquire(k)
		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(sorted[i])
		}
	}
}

func (l *Locker) acquire(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
