// Package domain is a sample shared context for condition-driven units:
// time-stamped records keyed by name, plus goals, rules and actions that keep
// those records present and fresh.
package domain

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultHistory = 64

type Record struct {
	Key   string    `json:"key"`
	Value string    `json:"value"`
	At    time.Time `json:"at"`
}

// Tracker holds the latest records per key. It is safe for concurrent use so
// that one tracker can back several twins.
type Tracker struct {
	mu      sync.RWMutex
	records map[string][]Record
	history int
	now     func() time.Time
}

type TrackerOption func(*Tracker)

// WithHistory caps the records kept per key.
func WithHistory(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.history = n
		}
	}
}

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{records: map[string][]Record{}, history: defaultHistory, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Add stores value under key stamped with the tracker clock.
func (t *Tracker) Add(key, value string) Record {
	r := Record{Key: normKey(key), Value: value, At: t.now()}
	t.mu.Lock()
	rs := append(t.records[r.Key], r)
	if len(rs) > t.history {
		rs = append([]Record(nil), rs[len(rs)-t.history:]...)
	}
	t.records[r.Key] = rs
	t.mu.Unlock()
	return r
}

func (t *Tracker) Latest(key string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rs := t.records[normKey(key)]
	if len(rs) == 0 {
		return Record{}, false
	}
	return rs[len(rs)-1], true
}

func (t *Tracker) Contains(key, value string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.records[normKey(key)] {
		if r.Value == value {
			return true
		}
	}
	return false
}

// Age returns how old the latest record for key is.
func (t *Tracker) Age(key string) (time.Duration, bool) {
	r, ok := t.Latest(key)
	if !ok {
		return 0, false
	}
	return t.now().Sub(r.At), true
}

func (t *Tracker) Len(key string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records[normKey(key)])
}

func normKey(key string) string { return strings.TrimSpace(key) }

func (t *Tracker) Keys() []string {
	t.mu.RLock()
	keys := make([]string, 0, len(t.records))
	for k := range t.records {
		keys = append(keys, k)
	}
	t.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
