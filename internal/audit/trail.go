// Package audit keeps the append-only mutation log.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OrlandoBitencourt/gatekeep/internal/domain"
)

// DefaultRetention is the number of entries kept when no cap is configured.
const DefaultRetention = 100

// Trail is a bounded, append-only log. Entries are immutable once appended;
// when the retention cap is exceeded the oldest entries are dropped
// silently. Safe for concurrent use.
type Trail struct {
	mu        sync.Mutex
	entries   []domain.AuditEntry // oldest first
	retention int
	clock     func() time.Time
	lastTS    time.Time
	evicted   uint64
}

// New creates a trail keeping at most retention entries. Non-positive
// retention falls back to DefaultRetention.
func New(retention int) *Trail {
	return NewWithClock(retention, time.Now)
}

// NewWithClock is New with an injectable clock, for tests.
func NewWithClock(retention int, clock func() time.Time) *Trail {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Trail{
		retention: retention,
		clock:     clock,
	}
}

// Append records one mutation and returns the stored entry. Timestamps are
// forced non-decreasing even if the clock steps backwards.
func (t *Trail) Append(actor, action, targetID string) domain.AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.clock()
	if ts.Before(t.lastTS) {
		ts = t.lastTS
	}
	t.lastTS = ts

	entry := domain.AuditEntry{
		ID:        uuid.NewString(),
		Actor:     actor,
		Action:    action,
		TargetID:  targetID,
		Timestamp: ts,
	}

	t.entries = append(t.entries, entry)
	if over := len(t.entries) - t.retention; over > 0 {
		t.entries = append(t.entries[:0:0], t.entries[over:]...)
		t.evicted += uint64(over)
	}

	return entry
}

// List returns up to limit entries, newest first. A non-positive limit
// returns everything retained.
func (t *Trail) List(limit int) []domain.AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.entries)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]domain.AuditEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, t.entries[i])
	}
	return out
}

// Len returns the number of retained entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Evicted returns the total number of entries dropped under retention.
func (t *Trail) Evicted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evicted
}
