package local

import (
	"time"

	"go.uber.org/atomic"
)

// Entry is one cached value with the bookkeeping the LRU and the stats
// surface need.
type Entry struct {
	Data        []byte
	InsertedAt  time.Time
	ExpiresAt   time.Time
	AccessCount *atomic.Int64
	LastAccess  *atomic.Time
}

// NewEntry builds an Entry inserted now with the given lifetime.
func NewEntry(data []byte, ttl time.Duration, now time.Time) *Entry {
	return &Entry{
		Data:        data,
		InsertedAt:  now,
		ExpiresAt:   now.Add(ttl),
		AccessCount: atomic.NewInt64(0),
		LastAccess:  atomic.NewTime(now),
	}
}

// Expired reports whether the entry is logically absent at now. Reads
// must never return an expired entry even if it has not been evicted yet.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Touch records one access at now.
func (e *Entry) Touch(now time.Time) {
	e.AccessCount.Inc()
	e.LastAccess.Store(now)
}
