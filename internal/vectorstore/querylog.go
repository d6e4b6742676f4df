package vectorstore

import (
	"sync"
	"time"
)

// DefaultQueryLogSize bounds retained query log entries.
const DefaultQueryLogSize = 10000

// QueryLogEntry records one search.
type QueryLogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Query       string    `json:"query"`
	SessionID   string    `json:"session_id,omitempty"`
	ResultCount int       `json:"result_count"`
	Degraded    bool      `json:"degraded,omitempty"`
}

// QueryLog is an append-only ring of the most recent entries.
type QueryLog struct {
	mu      sync.Mutex
	entries []QueryLogEntry
	next    int
	full    bool
}

// NewQueryLog creates a log retaining at most size entries.
func NewQueryLog(size int) *QueryLog {
	if size <= 0 {
		size = DefaultQueryLogSize
	}
	return &QueryLog{entries: make([]QueryLogEntry, size)}
}

// Append records an entry, evicting the oldest once full.
func (l *QueryLog) Append(e QueryLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (l *QueryLog) Recent(limit int) []QueryLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.lenLocked()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]QueryLogEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}

// CountSince returns how many retained entries are at or after t.
func (l *QueryLog) CountSince(t time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	n := l.lenLocked()
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		if l.entries[idx].Timestamp.Before(t) {
			break
		}
		count++
	}
	return count
}

// Len returns the number of retained entries.
func (l *QueryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lenLocked()
}

func (l *QueryLog) lenLocked() int {
	if l.full {
		return len(l.entries)
	}
	return l.next
}
