// Package clockid provides ISO-8601 timestamp formatting, monotonic loop
// counters, and the TASK-NNN / subtask-letter ID scheme shared by the
// backlog and sprint state machine.
package clockid

import (
	"fmt"
	"sync"
	"time"
)

const isoLayout = "2006-01-02T15:04:05.000Z"

// Now returns the current time in UTC, truncated to millisecond precision.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// ISO8601 formats t the way every persisted document's timestamp fields do.
func ISO8601(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ParseISO8601 parses a timestamp produced by ISO8601.
func ParseISO8601(s string) (time.Time, error) {
	return time.Parse(isoLayout, s)
}

// HourBucket returns the YYYYMMDDHH key the rate limiter buckets calls by, in UTC.
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}

// TaskID renders the zero-padded, dense per-backlog task identifier.
func TaskID(n int) string {
	return fmt.Sprintf("TASK-%03d", n)
}

// SubtaskID appends the next suffix letter to a parent ID, e.g. "TASK-001" + 0 -> "TASK-001a".
func SubtaskID(parentID string, index int) string {
	return fmt.Sprintf("%s%c", parentID, 'a'+rune(index))
}

// NextSubtaskIndex returns the index (0-based) of the next subtask suffix to
// assign given the number of existing (non-removed) subtasks for a parent.
func NextSubtaskIndex(existingCount int) int {
	return existingCount
}

// LoopCounter is a simple thread-safe monotonic counter for orchestrator iterations.
type LoopCounter struct {
	mu sync.Mutex
	n  int
}

// Next increments and returns the new loop number, starting at 1.
func (c *LoopCounter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

// Current returns the current loop number without incrementing.
func (c *LoopCounter) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
