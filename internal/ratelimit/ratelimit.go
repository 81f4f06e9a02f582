// Package ratelimit implements the fixed hourly-window call counter from
// SPEC_FULL.md §4.5, generalized from the teacher's per-model token-bucket
// shape (pkg/limiter/limiter.go) to a simple per-hour call count with
// automatic bucket rollover.
package ratelimit

import (
	"time"

	"sprinty/internal/clockid"
	"sprinty/internal/statestore"
)

const DefaultMaxCallsPerHour = 100

// Document is the full persisted rate-limiter state document.
type Document struct {
	HourBucket    string `json:"hour_bucket"`
	CurrentCalls  int    `json:"current_calls"`
	SessionTotal  int    `json:"session_total"`
	RateLimitHits int    `json:"rate_limit_hits"`
}

// Limiter wraps a statestore.Store bound to the rate-limiter state file.
type Limiter struct {
	store           *statestore.Store
	maxCallsPerHour int
}

// New returns a Limiter persisting to path with the given hourly call cap.
func New(path string, maxCallsPerHour int) (*Limiter, error) {
	store, err := statestore.New(path)
	if err != nil {
		return nil, err
	}
	if maxCallsPerHour <= 0 {
		maxCallsPerHour = DefaultMaxCallsPerHour
	}
	return &Limiter{store: store, maxCallsPerHour: maxCallsPerHour}, nil
}

// rollover resets the bucket's current_calls to zero if the stored hour
// bucket no longer matches now's bucket, leaving session-wide counters intact.
func rollover(d *Document, now time.Time) {
	bucket := clockid.HourBucket(now)
	if d.HourBucket != bucket {
		d.HourBucket = bucket
		d.CurrentCalls = 0
	}
}

// Current returns the current document, rolling the hour bucket over first
// if needed, without incrementing any counter.
func (l *Limiter) Current() (Document, error) {
	return statestore.Update(l.store, func(d *Document) error {
		rollover(d, clockid.Now())
		return nil
	})
}

// CanCall reports whether current_count < max_calls_per_hour for the
// current hour bucket.
func (l *Limiter) CanCall() (bool, error) {
	d, err := l.Current()
	if err != nil {
		return false, err
	}
	return d.CurrentCalls < l.maxCallsPerHour, nil
}

// Increment rolls the bucket over if needed, then atomically increments
// current_calls and session_total, returning the new document.
func (l *Limiter) Increment() (Document, error) {
	return statestore.Update(l.store, func(d *Document) error {
		rollover(d, clockid.Now())
		d.CurrentCalls++
		d.SessionTotal++
		return nil
	})
}

// RecordHit bumps the observability-only rate_limit_hits counter, recorded
// whenever the agent driver classifies a response as RateLimited.
func (l *Limiter) RecordHit() (Document, error) {
	return statestore.Update(l.store, func(d *Document) error {
		rollover(d, clockid.Now())
		d.RateLimitHits++
		return nil
	})
}

// Reset zeros current_calls and rate_limit_hits for the current hour bucket,
// leaving session_total intact.
func (l *Limiter) Reset() (Document, error) {
	return statestore.Update(l.store, func(d *Document) error {
		d.HourBucket = clockid.HourBucket(clockid.Now())
		d.CurrentCalls = 0
		d.RateLimitHits = 0
		return nil
	})
}

// WaitBetweenCalls is a cooperative delay hook the orchestrator calls while
// the hourly call cap is reached; it performs no state I/O and is safe to
// call with a zero duration to skip the delay entirely.
func WaitBetweenCalls(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}
