// Package breaker implements the stagnation circuit breaker from
// SPEC_FULL.md §4.4, generalized from the teacher's per-LLM-call
// CircuitBreakerClient (pkg/agent/circuit_breaker.go) to per-loop
// file-change/error signals.
package breaker

import (
	"fmt"

	"sprinty/internal/clockid"
	"sprinty/internal/statestore"
)

// State is a circuit breaker state, per Nygard's Release It pattern.
type State string

const (
	StateClosed   State = "CLOSED"
	StateHalfOpen State = "HALF_OPEN"
	StateOpen     State = "OPEN"
)

const (
	DefaultNoProgressThreshold = 3
	DefaultSameErrorThreshold  = 5
)

// Config holds the tunable thresholds.
type Config struct {
	NoProgressThreshold int
	SameErrorThreshold  int
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		NoProgressThreshold: DefaultNoProgressThreshold,
		SameErrorThreshold:  DefaultSameErrorThreshold,
	}
}

// Transition records one state change for the history document.
type Transition struct {
	Timestamp string `json:"timestamp"`
	From      State  `json:"from"`
	To        State  `json:"to"`
	Reason    string `json:"reason"`
	Loop      int    `json:"loop"`
}

// Document is the full persisted circuit-breaker state document.
type Document struct {
	State                 State        `json:"state"`
	ConsecutiveNoProgress  int          `json:"consecutive_no_progress"`
	ConsecutiveSameError   int          `json:"consecutive_same_error"`
	LastProgressLoop       int          `json:"last_progress_loop"`
	TotalOpens             int          `json:"total_opens"`
	Reason                 string       `json:"reason"`
	CurrentLoop            int          `json:"current_loop"`
	LastChange             string       `json:"last_change"`
	History                []Transition `json:"history"`
}

// Input describes the observed signals for one loop iteration.
type Input struct {
	LoopNumber   int
	FilesChanged int
	HasErrors    bool
	OutputLength int
}

// Breaker wraps a statestore.Store bound to the circuit-breaker state file.
type Breaker struct {
	store *statestore.Store
	cfg   Config
}

// New returns a Breaker persisting to path with the given thresholds.
func New(path string, cfg Config) (*Breaker, error) {
	store, err := statestore.New(path)
	if err != nil {
		return nil, err
	}
	return &Breaker{store: store, cfg: cfg}, nil
}

// Current returns the current persisted document (CLOSED zero value if new).
func (b *Breaker) Current() (Document, error) {
	doc, err := statestore.Read[Document](b.store)
	if err != nil {
		return doc, err
	}
	if doc.State == "" {
		doc.State = StateClosed
	}
	return doc, nil
}

// CanExecute reports whether the breaker currently permits an invocation:
// true in CLOSED and HALF_OPEN, false in OPEN.
func (b *Breaker) CanExecute() (bool, error) {
	doc, err := b.Current()
	if err != nil {
		return false, err
	}
	return doc.State != StateOpen, nil
}

// Record applies one loop's observed signals and returns the resulting
// document. Implements the progress rule, the error rule, and the
// CLOSED/HALF_OPEN/OPEN transition table from SPEC_FULL §4.4.
func (b *Breaker) Record(in Input) (Document, error) {
	return statestore.Update(b.store, func(d *Document) error {
		if d.State == "" {
			d.State = StateClosed
		}
		now := clockid.ISO8601(clockid.Now())
		d.CurrentLoop = in.LoopNumber

		if in.FilesChanged > 0 {
			d.ConsecutiveNoProgress = 0
			d.LastProgressLoop = in.LoopNumber
		} else {
			d.ConsecutiveNoProgress++
		}

		if in.HasErrors {
			d.ConsecutiveSameError++
		} else {
			d.ConsecutiveSameError = 0
		}

		from := d.State
		to := from
		reason := ""

		switch from {
		case StateClosed:
			switch {
			case d.ConsecutiveNoProgress >= b.cfg.NoProgressThreshold ||
				d.ConsecutiveSameError >= b.cfg.SameErrorThreshold:
				to = StateOpen
				reason = "no-progress or repeated-error threshold crossed"
			case d.ConsecutiveNoProgress >= 2:
				to = StateHalfOpen
				reason = "no-progress approaching threshold"
			}
		case StateHalfOpen:
			switch {
			case in.FilesChanged > 0:
				to = StateClosed
				reason = "recovered"
			case d.ConsecutiveNoProgress >= b.cfg.NoProgressThreshold:
				to = StateOpen
				reason = "no-progress threshold crossed while half-open"
			}
		case StateOpen:
			// No automatic exit; requires an external Reset.
		}

		if to != from {
			if to == StateOpen {
				d.TotalOpens++
			}
			d.State = to
			d.Reason = reason
			d.LastChange = now
			d.History = append(d.History, Transition{
				Timestamp: now,
				From:      from,
				To:        to,
				Reason:    reason,
				Loop:      in.LoopNumber,
			})
		}
		return nil
	})
}

// Reset restores CLOSED and zeros the counters, recording reason in the
// document and, when the prior state was not CLOSED, in the history.
func (b *Breaker) Reset(reason string) (Document, error) {
	return statestore.Update(b.store, func(d *Document) error {
		now := clockid.ISO8601(clockid.Now())
		from := d.State
		if from == "" {
			from = StateClosed
		}
		d.State = StateClosed
		d.ConsecutiveNoProgress = 0
		d.ConsecutiveSameError = 0
		d.Reason = reason
		d.LastChange = now
		if from != StateClosed {
			d.History = append(d.History, Transition{
				Timestamp: now,
				From:      from,
				To:        StateClosed,
				Reason:    fmt.Sprintf("manual reset: %s", reason),
				Loop:      d.CurrentLoop,
			})
		}
		return nil
	})
}
