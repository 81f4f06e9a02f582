// Package sprint implements the sprint/phase state machine from
// SPEC_FULL.md §4.3: a linear tour of phases with one feedback (rework) arc,
// bounded per-phase loop counts, resume detection, and the terminal final-QA
// gate.
package sprint

import (
	"fmt"

	"sprinty/internal/clockid"
	"sprinty/internal/statestore"
)

// Phase is one stage of a sprint.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhasePlanning       Phase = "planning"
	PhaseImplementation Phase = "implementation"
	PhaseQA             Phase = "qa"
	PhaseReview         Phase = "review"
	PhaseFinalQA        Phase = "final_qa"
)

// Role is the agent persona invoked for a phase.
type Role string

const (
	RoleProductOwner Role = "product_owner"
	RoleDeveloper    Role = "developer"
	RoleQA           Role = "qa"
)

// RoleForPhase returns the role invoked for phase, per SPEC_FULL §4.3.
func RoleForPhase(p Phase) Role {
	switch p {
	case PhaseInitialization, PhasePlanning, PhaseReview:
		return RoleProductOwner
	case PhaseImplementation:
		return RoleDeveloper
	case PhaseQA, PhaseFinalQA:
		return RoleQA
	default:
		return RoleProductOwner
	}
}

// phaseTransitions is the canonical from/to map for the linear tour, mirroring
// the teacher's architectTransitions table shape: every legal next phase for a
// given phase, independent of the data that decides when to take it.
var phaseTransitions = map[Phase][]Phase{
	PhaseInitialization: {PhasePlanning},
	PhasePlanning:       {PhaseImplementation},
	PhaseImplementation: {PhaseQA},
	PhaseQA:             {PhaseReview, PhaseImplementation}, // review on pass, rework arc on qa_failed
	PhaseReview:         {PhasePlanning, PhaseFinalQA},      // next sprint's planning, or the terminal final-QA gate
	PhaseFinalQA:        {},
}

// IsValidTransition reports whether moving from 'from' to 'to' is allowed by
// the phase table.
func IsValidTransition(from, to Phase) bool {
	for _, p := range phaseTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// FinalQAStatus enumerates the outcome of the terminal final-QA gate.
type FinalQAStatus string

const (
	FinalQANotRun     FinalQAStatus = "not_run"
	FinalQAInProgress FinalQAStatus = "in_progress"
	FinalQAPassed     FinalQAStatus = "passed"
	FinalQAFailed     FinalQAStatus = "failed"
)

// HistoryEntry records one sprint's lifecycle.
type HistoryEntry struct {
	Sprint    int    `json:"sprint"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
	Status    string `json:"status"`
}

// DefaultMaxLoops are the per-phase loop ceilings from SPEC_FULL §4.3.
var DefaultMaxLoops = map[Phase]int{
	PhasePlanning:       3,
	PhaseImplementation: 20,
	PhaseQA:             5,
	PhaseReview:         2,
}

const (
	DefaultReworkLimit       = 3
	DefaultMaxSprints        = 10
	DefaultMaxFinalQAAttempts = 3
)

// State is the full persisted sprint_state.json document.
type State struct {
	CurrentSprint    int            `json:"current_sprint"`
	CurrentPhase     Phase          `json:"current_phase"`
	PhaseLoopCount   int            `json:"phase_loop_count"`
	ReworkCount      int            `json:"rework_count"`
	ProjectDone      bool           `json:"project_done"`
	FinalQAStatus    FinalQAStatus  `json:"final_qa_status"`
	FinalQAAttempts  int            `json:"final_qa_attempts"`
	StartedAt        string         `json:"started_at"`
	LastUpdated      string         `json:"last_updated"`
	SprintsHistory   []HistoryEntry `json:"sprints_history"`
}

// Config holds the tunable thresholds, overridable from config.json.
type Config struct {
	MaxLoops           map[Phase]int
	ReworkLimit        int
	MaxSprints         int
	MaxFinalQAAttempts int
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	maxLoops := make(map[Phase]int, len(DefaultMaxLoops))
	for k, v := range DefaultMaxLoops {
		maxLoops[k] = v
	}
	return Config{
		MaxLoops:           maxLoops,
		ReworkLimit:        DefaultReworkLimit,
		MaxSprints:         DefaultMaxSprints,
		MaxFinalQAAttempts: DefaultMaxFinalQAAttempts,
	}
}

// ErrMaxSprintsReached is returned by StartSprint when incrementing would
// exceed cfg.MaxSprints.
var ErrMaxSprintsReached = fmt.Errorf("sprint: max sprints reached")

// Machine wraps a statestore.Store bound to sprint_state.json plus the
// configured thresholds.
type Machine struct {
	store *statestore.Store
	cfg   Config
}

// New returns a Machine persisting to path with the given thresholds.
func New(path string, cfg Config) (*Machine, error) {
	store, err := statestore.New(path)
	if err != nil {
		return nil, err
	}
	return &Machine{store: store, cfg: cfg}, nil
}

// Current returns the current persisted state (zero value if uninitialized).
func (m *Machine) Current() (State, error) {
	return statestore.Read[State](m.store)
}

// StartSprint increments current_sprint, resets phase counters, appends a
// history entry, and sets phase to planning. Returns ErrMaxSprintsReached
// (without mutating state) if the new sprint number would exceed MaxSprints.
func (m *Machine) StartSprint() (State, error) {
	return statestore.Update(m.store, func(s *State) error {
		next := s.CurrentSprint + 1
		if next > m.cfg.MaxSprints {
			return ErrMaxSprintsReached
		}
		now := clockid.ISO8601(clockid.Now())
		if s.StartedAt == "" {
			s.StartedAt = now
		}
		s.CurrentSprint = next
		s.PhaseLoopCount = 0
		s.ReworkCount = 0
		s.CurrentPhase = PhasePlanning
		s.LastUpdated = now
		s.SprintsHistory = append(s.SprintsHistory, HistoryEntry{
			Sprint:    next,
			StartedAt: now,
			Status:    "in_progress",
		})
		return nil
	})
}

// EndSprint records ended_at and status on the most recent history entry,
// resets current_phase to planning (avoiding false resume detection on
// restart), and leaves current_sprint unchanged.
func (m *Machine) EndSprint(status string) (State, error) {
	return statestore.Update(m.store, func(s *State) error {
		now := clockid.ISO8601(clockid.Now())
		if n := len(s.SprintsHistory); n > 0 {
			s.SprintsHistory[n-1].EndedAt = now
			s.SprintsHistory[n-1].Status = status
		}
		s.CurrentPhase = PhasePlanning
		s.LastUpdated = now
		return nil
	})
}

// AdvancePhase moves to the next phase if the transition is legal, resetting
// the per-phase loop count. Rework does not go through AdvancePhase; see
// RecordRework.
func (m *Machine) AdvancePhase(to Phase) (State, error) {
	return statestore.Update(m.store, func(s *State) error {
		if !IsValidTransition(s.CurrentPhase, to) {
			return fmt.Errorf("sprint: illegal phase transition %s -> %s", s.CurrentPhase, to)
		}
		s.CurrentPhase = to
		s.PhaseLoopCount = 0
		s.LastUpdated = clockid.ISO8601(clockid.Now())
		return nil
	})
}

// RecordRework implements the rework arc: increments rework_count and returns
// the phase to implementation. If rework_count would exceed cfg.ReworkLimit,
// the sprint is ended with status "aborted" instead and the phase is left for
// the caller to advance to the next sprint via StartSprint.
func (m *Machine) RecordRework() (State, bool, error) {
	var aborted bool
	s, err := statestore.Update(m.store, func(s *State) error {
		s.ReworkCount++
		now := clockid.ISO8601(clockid.Now())
		s.LastUpdated = now
		if s.ReworkCount > m.cfg.ReworkLimit {
			aborted = true
			if n := len(s.SprintsHistory); n > 0 {
				s.SprintsHistory[n-1].EndedAt = now
				s.SprintsHistory[n-1].Status = "aborted"
			}
			s.CurrentPhase = PhasePlanning
			return nil
		}
		s.CurrentPhase = PhaseImplementation
		s.PhaseLoopCount = 0
		return nil
	})
	return s, aborted, err
}

// IncrementPhaseLoop bumps phase_loop_count and reports whether the phase's
// configured max_loops has been exceeded (forcing the phase to terminate
// regardless of its completion predicate).
func (m *Machine) IncrementPhaseLoop() (State, bool, error) {
	var exceeded bool
	s, err := statestore.Update(m.store, func(s *State) error {
		s.PhaseLoopCount++
		s.LastUpdated = clockid.ISO8601(clockid.Now())
		max, ok := m.cfg.MaxLoops[s.CurrentPhase]
		exceeded = ok && s.PhaseLoopCount > max
		return nil
	})
	return s, exceeded, err
}

// IsResuming reports whether the persisted state indicates an interrupted
// run that should resume in place rather than starting sprint 1, per
// SPEC_FULL §4.3: current_sprint >= 1 AND (current_phase is one of
// {implementation, qa, review, final_qa}, OR current_phase == planning with
// tasks already assigned to the sprint, signaled by hasAssignedTasks).
func IsResuming(s State, hasAssignedTasks bool) bool {
	if s.CurrentSprint < 1 {
		return false
	}
	switch s.CurrentPhase {
	case PhaseImplementation, PhaseQA, PhaseReview, PhaseFinalQA:
		return true
	case PhasePlanning:
		return hasAssignedTasks
	default:
		return false
	}
}

// NeedsFinalQASprint reports whether a synthetic final-QA sprint should run:
// backlog is complete, final_qa_status != passed, and attempts remain. Once
// FinalQAAttempts reaches the max with the last status still failed, this
// returns false permanently (SPEC_FULL §4.3 [FULL], DESIGN.md Open Question
// (b): halt and surface rather than loop or auto-abort).
func (m *Machine) NeedsFinalQASprint(backlogComplete bool) (bool, error) {
	s, err := m.Current()
	if err != nil {
		return false, err
	}
	if !backlogComplete {
		return false, nil
	}
	if s.FinalQAStatus == FinalQAPassed {
		return false, nil
	}
	if s.FinalQAAttempts >= m.cfg.MaxFinalQAAttempts {
		return false, nil
	}
	return true, nil
}

// IsFinalQAExhausted reports the terminal halt condition: attempts maxed out
// and the run never passed.
func (m *Machine) IsFinalQAExhausted() (bool, error) {
	s, err := m.Current()
	if err != nil {
		return false, err
	}
	return s.FinalQAAttempts >= m.cfg.MaxFinalQAAttempts && s.FinalQAStatus != FinalQAPassed, nil
}

// StartFinalQAAttempt enters phase=final_qa and increments final_qa_attempts.
func (m *Machine) StartFinalQAAttempt() (State, error) {
	return statestore.Update(m.store, func(s *State) error {
		s.CurrentPhase = PhaseFinalQA
		s.FinalQAStatus = FinalQAInProgress
		s.FinalQAAttempts++
		s.LastUpdated = clockid.ISO8601(clockid.Now())
		return nil
	})
}

// RecordFinalQAResult sets final_qa_status to the agent-reported outcome and,
// if passed, marks the project done.
func (m *Machine) RecordFinalQAResult(passed bool) (State, error) {
	return statestore.Update(m.store, func(s *State) error {
		if passed {
			s.FinalQAStatus = FinalQAPassed
			s.ProjectDone = true
		} else {
			s.FinalQAStatus = FinalQAFailed
		}
		s.LastUpdated = clockid.ISO8601(clockid.Now())
		return nil
	})
}
