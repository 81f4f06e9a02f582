// Package agentstatus models the shared status.json document from
// SPEC_FULL.md §3/§4.6: an orchestrator-owned envelope wrapping one
// agent-owned subobject, agent_status, that must be preserved verbatim
// across every orchestrator write. Grounded on the teacher's
// other_examples devpilot-agents wrapper.StateWriter merge pattern
// (mergeExecutionFields), generalized from its single "execution" field to
// the spec's explicit ownership split.
package agentstatus

import (
	"sprinty/internal/statestore"
)

// TestsStatus enumerates the agent's self-reported test outcome.
type TestsStatus string

const (
	TestsNotRun  TestsStatus = "NOT_RUN"
	TestsPassing TestsStatus = "PASSING"
	TestsFailing TestsStatus = "FAILING"
)

// AgentStatus is the subobject written exclusively by the agent subprocess.
// The orchestrator reads it but must never set any of its fields.
type AgentStatus struct {
	Role             string      `json:"role"`
	Phase            string      `json:"phase"`
	Sprint           int         `json:"sprint"`
	TasksCompleted   []string    `json:"tasks_completed,omitempty"`
	TasksRemaining   []string    `json:"tasks_remaining,omitempty"`
	Blockers         []string    `json:"blockers,omitempty"`
	StoryPointsDone  int         `json:"story_points_done"`
	TestsStatus      TestsStatus `json:"tests_status"`
	PhaseComplete    bool        `json:"phase_complete"`
	ProjectDone      bool        `json:"project_done"`
	NextAction       string      `json:"next_action,omitempty"`
	LastUpdated      string      `json:"last_updated"`
}

// OrchestratorFields are the keys the orchestrator itself owns in the shared
// document: loop bookkeeping surfaced for operators running `sprinty status`.
type OrchestratorFields struct {
	LoopNumber      int    `json:"loop_number"`
	LastRole        string `json:"last_role"`
	LastPhase       string `json:"last_phase"`
	LastSprint      int    `json:"last_sprint"`
	LastClassification string `json:"last_classification"`
	LastUpdated     string `json:"last_updated"`
}

// Document is the full persisted status.json shape: orchestrator-owned
// fields at the top level, the agent-owned subobject nested under
// agent_status exactly as the spec names it.
type Document struct {
	OrchestratorFields
	AgentStatus AgentStatus `json:"agent_status"`
}

// Store wraps a statestore.Store bound to status.json.
type Store struct {
	store *statestore.Store
}

// New returns a Store persisting to path.
func New(path string) (*Store, error) {
	store, err := statestore.New(path)
	if err != nil {
		return nil, err
	}
	return &Store{store: store}, nil
}

// Current returns the full document as currently persisted.
func (s *Store) Current() (Document, error) {
	return statestore.Read[Document](s.store)
}

// Exists reports whether status.json has ever been written.
func (s *Store) Exists() bool {
	return s.store.Exists()
}

// UpdateOrchestratorFields atomically merges fn's mutations into the
// orchestrator-owned portion of the document. The read-modify-write happens
// through the same statestore.Update primitive as every other document, and
// fn only ever sees and mutates OrchestratorFields, so the agent_status
// fields declared on AgentStatus are written back with the values just read.
// agent_status is decoded and re-encoded through that struct, so it is not
// kept byte-for-byte: keys AgentStatus does not declare are dropped.
func (s *Store) UpdateOrchestratorFields(fn func(*OrchestratorFields)) (Document, error) {
	return statestore.Update(s.store, func(d *Document) error {
		fn(&d.OrchestratorFields)
		return nil
	})
}

// ReadAgentStatus returns just the agent-owned subobject, for the driver's
// strict status extraction (SPEC_FULL §4.6).
func (s *Store) ReadAgentStatus() (AgentStatus, error) {
	doc, err := s.Current()
	if err != nil {
		return AgentStatus{}, err
	}
	return doc.AgentStatus, nil
}
