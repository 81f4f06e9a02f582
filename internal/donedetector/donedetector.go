// Package donedetector aggregates the six independent completion signals
// from SPEC_FULL.md §4.7 into a single should-exit decision, gated by the
// final-QA outcome and the optional @fix_plan.md external task list.
// Designed fresh for this spec (no direct teacher analog for the signal
// aggregation itself) but follows the append-only history-list + threshold
// shape of internal/breaker, and is grounded on the teacher's general
// pattern of keeping control-plane decisions in small, independently
// testable aggregator types.
package donedetector

import (
	"bufio"
	"os"
	"strings"

	"sprinty/internal/statestore"
)

const (
	DefaultMaxConsecutiveIdleLoops = 5
	DefaultMaxConsecutiveDoneSignals = 3
	DefaultMaxConsecutiveTestLoops = 3
)

// Config holds the soft-signal thresholds; the completion-indicators signal
// shares MaxConsecutiveDoneSignals, so four signals use three thresholds.
type Config struct {
	MaxConsecutiveIdleLoops   int
	MaxConsecutiveDoneSignals int
	MaxConsecutiveTestLoops   int
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveIdleLoops:   DefaultMaxConsecutiveIdleLoops,
		MaxConsecutiveDoneSignals: DefaultMaxConsecutiveDoneSignals,
		MaxConsecutiveTestLoops:   DefaultMaxConsecutiveTestLoops,
	}
}

// Document is the persisted .exit_signals document: four append-only lists
// of loop numbers.
type Document struct {
	IdleLoops            []int `json:"idle_loops"`
	DoneSignals          []int `json:"done_signals"`
	CompletionIndicators []int `json:"completion_indicators"`
	TestOnlyLoops        []int `json:"test_only_loops"`
}

// Detector wraps a statestore.Store bound to .exit_signals plus the
// configured thresholds.
type Detector struct {
	store       *statestore.Store
	cfg         Config
	fixPlanPath string
}

// New returns a Detector persisting its signal history to path and checking
// fixPlanPath (typically @fix_plan.md) for remaining work before any soft
// exit.
func New(path, fixPlanPath string, cfg Config) (*Detector, error) {
	store, err := statestore.New(path)
	if err != nil {
		return nil, err
	}
	return &Detector{store: store, cfg: cfg, fixPlanPath: fixPlanPath}, nil
}

// LoopObservation is what the orchestrator feeds the detector each
// iteration.
type LoopObservation struct {
	LoopNumber        int
	FilesChanged      int
	AgentReportsDone  bool  // agent_status.project_done, or a secondary DONE signal
	CompletionPhrase  bool  // stdout matched a completion_indicators pattern
	TestOnlyEdit      bool  // this loop's file changes were test files only
	BacklogComplete   bool
	FinalQAPassed     bool
}

// Record appends loop to whichever signal streams apply, based on obs.
func (d *Detector) Record(obs LoopObservation) (Document, error) {
	return statestore.Update(d.store, func(doc *Document) error {
		if obs.FilesChanged == 0 {
			doc.IdleLoops = append(doc.IdleLoops, obs.LoopNumber)
		}
		if obs.AgentReportsDone {
			doc.DoneSignals = append(doc.DoneSignals, obs.LoopNumber)
		}
		if obs.CompletionPhrase {
			doc.CompletionIndicators = append(doc.CompletionIndicators, obs.LoopNumber)
		}
		if obs.TestOnlyEdit {
			doc.TestOnlyLoops = append(doc.TestOnlyLoops, obs.LoopNumber)
		}
		return nil
	})
}

// ExitReason names which signal (if any) triggered should-exit.
type ExitReason string

const (
	ReasonBacklogComplete      ExitReason = "backlog_complete"
	ReasonIdleLoops            ExitReason = "idle_loops"
	ReasonDoneSignals          ExitReason = "done_signals"
	ReasonCompletionIndicators ExitReason = "completion_indicators"
	ReasonTestOnlyLoops        ExitReason = "test_only_loops"
)

// ShouldExit implements SPEC_FULL §4.7's should_exit() decision:
//  1. final_qa_passed AND (backlog_complete OR agent reports project_done)
//     -> ReasonBacklogComplete, unconditionally (this is the hard exit; the
//     fix-plan gate never blocks it).
//  2. Any soft signal's most-recent consecutive run crosses its threshold
//     AND @fix_plan.md (if present) has no remaining "- [ ] " items ->
//     that signal's reason.
//  3. Otherwise: ("", false).
func (d *Detector) ShouldExit(obs LoopObservation) (ExitReason, bool, error) {
	if obs.FinalQAPassed && (obs.BacklogComplete || obs.AgentReportsDone) {
		return ReasonBacklogComplete, true, nil
	}

	doc, err := statestore.Read[Document](d.store)
	if err != nil {
		return "", false, err
	}

	hasWork, err := d.HasRemainingFixPlanWork()
	if err != nil {
		return "", false, err
	}
	if hasWork {
		return "", false, nil
	}

	if consecutiveTrailingRun(doc.IdleLoops) >= d.cfg.MaxConsecutiveIdleLoops {
		return ReasonIdleLoops, true, nil
	}
	if consecutiveTrailingRun(doc.DoneSignals) >= d.cfg.MaxConsecutiveDoneSignals {
		return ReasonDoneSignals, true, nil
	}
	if consecutiveTrailingRun(doc.CompletionIndicators) >= d.cfg.MaxConsecutiveDoneSignals {
		return ReasonCompletionIndicators, true, nil
	}
	if consecutiveTrailingRun(doc.TestOnlyLoops) >= d.cfg.MaxConsecutiveTestLoops {
		return ReasonTestOnlyLoops, true, nil
	}
	return "", false, nil
}

// consecutiveTrailingRun counts how many of the list's trailing entries form
// a run of consecutive loop numbers (n, n+1, n+2, ...), i.e. how many most
// recent loops in a row triggered this signal.
func consecutiveTrailingRun(loops []int) int {
	if len(loops) == 0 {
		return 0
	}
	run := 1
	for i := len(loops) - 1; i > 0; i-- {
		if loops[i]-loops[i-1] == 1 {
			run++
		} else {
			break
		}
	}
	return run
}

// fixPlanPendingPrefix is the markdown task-list marker for a not-yet-done
// item (SPEC_FULL §4.7).
const fixPlanPendingPrefix = "- [ ] "

// HasRemainingFixPlanWork parses the fix-plan file (if present) and returns
// true iff any line matches "- [ ] " — an unchecked markdown task. A missing
// file means no remaining work (soft signals are free to fire).
func (d *Detector) HasRemainingFixPlanWork() (bool, error) {
	if d.fixPlanPath == "" {
		return false, nil
	}
	f, err := os.Open(d.fixPlanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.HasPrefix(strings.TrimLeft(scanner.Text(), " \t"), fixPlanPendingPrefix) {
			return true, nil
		}
	}
	return false, scanner.Err()
}
