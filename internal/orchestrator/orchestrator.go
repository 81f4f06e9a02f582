// Package orchestrator implements the ten-step iteration loop from
// SPEC_FULL.md §4.8: the glue that drives one project's sprint/phase state
// machine forward one agent invocation at a time, gated by the circuit
// breaker and rate limiter, and terminated by the done detector. Grounded on
// the teacher's pkg/orchestrator/loop.go main iteration (the
// gate-invoke-measure-record shape) adapted to the spec's single-project,
// single-subprocess-at-a-time control flow.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sprinty/internal/agentdriver"
	"sprinty/internal/agentstatus"
	"sprinty/internal/audit"
	"sprinty/internal/backlog"
	"sprinty/internal/breaker"
	"sprinty/internal/clockid"
	"sprinty/internal/donedetector"
	"sprinty/internal/logx"
	"sprinty/internal/metricspkg"
	"sprinty/internal/promptkit"
	"sprinty/internal/ratelimit"
	"sprinty/internal/sprint"
	"sprinty/internal/sprintyerr"
	"sprinty/internal/vcsdiff"
)

// Deps bundles every collaborator the loop drives. The CLI constructs one of
// these per project directory and hands it to New.
type Deps struct {
	Backlog     *backlog.Engine
	Sprint      *sprint.Machine
	Breaker     *breaker.Breaker
	RateLimit   *ratelimit.Limiter
	Driver      *agentdriver.Driver
	Status      *agentstatus.Store
	DoneDetect  *donedetector.Detector
	VCS         *vcsdiff.Detector
	Metrics     *metricspkg.Recorder
	Audit       *audit.Log
	Log         *logx.Logger
	Loops       *clockid.LoopCounter
	MetricsPath string
	OutputDir   string
}

// Orchestrator runs Deps's loop to completion or to a terminal halt.
type Orchestrator struct {
	d Deps
}

// New returns an Orchestrator wired to d.
func New(d Deps) *Orchestrator {
	if d.Loops == nil {
		d.Loops = &clockid.LoopCounter{}
	}
	return &Orchestrator{d: d}
}

// Outcome summarizes why Run stopped.
type Outcome struct {
	ExitReason string
	ExitCode   int
	Loops      int
}

// Run drives the loop until a terminal condition is reached: the done
// detector signals exit, a terminal sprintyerr.Kind is returned by one
// iteration, or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) (Outcome, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{ExitReason: "cancelled", ExitCode: 1, Loops: o.d.Loops.Current()}, err
		}

		done, outcome, err := o.RunOnce(ctx)
		if err != nil {
			kind := sprintyerr.KindOf(err)
			if kind.Terminal() {
				o.d.Log.Error("halting: %v", err)
				return Outcome{ExitReason: kind.String(), ExitCode: kind.ExitCode(), Loops: o.d.Loops.Current()}, err
			}
			o.d.Log.Warn("iteration error (continuing): %v", err)
			continue
		}
		if done {
			return outcome, nil
		}
	}
}

// RunOnce performs exactly one iteration of the ten-step loop:
//
//  1. gate on the circuit breaker
//  2. gate on the rate limiter
//  3. resolve the current sprint/phase/role, starting a new sprint or a
//     synthetic final-QA sprint if needed
//  4. assemble and invoke the agent via the driver, with retry/classification
//  5. measure files changed since the last iteration
//  6. record breaker signals
//  7. record rate-limiter usage and hit counters
//  8. advance (or rework) the sprint state machine from the agent's reported
//     phase completion
//  9. append the audit log row and update the metrics snapshot
//  10. feed the done detector and decide whether to exit
//
// It returns (true, outcome, nil) when the loop should stop, (false, _, nil)
// to continue, or a non-nil error (terminal or not, per Kind.Terminal) that
// Run interprets.
func (o *Orchestrator) RunOnce(ctx context.Context) (bool, Outcome, error) {
	loopNum := o.d.Loops.Next()

	canRun, err := o.d.Breaker.CanExecute()
	if err != nil {
		return false, Outcome{}, fmt.Errorf("orchestrator: breaker check: %w", err)
	}
	if !canRun {
		return false, Outcome{}, sprintyerr.New(sprintyerr.KindCircuitOpen, "circuit breaker is OPEN")
	}

	canCall, err := o.d.RateLimit.CanCall()
	if err != nil {
		return false, Outcome{}, fmt.Errorf("orchestrator: rate limit check: %w", err)
	}
	if !canCall {
		o.d.Log.Warn("rate limit reached for current hour; waiting")
		ratelimit.WaitBetweenCalls(time.Minute)
		return false, Outcome{}, nil
	}

	state, role, phase, sprintID, finalQAExhausted, err := o.resolveTarget()
	if err != nil {
		return false, Outcome{}, err
	}
	if finalQAExhausted {
		return false, Outcome{}, sprintyerr.New(sprintyerr.KindFinalQAExhausted, "final QA attempts exhausted without passing")
	}

	promptCtx, err := o.buildContext(sprintID, phase)
	if err != nil {
		return false, Outcome{}, err
	}

	start := clockid.Now()
	if _, err := o.d.RateLimit.Increment(); err != nil {
		return false, Outcome{}, fmt.Errorf("orchestrator: rate limit increment: %w", err)
	}

	outcome, invokeErr := o.d.Driver.Run(ctx, agentdriver.Invocation{
		Role:       role,
		Phase:      phase,
		SprintID:   sprintID,
		LoopNumber: loopNum,
		Context:    promptCtx,
		OutputDir:  o.d.OutputDir,
	})
	duration := clockid.Now().Sub(start)

	classification := string(outcome.Classification)
	if classification == "" {
		classification = "unknown"
	}
	if outcome.Classification == agentdriver.ClassRateLimited {
		o.d.Metrics.RecordRateLimitHit()
		if _, err := o.d.RateLimit.RecordHit(); err != nil {
			o.d.Log.Warn("record rate limit hit: %v", err)
		}
	}

	filesChanged, vcsErr := o.d.VCS.FilesChanged(ctx)
	if vcsErr != nil {
		o.d.Log.Warn("files-changed measurement failed: %v", vcsErr)
		filesChanged = 0
	}

	breakerDoc, berr := o.d.Breaker.Record(breaker.Input{
		LoopNumber:   loopNum,
		FilesChanged: filesChanged,
		HasErrors:    invokeErr != nil,
		OutputLength: len(outcome.Stdout),
	})
	if berr != nil {
		return false, Outcome{}, fmt.Errorf("orchestrator: breaker record: %w", berr)
	}
	if breakerDoc.State == breaker.StateOpen && wasJustOpened(breakerDoc) {
		o.d.Metrics.RecordBreakerOpen()
	}

	o.d.Metrics.RecordLoop(string(phase), string(role), classification, duration, filesChanged)
	if err := o.d.Metrics.WriteSnapshot(o.d.MetricsPath, clockid.Now()); err != nil {
		o.d.Log.Warn("write metrics snapshot: %v", err)
	}

	if o.d.Audit != nil {
		auditErr := o.d.Audit.Append(ctx, audit.Row{
			LoopNumber:     loopNum,
			Role:           string(role),
			Phase:          string(phase),
			SprintID:       sprintID,
			Classification: classification,
			Attempt:        outcome.Attempts,
			DurationMS:     duration.Milliseconds(),
			ExitCode:       outcome.ExitCode,
			StartedAt:      clockid.ISO8601(start),
			EndedAt:        clockid.ISO8601(clockid.Now()),
		})
		if auditErr != nil {
			o.d.Log.Warn("audit append: %v", auditErr)
		}
	}

	if invokeErr != nil {
		if k := sprintyerr.KindOf(invokeErr); k == sprintyerr.KindStatusMissing || k == sprintyerr.KindRoleMismatch {
			if _, _, err := o.d.Sprint.IncrementPhaseLoop(); err != nil {
				return false, Outcome{}, fmt.Errorf("orchestrator: increment phase loop: %w", err)
			}
		}
		return false, Outcome{}, invokeErr
	}

	if err := o.advance(state, role, phase, sprintID, outcome.AgentStatus); err != nil {
		return false, Outcome{}, err
	}

	backlogComplete, err := o.d.Backlog.IsBacklogComplete()
	if err != nil {
		return false, Outcome{}, fmt.Errorf("orchestrator: backlog complete check: %w", err)
	}
	sprintState, err := o.d.Sprint.Current()
	if err != nil {
		return false, Outcome{}, fmt.Errorf("orchestrator: read sprint state: %w", err)
	}

	obs := donedetector.LoopObservation{
		LoopNumber:       loopNum,
		FilesChanged:     filesChanged,
		AgentReportsDone: outcome.AgentStatus.ProjectDone || secondaryBoolSignal(outcome.SecondarySignals, "PROJECT_DONE"),
		CompletionPhrase: hasCompletionIndicator(outcome.Stdout, outcome.SecondarySignals),
		TestOnlyEdit:     false,
		BacklogComplete:  backlogComplete,
		FinalQAPassed:    sprintState.FinalQAStatus == sprint.FinalQAPassed,
	}
	if _, err := o.d.DoneDetect.Record(obs); err != nil {
		return false, Outcome{}, fmt.Errorf("orchestrator: done detector record: %w", err)
	}
	reason, shouldExit, err := o.d.DoneDetect.ShouldExit(obs)
	if err != nil {
		return false, Outcome{}, fmt.Errorf("orchestrator: should-exit check: %w", err)
	}
	if shouldExit {
		return true, Outcome{ExitReason: string(reason), ExitCode: 20, Loops: loopNum}, nil
	}
	return false, Outcome{}, nil
}

// resolveTarget determines which role/phase/sprint the next invocation
// targets, starting a new sprint (or the synthetic final-QA sprint) when the
// current one has no more work, per SPEC_FULL §4.3/§4.8.
func (o *Orchestrator) resolveTarget() (sprint.State, sprint.Role, sprint.Phase, int, bool, error) {
	state, err := o.d.Sprint.Current()
	if err != nil {
		return state, "", "", 0, false, fmt.Errorf("orchestrator: read sprint state: %w", err)
	}

	exhausted, err := o.d.Sprint.IsFinalQAExhausted()
	if err != nil {
		return state, "", "", 0, false, fmt.Errorf("orchestrator: final QA exhaustion check: %w", err)
	}
	if exhausted {
		return state, "", "", 0, true, nil
	}

	n := len(state.SprintsHistory)
	lastEnded := n > 0 && state.SprintsHistory[n-1].EndedAt != ""
	if state.CurrentSprint == 0 || lastEnded {
		state, err = o.d.Sprint.StartSprint()
		if err != nil {
			if err == sprint.ErrMaxSprintsReached {
				return state, "", "", 0, false, sprintyerr.New(sprintyerr.KindMaxSprintsReached, "max sprints reached")
			}
			return state, "", "", 0, false, fmt.Errorf("orchestrator: start sprint: %w", err)
		}
	}

	if state.CurrentPhase == sprint.PhaseReview {
		backlogComplete, err := o.d.Backlog.IsBacklogComplete()
		if err != nil {
			return state, "", "", 0, false, fmt.Errorf("orchestrator: backlog complete check: %w", err)
		}
		if backlogComplete {
			needsFinal, err := o.d.Sprint.NeedsFinalQASprint(backlogComplete)
			if err != nil {
				return state, "", "", 0, false, fmt.Errorf("orchestrator: final QA need check: %w", err)
			}
			if needsFinal {
				state, err = o.d.Sprint.StartFinalQAAttempt()
				if err != nil {
					return state, "", "", 0, false, fmt.Errorf("orchestrator: start final QA attempt: %w", err)
				}
			}
		}
	}

	role := sprint.RoleForPhase(state.CurrentPhase)
	return state, role, state.CurrentPhase, state.CurrentSprint, false, nil
}

// advance applies the agent's reported phase completion to the sprint state
// machine: rework on a QA failure, the next linear phase otherwise, or the
// final-QA result when in the terminal phase.
func (o *Orchestrator) advance(state sprint.State, role sprint.Role, phase sprint.Phase, sprintID int, as agentstatus.AgentStatus) error {
	_, exceeded, err := o.d.Sprint.IncrementPhaseLoop()
	if err != nil {
		return fmt.Errorf("orchestrator: increment phase loop: %w", err)
	}

	if !as.PhaseComplete && !exceeded {
		return nil
	}

	switch phase {
	case sprint.PhaseFinalQA:
		passed := as.TestsStatus == agentstatus.TestsPassing && !hasBlockers(as)
		if _, err := o.d.Sprint.RecordFinalQAResult(passed); err != nil {
			return fmt.Errorf("orchestrator: record final QA result: %w", err)
		}
		return nil
	case sprint.PhaseQA:
		if as.TestsStatus == agentstatus.TestsFailing {
			if _, _, err := o.d.Sprint.RecordRework(); err != nil {
				return fmt.Errorf("orchestrator: record rework: %w", err)
			}
			return nil
		}
		if _, err := o.d.Sprint.AdvancePhase(sprint.PhaseReview); err != nil {
			return fmt.Errorf("orchestrator: advance to review: %w", err)
		}
		return nil
	case sprint.PhaseReview:
		if _, err := o.d.Sprint.EndSprint("completed"); err != nil {
			return fmt.Errorf("orchestrator: end sprint: %w", err)
		}
		return nil
	default:
		next := nextLinearPhase(phase)
		if next == "" {
			return nil
		}
		if _, err := o.d.Sprint.AdvancePhase(next); err != nil {
			return fmt.Errorf("orchestrator: advance phase: %w", err)
		}
		return nil
	}
}

func nextLinearPhase(p sprint.Phase) sprint.Phase {
	switch p {
	case sprint.PhaseInitialization:
		return sprint.PhasePlanning
	case sprint.PhasePlanning:
		return sprint.PhaseImplementation
	case sprint.PhaseImplementation:
		return sprint.PhaseQA
	default:
		return ""
	}
}

func hasBlockers(as agentstatus.AgentStatus) bool {
	return len(as.Blockers) > 0
}

func wasJustOpened(d breaker.Document) bool {
	if len(d.History) == 0 {
		return false
	}
	last := d.History[len(d.History)-1]
	return last.To == breaker.StateOpen && last.Loop == d.CurrentLoop
}

// hasCompletionIndicator reports the completion_indicators soft signal: the
// agent's ---SPRINTY_STATUS--- block claimed PROJECT_DONE or PHASE_COMPLETE,
// or its stdout contains the literal phrase "Project complete".
func hasCompletionIndicator(stdout string, secondary map[string]string) bool {
	if secondaryBoolSignal(secondary, "PROJECT_DONE") || secondaryBoolSignal(secondary, "PHASE_COMPLETE") {
		return true
	}
	return strings.Contains(strings.ToLower(stdout), "project complete")
}

// secondaryBoolSignal reads a KEY: true/false pair out of an agentdriver
// Outcome's parsed status block.
func secondaryBoolSignal(secondary map[string]string, key string) bool {
	return strings.EqualFold(strings.TrimSpace(secondary[key]), "true")
}

// buildContext assembles the promptkit.Context for one invocation from the
// current backlog and sprint state.
func (o *Orchestrator) buildContext(sprintID int, phase sprint.Phase) (promptkit.Context, error) {
	all, err := o.d.Backlog.All()
	if err != nil {
		return promptkit.Context{}, fmt.Errorf("orchestrator: read backlog: %w", err)
	}
	perStatus := map[string]int{}
	totalPoints := 0
	for _, it := range all {
		perStatus[string(it.Status)]++
		totalPoints += it.StoryPoints
	}

	sprintItems, err := o.d.Backlog.SprintBacklog(sprintID)
	if err != nil {
		return promptkit.Context{}, fmt.Errorf("orchestrator: read sprint backlog: %w", err)
	}
	planned, completed := 0, 0
	for _, it := range sprintItems {
		planned += it.StoryPoints
		if it.Status == backlog.StatusDone {
			completed += it.StoryPoints
		}
	}

	return promptkit.Context{
		SprintID: sprintID,
		Phase:    phase,
		Backlog: promptkit.BacklogCounts{
			TotalItems:  len(all),
			TotalPoints: totalPoints,
			PerStatus:   perStatus,
		},
		SprintStats: promptkit.SprintStats{
			ItemsInSprint:   len(sprintItems),
			PlannedPoints:   planned,
			CompletedPoints: completed,
		},
	}, nil
}
