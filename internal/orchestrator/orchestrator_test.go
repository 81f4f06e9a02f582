package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sprinty/internal/agentdriver"
	"sprinty/internal/agentflavor"
	"sprinty/internal/agentstatus"
	"sprinty/internal/backlog"
	"sprinty/internal/breaker"
	"sprinty/internal/donedetector"
	"sprinty/internal/logx"
	"sprinty/internal/metricspkg"
	"sprinty/internal/promptkit"
	"sprinty/internal/ratelimit"
	"sprinty/internal/sprint"
	"sprinty/internal/sprintyerr"
	"sprinty/internal/statestore"
	"sprinty/internal/vcsdiff"
)

// fakeFlavor returns a fixed Result without running any subprocess, so
// orchestrator tests never depend on opencode/cursor-agent being installed.
type fakeFlavor struct {
	exitCode int
	stdout   string
}

func (f *fakeFlavor) Name() string { return "fake" }
func (f *fakeFlavor) CheckInstalled(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeFlavor) Version(ctx context.Context) (string, error)      { return "fake-1.0", nil }
func (f *fakeFlavor) Invoke(ctx context.Context, model, promptText, outputPath string, timeout time.Duration) (agentflavor.Result, error) {
	return agentflavor.Result{ExitCode: f.exitCode, Stdout: f.stdout, Duration: time.Millisecond}, nil
}

type harness struct {
	dir     string
	o       *Orchestrator
	status  *agentstatus.Store
	backlog *backlog.Engine
}

func newHarness(t *testing.T, flavor agentflavor.Flavor) *harness {
	t.Helper()
	dir := t.TempDir()

	bl, err := backlog.New(filepath.Join(dir, "backlog.json"))
	require.NoError(t, err)
	require.NoError(t, bl.Init("demo-project"))

	sm, err := sprint.New(filepath.Join(dir, "sprint_state.json"), sprint.DefaultConfig())
	require.NoError(t, err)

	br, err := breaker.New(filepath.Join(dir, ".circuit_breaker_state"), breaker.DefaultConfig())
	require.NoError(t, err)

	rl, err := ratelimit.New(filepath.Join(dir, ".rate_limit_state"), 1000)
	require.NoError(t, err)

	st, err := agentstatus.New(filepath.Join(dir, "status.json"))
	require.NoError(t, err)

	dd, err := donedetector.New(filepath.Join(dir, ".exit_signals"), filepath.Join(dir, "@fix_plan.md"), donedetector.DefaultConfig())
	require.NoError(t, err)

	renderer, err := promptkit.NewRenderer()
	require.NoError(t, err)

	driver := agentdriver.New(flavor, renderer, st, nil, agentdriver.Config{MaxRetries: 1, BaseDelay: time.Millisecond})

	vcs := vcsdiff.New(dir, filepath.Join(dir, ".manifest"))
	metrics := metricspkg.New()

	o := New(Deps{
		Backlog:     bl,
		Sprint:      sm,
		Breaker:     br,
		RateLimit:   rl,
		Driver:      driver,
		Status:      st,
		DoneDetect:  dd,
		VCS:         vcs,
		Metrics:     metrics,
		Log:         logx.NewLogger("orchestrator-test"),
		MetricsPath: filepath.Join(dir, "metrics.json"),
		OutputDir:   filepath.Join(dir, "logs", "agent_output"),
	})

	return &harness{dir: dir, o: o, status: st, backlog: bl}
}

// writeAgentStatus plants the status.json the fake flavor's invocation would
// have produced, since the fake flavor itself never touches the filesystem.
func writeAgentStatus(t *testing.T, h *harness, as agentstatus.AgentStatus) {
	t.Helper()
	type doc = agentstatus.Document
	storePath := filepath.Join(h.dir, "status.json")
	s, err := statestore.New(storePath)
	require.NoError(t, err)
	_, err = statestore.Update(s, func(d *doc) error {
		d.AgentStatus = as
		return nil
	})
	require.NoError(t, err)
}

func TestRunOnceStartsFirstSprintAndAdvancesPlanning(t *testing.T) {
	h := newHarness(t, &fakeFlavor{exitCode: 0, stdout: "working on it"})
	writeAgentStatus(t, h, agentstatus.AgentStatus{
		Role:          "product_owner",
		PhaseComplete: true,
		TestsStatus:   agentstatus.TestsNotRun,
	})

	done, _, err := h.o.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, done)

	state, err := h.o.d.Sprint.Current()
	require.NoError(t, err)
	require.Equal(t, 1, state.CurrentSprint)
	require.Equal(t, sprint.PhaseImplementation, state.CurrentPhase)
}

func TestRunOnceReworkOnQAFailure(t *testing.T) {
	h := newHarness(t, &fakeFlavor{exitCode: 0, stdout: "qa failed"})

	_, err := h.o.d.Sprint.StartSprint()
	require.NoError(t, err)
	_, err = h.o.d.Sprint.AdvancePhase(sprint.PhaseImplementation)
	require.NoError(t, err)
	_, err = h.o.d.Sprint.AdvancePhase(sprint.PhaseQA)
	require.NoError(t, err)

	writeAgentStatus(t, h, agentstatus.AgentStatus{
		Role:          "qa",
		PhaseComplete: true,
		TestsStatus:   agentstatus.TestsFailing,
	})

	done, _, err := h.o.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, done)

	state, err := h.o.d.Sprint.Current()
	require.NoError(t, err)
	require.Equal(t, sprint.PhaseImplementation, state.CurrentPhase)
	require.Equal(t, 1, state.ReworkCount)
}

func TestRunOnceCircuitOpenHalts(t *testing.T) {
	h := newHarness(t, &fakeFlavor{exitCode: 0, stdout: "ok"})
	for i := 1; i <= breaker.DefaultNoProgressThreshold; i++ {
		_, err := h.o.d.Breaker.Record(breaker.Input{LoopNumber: i, FilesChanged: 0})
		require.NoError(t, err)
	}

	_, _, err := h.o.RunOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, sprintyerr.KindCircuitOpen, sprintyerr.KindOf(err))
	require.Equal(t, 10, sprintyerr.KindOf(err).ExitCode())
}

func TestNextLinearPhase(t *testing.T) {
	require.Equal(t, sprint.PhasePlanning, nextLinearPhase(sprint.PhaseInitialization))
	require.Equal(t, sprint.PhaseImplementation, nextLinearPhase(sprint.PhasePlanning))
	require.Equal(t, sprint.PhaseQA, nextLinearPhase(sprint.PhaseImplementation))
	require.Equal(t, sprint.Phase(""), nextLinearPhase(sprint.PhaseQA))
}

func TestHasCompletionIndicatorFromStdoutPhrase(t *testing.T) {
	require.True(t, hasCompletionIndicator("Summary: Project Complete, shipping now", nil))
	require.False(t, hasCompletionIndicator("still working", nil))
}

func TestHasCompletionIndicatorFromSecondarySignals(t *testing.T) {
	require.True(t, hasCompletionIndicator("", map[string]string{"PROJECT_DONE": "true"}))
	require.True(t, hasCompletionIndicator("", map[string]string{"PHASE_COMPLETE": "TRUE"}))
	require.False(t, hasCompletionIndicator("", map[string]string{"PROJECT_DONE": "false"}))
	require.False(t, hasCompletionIndicator("", nil))
}

