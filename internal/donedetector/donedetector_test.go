package donedetector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newDetector(t *testing.T, fixPlan string) *Detector {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), ".exit_signals"), fixPlan, DefaultConfig())
	require.NoError(t, err)
	return d
}

func TestBacklogCompleteExitIsUnconditional(t *testing.T) {
	dir := t.TempDir()
	fixPlan := filepath.Join(dir, "@fix_plan.md")
	require.NoError(t, os.WriteFile(fixPlan, []byte("- [ ] still pending\n"), 0o644))

	d, err := New(filepath.Join(dir, ".exit_signals"), fixPlan, DefaultConfig())
	require.NoError(t, err)

	reason, exit, err := d.ShouldExit(LoopObservation{FinalQAPassed: true, BacklogComplete: true})
	require.NoError(t, err)
	require.True(t, exit)
	require.Equal(t, ReasonBacklogComplete, reason)
}

func TestSoftSignalBlockedByRemainingFixPlanWork(t *testing.T) {
	dir := t.TempDir()
	fixPlan := filepath.Join(dir, "@fix_plan.md")
	require.NoError(t, os.WriteFile(fixPlan, []byte("- [ ] finish the thing\n"), 0o644))

	d, err := New(filepath.Join(dir, ".exit_signals"), fixPlan, DefaultConfig())
	require.NoError(t, err)

	for i := 1; i <= DefaultMaxConsecutiveIdleLoops; i++ {
		_, err := d.Record(LoopObservation{LoopNumber: i, FilesChanged: 0})
		require.NoError(t, err)
	}

	reason, exit, err := d.ShouldExit(LoopObservation{})
	require.NoError(t, err)
	require.False(t, exit)
	require.Empty(t, reason)
}

func TestIdleLoopsCrossesThresholdWithNoFixPlan(t *testing.T) {
	d := newDetector(t, "")
	for i := 1; i <= DefaultMaxConsecutiveIdleLoops; i++ {
		_, err := d.Record(LoopObservation{LoopNumber: i, FilesChanged: 0})
		require.NoError(t, err)
	}
	reason, exit, err := d.ShouldExit(LoopObservation{})
	require.NoError(t, err)
	require.True(t, exit)
	require.Equal(t, ReasonIdleLoops, reason)
}

func TestDoneSignalsCrossesThresholdWithNoFixPlan(t *testing.T) {
	d := newDetector(t, "")
	for i := 1; i <= DefaultMaxConsecutiveDoneSignals; i++ {
		_, err := d.Record(LoopObservation{LoopNumber: i, AgentReportsDone: true})
		require.NoError(t, err)
	}
	reason, exit, err := d.ShouldExit(LoopObservation{})
	require.NoError(t, err)
	require.True(t, exit)
	require.Equal(t, ReasonDoneSignals, reason)
}

func TestCompletionIndicatorsCrossesThresholdWithNoFixPlan(t *testing.T) {
	d := newDetector(t, "")
	for i := 1; i <= DefaultMaxConsecutiveDoneSignals; i++ {
		_, err := d.Record(LoopObservation{LoopNumber: i, CompletionPhrase: true})
		require.NoError(t, err)
	}
	reason, exit, err := d.ShouldExit(LoopObservation{})
	require.NoError(t, err)
	require.True(t, exit)
	require.Equal(t, ReasonCompletionIndicators, reason)
}

func TestTestOnlyLoopsCrossesThresholdWithNoFixPlan(t *testing.T) {
	d := newDetector(t, "")
	for i := 1; i <= DefaultMaxConsecutiveTestLoops; i++ {
		_, err := d.Record(LoopObservation{LoopNumber: i, TestOnlyEdit: true})
		require.NoError(t, err)
	}
	reason, exit, err := d.ShouldExit(LoopObservation{})
	require.NoError(t, err)
	require.True(t, exit)
	require.Equal(t, ReasonTestOnlyLoops, reason)
}

func TestProgressBreaksConsecutiveIdleRun(t *testing.T) {
	d := newDetector(t, "")
	_, err := d.Record(LoopObservation{LoopNumber: 1, FilesChanged: 0})
	require.NoError(t, err)
	_, err = d.Record(LoopObservation{LoopNumber: 2, FilesChanged: 3})
	require.NoError(t, err)
	_, err = d.Record(LoopObservation{LoopNumber: 3, FilesChanged: 0})
	require.NoError(t, err)

	reason, exit, err := d.ShouldExit(LoopObservation{})
	require.NoError(t, err)
	require.False(t, exit)
	require.Empty(t, reason)
}

func TestHasRemainingFixPlanWorkFalseWhenAllChecked(t *testing.T) {
	dir := t.TempDir()
	fixPlan := filepath.Join(dir, "@fix_plan.md")
	require.NoError(t, os.WriteFile(fixPlan, []byte("- [x] done item\n"), 0o644))

	d, err := New(filepath.Join(dir, ".exit_signals"), fixPlan, DefaultConfig())
	require.NoError(t, err)

	has, err := d.HasRemainingFixPlanWork()
	require.NoError(t, err)
	require.False(t, has)
}

func TestHasRemainingFixPlanWorkFalseWhenMissing(t *testing.T) {
	d := newDetector(t, filepath.Join(t.TempDir(), "does-not-exist.md"))
	has, err := d.HasRemainingFixPlanWork()
	require.NoError(t, err)
	require.False(t, has)
}
