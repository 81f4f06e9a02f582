package backlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sprinty/internal/statestore"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(filepath.Join(t.TempDir(), "backlog.json"))
	require.NoError(t, err)
	require.NoError(t, e.Init("demo"))
	return e
}

func TestInitIsIdempotentlyRefused(t *testing.T) {
	e := newEngine(t)
	err := e.Init("demo")
	require.Error(t, err)
}

func TestAddAllocatesDenseMonotonicIDs(t *testing.T) {
	e := newEngine(t)
	a, err := e.Add(AddRecord{Title: "first", Type: TypeFeature, Priority: 1, StoryPoints: 3})
	require.NoError(t, err)
	require.Equal(t, "TASK-001", a.ID)
	require.Equal(t, StatusBacklog, a.Status)
	require.Nil(t, a.SprintID)

	b, err := e.Add(AddRecord{Title: "second", Type: TypeBug, Priority: 2, StoryPoints: 1})
	require.NoError(t, err)
	require.Equal(t, "TASK-002", b.ID)
}

func TestMetadataTotalsMatchDerivedCounts(t *testing.T) {
	e := newEngine(t)
	_, err := e.Add(AddRecord{Title: "a", Type: TypeFeature, Priority: 1, StoryPoints: 3})
	require.NoError(t, err)
	_, err = e.Add(AddRecord{Title: "b", Type: TypeFeature, Priority: 2, StoryPoints: 5})
	require.NoError(t, err)

	doc, err := e.All()
	require.NoError(t, err)
	require.Len(t, doc, 2)
	persisted, err := statestore.Read[Document](e.store)
	require.NoError(t, err)
	require.Equal(t, 2, persisted.Metadata.TotalItems)
	require.Equal(t, 8, persisted.Metadata.TotalPoints)

	require.NoError(t, e.Remove("TASK-001"))
	remaining, err := e.All()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	persisted, err = statestore.Read[Document](e.store)
	require.NoError(t, err)
	require.Equal(t, 1, persisted.Metadata.TotalItems)
	require.Equal(t, 5, persisted.Metadata.TotalPoints)
}

func TestNextReadyPicksLowestPriorityThenLowestID(t *testing.T) {
	e := newEngine(t)
	_, err := e.Add(AddRecord{Title: "low-pri", Type: TypeFeature, Priority: 5, StoryPoints: 1})
	require.NoError(t, err)
	_, err = e.Add(AddRecord{Title: "high-pri-a", Type: TypeFeature, Priority: 1, StoryPoints: 1})
	require.NoError(t, err)
	_, err = e.Add(AddRecord{Title: "high-pri-b", Type: TypeFeature, Priority: 1, StoryPoints: 1})
	require.NoError(t, err)

	next, ok, err := e.NextReady()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "TASK-002", next.ID)
}

func TestNextReadyRespectsUnsatisfiedDependencies(t *testing.T) {
	e := newEngine(t)
	blocker, err := e.Add(AddRecord{Title: "blocker", Type: TypeFeature, Priority: 1, StoryPoints: 1})
	require.NoError(t, err)
	_, err = e.Add(AddRecord{Title: "blocked", Type: TypeFeature, Priority: 1, Dependencies: []string{blocker.ID}})
	require.NoError(t, err)

	next, ok, err := e.NextReady()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, blocker.ID, next.ID, "only the unblocked item should be ready")

	require.NoError(t, e.SetStatus(blocker.ID, StatusDone))
	next, ok, err = e.NextReady()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "TASK-002", next.ID)
}

func TestAssignToSprintSetsReady(t *testing.T) {
	e := newEngine(t)
	item, err := e.Add(AddRecord{Title: "a", Type: TypeFeature, Priority: 1})
	require.NoError(t, err)

	require.NoError(t, e.AssignToSprint(item.ID, 1))
	got, err := e.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReady, got.Status)
	require.NotNil(t, got.SprintID)
	require.Equal(t, 1, *got.SprintID)
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	e := newEngine(t)
	item, err := e.Add(AddRecord{Title: "a", Type: TypeFeature, Priority: 1})
	require.NoError(t, err)
	err = e.SetStatus(item.ID, "not_a_status")
	require.Error(t, err)
}

func TestBreakDownAssignsSequentialLetterSuffixesAndInherits(t *testing.T) {
	e := newEngine(t)
	parent, err := e.Add(AddRecord{
		Title: "parent", Type: TypeFeature, Priority: 3, StoryPoints: 13,
		AcceptanceCriteria: []string{"must work"},
	})
	require.NoError(t, err)
	require.NoError(t, e.AssignToSprint(parent.ID, 2))

	a, err := e.BreakDown(parent.ID, "sub a", 5, "")
	require.NoError(t, err)
	require.Equal(t, parent.ID+"a", a.ID)
	require.Equal(t, 3, a.Priority)
	require.Equal(t, []string{"must work"}, a.AcceptanceCriteria)
	require.NotNil(t, a.SprintID)
	require.Equal(t, 2, *a.SprintID)

	b, err := e.BreakDown(parent.ID, "sub b", 5, "")
	require.NoError(t, err)
	require.Equal(t, parent.ID+"b", b.ID)

	got, err := e.Get(parent.ID)
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, b.ID}, got.Subtasks)
}

func TestNeedsBreakdownThreshold(t *testing.T) {
	e := newEngine(t)
	small, err := e.Add(AddRecord{Title: "small", Type: TypeFeature, Priority: 1, StoryPoints: 8})
	require.NoError(t, err)
	big, err := e.Add(AddRecord{Title: "big", Type: TypeFeature, Priority: 1, StoryPoints: 9})
	require.NoError(t, err)

	needsSmall, err := e.NeedsBreakdown(small.ID)
	require.NoError(t, err)
	require.False(t, needsSmall)

	needsBig, err := e.NeedsBreakdown(big.ID)
	require.NoError(t, err)
	require.True(t, needsBig)

	_, err = e.BreakDown(big.ID, "piece", 4, "")
	require.NoError(t, err)
	needsBig, err = e.NeedsBreakdown(big.ID)
	require.NoError(t, err)
	require.False(t, needsBig, "no longer needs breakdown once it has a subtask")
}

func TestRollUpRules(t *testing.T) {
	e := newEngine(t)
	parent, err := e.Add(AddRecord{Title: "parent", Type: TypeFeature, Priority: 1, StoryPoints: 13})
	require.NoError(t, err)
	a, err := e.BreakDown(parent.ID, "a", 5, "")
	require.NoError(t, err)
	b, err := e.BreakDown(parent.ID, "b", 5, "")
	require.NoError(t, err)

	require.NoError(t, e.SetStatus(a.ID, StatusQAPassed))
	require.NoError(t, e.SetStatus(b.ID, StatusInProgress))
	status, err := e.RollUp(parent.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, status, "any in_progress child wins over qa_passed")

	require.NoError(t, e.SetStatus(b.ID, StatusQAFailed))
	status, err = e.RollUp(parent.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQAFailed, status, "qa_failed takes priority over everything")

	require.NoError(t, e.SetStatus(a.ID, StatusDone))
	require.NoError(t, e.SetStatus(b.ID, StatusDone))
	status, err = e.RollUp(parent.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, status)
}

func TestIsBacklogCompleteRequiresNonEmptyAndP1BugsDone(t *testing.T) {
	e := newEngine(t)
	complete, err := e.IsBacklogComplete()
	require.NoError(t, err)
	require.False(t, complete, "empty backlog is never complete")

	item, err := e.Add(AddRecord{Title: "a", Type: TypeFeature, Priority: 1})
	require.NoError(t, err)
	require.NoError(t, e.SetStatus(item.ID, StatusDone))

	complete, err = e.IsBacklogComplete()
	require.NoError(t, err)
	require.True(t, complete)

	bug, err := e.AddBugFromQA("critical bug", "desc", 1, nil)
	require.NoError(t, err)
	require.Equal(t, TypeBug, bug.Type)

	complete, err = e.IsBacklogComplete()
	require.NoError(t, err)
	require.False(t, complete, "undone P1 bug blocks completeness")

	require.NoError(t, e.SetStatus(bug.ID, StatusDone))
	complete, err = e.IsBacklogComplete()
	require.NoError(t, err)
	require.True(t, complete)
}

func TestIsSprintCompleteIgnoresOtherSprints(t *testing.T) {
	e := newEngine(t)
	a, err := e.Add(AddRecord{Title: "a", Type: TypeFeature, Priority: 1})
	require.NoError(t, err)
	require.NoError(t, e.AssignToSprint(a.ID, 1))

	complete, err := e.IsSprintComplete(1)
	require.NoError(t, err)
	require.False(t, complete)

	require.NoError(t, e.SetStatus(a.ID, StatusDone))
	complete, err = e.IsSprintComplete(1)
	require.NoError(t, err)
	require.True(t, complete)

	complete, err = e.IsSprintComplete(2)
	require.NoError(t, err)
	require.True(t, complete, "vacuously true: no item in sprint 2 has a non-terminal status")
}
