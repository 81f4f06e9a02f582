package ratelimit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, max int) *Limiter {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "rate_limit_state.json"), max)
	require.NoError(t, err)
	return l
}

func TestCanCallUnderCap(t *testing.T) {
	l := newLimiter(t, 2)
	can, err := l.CanCall()
	require.NoError(t, err)
	require.True(t, can)
}

func TestIncrementTracksCurrentAndSessionTotals(t *testing.T) {
	l := newLimiter(t, 5)
	d, err := l.Increment()
	require.NoError(t, err)
	require.Equal(t, 1, d.CurrentCalls)
	require.Equal(t, 1, d.SessionTotal)

	d, err = l.Increment()
	require.NoError(t, err)
	require.Equal(t, 2, d.CurrentCalls)
	require.Equal(t, 2, d.SessionTotal)
}

func TestCanCallFalseAtCap(t *testing.T) {
	l := newLimiter(t, 2)
	_, err := l.Increment()
	require.NoError(t, err)
	_, err = l.Increment()
	require.NoError(t, err)

	can, err := l.CanCall()
	require.NoError(t, err)
	require.False(t, can)
}

func TestRecordHitIsIndependentOfCurrentCalls(t *testing.T) {
	l := newLimiter(t, 5)
	d, err := l.RecordHit()
	require.NoError(t, err)
	require.Equal(t, 1, d.RateLimitHits)
	require.Equal(t, 0, d.CurrentCalls)
}

func TestResetZerosCurrentButKeepsSessionTotal(t *testing.T) {
	l := newLimiter(t, 5)
	_, err := l.Increment()
	require.NoError(t, err)
	_, err = l.Increment()
	require.NoError(t, err)
	_, err = l.RecordHit()
	require.NoError(t, err)

	d, err := l.Reset()
	require.NoError(t, err)
	require.Equal(t, 0, d.CurrentCalls)
	require.Equal(t, 0, d.RateLimitHits)
	require.Equal(t, 2, d.SessionTotal)
}

func TestWaitBetweenCallsSkipsNonPositiveDuration(t *testing.T) {
	WaitBetweenCalls(0)
	WaitBetweenCalls(-1)
}
