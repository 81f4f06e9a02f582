package sprintyerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindConnectionError, cause)

	require.True(t, Is(err, KindConnectionError))
	require.False(t, Is(err, KindAuthError))
	require.Equal(t, KindConnectionError, KindOf(err))
	require.ErrorIs(t, err, cause)
}

func TestKindOfUnclassified(t *testing.T) {
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestTerminalAndExitCode(t *testing.T) {
	require.True(t, KindCircuitOpen.Terminal())
	require.Equal(t, 10, KindCircuitOpen.ExitCode())

	require.True(t, KindProjectComplete.Terminal())
	require.Equal(t, 20, KindProjectComplete.ExitCode())

	require.True(t, KindMaxSprintsReached.Terminal())
	require.Equal(t, 21, KindMaxSprintsReached.ExitCode())

	require.False(t, KindTimeout.Terminal())
	require.Equal(t, 1, KindTimeout.ExitCode())
}

func TestNewMessage(t *testing.T) {
	err := New(KindStatusMissing, "role empty")
	require.Equal(t, "status_missing: role empty", err.Error())
}
