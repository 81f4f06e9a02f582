package agentdriver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifySuccess(t *testing.T) {
	require.Equal(t, ClassSuccess, Classify(0, false, false, "did the thing"))
}

func TestClassifyWarnNoOutput(t *testing.T) {
	require.Equal(t, ClassWarnNoOutput, Classify(0, false, false, "   "))
}

func TestClassifyTimeout(t *testing.T) {
	require.Equal(t, ClassTimeout, Classify(124, true, false, ""))
	require.Equal(t, ClassTimeout, Classify(124, false, false, "anything"))
}

func TestClassifyKilled(t *testing.T) {
	require.Equal(t, ClassKilled, Classify(137, false, true, ""))
	require.Equal(t, ClassKilled, Classify(143, false, false, ""))
}

func TestClassifyRateLimited(t *testing.T) {
	require.Equal(t, ClassRateLimited, Classify(1, false, false, "Error: rate limit exceeded"))
	require.Equal(t, ClassRateLimited, Classify(1, false, false, "HTTP 429 too many requests"))
}

func TestClassifyRateLimitPatternDoesNotFireOnIdentifier(t *testing.T) {
	// "RateLimiter" as a bare identifier must not classify as RateLimited;
	// the spec explicitly calls this out as the false-positive to avoid.
	got := Classify(1, false, false, "panic: nil pointer in RateLimiter.Increment")
	require.Equal(t, ClassUnknown, got)
}

func TestClassifyConnectionError(t *testing.T) {
	require.Equal(t, ClassConnectionError, Classify(1, false, false, "dial tcp: connection refused"))
	require.Equal(t, ClassConnectionError, Classify(1, false, false, "ECONNREFUSED"))
}

func TestClassifyAuthError(t *testing.T) {
	require.Equal(t, ClassAuthError, Classify(1, false, false, "401 Unauthorized"))
	require.Equal(t, ClassAuthError, Classify(1, false, false, "invalid API key"))
}

func TestClassifyUnknown(t *testing.T) {
	require.Equal(t, ClassUnknown, Classify(1, false, false, "something exploded"))
}

func TestShouldRetryPolicy(t *testing.T) {
	cases := []struct {
		class      Classification
		wantRetry  bool
		wantMult   int
	}{
		{ClassSuccess, false, 0},
		{ClassWarnNoOutput, false, 0},
		{ClassTimeout, false, 0},
		{ClassAuthError, false, 0},
		{ClassRateLimited, true, 2},
		{ClassKilled, true, 1},
		{ClassConnectionError, true, 1},
		{ClassUnknown, true, 1},
	}
	for _, c := range cases {
		retry, mult := shouldRetry(c.class)
		require.Equal(t, c.wantRetry, retry, c.class)
		require.Equal(t, c.wantMult, mult, c.class)
	}
}

func TestParseStatusBlock(t *testing.T) {
	stdout := "some preamble\n---SPRINTY_STATUS---\nROLE: developer\nPHASE_COMPLETE: true\n---END_SPRINTY_STATUS---\ntrailer"
	got := ParseStatusBlock(stdout)
	require.Equal(t, "developer", got["ROLE"])
	require.Equal(t, "true", got["PHASE_COMPLETE"])
}

func TestParseStatusBlockMissingIsEmptyNotError(t *testing.T) {
	got := ParseStatusBlock("no block here at all")
	require.Empty(t, got)
}

func TestParseStatusBlockUnterminatedIsEmpty(t *testing.T) {
	got := ParseStatusBlock("---SPRINTY_STATUS---\nROLE: qa\n")
	require.Empty(t, got)
}
