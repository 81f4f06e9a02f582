package agentflavor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpencodeBuildsExpectedArgs(t *testing.T) {
	f := NewOpencode().(*subprocessFlavor)
	require.Equal(t, []string{"-p", "--model", "claude-x", "do the thing"},
		f.buildArgs("claude-x", "do the thing"))
	require.Equal(t, []string{"-p", "do the thing"}, f.buildArgs("", "do the thing"))
}

func TestCursorAgentBuildsExpectedArgs(t *testing.T) {
	f := NewCursorAgent().(*subprocessFlavor)
	require.Equal(t, []string{"run", "--model", "gpt-x", "do the thing"},
		f.buildArgs("gpt-x", "do the thing"))
	require.Equal(t, []string{"run", "do the thing"}, f.buildArgs("", "do the thing"))
}

func TestCheckInstalledFalseForUnknownBinary(t *testing.T) {
	f := &subprocessFlavor{binary: "definitely-not-a-real-binary-xyz", name: "nope"}
	ok, err := f.CheckInstalled(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInvokeWritesOutputAndSucceeds(t *testing.T) {
	f := &subprocessFlavor{
		binary: "echo",
		name:   "echoer",
		buildArgs: func(model, prompt string) []string {
			return []string{prompt}
		},
	}
	outputPath := filepath.Join(t.TempDir(), "nested", "status.txt")
	res, err := f.Invoke(context.Background(), "", "hello", outputPath, time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.False(t, res.TimedOut)
	require.False(t, res.Killed)

	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Contains(t, string(content), "hello")
}

func TestInvokeTimesOutOnSlowCommand(t *testing.T) {
	f := &subprocessFlavor{
		binary: "sleep",
		name:   "sleeper",
		buildArgs: func(model, prompt string) []string {
			return []string{"5"}
		},
	}
	outputPath := filepath.Join(t.TempDir(), "status.txt")
	res, err := f.Invoke(context.Background(), "", "irrelevant", outputPath, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.TimedOut)
	require.Equal(t, 124, res.ExitCode)
}

func TestInvokeReportsNonZeroExit(t *testing.T) {
	f := &subprocessFlavor{
		binary: "sh",
		name:   "sh",
		buildArgs: func(model, prompt string) []string {
			return []string{"-c", "exit 7"}
		},
	}
	outputPath := filepath.Join(t.TempDir(), "status.txt")
	res, err := f.Invoke(context.Background(), "", "irrelevant", outputPath, time.Second)
	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
	require.False(t, res.Killed)
}

func TestRegistryResolvesRegisteredFlavorsAndErrorsOnUnknown(t *testing.T) {
	r := NewRegistry()

	f, err := r.Get("opencode")
	require.NoError(t, err)
	require.Equal(t, "opencode", f.Name())

	f, err = r.Get("cursoragent")
	require.NoError(t, err)
	require.Equal(t, "cursoragent", f.Name())

	_, err = r.Get("nonexistent")
	require.Error(t, err)
}
