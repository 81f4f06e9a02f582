// Package agentdriver owns the agent-subprocess lifecycle described in
// SPEC_FULL.md §4.6: prompt assembly via promptkit, invocation through an
// agentflavor.Flavor with a wall-clock timeout, retry with error
// classification, and strict status extraction from the shared status.json
// document. Grounded on the teacher's pkg/coder/claude/runner.go (the
// invoke-with-timeout-and-retry loop) and pkg/agent/llmerrors/errors.go plus
// pkg/agent/resilience/retry.go (the classification table and backoff
// config map this package's Classify and RetryPolicy mirror).
package agentdriver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"sprinty/internal/agentflavor"
	"sprinty/internal/agentstatus"
	"sprinty/internal/clockid"
	"sprinty/internal/promptkit"
	"sprinty/internal/sprint"
	"sprinty/internal/sprintyerr"
	"sprinty/internal/tokenbudget"
)

// Classification is the outcome of one invocation attempt, per the retry
// table in SPEC_FULL §4.6.
type Classification string

const (
	ClassSuccess         Classification = "success"
	ClassWarnNoOutput    Classification = "warn_no_output"
	ClassTimeout         Classification = "timeout"
	ClassKilled          Classification = "killed"
	ClassRateLimited     Classification = "rate_limited"
	ClassConnectionError Classification = "connection_error"
	ClassAuthError       Classification = "auth_error"
	ClassUnknown         Classification = "unknown"
)

// Patterns are intentionally more specific than the spec's loose prose would
// suggest literally, per §4.6's own caveat: "must be specific enough to
// avoid firing on arbitrary mentions of 'RateLimiter' as an identifier."
// rateLimitPattern requires a word boundary immediately after "limit" (or
// "limited"/"limiting"), which a camelCase "RateLimiter" never produces
// since "Limiter" continues past that boundary with "er".
var (
	rateLimitPattern     = regexp.MustCompile(`(?i)\brate[-_ ]?limit(?:ed|ing)?\b|too many requests|\b429\b|throttl`)
	connectionErrPattern = regexp.MustCompile(`(?i)connecterror|connection.*refused|econnrefused|network`)
	authErrPattern       = regexp.MustCompile(`(?i)unauthorized|authentication|invalid.*key|forbidden`)
)

// Classify inspects one attempt's raw outcome and assigns a Classification,
// per the table in SPEC_FULL §4.6.
func Classify(exitCode int, timedOut, killed bool, stdout string) Classification {
	if timedOut || exitCode == 124 {
		return ClassTimeout
	}
	if killed || exitCode == 137 || exitCode == 143 {
		return ClassKilled
	}
	if exitCode == 0 {
		if strings.TrimSpace(stdout) == "" {
			return ClassWarnNoOutput
		}
		return ClassSuccess
	}
	switch {
	case rateLimitPattern.MatchString(stdout):
		return ClassRateLimited
	case connectionErrPattern.MatchString(stdout):
		return ClassConnectionError
	case authErrPattern.MatchString(stdout):
		return ClassAuthError
	default:
		return ClassUnknown
	}
}

// shouldRetry reports whether a classification warrants another attempt, and
// the delay multiplier to apply to the base retry delay.
func shouldRetry(c Classification) (retry bool, delayMultiplier int) {
	switch c {
	case ClassSuccess, ClassWarnNoOutput:
		return false, 0
	case ClassTimeout:
		return false, 0 // expensive; never retry
	case ClassAuthError:
		return false, 0 // fatal; fail fast
	case ClassRateLimited:
		return true, 2 // doubled backoff
	case ClassKilled, ClassConnectionError, ClassUnknown:
		return true, 1
	default:
		return true, 1
	}
}

// Config holds the driver's tunable parameters, sourced from cfg.AgentConfig.
type Config struct {
	Model           string
	MaxRetries      int
	BaseDelay       time.Duration
	Timeout         time.Duration
	MaxPromptTokens int
	InContainer     bool
	EnvTag          string
}

// Invocation is everything the orchestrator supplies for one agent turn.
type Invocation struct {
	Role         sprint.Role
	Phase        sprint.Phase
	SprintID     int
	LoopNumber   int
	Context      promptkit.Context
	OutputDir    string
}

// Outcome is what the orchestrator learns from one driver.Run call.
type Outcome struct {
	Classification Classification
	Attempts       int
	ExitCode       int
	OutputPath     string
	PromptPath     string
	Stdout         string
	Duration       time.Duration
	AgentStatus    agentstatus.AgentStatus
	SecondarySignals map[string]string
}

// Driver glues promptkit, an agentflavor.Flavor, and the shared status.json
// store together with the retry/classification policy.
type Driver struct {
	flavor   agentflavor.Flavor
	renderer *promptkit.Renderer
	status   *agentstatus.Store
	tokens   *tokenbudget.Counter
	cfg      Config
}

// New returns a Driver invoking flavor, rendering prompts with renderer, and
// reading/writing the shared status document through status.
func New(flavor agentflavor.Flavor, renderer *promptkit.Renderer, status *agentstatus.Store, tokens *tokenbudget.Counter, cfg Config) *Driver {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxPromptTokens <= 0 {
		cfg.MaxPromptTokens = 50000
	}
	return &Driver{flavor: flavor, renderer: renderer, status: status, tokens: tokens, cfg: cfg}
}

// Run assembles the prompt, invokes the flavor with retry, and performs
// strict status extraction. It returns sprintyerr.KindStatusMissing or
// sprintyerr.KindRoleMismatch wrapped errors when extraction fails; other
// terminal classifications (auth, timeout) are returned as classified
// sprintyerr errors too, so the orchestrator can branch on Kind uniformly.
func (d *Driver) Run(ctx context.Context, in Invocation) (Outcome, error) {
	prompt, err := d.renderer.Assemble(promptkit.AssembleInput{
		Role:        in.Role,
		Phase:       in.Phase,
		SprintID:    in.SprintID,
		Timestamp:   clockid.ISO8601(clockid.Now()),
		InContainer: d.cfg.InContainer,
		EnvTag:      d.cfg.EnvTag,
		Context:     in.Context,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("agentdriver: assemble prompt: %w", err)
	}

	if d.tokens.ExceedsBudget(prompt, d.cfg.MaxPromptTokens) {
		// Advisory only; never truncates the structurally-required template
		// or context JSON (SPEC_FULL §4.6 [FULL]).
		fmt.Printf("agentdriver: warning: prompt for %s/%s sprint %d estimated over budget (%d tokens)\n",
			in.Role, in.Phase, in.SprintID, d.tokens.Count(prompt))
	}

	promptPath := fmt.Sprintf("%s/%s", in.OutputDir, promptkit.OutputFileName(in.Role, in.Phase, in.SprintID))
	outputPath := fmt.Sprintf("%s/output_%s_%s_sprint%d_loop%d.txt", in.OutputDir, in.Role, in.Phase, in.SprintID, in.LoopNumber)

	var (
		result agentflavor.Result
		class  Classification
	)
	attempts := 0
	for {
		attempts++
		result, err = d.flavor.Invoke(ctx, d.cfg.Model, prompt, outputPath, d.cfg.Timeout)
		if err != nil {
			return Outcome{Attempts: attempts}, fmt.Errorf("agentdriver: invoke: %w", err)
		}
		class = Classify(result.ExitCode, result.TimedOut, result.Killed, result.Stdout)

		retry, multiplier := shouldRetry(class)
		if !retry || attempts >= d.cfg.MaxRetries {
			break
		}
		time.Sleep(time.Duration(multiplier) * d.cfg.BaseDelay)
	}

	outcome := Outcome{
		Classification:   class,
		Attempts:         attempts,
		ExitCode:         result.ExitCode,
		OutputPath:       outputPath,
		PromptPath:       promptPath,
		Stdout:           result.Stdout,
		Duration:         result.Duration,
		SecondarySignals: ParseStatusBlock(result.Stdout),
	}

	if err := writeFile(promptPath, prompt); err != nil {
		return outcome, fmt.Errorf("agentdriver: write prompt: %w", err)
	}

	switch class {
	case ClassTimeout:
		return outcome, sprintyerr.New(sprintyerr.KindTimeout, fmt.Sprintf("%s/%s timed out after %d attempt(s)", in.Role, in.Phase, attempts))
	case ClassAuthError:
		return outcome, sprintyerr.New(sprintyerr.KindAuthError, fmt.Sprintf("%s/%s: authentication failure", in.Role, in.Phase))
	case ClassRateLimited:
		return outcome, sprintyerr.New(sprintyerr.KindRateLimited, fmt.Sprintf("%s/%s: exhausted retries while rate limited", in.Role, in.Phase))
	case ClassConnectionError:
		return outcome, sprintyerr.New(sprintyerr.KindConnectionError, fmt.Sprintf("%s/%s: exhausted retries on connection errors", in.Role, in.Phase))
	case ClassKilled:
		return outcome, sprintyerr.New(sprintyerr.KindKilled, fmt.Sprintf("%s/%s: exhausted retries after being killed", in.Role, in.Phase))
	case ClassUnknown:
		return outcome, sprintyerr.New(sprintyerr.KindUnknown, fmt.Sprintf("%s/%s: exhausted retries on unclassified failures", in.Role, in.Phase))
	}

	as, extractErr := d.ExtractStatus(string(in.Role))
	if extractErr != nil {
		return outcome, extractErr
	}
	outcome.AgentStatus = as
	return outcome, nil
}

// ExtractStatus performs the strict status-extraction checks from SPEC_FULL
// §4.6: status.json must exist, contain a non-empty agent_status.role, and
// that role must match expectedRole (the role the orchestrator invoked).
func (d *Driver) ExtractStatus(expectedRole string) (agentstatus.AgentStatus, error) {
	if !d.status.Exists() {
		return agentstatus.AgentStatus{}, sprintyerr.New(sprintyerr.KindStatusMissing, "status.json does not exist")
	}
	as, err := d.status.ReadAgentStatus()
	if err != nil {
		return agentstatus.AgentStatus{}, fmt.Errorf("agentdriver: read status: %w", err)
	}
	if as.Role == "" {
		return agentstatus.AgentStatus{}, sprintyerr.New(sprintyerr.KindStatusMissing, "agent_status.role is empty")
	}
	if as.Role != expectedRole {
		return agentstatus.AgentStatus{}, sprintyerr.New(sprintyerr.KindRoleMismatch,
			fmt.Sprintf("agent_status.role %q does not match invoked role %q (stale status from a previous phase)", as.Role, expectedRole))
	}
	return as, nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// statusBlockStart and statusBlockEnd delimit the secondary SPRINTY_STATUS
// signal block in the agent's stdout (SPEC_FULL §4.6 [FULL]).
const (
	statusBlockStart = "---SPRINTY_STATUS---"
	statusBlockEnd   = "---END_SPRINTY_STATUS---"
)

// ParseStatusBlock extracts KEY: value lines from a delimited
// ---SPRINTY_STATUS---/---END_SPRINTY_STATUS--- block in stdout. A malformed
// or absent block is not an error; it yields an empty map.
func ParseStatusBlock(stdout string) map[string]string {
	out := map[string]string{}
	start := strings.Index(stdout, statusBlockStart)
	if start < 0 {
		return out
	}
	rest := stdout[start+len(statusBlockStart):]
	end := strings.Index(rest, statusBlockEnd)
	if end < 0 {
		return out
	}
	block := rest[:end]
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key != "" {
			out[key] = val
		}
	}
	return out
}
