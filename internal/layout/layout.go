// Package layout centralizes the project-local filesystem paths from
// SPEC_FULL.md §6's "Filesystem layout", so every component resolves the
// same paths relative to one project root instead of hard-coding strings.
package layout

import (
	"path/filepath"
	"strconv"
)

// Paths resolves every path SPEC_FULL.md §6 names, relative to root.
type Paths struct {
	Root string
}

// New returns a Paths rooted at root.
func New(root string) Paths { return Paths{Root: root} }

func (p Paths) join(parts ...string) string {
	return filepath.Join(append([]string{p.Root}, parts...)...)
}

func (p Paths) StateDir() string           { return p.join(".sprinty") }
func (p Paths) ConfigJSON() string         { return filepath.Join(p.StateDir(), "config.json") }
func (p Paths) SprintStateJSON() string    { return filepath.Join(p.StateDir(), "sprint_state.json") }
func (p Paths) StatusJSON() string         { return filepath.Join(p.StateDir(), "status.json") }
func (p Paths) CircuitBreakerState() string { return filepath.Join(p.StateDir(), ".circuit_breaker_state") }
func (p Paths) RateLimitState() string     { return filepath.Join(p.StateDir(), ".rate_limit_state") }
func (p Paths) ExitSignals() string        { return filepath.Join(p.StateDir(), ".exit_signals") }
func (p Paths) MetricsJSON() string        { return filepath.Join(p.StateDir(), "metrics.json") }
func (p Paths) AuditDB() string            { return filepath.Join(p.StateDir(), "audit.db") }
func (p Paths) BacklogJSON() string        { return p.join("backlog.json") }
func (p Paths) SprintsDir() string         { return p.join("sprints") }
func (p Paths) ReviewsDir() string         { return p.join("reviews") }
func (p Paths) AgentOutputDir() string     { return p.join("logs", "agent_output") }
func (p Paths) FixPlan() string            { return p.join("@fix_plan.md") }
func (p Paths) BootstrapYAML() string      { return p.join("sprinty.yaml") }
func (p Paths) ManifestJSON() string       { return filepath.Join(p.StateDir(), ".manifest") }

// SprintPlanCandidates returns both accepted locations for sprint N's plan
// document (SPEC_FULL §4.3: either satisfies the planning predicate).
func (p Paths) SprintPlanCandidates(n int) []string {
	return []string{
		p.join("sprints", sprintDir(n), "plan.md"),
		p.join("sprints", sprintFile(n, "plan")),
	}
}

// SprintReviewCandidates returns both accepted locations for sprint N's
// review document.
func (p Paths) SprintReviewCandidates(n int) []string {
	return []string{
		p.join("reviews", sprintFile(n, "review")),
		p.join("reviews", sprintDir(n), "review.md"),
	}
}

// FinalQAReport is the final-QA artifact path.
func (p Paths) FinalQAReport() string {
	return p.join("reviews", "final_qa_report.md")
}

func sprintDir(n int) string                  { return filepath.Base(sprintLabel(n)) }
func sprintLabel(n int) string                 { return "sprint_" + strconv.Itoa(n) }
func sprintFile(n int, suffix string) string   { return sprintLabel(n) + "_" + suffix + ".md" }
