// Package promptkit assembles agent prompts from embedded role templates,
// per SPEC_FULL.md §4.6. Grounded on the teacher's pkg/templates/renderer.go
// (embed.FS + text/template, one parsed template per role file).
package promptkit

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"text/template"

	"sprinty/internal/sprint"
)

//go:embed templates/*.md
var templateFS embed.FS

const containerAddendum = `
## Sandbox environment

You are running inside a containerized sandbox. Filesystem access is
confined to the project workspace; there is no access to the host beyond
what has been explicitly mounted.
`

const statusReminder = `
## Required response format

Your response MUST include a SPRINTY_STATUS block, delimited exactly as
shown, with one KEY: value line per field:

---SPRINTY_STATUS---
ROLE: <role>
PHASE_COMPLETE: <true|false>
PROJECT_DONE: <true|false>
---END_SPRINTY_STATUS---

You must also write the same information to status.json under the
agent_status key. The orchestrator rejects any run whose status.json has
no agent_status role matching yours.
`

// BacklogCounts is the aggregate backlog section of the context JSON.
type BacklogCounts struct {
	TotalItems  int            `json:"total_items"`
	TotalPoints int            `json:"total_points"`
	PerStatus   map[string]int `json:"per_status"`
}

// SprintStats is the per-sprint section of the context JSON.
type SprintStats struct {
	ItemsInSprint   int `json:"items_in_sprint"`
	PlannedPoints   int `json:"planned_points"`
	CompletedPoints int `json:"completed_points"`
}

// Context is the JSON document the driver embeds in every prompt.
type Context struct {
	SprintID    int           `json:"sprint_id"`
	Phase       sprint.Phase  `json:"phase"`
	Backlog     BacklogCounts `json:"backlog"`
	SprintStats SprintStats   `json:"sprint_stats"`
}

// Renderer loads the embedded role templates once at construction.
type Renderer struct {
	templates map[sprint.Role]*template.Template
	final     *template.Template
}

// NewRenderer parses every embedded role template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[sprint.Role]*template.Template)}

	roleFiles := map[sprint.Role]string{
		sprint.RoleProductOwner: "templates/product_owner.md",
		sprint.RoleDeveloper:    "templates/developer.md",
		sprint.RoleQA:           "templates/qa.md",
	}
	for role, file := range roleFiles {
		tmpl, err := parseFile(file)
		if err != nil {
			return nil, err
		}
		r.templates[role] = tmpl
	}

	final, err := parseFile("templates/final_qa.md")
	if err != nil {
		return nil, err
	}
	r.final = final

	return r, nil
}

func parseFile(name string) (*template.Template, error) {
	content, err := templateFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("promptkit: read %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("promptkit: parse %s: %w", name, err)
	}
	return tmpl, nil
}

// AssembleInput carries everything Assemble needs beyond the base template.
type AssembleInput struct {
	Role        sprint.Role
	Phase       sprint.Phase
	SprintID    int
	Timestamp   string
	InContainer bool
	EnvTag      string
	Context     Context
}

// Assemble builds the full prompt body: base role template (the dedicated
// final_qa template when Phase is final_qa), the container addendum when
// InContainer, the "Current Context" block, then the status reminder.
func (r *Renderer) Assemble(in AssembleInput) (string, error) {
	var base *template.Template
	if in.Phase == sprint.PhaseFinalQA {
		base = r.final
	} else {
		t, ok := r.templates[in.Role]
		if !ok {
			return "", fmt.Errorf("promptkit: no template for role %q", in.Role)
		}
		base = t
	}

	var buf bytes.Buffer
	if err := base.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("promptkit: render base template: %w", err)
	}

	if in.InContainer {
		buf.WriteString(containerAddendum)
	}

	ctxJSON, err := json.MarshalIndent(in.Context, "", "  ")
	if err != nil {
		return "", fmt.Errorf("promptkit: marshal context: %w", err)
	}

	fmt.Fprintf(&buf, "\n## Current Context\n\n"+
		"- Sprint: %d\n- Phase: %s\n- Role: %s\n- Timestamp: %s\n- Environment: %s\n\n```json\n%s\n```\n",
		in.SprintID, in.Phase, in.Role, in.Timestamp, in.EnvTag, ctxJSON)

	buf.WriteString(statusReminder)

	return buf.String(), nil
}

// OutputFileName renders the deterministic prompt filename the driver writes
// to AGENT_OUTPUT_DIR, per SPEC_FULL §4.6.
func OutputFileName(role sprint.Role, phase sprint.Phase, sprintID int) string {
	return fmt.Sprintf("prompt_%s_%s_sprint%d.md", role, phase, sprintID)
}
