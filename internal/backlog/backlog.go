// Package backlog implements the work-item CRUD engine described in
// SPEC_FULL.md §4.2: a flat JSON-backed store of parent/subtask work items
// with status rollup, sprint assignment, and completeness queries.
package backlog

import (
	"fmt"
	"sort"

	"sprinty/internal/clockid"
	"sprinty/internal/sprintyerr"
	"sprinty/internal/statestore"
)

// ItemType enumerates the kinds of work item.
type ItemType string

const (
	TypeFeature ItemType = "feature"
	TypeBug     ItemType = "bug"
	TypeSpike   ItemType = "spike"
	TypeInfra   ItemType = "infra"
	TypeChore   ItemType = "chore"
)

// Status enumerates the lifecycle states of a work item.
type Status string

const (
	StatusBacklog       Status = "backlog"
	StatusReady         Status = "ready"
	StatusInProgress    Status = "in_progress"
	StatusImplemented   Status = "implemented"
	StatusQAInProgress  Status = "qa_in_progress"
	StatusQAPassed      Status = "qa_passed"
	StatusQAFailed      Status = "qa_failed"
	StatusDone          Status = "done"
	StatusCancelled     Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusBacklog: true, StatusReady: true, StatusInProgress: true,
	StatusImplemented: true, StatusQAInProgress: true, StatusQAPassed: true,
	StatusQAFailed: true, StatusDone: true, StatusCancelled: true,
}

// Item is a single work item, parent or subtask.
type Item struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	Type                ItemType `json:"type"`
	Priority            int      `json:"priority"`
	StoryPoints         int      `json:"story_points"`
	Status              Status   `json:"status"`
	SprintID            *int     `json:"sprint_id"`
	AcceptanceCriteria  []string `json:"acceptance_criteria,omitempty"`
	Dependencies        []string `json:"dependencies,omitempty"`
	ParentID            *string  `json:"parent_id"`
	Subtasks            []string `json:"subtasks,omitempty"`
	FailureReason       string   `json:"failure_reason,omitempty"`
	CreatedAt           string   `json:"created_at"`
	UpdatedAt           string   `json:"updated_at"`
}

// Metadata holds the derived backlog-wide totals.
type Metadata struct {
	ProjectName string `json:"project_name"`
	TotalItems  int    `json:"total_items"`
	TotalPoints int    `json:"total_points"`
	NextID      int    `json:"next_id"`
}

// Document is the full persisted backlog.json shape.
type Document struct {
	Metadata Metadata         `json:"metadata"`
	Items    map[string]*Item `json:"items"`
}

// Engine wraps a statestore.Store bound to backlog.json.
type Engine struct {
	store *statestore.Store
}

// New returns an Engine persisting to path (typically STATE_DIR/backlog.json).
func New(path string) (*Engine, error) {
	store, err := statestore.New(path)
	if err != nil {
		return nil, err
	}
	return &Engine{store: store}, nil
}

// Init creates an empty backlog with zeroed metadata. Idempotent: refuses to
// overwrite an already-initialized backlog.
func (e *Engine) Init(projectName string) error {
	_, err := statestore.Update(e.store, func(d *Document) error {
		if d.Items != nil {
			return sprintyerr.New(sprintyerr.KindUnknown, "backlog already initialized")
		}
		d.Metadata = Metadata{ProjectName: projectName, NextID: 1}
		d.Items = make(map[string]*Item)
		return nil
	})
	return err
}

// AddRecord describes a new work item to insert via Add.
type AddRecord struct {
	Title              string
	Type               ItemType
	Priority            int
	StoryPoints        int
	Description        string
	AcceptanceCriteria []string
	Dependencies       []string
}

// Add allocates the next dense task ID and inserts a top-level backlog item.
func (e *Engine) Add(rec AddRecord) (*Item, error) {
	var created *Item
	_, err := statestore.Update(e.store, func(d *Document) error {
		ensureDoc(d)
		id := clockid.TaskID(d.Metadata.NextID)
		now := clockid.ISO8601(clockid.Now())
		item := &Item{
			ID:                 id,
			Title:              rec.Title,
			Description:        rec.Description,
			Type:               rec.Type,
			Priority:           rec.Priority,
			StoryPoints:        rec.StoryPoints,
			Status:             StatusBacklog,
			SprintID:           nil,
			AcceptanceCriteria: rec.AcceptanceCriteria,
			Dependencies:       rec.Dependencies,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		d.Items[id] = item
		d.Metadata.NextID++
		recomputeTotals(d)
		created = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AddBugFromQA is the final-QA-gate convenience wrapper (SPEC_FULL §4.2 [FULL]):
// always registers a type=bug, status=backlog, sprint_id=nil item ready to be
// picked up by the next regular sprint's NextReady.
func (e *Engine) AddBugFromQA(title, description string, priority int, ac []string) (*Item, error) {
	return e.Add(AddRecord{
		Title:              title,
		Type:               TypeBug,
		Priority:           priority,
		StoryPoints:        0,
		Description:        description,
		AcceptanceCriteria: ac,
	})
}

// Get returns a copy of the item with id, or an error if absent.
func (e *Engine) Get(id string) (Item, error) {
	doc, err := statestore.Read[Document](e.store)
	if err != nil {
		return Item{}, err
	}
	item, ok := doc.Items[id]
	if !ok {
		return Item{}, fmt.Errorf("backlog: no such item %q", id)
	}
	return *item, nil
}

// All returns every item, sorted by ID.
func (e *Engine) All() ([]Item, error) {
	doc, err := statestore.Read[Document](e.store)
	if err != nil {
		return nil, err
	}
	return sortedItems(doc.Items), nil
}

// ByStatus returns every item with the given status, sorted by ID.
func (e *Engine) ByStatus(status Status) ([]Item, error) {
	all, err := e.All()
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(all))
	for _, it := range all {
		if it.Status == status {
			out = append(out, it)
		}
	}
	return out, nil
}

// SprintBacklog returns every item assigned to sprintID, sorted by ID.
func (e *Engine) SprintBacklog(sprintID int) ([]Item, error) {
	all, err := e.All()
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(all))
	for _, it := range all {
		if it.SprintID != nil && *it.SprintID == sprintID {
			out = append(out, it)
		}
	}
	return out, nil
}

// NextReady returns the lowest-priority (integer ascending), lowest-ID item
// in status=backlog whose dependencies are satisfied. Returns ok=false if none.
func (e *Engine) NextReady() (item Item, ok bool, err error) {
	doc, err := statestore.Read[Document](e.store)
	if err != nil {
		return Item{}, false, err
	}
	candidates := sortedItems(doc.Items)
	var best *Item
	for i := range candidates {
		it := candidates[i]
		if it.Status != StatusBacklog {
			continue
		}
		if !dependenciesSatisfied(doc.Items, it.Dependencies) {
			continue
		}
		if best == nil || it.Priority < best.Priority ||
			(it.Priority == best.Priority && it.ID < best.ID) {
			itCopy := it
			best = &itCopy
		}
	}
	if best == nil {
		return Item{}, false, nil
	}
	return *best, true, nil
}

// DependenciesSatisfied reports whether every dependency of id resolves to an
// item with status in {done, cancelled}. SPEC_FULL §4.2 [FULL].
func (e *Engine) DependenciesSatisfied(id string) (bool, error) {
	doc, err := statestore.Read[Document](e.store)
	if err != nil {
		return false, err
	}
	item, ok := doc.Items[id]
	if !ok {
		return false, fmt.Errorf("backlog: no such item %q", id)
	}
	return dependenciesSatisfied(doc.Items, item.Dependencies), nil
}

func dependenciesSatisfied(items map[string]*Item, deps []string) bool {
	for _, dep := range deps {
		d, ok := items[dep]
		if !ok {
			return false
		}
		if d.Status != StatusDone && d.Status != StatusCancelled {
			return false
		}
	}
	return true
}

// SetStatus validates new status is a known enum value and sets it. It does
// NOT enforce transition legality; that is the orchestrator's job (SPEC_FULL
// §4.2, Open Question (a) in DESIGN.md).
func (e *Engine) SetStatus(id string, newStatus Status) error {
	if !validStatuses[newStatus] {
		return fmt.Errorf("backlog: invalid status %q", newStatus)
	}
	_, err := statestore.Update(e.store, func(d *Document) error {
		item, ok := d.Items[id]
		if !ok {
			return fmt.Errorf("backlog: no such item %q", id)
		}
		item.Status = newStatus
		item.UpdatedAt = clockid.ISO8601(clockid.Now())
		return nil
	})
	return err
}

// AssignToSprint sets sprint_id and moves the item to status=ready.
func (e *Engine) AssignToSprint(id string, sprintID int) error {
	_, err := statestore.Update(e.store, func(d *Document) error {
		item, ok := d.Items[id]
		if !ok {
			return fmt.Errorf("backlog: no such item %q", id)
		}
		item.SprintID = &sprintID
		item.Status = StatusReady
		item.UpdatedAt = clockid.ISO8601(clockid.Now())
		return nil
	})
	return err
}

// SetFailureReason records why an item failed QA.
func (e *Engine) SetFailureReason(id, reason string) error {
	_, err := statestore.Update(e.store, func(d *Document) error {
		item, ok := d.Items[id]
		if !ok {
			return fmt.Errorf("backlog: no such item %q", id)
		}
		item.FailureReason = reason
		item.UpdatedAt = clockid.ISO8601(clockid.Now())
		return nil
	})
	return err
}

// Remove deletes an item and recomputes metadata totals.
func (e *Engine) Remove(id string) error {
	_, err := statestore.Update(e.store, func(d *Document) error {
		if _, ok := d.Items[id]; !ok {
			return fmt.Errorf("backlog: no such item %q", id)
		}
		delete(d.Items, id)
		recomputeTotals(d)
		return nil
	})
	return err
}

// BreakDown creates a subtask of parentID with the next unused letter suffix,
// inheriting sprint_id, priority, and acceptance_criteria from the parent.
// Parent and child are updated in one atomic statestore.Update call.
func (e *Engine) BreakDown(parentID, title string, points int, desc string) (*Item, error) {
	var created *Item
	_, err := statestore.Update(e.store, func(d *Document) error {
		parent, ok := d.Items[parentID]
		if !ok {
			return fmt.Errorf("backlog: no such item %q", parentID)
		}
		idx := clockid.NextSubtaskIndex(len(parent.Subtasks))
		childID := clockid.SubtaskID(parentID, idx)
		if _, exists := d.Items[childID]; exists {
			return fmt.Errorf("backlog: subtask id %q already exists", childID)
		}
		now := clockid.ISO8601(clockid.Now())
		child := &Item{
			ID:                 childID,
			Title:              title,
			Description:        desc,
			Type:               parent.Type,
			Priority:           parent.Priority,
			StoryPoints:        points,
			Status:             StatusBacklog,
			SprintID:           parent.SprintID,
			AcceptanceCriteria: append([]string(nil), parent.AcceptanceCriteria...),
			ParentID:           &parentID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		d.Items[childID] = child
		parent.Subtasks = append(parent.Subtasks, childID)
		parent.UpdatedAt = now
		recomputeTotals(d)
		created = child
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// NeedsBreakdown is true iff the item has >= 9 points and no subtasks yet.
// Advisory only; surfaced to the developer agent's prompt.
func (e *Engine) NeedsBreakdown(id string) (bool, error) {
	item, err := e.Get(id)
	if err != nil {
		return false, err
	}
	return item.StoryPoints >= 9 && len(item.Subtasks) == 0, nil
}

// RollUp derives a parent's status from its non-cancelled children, per the
// first matching rule in SPEC_FULL §4.2, and persists it.
func (e *Engine) RollUp(parentID string) (Status, error) {
	var result Status
	_, err := statestore.Update(e.store, func(d *Document) error {
		parent, ok := d.Items[parentID]
		if !ok {
			return fmt.Errorf("backlog: no such item %q", parentID)
		}
		children := make([]*Item, 0, len(parent.Subtasks))
		for _, cid := range parent.Subtasks {
			c, ok := d.Items[cid]
			if !ok || c.Status == StatusCancelled {
				continue
			}
			children = append(children, c)
		}
		status := deriveRollupStatus(children)
		parent.Status = status
		parent.UpdatedAt = clockid.ISO8601(clockid.Now())
		result = status
		return nil
	})
	return result, err
}

func deriveRollupStatus(children []*Item) Status {
	if len(children) == 0 {
		return StatusBacklog
	}
	for _, c := range children {
		if c.Status == StatusQAFailed {
			return StatusQAFailed
		}
	}
	for _, c := range children {
		if c.Status == StatusInProgress {
			return StatusInProgress
		}
	}
	for _, c := range children {
		if c.Status == StatusImplemented || c.Status == StatusQAInProgress {
			return StatusImplemented
		}
	}
	allQAPassed, allDone := true, true
	for _, c := range children {
		if c.Status != StatusQAPassed {
			allQAPassed = false
		}
		if c.Status != StatusDone {
			allDone = false
		}
	}
	if allDone {
		return StatusDone
	}
	if allQAPassed {
		return StatusQAPassed
	}
	return StatusInProgress
}

// HasQAFailed reports whether any item in the backlog is status=qa_failed.
func (e *Engine) HasQAFailed() (bool, error) {
	items, err := e.ByStatus(StatusQAFailed)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

// IsSprintComplete reports whether no item in sprintID has a status outside
// {done, cancelled}.
func (e *Engine) IsSprintComplete(sprintID int) (bool, error) {
	items, err := e.SprintBacklog(sprintID)
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if it.Status != StatusDone && it.Status != StatusCancelled {
			return false, nil
		}
	}
	return true, nil
}

// IsBacklogComplete reports whether every item is {done, cancelled}, the
// backlog is non-empty, and no P1 bug remains undone.
func (e *Engine) IsBacklogComplete() (bool, error) {
	all, err := e.All()
	if err != nil {
		return false, err
	}
	if len(all) == 0 {
		return false, nil
	}
	for _, it := range all {
		if it.Status != StatusDone && it.Status != StatusCancelled {
			return false, nil
		}
		if it.Type == TypeBug && it.Priority == 1 && it.Status != StatusDone {
			return false, nil
		}
	}
	return true, nil
}

func ensureDoc(d *Document) {
	if d.Items == nil {
		d.Items = make(map[string]*Item)
	}
	if d.Metadata.NextID == 0 {
		d.Metadata.NextID = 1
	}
}

func recomputeTotals(d *Document) {
	total, points := 0, 0
	for _, it := range d.Items {
		total++
		points += it.StoryPoints
	}
	d.Metadata.TotalItems = total
	d.Metadata.TotalPoints = points
}

func sortedItems(items map[string]*Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
