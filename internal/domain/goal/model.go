package goal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level is the horizon of a milestone within a patient's three-level goal tree.
type Level string

const (
	LevelOutcome Level = "outcome"
	LevelPhase   Level = "phase"
	LevelTask    Level = "task"
)

// Status is the lifecycle status of a milestone.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusOnHold    Status = "on-hold"
)

var validLevels = map[Level]bool{
	LevelOutcome: true, LevelPhase: true, LevelTask: true,
}

var validStatuses = map[Status]bool{
	StatusPending: true, StatusActive: true, StatusCompleted: true,
	StatusCancelled: true, StatusOnHold: true,
}

// Caretakers may only move a task between these statuses.
var validLeafStatuses = map[Status]bool{
	StatusActive: true, StatusCompleted: true, StatusCancelled: true,
}

// Milestone maps to the milestone table. Outcomes are owned by a patient
// directly; phases and tasks hang off a parent milestone.
type Milestone struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	ParentID       *uuid.UUID `db:"parent_id" json:"parent_id,omitempty"`
	Level          Level      `db:"level" json:"level"`
	SequenceNumber int        `db:"sequence_number" json:"sequence_number"`
	Title          string     `db:"title" json:"title"`
	Description    *string    `db:"description" json:"description,omitempty"`
	Status         Status     `db:"status" json:"status"`
	CompletionRate int        `db:"completion_rate" json:"completion_rate"`
	CompletionDate *time.Time `db:"completion_date" json:"completion_date,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// IsLeaf reports whether the milestone is a task.
func (m *Milestone) IsLeaf() bool { return m.Level == LevelTask }

// IsResolved reports whether the milestone reached a terminal status.
func (m *Milestone) IsResolved() bool {
	return m.Status == StatusCompleted || m.Status == StatusCancelled
}

// validateParent checks the level of the parent a milestone is attached to.
// Tasks are accepted directly under an outcome as well as under a phase.
func validateParent(child Level, parent *Milestone) error {
	switch child {
	case LevelOutcome:
		if parent != nil {
			return fmt.Errorf("%w: outcome milestones cannot have a parent", ErrInvalidInput)
		}
	case LevelPhase:
		if parent == nil || parent.Level != LevelOutcome {
			return fmt.Errorf("%w: phase milestones must belong to an outcome", ErrInvalidInput)
		}
	case LevelTask:
		if parent == nil || parent.Level == LevelTask {
			return fmt.Errorf("%w: task milestones must belong to a phase or an outcome", ErrInvalidInput)
		}
	}
	return nil
}

// Node is a milestone together with its direct children, used to render a
// patient's goal tree.
type Node struct {
	*Milestone
	Children []*Node `json:"children,omitempty"`
}

// BuildTree arranges a flat milestone list into outcome-rooted trees. Siblings
// keep the order of the input slice.
func BuildTree(items []*Milestone) []*Node {
	nodes := make(map[uuid.UUID]*Node, len(items))
	for _, m := range items {
		nodes[m.ID] = &Node{Milestone: m}
	}
	var roots []*Node
	for _, m := range items {
		n := nodes[m.ID]
		if m.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		parent, ok := nodes[*m.ParentID]
		if !ok {
			continue
		}
		parent.Children = append(parent.Children, n)
	}
	return roots
}
