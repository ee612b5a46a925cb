package models

import (
	"time"
)

// Workflow represents the workflow bucket a task lives in
type Workflow string

const (
	WorkflowInbox  Workflow = "inbox"
	WorkflowActive Workflow = "active"
	WorkflowDone   Workflow = "done"
)

// Task is the unit of synchronization.
//
// ID is generated locally and stable for the lifetime of the local record.
// CorrelationID is generated at creation time, sent to the server on first
// push, and echoed back on every server representation of the task; it is
// the only identity that survives the local-creation to server-assignment
// transition. ServerID is assigned by the server on first successful push;
// empty means "not yet synchronized".
type Task struct {
	ID            string            `json:"id"`
	ServerID      string            `json:"server_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Title         string            `json:"title"`
	Notes         string            `json:"notes,omitempty"`
	Completed     bool              `json:"completed"`
	Labels        []string          `json:"labels,omitempty"`
	Workflow      Workflow          `json:"workflow,omitempty"`
	Assignee      string            `json:"assignee,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Synced reports whether the task has been assigned a server identity.
func (t Task) Synced() bool {
	return t.ServerID != ""
}

// ChangeKind describes a store mutation
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is a store change notification carrying the resulting record.
// For ChangeDeleted the Task holds the record as it was before removal.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Task Task       `json:"task"`
}

// TaskPatch holds a partial update; nil fields are left unchanged.
type TaskPatch struct {
	Title      *string            `json:"title,omitempty"`
	Notes      *string            `json:"notes,omitempty"`
	Completed  *bool              `json:"completed,omitempty"`
	Labels     *[]string          `json:"labels,omitempty"`
	Workflow   *Workflow          `json:"workflow,omitempty"`
	Assignee   *string            `json:"assignee,omitempty"`
	Attributes *map[string]string `json:"attributes,omitempty"`
}

// IsValidWorkflow checks if a workflow is valid
func IsValidWorkflow(w Workflow) bool {
	switch w {
	case WorkflowInbox, WorkflowActive, WorkflowDone:
		return true
	}
	return false
}

// NormalizeWorkflow converts alternate workflow names to canonical form
// Accepts: "todo" as alias for "inbox", "doing" as alias for "active"
func NormalizeWorkflow(w string) Workflow {
	switch w {
	case "todo":
		return WorkflowInbox
	case "doing":
		return WorkflowActive
	default:
		return Workflow(w)
	}
}
