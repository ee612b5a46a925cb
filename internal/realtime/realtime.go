// Package realtime provides the push channel between the server and
// the local reconciliation engine: a websocket client that delivers
// created/updated/deleted task events and owns its own reconnection.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/ChalidNL/todoless/internal/models"
)

// EventType identifies a server-originated change.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is one server-pushed change. It carries the same task shape as
// the REST surface (correlation ID included when the server knows it);
// delete events carry only the canonical identity in Task.ServerID.
type Event struct {
	Type EventType
	Task models.Task
}

// wireTask is the task shape on the wire. The server's "id" is the
// canonical server identity, not the local record ID, so events cannot
// be decoded into models.Task directly.
type wireTask struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlation_id"`
	Title         string            `json:"title"`
	Notes         string            `json:"notes"`
	Completed     bool              `json:"completed"`
	Labels        []string          `json:"labels"`
	Workflow      string            `json:"workflow"`
	Assignee      string            `json:"assignee"`
	Attributes    map[string]string `json:"attributes"`
	CreatedAt     string            `json:"created_at"`
}

type wireEvent struct {
	Type string   `json:"type"`
	Task wireTask `json:"task"`
}

// UnmarshalJSON decodes a server event, mapping the wire identity onto
// models.Task.ServerID and leaving the local ID empty.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Type = EventType(w.Type)
	e.Task = models.Task{
		ServerID:      w.Task.ID,
		CorrelationID: w.Task.CorrelationID,
		Title:         w.Task.Title,
		Notes:         w.Task.Notes,
		Completed:     w.Task.Completed,
		Labels:        w.Task.Labels,
		Workflow:      models.Workflow(w.Task.Workflow),
		Assignee:      w.Task.Assignee,
		Attributes:    w.Task.Attributes,
	}
	if w.Task.CreatedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, w.Task.CreatedAt)
		if err != nil {
			return err
		}
		e.Task.CreatedAt = ts
	}
	return nil
}

// State is the connection lifecycle state.
// Transitions: disconnected -> connecting -> connected -> (error | disconnected).
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)
