package engine

import (
	"context"
	"errors"

	"github.com/ChalidNL/todoless/internal/models"
)

// ErrNotFound signals that a task is gone on the server side. Transports
// wrap their 404-equivalents with this so the flush loop can stop
// retrying operations against records the server no longer has.
var ErrNotFound = errors.New("task not found on server")

// Transport is the task CRUD surface the engine pushes to and pulls
// from. Implemented by syncclient.Client and by test fakes.
//
// Server tasks carry ServerID (always) and CorrelationID (when the
// server knows it); their ID field is empty.
type Transport interface {
	// ListTasks fetches the server's full task snapshot.
	ListTasks(ctx context.Context) ([]models.Task, error)

	// CreateTask pushes a new task, sending its correlation ID, and
	// returns the canonical identity the server assigned.
	CreateTask(ctx context.Context, task models.Task) (models.Task, error)

	// UpdateTask overwrites the server record identified by serverID.
	UpdateTask(ctx context.Context, serverID string, task models.Task) error

	// DeleteTask removes the server record. Deleting a record that is
	// already gone returns nil, not an error.
	DeleteTask(ctx context.Context, serverID string) error
}
