package engine

import (
	"github.com/ChalidNL/todoless/internal/models"
)

// CorrelationWindow bounds the title heuristic: a local-only record only
// matches a server record when their creation timestamps are within this
// window of each other.
const CorrelationWindow = 10 // seconds

// resolveLocalCandidate finds the local record an incoming server task
// should merge into, instead of creating a duplicate.
//
// An exact correlation ID match is always preferred. Failing that, a
// fuzzy fallback matches a local-only record (no server ID) whose title
// equals the server title case-sensitively and whose creation time falls
// within CorrelationWindow of the server record's. Two distinct tasks
// created with identical titles inside the window are indistinguishable
// here; when several candidates qualify the first in creation order is
// taken. That ambiguity is inherent to the heuristic, not hidden.
func (e *Engine) resolveLocalCandidate(remote models.Task) (*models.Task, error) {
	if remote.CorrelationID != "" {
		task, err := e.store.FindByCorrelation(remote.CorrelationID)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}
	}

	tasks, err := e.store.Unsynced()
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].Title != remote.Title {
			continue
		}
		diff := tasks[i].CreatedAt.Sub(remote.CreatedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff.Seconds() <= CorrelationWindow {
			return &tasks[i], nil
		}
	}
	return nil, nil
}
