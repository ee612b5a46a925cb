package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// Bootstrap establishes convergence between the local store (possibly
// populated while offline) and the server's authoritative list. It runs
// once per session, after authentication succeeds.
//
// A fetch failure leaves the store untouched and is safe to retry on
// the next session start; it is never treated as "server has zero
// tasks". Bootstrap only creates and updates local records — it never
// deletes them, so a bad read cannot cascade into data loss.
func (e *Engine) Bootstrap(ctx context.Context) error {
	remote, err := e.transport.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}

	merged, created := 0, 0
	for _, rt := range remote {
		wasNew, err := e.upsertRemote(rt)
		if err != nil {
			slog.Warn("bootstrap: merge server task", "server_id", rt.ServerID, "err", err)
			continue
		}
		if wasNew {
			created++
		} else {
			merged++
		}
	}

	// Anything still lacking a server identity was created offline and
	// the server has never seen it; hand it to the outbound queue.
	leftovers, err := e.store.Unsynced()
	if err != nil {
		return fmt.Errorf("list unsynced: %w", err)
	}
	for _, task := range leftovers {
		e.ScheduleUpsert(task)
	}

	slog.Info("bootstrap complete",
		"server_tasks", len(remote), "merged", merged, "created", created,
		"pushing", len(leftovers))
	return nil
}
