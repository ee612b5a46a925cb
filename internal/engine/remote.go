package engine

import (
	"log/slog"

	"github.com/ChalidNL/todoless/internal/models"
	"github.com/ChalidNL/todoless/internal/realtime"
)

// ApplyRemote applies one server-originated change notification to the
// local store, using the same merge precedence as Bootstrap: server ID
// match, then correlation match, then create new. It is safe to call
// while a flush is in flight; all writes are idempotent upserts keyed
// by stable identity.
func (e *Engine) ApplyRemote(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventCreated, realtime.EventUpdated:
		if _, err := e.upsertRemote(ev.Task); err != nil {
			slog.Warn("realtime: apply event", "type", ev.Type, "server_id", ev.Task.ServerID, "err", err)
		}
	case realtime.EventDeleted:
		e.removeRemote(ev.Task.ServerID)
	default:
		slog.Warn("realtime: unknown event type", "type", ev.Type)
	}
}

// upsertRemote merges a server task into the local store. Returns true
// when a new local record was created for it.
func (e *Engine) upsertRemote(remote models.Task) (bool, error) {
	local, err := e.store.FindByServerID(remote.ServerID)
	if err != nil {
		return false, err
	}

	if local == nil {
		local, err = e.resolveLocalCandidate(remote)
		if err != nil {
			return false, err
		}
	}

	if local != nil {
		e.mu.Lock()
		delete(e.upserts, local.ID) // server state supersedes any stale queued snapshot
		e.mu.Unlock()

		e.mute(local.ID, 1)
		if _, err := e.store.Overwrite(local.ID, remote); err != nil {
			e.unmute(local.ID)
			return false, err
		}
		return false, nil
	}

	// Born from the remote side: no local-only history.
	remote.ID = ""
	id, err := e.store.Add(remote)
	if err != nil {
		return false, err
	}
	// Add emits created after assigning the ID; the subscription has
	// already queued an echo upsert, so evict it.
	e.mu.Lock()
	delete(e.upserts, id)
	e.mu.Unlock()
	return true, nil
}

// removeRemote deletes every local record matching the server ID,
// defensive against transient duplicates from an identity race.
func (e *Engine) removeRemote(serverID string) {
	tasks, err := e.store.ListByServerID(serverID)
	if err != nil {
		slog.Warn("realtime: lookup for delete", "server_id", serverID, "err", err)
		return
	}
	for _, task := range tasks {
		e.mu.Lock()
		delete(e.upserts, task.ID)
		e.mu.Unlock()

		e.mute(task.ID, 1)
		if err := e.store.Remove(task.ID); err != nil {
			e.unmute(task.ID)
			slog.Warn("realtime: remove task", "id", task.ID, "err", err)
		}
	}
}
