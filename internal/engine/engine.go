// Package engine implements the reconciliation core: an outbound sync
// queue with coalescing and backoff, a bootstrap reconciler, and a
// realtime event applier, all sharing one merge precedence (server ID
// match, then correlation match, then create new).
//
// One Engine is constructed per authenticated session and torn down on
// logout. It owns its queues and scheduler handle; nothing here is
// process-global.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChalidNL/todoless/internal/models"
	"github.com/ChalidNL/todoless/internal/store"
)

// Config holds tunables for the outbound queue.
type Config struct {
	// Debounce is the base delay between a mutation and the flush that
	// pushes it, and the floor the backoff curve resets to.
	Debounce time.Duration

	// MaxDelay caps the exponential backoff between failed flushes.
	MaxDelay time.Duration

	// ImmediateThreshold is the combined queue size past which a flush
	// is scheduled without the debounce delay, trading coalescing
	// efficiency for bounded queue growth.
	ImmediateThreshold int

	// Clock drives scheduling; nil means the real time package.
	Clock Clock
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:           3 * time.Second,
		MaxDelay:           2 * time.Minute,
		ImmediateThreshold: 32,
	}
}

// flushState tracks the outbound queue's scheduler.
// Transitions: idle -> scheduled -> flushing -> (idle | scheduled).
type flushState int

const (
	stateIdle flushState = iota
	stateScheduled
	stateFlushing
)

// deletion is a queued delete intent.
type deletion struct {
	LocalID  string
	ServerID string // empty when the record had no server identity when queued
}

// pendingUpsert is a queued upsert holding the latest task snapshot.
// seq detects whether the entry was replaced while a push was in flight.
type pendingUpsert struct {
	task models.Task
	seq  uint64
}

// Engine owns the outbound sync queues and applies inbound server state.
type Engine struct {
	store     *store.Store
	transport Transport
	clock     Clock
	cfg       Config

	mu      sync.Mutex
	upserts map[string]pendingUpsert
	deletes map[string]deletion
	seq     uint64
	state   flushState
	timer   Timer
	delay   time.Duration
	again   bool // a schedule request arrived mid-flush; trailing check picks it up
	muted   map[string]int
	closed  bool

	unsubscribe func()
}

// New creates an Engine bound to the given store and transport and
// subscribes it to the store's change feed, so every local mutation is
// queued automatically.
func New(st *store.Store, transport Transport, cfg Config) *Engine {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	if cfg.ImmediateThreshold <= 0 {
		cfg.ImmediateThreshold = DefaultConfig().ImmediateThreshold
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock()
	}

	e := &Engine{
		store:     st,
		transport: transport,
		clock:     clock,
		cfg:       cfg,
		upserts:   make(map[string]pendingUpsert),
		deletes:   make(map[string]deletion),
		delay:     cfg.Debounce,
		muted:     make(map[string]int),
	}
	e.unsubscribe = st.OnChange(e.handleChange)
	return e
}

// Stop tears the engine down: unsubscribes from the store and cancels
// any scheduled flush. Pending queue entries are dropped; they are
// rebuilt from unsynced records on the next session's bootstrap.
func (e *Engine) Stop() {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// handleChange reacts to store mutations. Writes the engine itself
// performs while applying remote state are muted so they do not echo
// back to the server.
func (e *Engine) handleChange(c models.Change) {
	e.mu.Lock()
	if n := e.muted[c.Task.ID]; n > 0 {
		if n == 1 {
			delete(e.muted, c.Task.ID)
		} else {
			e.muted[c.Task.ID] = n - 1
		}
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	switch c.Kind {
	case models.ChangeCreated, models.ChangeUpdated:
		e.ScheduleUpsert(c.Task)
	case models.ChangeDeleted:
		e.ScheduleDelete(c.Task.ID, c.Task.ServerID)
	}
}

// mute suppresses the next n change notifications for a local ID.
// Store writes emit synchronously on the calling goroutine, so the
// counter is consumed before the remote-apply call returns.
//
// The counter is keyed by ID only, not by cause: a foreign write to
// the same task landing between mute and the engine's own store write
// consumes the suppression, so that change is not queued until the
// task's next edit. Reaching the window takes a second goroutine
// mutating the same task mid-apply; store writes serialize, and the
// later write carries the full snapshot either way.
func (e *Engine) mute(id string, n int) {
	e.mu.Lock()
	e.muted[id] += n
	e.mu.Unlock()
}

// unmute drops any unconsumed suppression for a local ID, covering
// store calls that failed before emitting.
func (e *Engine) unmute(id string) {
	e.mu.Lock()
	delete(e.muted, id)
	e.mu.Unlock()
}

// ScheduleUpsert queues the latest snapshot of a task for push. A
// pending delete for the same ID is evicted: latest intent wins.
func (e *Engine) ScheduleUpsert(task models.Task) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	delete(e.deletes, task.ID)
	e.seq++
	e.upserts[task.ID] = pendingUpsert{task: task, seq: e.seq}
	immediate := len(e.upserts)+len(e.deletes) > e.cfg.ImmediateThreshold
	e.mu.Unlock()

	e.scheduleFlush(immediate)
}

// ScheduleDelete queues a delete intent for a task. A pending upsert
// for the same ID is evicted: latest intent wins.
func (e *Engine) ScheduleDelete(localID, serverID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	delete(e.upserts, localID)
	e.deletes[localID] = deletion{LocalID: localID, ServerID: serverID}
	immediate := len(e.upserts)+len(e.deletes) > e.cfg.ImmediateThreshold
	e.mu.Unlock()

	e.scheduleFlush(immediate)
}

// Pending returns the combined queue size, for status displays.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.upserts) + len(e.deletes)
}

// NetworkRestored signals that connectivity is back; queued work is
// flushed without waiting out the debounce window.
func (e *Engine) NetworkRestored() {
	e.mu.Lock()
	e.delay = e.cfg.Debounce
	e.mu.Unlock()
	e.scheduleFlush(true)
}

// Backgrounded runs a best-effort synchronous flush if anything is
// queued, for use when the application is about to be suspended.
func (e *Engine) Backgrounded(ctx context.Context) {
	if e.Pending() == 0 {
		return
	}
	if err := e.Flush(ctx); err != nil {
		slog.Debug("background flush", "err", err)
	}
}

// scheduleFlush arranges for a flush to run after the current delay
// (or immediately). While a flush is running the request is deferred
// to that flush's trailing check rather than run concurrently.
func (e *Engine) scheduleFlush(immediate bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	switch e.state {
	case stateFlushing:
		e.again = true
		return
	case stateScheduled:
		if !immediate {
			return // existing timer is fine
		}
		if e.timer != nil {
			e.timer.Stop()
		}
	}

	d := e.delay
	if immediate {
		d = 0
	}
	e.state = stateScheduled
	e.timer = e.clock.AfterFunc(d, func() {
		if err := e.Flush(context.Background()); err != nil {
			slog.Debug("scheduled flush", "err", err)
		}
	})
}

// Flush pushes all queued deletes, then all queued upserts, to the
// server. Re-entrant calls while a flush is in progress are absorbed
// into the running flush's trailing check. Failed entries stay queued.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if e.state == stateFlushing {
		e.again = true
		e.mu.Unlock()
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.state = stateFlushing

	deletes := make([]deletion, 0, len(e.deletes))
	for _, d := range e.deletes {
		deletes = append(deletes, d)
	}
	upserts := make([]pendingUpsert, 0, len(e.upserts))
	for _, u := range e.upserts {
		upserts = append(upserts, u)
	}
	e.mu.Unlock()

	failed := 0

	// Deletes first: a delete racing behind a stale upsert must not
	// resurrect the task on the server.
	for _, d := range deletes {
		if err := e.flushDelete(ctx, d); err != nil {
			slog.Warn("sync: delete failed", "id", d.LocalID, "err", err)
			failed++
			continue
		}
		e.mu.Lock()
		delete(e.deletes, d.LocalID)
		e.mu.Unlock()
	}

	for _, u := range upserts {
		e.mu.Lock()
		_, beingDeleted := e.deletes[u.task.ID]
		current, stillQueued := e.upserts[u.task.ID]
		e.mu.Unlock()
		if beingDeleted || !stillQueued || current.seq != u.seq {
			continue // delete wins, or a newer snapshot replaced this one
		}

		if err := e.flushUpsert(ctx, u.task); err != nil {
			if errors.Is(err, ErrNotFound) {
				// Server no longer has the record; drop the entry and
				// let the inbound path reconcile the local copy.
				slog.Debug("sync: server dropped task, evicting upsert", "id", u.task.ID)
			} else {
				slog.Warn("sync: upsert failed", "id", u.task.ID, "err", err)
				failed++
				continue
			}
		}
		e.mu.Lock()
		if cur, ok := e.upserts[u.task.ID]; ok && cur.seq == u.seq {
			delete(e.upserts, u.task.ID)
		}
		e.mu.Unlock()
	}

	// Trailing check: adjust backoff, leave the flushing state, and
	// re-schedule while either queue is non-empty.
	e.mu.Lock()
	e.state = stateIdle
	if failed > 0 {
		e.delay = min(e.delay*2, e.cfg.MaxDelay)
	} else {
		e.delay = e.cfg.Debounce
	}
	pending := len(e.upserts)+len(e.deletes) > 0 || e.again
	e.again = false
	e.mu.Unlock()

	if pending {
		e.scheduleFlush(false)
	}

	if failed > 0 {
		return fmt.Errorf("flush: %d operation(s) failed, retry scheduled", failed)
	}
	return nil
}

// flushDelete pushes one delete intent. The server ID may have been
// assigned after the delete was queued, so it is re-resolved here; a
// task that never reached the server is dropped without network I/O.
func (e *Engine) flushDelete(ctx context.Context, d deletion) error {
	serverID := d.ServerID
	if serverID == "" {
		if task, err := e.store.Get(d.LocalID); err == nil && task.ServerID != "" {
			serverID = task.ServerID
		}
	}
	if serverID == "" {
		e.mu.Lock()
		if cur, ok := e.deletes[d.LocalID]; ok && cur.ServerID != "" {
			serverID = cur.ServerID
		}
		e.mu.Unlock()
	}
	if serverID == "" {
		return nil // never synced; nothing to delete remotely
	}
	if err := e.transport.DeleteTask(ctx, serverID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// flushUpsert pushes one task snapshot: an update when it already has
// a server identity, otherwise a create.
func (e *Engine) flushUpsert(ctx context.Context, task models.Task) error {
	if task.ServerID != "" {
		return e.transport.UpdateTask(ctx, task.ServerID, task)
	}

	created, err := e.transport.CreateTask(ctx, task)
	if err != nil {
		return err
	}
	e.adoptCreated(task, created)
	return nil
}

// adoptCreated reconciles a successful create with local state. The
// same record may have already arrived through the realtime channel
// while the push was in flight; in that case the realtime copy wins
// and the pushed local record is folded into it.
func (e *Engine) adoptCreated(pushed, created models.Task) {
	existing, err := e.store.FindByServerID(created.ServerID)
	if err != nil {
		slog.Warn("sync: lookup after create", "server_id", created.ServerID, "err", err)
		return
	}

	if existing != nil && existing.ID != pushed.ID {
		e.mergeInto(existing, pushed)
		e.mute(pushed.ID, 1)
		if err := e.store.Remove(pushed.ID); err != nil {
			e.unmute(pushed.ID)
			slog.Warn("sync: remove duplicate after create", "id", pushed.ID, "err", err)
		}
		e.mu.Lock()
		delete(e.deletes, pushed.ID)
		e.mu.Unlock()
		return
	}

	e.mute(pushed.ID, 1)
	if _, err := e.store.SetServerIdentity(pushed.ID, created.ServerID, created.CorrelationID); err != nil {
		e.unmute(pushed.ID)
		// The record was deleted while the create was in flight. Point
		// the pending delete at the canonical identity so the flush's
		// delete phase can reach the server.
		e.mu.Lock()
		if d, ok := e.deletes[pushed.ID]; ok && d.ServerID == "" {
			d.ServerID = created.ServerID
			e.deletes[pushed.ID] = d
		}
		e.mu.Unlock()
	}
}

// mergeInto fills fields the winner lacks from the losing record.
func (e *Engine) mergeInto(winner *models.Task, loser models.Task) {
	patch := models.TaskPatch{}
	dirty := false
	if winner.Notes == "" && loser.Notes != "" {
		patch.Notes = &loser.Notes
		dirty = true
	}
	if len(winner.Labels) == 0 && len(loser.Labels) > 0 {
		patch.Labels = &loser.Labels
		dirty = true
	}
	if winner.Assignee == "" && loser.Assignee != "" {
		patch.Assignee = &loser.Assignee
		dirty = true
	}
	if len(winner.Attributes) == 0 && len(loser.Attributes) > 0 {
		patch.Attributes = &loser.Attributes
		dirty = true
	}
	if !dirty {
		return
	}
	// Not muted: the merged fields are local-only state the server has
	// not seen, so the resulting change should queue an update push.
	if _, err := e.store.Update(winner.ID, patch); err != nil {
		slog.Warn("sync: merge into winner", "id", winner.ID, "err", err)
	}
}
