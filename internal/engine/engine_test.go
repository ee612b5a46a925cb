package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ChalidNL/todoless/internal/models"
	"github.com/ChalidNL/todoless/internal/store"
)

// fakeClock drives the flush scheduler from the test goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// Advance moves the clock forward and fires due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.deadline.After(c.now) {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) {
				next = t
			}
		}
		if next != nil {
			next.fired = true
		}
		c.mu.Unlock()
		if next == nil {
			return
		}
		next.fn()
	}
}

// nextDelay reports the delay until the earliest pending timer, for
// asserting the backoff curve.
func (c *fakeClock) nextDelay() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next *fakeTimer
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) {
			next = t
		}
	}
	if next == nil {
		return 0, false
	}
	return next.deadline.Sub(c.now), true
}

// fakeTransport is an in-memory server with controllable failures.
type fakeTransport struct {
	mu     sync.Mutex
	tasks  map[string]models.Task // keyed by server id
	nextID int

	failAll error // returned by every mutating call when set
	listErr error

	creates, updates, deletes, lists int

	// onCreate runs after a successful create, before returning, to
	// simulate a realtime event landing while the push is in flight.
	onCreate func(created models.Task)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{tasks: make(map[string]models.Task)}
}

func (f *fakeTransport) ListTasks(ctx context.Context) ([]models.Task, error) {
	f.mu.Lock()
	f.lists++
	err := f.listErr
	out := make([]models.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeTransport) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	f.mu.Lock()
	f.creates++
	if f.failAll != nil {
		f.mu.Unlock()
		return models.Task{}, f.failAll
	}
	// Idempotent on correlation id, like the real server.
	if task.CorrelationID != "" {
		for _, existing := range f.tasks {
			if existing.CorrelationID == task.CorrelationID {
				f.mu.Unlock()
				return existing, nil
			}
		}
	}
	f.nextID++
	task.ID = ""
	task.ServerID = fmt.Sprintf("srv-%d", f.nextID)
	f.tasks[task.ServerID] = task
	hook := f.onCreate
	f.mu.Unlock()
	if hook != nil {
		hook(task)
	}
	return task, nil
}

func (f *fakeTransport) UpdateTask(ctx context.Context, serverID string, task models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.failAll != nil {
		return f.failAll
	}
	if _, ok := f.tasks[serverID]; !ok {
		return ErrNotFound
	}
	task.ID = ""
	task.ServerID = serverID
	f.tasks[serverID] = task
	return nil
}

func (f *fakeTransport) DeleteTask(ctx context.Context, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.failAll != nil {
		return f.failAll
	}
	delete(f.tasks, serverID)
	return nil
}

func (f *fakeTransport) serverTask(serverID string) (models.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[serverID]
	return t, ok
}

func (f *fakeTransport) serverCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *fakeTransport) counts() (creates, updates, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.updates, f.deletes
}

// setupEngine wires a memory store, fake transport and fake clock.
func setupEngine(t *testing.T) (*Engine, *store.Store, *fakeTransport, *fakeClock) {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	transport := newFakeTransport()
	clock := newFakeClock()
	eng := New(st, transport, Config{
		Debounce:           3 * time.Second,
		MaxDelay:           2 * time.Minute,
		ImmediateThreshold: 32,
		Clock:              clock,
	})
	t.Cleanup(eng.Stop)
	return eng, st, transport, clock
}

func mustAdd(t *testing.T, st *store.Store, task models.Task) models.Task {
	t.Helper()
	id, err := st.Add(task)
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	added, err := st.Get(id)
	if err != nil {
		t.Fatalf("get added task: %v", err)
	}
	return *added
}

func TestCoalescing_OnlyLatestSnapshotPushed(t *testing.T) {
	eng, st, transport, clock := setupEngine(t)

	task := mustAdd(t, st, models.Task{Title: "v1"})
	for _, title := range []string{"v2", "v3", "v4"} {
		if _, err := st.Update(task.ID, models.TaskPatch{Title: &title}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	if got := eng.Pending(); got != 1 {
		t.Fatalf("got %d pending, want 1 (coalesced)", got)
	}

	clock.Advance(3 * time.Second)

	creates, updates, _ := transport.counts()
	if creates != 1 || updates != 0 {
		t.Fatalf("got %d creates %d updates, want exactly 1 create", creates, updates)
	}
	pushed, ok := transport.serverTask("srv-1")
	if !ok {
		t.Fatal("task not on server")
	}
	if pushed.Title != "v4" {
		t.Errorf("got pushed title %q, want v4 (latest intent)", pushed.Title)
	}
	if eng.Pending() != 0 {
		t.Errorf("queue not drained: %d pending", eng.Pending())
	}
}

func TestDeleteEvictsPendingUpsert(t *testing.T) {
	eng, st, transport, clock := setupEngine(t)

	task := mustAdd(t, st, models.Task{Title: "short-lived"})
	if err := st.Remove(task.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if got := eng.Pending(); got != 1 {
		t.Fatalf("got %d pending, want 1 (delete replaced upsert)", got)
	}

	clock.Advance(3 * time.Second)

	creates, updates, deletes := transport.counts()
	if creates != 0 || updates != 0 {
		t.Errorf("pushed a task that was deleted before flush: %d creates %d updates", creates, updates)
	}
	// Never synced: the delete needs no network call either.
	if deletes != 0 {
		t.Errorf("got %d server deletes for a never-pushed task, want 0", deletes)
	}
	if eng.Pending() != 0 {
		t.Errorf("queue not drained: %d pending", eng.Pending())
	}
}

func TestDeleteNeverSyncedIsLocalOnly(t *testing.T) {
	eng, st, _, _ := setupEngine(t)

	task := mustAdd(t, st, models.Task{Title: "offline only"})
	if err := st.Remove(task.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// Removal is immediate locally, not deferred to a flush.
	if _, err := st.Get(task.ID); err == nil {
		t.Error("task still present locally after remove")
	}
	_ = eng
}

func TestDeleteAfterSyncReachesServer(t *testing.T) {
	_, st, transport, clock := setupEngine(t)

	task := mustAdd(t, st, models.Task{Title: "to be deleted"})
	clock.Advance(3 * time.Second)
	if transport.serverCount() != 1 {
		t.Fatal("setup: task not pushed")
	}

	if err := st.Remove(task.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	clock.Advance(3 * time.Second)

	if transport.serverCount() != 0 {
		t.Errorf("server still has %d tasks, want 0", transport.serverCount())
	}
}

func TestUpdateAfterSyncPushesUpdate(t *testing.T) {
	_, st, transport, clock := setupEngine(t)

	task := mustAdd(t, st, models.Task{Title: "draft"})
	clock.Advance(3 * time.Second)

	title := "final"
	if _, err := st.Update(task.ID, models.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	clock.Advance(3 * time.Second)

	creates, updates, _ := transport.counts()
	if creates != 1 || updates != 1 {
		t.Fatalf("got %d creates %d updates, want 1 and 1", creates, updates)
	}
	pushed, _ := transport.serverTask("srv-1")
	if pushed.Title != "final" {
		t.Errorf("got server title %q, want final", pushed.Title)
	}
}

func TestBackoffDoublesAndResets(t *testing.T) {
	eng, st, transport, clock := setupEngine(t)

	transport.failAll = errors.New("network down")
	mustAdd(t, st, models.Task{Title: "stuck"})

	// First flush fails; the retry should wait the doubled delay.
	clock.Advance(3 * time.Second)
	wantDelays := []time.Duration{
		6 * time.Second, 12 * time.Second, 24 * time.Second,
		48 * time.Second, 96 * time.Second, 2 * time.Minute, 2 * time.Minute,
	}
	for i, want := range wantDelays {
		got, ok := clock.nextDelay()
		if !ok {
			t.Fatalf("attempt %d: no retry scheduled", i)
		}
		if got != want {
			t.Fatalf("attempt %d: got retry delay %v, want %v", i, got, want)
		}
		clock.Advance(got)
	}

	// Success resets the curve back to the debounce floor.
	transport.failAll = nil
	got, ok := clock.nextDelay()
	if !ok {
		t.Fatal("no retry scheduled after failures")
	}
	clock.Advance(got)
	if eng.Pending() != 0 {
		t.Fatalf("queue not drained after recovery: %d pending", eng.Pending())
	}

	mustAdd(t, st, models.Task{Title: "after recovery"})
	if got, _ := clock.nextDelay(); got != 3*time.Second {
		t.Errorf("got delay %v after recovery, want debounce 3s", got)
	}
}

func TestNetworkRestoredFlushesImmediately(t *testing.T) {
	eng, st, transport, clock := setupEngine(t)

	transport.failAll = errors.New("offline")
	mustAdd(t, st, models.Task{Title: "queued offline"})
	clock.Advance(3 * time.Second)
	clock.Advance(6 * time.Second)

	transport.failAll = nil
	eng.NetworkRestored()
	clock.Advance(0)

	if transport.serverCount() != 1 {
		t.Errorf("server has %d tasks after reconnect, want 1", transport.serverCount())
	}
	if eng.Pending() != 0 {
		t.Errorf("queue not drained: %d pending", eng.Pending())
	}
}

func TestImmediateThresholdSkipsDebounce(t *testing.T) {
	_, st, transport, clock := setupEngine(t)

	for i := 0; i < 33; i++ {
		mustAdd(t, st, models.Task{Title: fmt.Sprintf("bulk %d", i)})
	}

	// Past the threshold the flush is scheduled at zero delay.
	if got, ok := clock.nextDelay(); !ok || got != 0 {
		t.Fatalf("got delay %v, want immediate", got)
	}
	clock.Advance(0)
	if transport.serverCount() != 33 {
		t.Errorf("server has %d tasks, want 33", transport.serverCount())
	}
}

func TestFailedEntriesStayQueued(t *testing.T) {
	eng, st, transport, clock := setupEngine(t)

	transport.failAll = errors.New("boom")
	mustAdd(t, st, models.Task{Title: "retry me"})
	clock.Advance(3 * time.Second)

	if eng.Pending() != 1 {
		t.Fatalf("got %d pending after failed flush, want 1", eng.Pending())
	}

	transport.failAll = nil
	clock.Advance(6 * time.Second)
	if eng.Pending() != 0 {
		t.Errorf("entry not drained after retry: %d pending", eng.Pending())
	}
	if transport.serverCount() != 1 {
		t.Errorf("server has %d tasks, want 1", transport.serverCount())
	}
}

func TestCreateAssignsServerIdentity(t *testing.T) {
	_, st, transport, clock := setupEngine(t)

	task := mustAdd(t, st, models.Task{Title: "new"})
	clock.Advance(3 * time.Second)

	after, err := st.Get(task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.ServerID == "" {
		t.Fatal("server identity not adopted after create")
	}
	if after.CorrelationID != task.CorrelationID {
		t.Errorf("correlation changed: got %q, want %q", after.CorrelationID, task.CorrelationID)
	}
	srv, ok := transport.serverTask(after.ServerID)
	if !ok {
		t.Fatal("task missing on server")
	}
	if srv.CorrelationID != task.CorrelationID {
		t.Errorf("server correlation %q, want %q", srv.CorrelationID, task.CorrelationID)
	}
}

func TestIdentityAdoptionDoesNotEcho(t *testing.T) {
	eng, st, _, clock := setupEngine(t)

	mustAdd(t, st, models.Task{Title: "once"})
	clock.Advance(3 * time.Second)

	// Adopting the server identity writes to the store; that write must
	// not re-queue the task for another push.
	if got := eng.Pending(); got != 0 {
		t.Errorf("got %d pending after identity adoption, want 0", got)
	}
}

func TestCreateRace_RealtimeCopyWins(t *testing.T) {
	// The server's created event can arrive through the realtime
	// channel while our own create response is still in flight. The
	// result must be a single local record with the canonical identity.
	eng, st, transport, clock := setupEngine(t)

	transport.onCreate = func(created models.Task) {
		eng.upsertRemote(created)
	}

	mustAdd(t, st, models.Task{Title: "raced", Notes: "local notes"})
	clock.Advance(3 * time.Second)

	all, err := st.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d local records after create race, want 1", len(all))
	}
	if all[0].ServerID != "srv-1" {
		t.Errorf("got server id %q, want srv-1", all[0].ServerID)
	}
	if all[0].Title != "raced" {
		t.Errorf("got title %q, want raced", all[0].Title)
	}
}

func TestCreateRace_DuplicateMergedAndRemoved(t *testing.T) {
	// Worst case: the racing realtime copy arrives stripped of the
	// correlation id and outside the title window, so it lands as a
	// fresh local record. When our create response comes back it finds
	// that record already holding the server identity; the pushed
	// record's local-only fields fold into it and the duplicate goes.
	eng, st, transport, clock := setupEngine(t)

	transport.onCreate = func(created models.Task) {
		created.CorrelationID = ""
		created.Notes = ""
		created.CreatedAt = created.CreatedAt.Add(time.Minute)
		eng.upsertRemote(created)
	}

	mustAdd(t, st, models.Task{Title: "raced", Notes: "keep me"})
	clock.Advance(3 * time.Second)
	// The merge queues an update carrying the folded-in fields.
	clock.Advance(3 * time.Second)

	all, err := st.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d local records, want 1", len(all))
	}
	if all[0].ServerID != "srv-1" {
		t.Errorf("got server id %q, want srv-1", all[0].ServerID)
	}
	if all[0].Notes != "keep me" {
		t.Errorf("got notes %q, want merged local notes", all[0].Notes)
	}
	srv, _ := transport.serverTask("srv-1")
	if srv.Notes != "keep me" {
		t.Errorf("merged notes not pushed back: server has %q", srv.Notes)
	}
}

func TestDeleteWhileCreateInFlight(t *testing.T) {
	// The user deletes the task while its create is on the wire. The
	// flush must follow through and remove the server copy using the
	// identity the create returned.
	eng, st, transport, clock := setupEngine(t)

	var once sync.Once
	transport.onCreate = func(created models.Task) {
		once.Do(func() {
			tasks, _ := st.List()
			for _, task := range tasks {
				st.Remove(task.ID)
			}
		})
	}

	mustAdd(t, st, models.Task{Title: "doomed"})
	clock.Advance(3 * time.Second)
	// The delete intent queued mid-flush runs on the rescheduled flush.
	clock.Advance(3 * time.Second)

	if transport.serverCount() != 0 {
		t.Errorf("server has %d tasks, want 0 (delete followed create)", transport.serverCount())
	}
	if eng.Pending() != 0 {
		t.Errorf("queue not drained: %d pending", eng.Pending())
	}
}

func TestUpdateEvictedWhenServerDroppedTask(t *testing.T) {
	eng, st, transport, clock := setupEngine(t)

	task := mustAdd(t, st, models.Task{Title: "pushed"})
	clock.Advance(3 * time.Second)

	// Server loses the record out-of-band.
	transport.mu.Lock()
	transport.tasks = map[string]models.Task{}
	transport.mu.Unlock()

	title := "orphan update"
	if _, err := st.Update(task.ID, models.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	clock.Advance(3 * time.Second)

	// The entry is evicted rather than retried forever.
	if eng.Pending() != 0 {
		t.Errorf("got %d pending, want 0 after server-side 404", eng.Pending())
	}
}

func TestStopCancelsScheduledFlush(t *testing.T) {
	eng, st, transport, clock := setupEngine(t)

	mustAdd(t, st, models.Task{Title: "never sent"})
	eng.Stop()
	clock.Advance(time.Minute)

	creates, updates, deletes := transport.counts()
	if creates+updates+deletes != 0 {
		t.Errorf("transport called after Stop: %d/%d/%d", creates, updates, deletes)
	}
}
