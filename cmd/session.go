package cmd

import (
	"context"
	"time"

	"github.com/ChalidNL/todoless/internal/engine"
	"github.com/ChalidNL/todoless/internal/output"
	"github.com/ChalidNL/todoless/internal/store"
	"github.com/ChalidNL/todoless/internal/syncclient"
	"github.com/ChalidNL/todoless/internal/syncconfig"
)

// newTransport builds the HTTP client from stored credentials.
func newTransport() (*syncclient.Client, error) {
	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		return nil, err
	}
	return syncclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), deviceID), nil
}

// attachEngine wires a sync engine to the store when sync is enabled
// and credentials exist. A transport that cannot be built downgrades
// the run to local-only with a warning; the mutation itself always
// proceeds. Returns nil when no engine was attached.
func attachEngine(st *store.Store) *engine.Engine {
	if !syncconfig.GetSyncEnabled() || !syncconfig.IsAuthenticated() {
		return nil
	}
	client, err := newTransport()
	if err != nil {
		output.Warning("sync skipped for this run: %v", err)
		return nil
	}
	return engine.New(st, client, engine.Config{
		Debounce: syncconfig.GetDebounce(),
		MaxDelay: syncconfig.GetMaxDelay(),
	})
}

// runWithSync opens the store and runs fn against it. When sync is
// enabled and credentials exist, an engine observes the store for the
// duration of fn and queued work is pushed best-effort before the
// process exits; a server that is unreachable never blocks or fails
// the local mutation.
func runWithSync(fn func(*store.Store) error) error {
	st, err := store.Open(getBaseDir())
	if err != nil {
		return err
	}
	defer st.Close()

	eng := attachEngine(st)
	if eng != nil {
		defer eng.Stop()
	}

	if err := fn(st); err != nil {
		return err
	}

	if eng != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		eng.Backgrounded(ctx)
	}
	return nil
}
