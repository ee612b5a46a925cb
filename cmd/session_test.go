package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ChalidNL/todoless/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAttachEngineDisabledByDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TODOLESS_SYNC", "")
	t.Setenv("TODOLESS_AUTH_KEY", "")

	if eng := attachEngine(newTestStore(t)); eng != nil {
		eng.Stop()
		t.Fatal("engine attached with sync disabled")
	}
}

func TestAttachEngineSkipsWhenTransportUnavailable(t *testing.T) {
	// A HOME that is a regular file makes the config dir, and with it
	// the device ID, unobtainable. The run must degrade to local-only
	// instead of attaching a half-built engine.
	home := filepath.Join(t.TempDir(), "home")
	if err := os.WriteFile(home, nil, 0644); err != nil {
		t.Fatalf("write fake home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("TODOLESS_SYNC", "1")
	t.Setenv("TODOLESS_AUTH_KEY", "test-key")

	if eng := attachEngine(newTestStore(t)); eng != nil {
		eng.Stop()
		t.Fatal("engine attached without a usable transport")
	}
}

func TestAttachEngineWithCredentials(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TODOLESS_SYNC", "1")
	t.Setenv("TODOLESS_AUTH_KEY", "test-key")

	eng := attachEngine(newTestStore(t))
	if eng == nil {
		t.Fatal("no engine attached despite sync enabled and credentials present")
	}
	eng.Stop()
}
