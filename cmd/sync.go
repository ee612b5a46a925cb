package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChalidNL/todoless/internal/engine"
	"github.com/ChalidNL/todoless/internal/output"
	"github.com/ChalidNL/todoless/internal/realtime"
	"github.com/ChalidNL/todoless/internal/store"
	"github.com/ChalidNL/todoless/internal/syncconfig"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile with the server now",
	Long: `Pulls the server's task snapshot, merges it into the local store,
and pushes everything created or changed while offline.

With --watch the process stays up after the initial reconciliation,
applying server events live and flushing local changes as they happen.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.IsAuthenticated() {
			output.Error("not authenticated: run 'todoless auth login' first")
			return fmt.Errorf("not authenticated")
		}

		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		client, err := newTransport()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		eng := engine.New(st, client, engine.Config{
			Debounce: syncconfig.GetDebounce(),
			MaxDelay: syncconfig.GetMaxDelay(),
		})
		defer eng.Stop()

		ctx := cmd.Context()
		if err := eng.Bootstrap(ctx); err != nil {
			output.Error("%v", err)
			return err
		}
		if err := eng.Flush(ctx); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Synchronized.")

		watch, _ := cmd.Flags().GetBool("watch")
		if !watch {
			return nil
		}
		return watchEvents(ctx, eng)
	},
}

// watchEvents keeps the realtime channel open until interrupted.
func watchEvents(ctx context.Context, eng *engine.Engine) error {
	if !syncconfig.GetRealtimeEnabled() {
		output.Warning("realtime channel disabled in config; nothing to watch")
		return nil
	}

	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		return err
	}
	rt := realtime.New(
		syncconfig.GetServerURL(),
		syncconfig.GetAPIKey(),
		deviceID,
		eng.ApplyRemote,
		realtime.DefaultConfig(),
	)
	rt.OnStateChange(func(s realtime.State) {
		switch s {
		case realtime.StateConnected:
			output.Info("connected")
			// Anything queued while the link was down goes out now.
			eng.NetworkRestored()
		case realtime.StateError:
			output.Warning("connection lost, retrying")
		}
	})
	rt.Connect(ctx)
	defer rt.Close()

	output.Info("Watching for changes. Ctrl-C to stop.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	eng.Backgrounded(flushCtx)
	return nil
}

func init() {
	syncCmd.Flags().Bool("watch", false, "Stay connected and apply server events live")
	rootCmd.AddCommand(syncCmd)
}
