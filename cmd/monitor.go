package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/ChalidNL/todoless/internal/engine"
	"github.com/ChalidNL/todoless/internal/output"
	"github.com/ChalidNL/todoless/internal/realtime"
	"github.com/ChalidNL/todoless/internal/store"
	"github.com/ChalidNL/todoless/internal/syncconfig"
	"github.com/ChalidNL/todoless/pkg/monitor"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI showing tasks and sync state",
	Long: `Launch a live-updating TUI showing the local task list, the
outbound queue depth, and the realtime connection state.

Key bindings:
  ↑/↓ or j/k  Select task
  Space       Toggle done
  d           Delete task
  r           Force refresh
  ?           Toggle help
  q           Quit`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		var eng *engine.Engine
		var connFn func() realtime.State
		var engIface monitor.Engine

		if syncconfig.GetSyncEnabled() && syncconfig.IsAuthenticated() {
			client, err := newTransport()
			if err != nil {
				return err
			}
			eng = engine.New(st, client, engine.Config{
				Debounce: syncconfig.GetDebounce(),
				MaxDelay: syncconfig.GetMaxDelay(),
			})
			defer eng.Stop()
			engIface = eng

			if err := eng.Bootstrap(cmd.Context()); err != nil {
				output.Warning("%v", err)
			}

			if syncconfig.GetRealtimeEnabled() {
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
					if s == realtime.StateConnected {
						eng.NetworkRestored()
					}
				})
				rt.Connect(cmd.Context())
				defer rt.Close()
				connFn = rt.State
			}
		}

		interval, _ := cmd.Flags().GetDuration("interval")
		model := monitor.NewModel(st, engIface, connFn, interval, version)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}

		if eng != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			eng.Backgrounded(ctx)
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().Duration("interval", time.Second, "Refresh interval")
	rootCmd.AddCommand(monitorCmd)
}
