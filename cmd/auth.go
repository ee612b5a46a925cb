package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/ChalidNL/todoless/internal/output"
	"github.com/ChalidNL/todoless/internal/syncclient"
	"github.com/ChalidNL/todoless/internal/syncconfig"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage sync server credentials",
	GroupID: "sync",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store credentials for the sync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		key, _ := cmd.Flags().GetString("key")
		if server == "" {
			server = syncconfig.GetServerURL()
		}
		if key == "" {
			output.Error("an API key is required (--key)")
			return fmt.Errorf("missing API key")
		}

		deviceID, err := syncconfig.GetDeviceID()
		if err != nil {
			return err
		}

		// Verify the server is reachable and the key works before
		// persisting anything.
		client := syncclient.New(server, key, deviceID)
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if _, err := client.HealthCheck(ctx); err != nil {
			output.Error("server check failed: %v", err)
			return err
		}
		if _, err := client.ListTasks(ctx); err != nil {
			output.Error("credential check failed: %v", err)
			return err
		}

		if err := syncconfig.SaveAuth(&syncconfig.AuthCredentials{
			APIKey:    key,
			ServerURL: server,
			DeviceID:  deviceID,
		}); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}

		cfg, err := syncconfig.LoadConfig()
		if err == nil && !cfg.Sync.Enabled {
			cfg.Sync.Enabled = true
			if err := syncconfig.SaveConfig(cfg); err != nil {
				output.Warning("could not enable sync in config: %v", err)
			}
		}

		output.Success("Logged in to %s (device %s)", server, deviceID[:8])
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Logged out.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication and server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !syncconfig.IsAuthenticated() {
			output.Info("Not authenticated. Run 'todoless auth login'.")
			return nil
		}

		server := syncconfig.GetServerURL()
		output.Info("Server: %s", server)

		client, err := newTransport()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if _, err := client.HealthCheck(ctx); err != nil {
			output.Warning("server unreachable: %v", err)
			return nil
		}
		output.Success("Authenticated, server reachable.")
		return nil
	},
}

func init() {
	authLoginCmd.Flags().String("server", "", "Sync server URL")
	authLoginCmd.Flags().String("key", "", "API key")
	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
