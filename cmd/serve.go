package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ChalidNL/todoless/internal/api"
	"github.com/ChalidNL/todoless/internal/output"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference sync server",
	Long: `Runs the todoless sync server: REST task CRUD plus a websocket
event channel that pushes every committed change to connected clients.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("listen")
		dbPath, _ := cmd.Flags().GetString("db")
		apiKey := os.Getenv("TODOLESS_SERVER_KEY")
		if flagKey, _ := cmd.Flags().GetString("key"); flagKey != "" {
			apiKey = flagKey
		}

		if dbPath == "" {
			dbPath = filepath.Join(getBaseDir(), ".todoless", "server.db")
			if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
				output.Error("%v", err)
				return err
			}
		}
		if apiKey == "" {
			output.Warning("no API key configured; the server accepts any client")
		}

		srv, err := api.NewServer(api.Config{
			ListenAddr: addr,
			APIKey:     apiKey,
			DBPath:     dbPath,
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := srv.Start(); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Info("Listening on %s (db %s)", srv.Addr(), dbPath)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "Listen address")
	serveCmd.Flags().String("db", "", "Server database path (default .todoless/server.db)")
	serveCmd.Flags().String("key", "", "Required API key (or TODOLESS_SERVER_KEY)")
	rootCmd.AddCommand(serveCmd)
}
