package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ChalidNL/todoless/internal/output"
	"github.com/ChalidNL/todoless/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize a task database in the current directory",
	Long:    `Creates the local .todoless directory and SQLite database.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()

		if _, err := os.Stat(filepath.Join(baseDir, ".todoless")); err == nil {
			output.Warning(".todoless/ already exists")
			return nil
		}

		st, err := store.Initialize(baseDir)
		if err != nil {
			output.Error("failed to initialize database: %v", err)
			return err
		}
		defer st.Close()

		fmt.Println("INITIALIZED .todoless/")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
