package cmd

import (
	"fmt"

	"github.com/ChalidNL/todoless/internal/output"
	"github.com/ChalidNL/todoless/internal/store"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete [task-id...]",
	Aliases: []string{"rm"},
	Short:   "Delete one or more tasks",
	Long: `Delete tasks locally. Tasks known to the server are removed there
too on the next flush; tasks that never synced disappear without any
network traffic.`,
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			confirmed := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Delete %d task(s)?", len(args))).
					Description("This cannot be undone.").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				output.Info("Cancelled.")
				return nil
			}
		}

		return runWithSync(func(st *store.Store) error {
			var failed int
			for _, id := range args {
				if err := st.Remove(id); err != nil {
					output.Error("failed to delete %s: %v", id, err)
					failed++
					continue
				}
				fmt.Printf("DELETED %s\n", id)
			}
			if failed > 0 {
				return fmt.Errorf("%d task(s) failed", failed)
			}
			return nil
		})
	},
}

func init() {
	deleteCmd.Flags().BoolP("yes", "y", false, "Skip confirmation")
	rootCmd.AddCommand(deleteCmd)
}
