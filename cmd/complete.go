package cmd

import (
	"fmt"

	"github.com/ChalidNL/todoless/internal/models"
	"github.com/ChalidNL/todoless/internal/output"
	"github.com/ChalidNL/todoless/internal/store"
	"github.com/spf13/cobra"
)

var completeCmd = &cobra.Command{
	Use:     "complete [task-id...]",
	Aliases: []string{"done"},
	Short:   "Mark tasks as completed",
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reopen, _ := cmd.Flags().GetBool("undo")
		completed := !reopen

		return runWithSync(func(st *store.Store) error {
			var failed int
			for _, id := range args {
				updated, err := st.Update(id, models.TaskPatch{Completed: &completed})
				if err != nil {
					output.Error("%v", err)
					failed++
					continue
				}
				fmt.Println(output.TaskLine(*updated))
			}
			if failed > 0 {
				return fmt.Errorf("%d task(s) failed", failed)
			}
			return nil
		})
	},
}

func init() {
	completeCmd.Flags().Bool("undo", false, "Reopen instead of complete")
	rootCmd.AddCommand(completeCmd)
}
