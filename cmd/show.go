package cmd

import (
	"fmt"

	"github.com/ChalidNL/todoless/internal/output"
	"github.com/ChalidNL/todoless/internal/store"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:     "show [task-id]",
	Short:   "Show a task's full details",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		task, err := st.Get(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return output.JSON(task)
		}

		fmt.Println(output.TaskDetail(*task))

		if task.Notes != "" {
			rendered, err := output.RenderNotes(task.Notes)
			if err != nil {
				// Fall back to the raw text rather than hiding notes.
				fmt.Println(task.Notes)
				return nil
			}
			fmt.Println(rendered)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(showCmd)
}
