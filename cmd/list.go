package cmd

import (
	"fmt"

	"github.com/ChalidNL/todoless/internal/models"
	"github.com/ChalidNL/todoless/internal/output"
	"github.com/ChalidNL/todoless/internal/store"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		tasks, err := st.List()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		wfFilter, _ := cmd.Flags().GetString("workflow")
		labelFilter, _ := cmd.Flags().GetString("label")
		asJSON, _ := cmd.Flags().GetBool("json")

		filtered := tasks[:0]
		for _, task := range tasks {
			if !all && task.Completed && wfFilter == "" {
				continue
			}
			if wfFilter != "" && task.Workflow != models.NormalizeWorkflow(wfFilter) {
				continue
			}
			if labelFilter != "" && !hasLabel(task, labelFilter) {
				continue
			}
			filtered = append(filtered, task)
		}

		if asJSON {
			return output.JSON(filtered)
		}

		if len(filtered) == 0 {
			output.Info("No tasks. Create one with 'todoless create'.")
			return nil
		}
		for _, task := range filtered {
			fmt.Println(output.TaskLine(task))
		}

		unsynced := 0
		for _, task := range filtered {
			if !task.Synced() {
				unsynced++
			}
		}
		if unsynced > 0 {
			output.Info("\n%d task(s) not yet synchronized (*)", unsynced)
		}
		return nil
	},
}

func hasLabel(task models.Task, label string) bool {
	for _, l := range task.Labels {
		if l == label {
			return true
		}
	}
	return false
}

func init() {
	listCmd.Flags().BoolP("all", "A", false, "Include completed tasks")
	listCmd.Flags().StringP("workflow", "w", "", "Filter by workflow")
	listCmd.Flags().StringP("label", "l", "", "Filter by label")
	listCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(listCmd)
}
