package cmd

import (
	"fmt"

	"github.com/ChalidNL/todoless/internal/models"
	"github.com/ChalidNL/todoless/internal/output"
	"github.com/ChalidNL/todoless/internal/store"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:     "update [task-id]",
	Short:   "Update fields of a task",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch := models.TaskPatch{}
		changed := false

		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			patch.Title = &v
			changed = true
		}
		if cmd.Flags().Changed("notes") {
			v, _ := cmd.Flags().GetString("notes")
			patch.Notes = &v
			changed = true
		}
		if cmd.Flags().Changed("assignee") {
			v, _ := cmd.Flags().GetString("assignee")
			patch.Assignee = &v
			changed = true
		}
		if cmd.Flags().Changed("label") {
			v, _ := cmd.Flags().GetStringSlice("label")
			patch.Labels = &v
			changed = true
		}
		if cmd.Flags().Changed("workflow") {
			v, _ := cmd.Flags().GetString("workflow")
			wf := models.NormalizeWorkflow(v)
			if !models.IsValidWorkflow(wf) {
				output.Error("invalid workflow: %s (valid: inbox, active, done)", v)
				return fmt.Errorf("invalid workflow: %s", v)
			}
			patch.Workflow = &wf
			changed = true
		}
		if cmd.Flags().Changed("attr") {
			v, _ := cmd.Flags().GetStringToString("attr")
			patch.Attributes = &v
			changed = true
		}

		if !changed {
			output.Warning("nothing to update; pass at least one field flag")
			return nil
		}

		return runWithSync(func(st *store.Store) error {
			updated, err := st.Update(args[0], patch)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			fmt.Println(output.TaskLine(*updated))
			return nil
		})
	},
}

func init() {
	updateCmd.Flags().StringP("title", "t", "", "New title")
	updateCmd.Flags().StringP("notes", "n", "", "New notes")
	updateCmd.Flags().StringSliceP("label", "l", nil, "Replace labels")
	updateCmd.Flags().StringP("workflow", "w", "", "Workflow: inbox, active, done")
	updateCmd.Flags().StringP("assignee", "a", "", "Assignee")
	updateCmd.Flags().StringToString("attr", nil, "Replace extra attributes")
	rootCmd.AddCommand(updateCmd)
}
