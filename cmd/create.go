package cmd

import (
	"fmt"
	"strings"

	"github.com/ChalidNL/todoless/internal/models"
	"github.com/ChalidNL/todoless/internal/output"
	"github.com/ChalidNL/todoless/internal/store"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:     "create [title]",
	Aliases: []string{"add", "new"},
	Short:   "Create a new task",
	Long:    `Create a new task with optional flags for notes, labels, workflow, and assignee.`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.TrimSpace(args[0])
		if title == "" {
			output.Error("title is required")
			return fmt.Errorf("title is required")
		}

		task := models.Task{Title: title}
		task.Notes, _ = cmd.Flags().GetString("notes")
		task.Assignee, _ = cmd.Flags().GetString("assignee")

		if labels, _ := cmd.Flags().GetStringSlice("label"); len(labels) > 0 {
			task.Labels = labels
		}
		if wf, _ := cmd.Flags().GetString("workflow"); wf != "" {
			task.Workflow = models.NormalizeWorkflow(wf)
			if !models.IsValidWorkflow(task.Workflow) {
				output.Error("invalid workflow: %s (valid: inbox, active, done)", wf)
				return fmt.Errorf("invalid workflow: %s", wf)
			}
		}
		if attrs, _ := cmd.Flags().GetStringToString("attr"); len(attrs) > 0 {
			task.Attributes = attrs
		}

		return runWithSync(func(st *store.Store) error {
			id, err := st.Add(task)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			created, err := st.Get(id)
			if err != nil {
				return err
			}
			fmt.Println(output.TaskLine(*created))
			return nil
		})
	},
}

func init() {
	createCmd.Flags().StringP("notes", "n", "", "Notes in markdown")
	createCmd.Flags().StringSliceP("label", "l", nil, "Label (repeatable)")
	createCmd.Flags().StringP("workflow", "w", "", "Workflow: inbox, active, done")
	createCmd.Flags().StringP("assignee", "a", "", "Assignee")
	createCmd.Flags().StringToString("attr", nil, "Extra attribute key=value (repeatable)")
	rootCmd.AddCommand(createCmd)
}
