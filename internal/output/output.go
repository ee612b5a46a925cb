// Package output provides styled terminal output helpers (success,
// error, warning, task formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ChalidNL/todoless/internal/models"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	unsyncedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	workflowStyles = map[models.Workflow]lipgloss.Style{
		models.WorkflowInbox:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.WorkflowActive: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.WorkflowDone:   lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// TaskLine formats a task as a single list row:
// id, checkbox, workflow, title, labels, sync marker.
func TaskLine(task models.Task) string {
	var b strings.Builder

	b.WriteString(subtleStyle.Render(task.ID))
	b.WriteString(" ")

	if task.Completed {
		b.WriteString("[x] ")
	} else {
		b.WriteString("[ ] ")
	}

	wf := task.Workflow
	if style, ok := workflowStyles[wf]; ok {
		b.WriteString(style.Render(fmt.Sprintf("%-6s", wf)))
	} else {
		b.WriteString(fmt.Sprintf("%-6s", wf))
	}
	b.WriteString(" ")

	if task.Completed {
		b.WriteString(subtleStyle.Render(task.Title))
	} else {
		b.WriteString(titleStyle.Render(task.Title))
	}

	if len(task.Labels) > 0 {
		b.WriteString(" ")
		b.WriteString(labelStyle.Render("#" + strings.Join(task.Labels, " #")))
	}
	if task.Assignee != "" {
		b.WriteString(" ")
		b.WriteString(subtleStyle.Render("@" + task.Assignee))
	}
	if !task.Synced() {
		b.WriteString(" ")
		b.WriteString(unsyncedStyle.Render("*"))
	}

	return b.String()
}

// TaskDetail formats the header block of a task for `show`; the notes
// body is rendered separately as markdown.
func TaskDetail(task models.Task) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(task.Title))
	b.WriteString("\n")
	b.WriteString(subtleStyle.Render(task.ID))
	if task.ServerID != "" {
		b.WriteString(subtleStyle.Render(" · " + task.ServerID))
	} else {
		b.WriteString(" " + unsyncedStyle.Render("(not synced)"))
	}
	b.WriteString("\n\n")

	writeField := func(name, value string) {
		if value != "" {
			b.WriteString(fmt.Sprintf("%-10s %s\n", name+":", value))
		}
	}
	if style, ok := workflowStyles[task.Workflow]; ok {
		writeField("Workflow", style.Render(string(task.Workflow)))
	} else {
		writeField("Workflow", string(task.Workflow))
	}
	if task.Completed {
		writeField("Done", "yes")
	}
	writeField("Labels", strings.Join(task.Labels, ", "))
	writeField("Assignee", task.Assignee)
	for k, v := range task.Attributes {
		writeField(k, v)
	}
	if !task.CreatedAt.IsZero() {
		writeField("Created", task.CreatedAt.Local().Format("2006-01-02 15:04"))
	}

	return b.String()
}

// Notes bodies cap at 100 columns even on wide terminals so long
// paragraphs stay readable under the detail header.
const (
	maxNotesWidth = 100
	minNotesWidth = 20
)

func notesWidth() int {
	width := maxNotesWidth
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w - 2
	} else if cols, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && cols > 0 {
		width = cols - 2
	}
	if width > maxNotesWidth {
		width = maxNotesWidth
	}
	if width < minNotesWidth {
		width = minNotesWidth
	}
	return width
}

// RenderNotes renders a task's notes body as terminal markdown.
// Blank notes render as an empty string.
func RenderNotes(notes string) (string, error) {
	return RenderNotesWidth(notes, notesWidth())
}

// RenderNotesWidth is RenderNotes with an explicit wrap width.
func RenderNotesWidth(notes string, width int) (string, error) {
	if strings.TrimSpace(notes) == "" {
		return "", nil
	}
	if width < minNotesWidth {
		width = minNotesWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	rendered, err := renderer.Render(notes)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(rendered, "\n"), nil
}
