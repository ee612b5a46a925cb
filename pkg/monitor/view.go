package monitor

import (
	"fmt"
	"strings"

	"github.com/ChalidNL/todoless/internal/realtime"
)

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("todoless " + m.version))
	b.WriteString("  ")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n\n")
	}

	if len(m.tasks) == 0 {
		b.WriteString(dimStyle.Render("No tasks."))
		b.WriteString("\n")
	}

	visible := m.visibleRows()
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}
	end := start + visible
	if end > len(m.tasks) {
		end = len(m.tasks)
	}

	for i := start; i < end; i++ {
		task := m.tasks[i]

		check := "[ ]"
		if task.Completed {
			check = "[x]"
		}
		marker := " "
		if !task.Synced() {
			marker = unsyncedStyle.Render("*")
		}
		row := fmt.Sprintf("%s %s %-6s %s%s", check, marker, task.Workflow, task.Title, labelSuffix(task.Labels))

		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> " + row))
		} else if task.Completed {
			b.WriteString(dimStyle.Render("  " + row))
		} else {
			b.WriteString("  " + row)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// statusLine summarizes queue depth and connection state.
func (m Model) statusLine() string {
	parts := []string{}

	if m.engine != nil {
		if n := m.engine.Pending(); n > 0 {
			parts = append(parts, pendingStyle.Render(fmt.Sprintf("%d pending", n)))
		} else {
			parts = append(parts, okStyle.Render("in sync"))
		}
	} else {
		parts = append(parts, dimStyle.Render("local only"))
	}

	if m.connFn != nil {
		switch m.connFn() {
		case realtime.StateConnected:
			parts = append(parts, okStyle.Render("● live"))
		case realtime.StateConnecting:
			parts = append(parts, pendingStyle.Render("● connecting"))
		case realtime.StateError:
			parts = append(parts, errStyle.Render("● retrying"))
		default:
			parts = append(parts, dimStyle.Render("● offline"))
		}
	}

	return strings.Join(parts, dimStyle.Render(" · "))
}

func (m Model) visibleRows() int {
	// Header, blank line, trailing blank plus help line.
	reserved := 5
	if m.height <= reserved {
		return 10
	}
	return m.height - reserved
}

func labelSuffix(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return labelStyle.Render(" #" + strings.Join(labels, " #"))
}
