package output

import (
	"strings"
	"testing"
	"time"

	"github.com/ChalidNL/todoless/internal/models"
)

func TestRenderNotesBlankIsEmpty(t *testing.T) {
	for _, notes := range []string{"", "   ", "\n\t\n"} {
		got, err := RenderNotes(notes)
		if err != nil {
			t.Fatalf("RenderNotes(%q): %v", notes, err)
		}
		if got != "" {
			t.Errorf("RenderNotes(%q) = %q, want empty", notes, got)
		}
	}
}

func TestRenderNotesKeepsContent(t *testing.T) {
	got, err := RenderNotesWidth("# Heading\n\nbody text", 80)
	if err != nil {
		t.Fatalf("RenderNotesWidth: %v", err)
	}
	if !strings.Contains(got, "Heading") || !strings.Contains(got, "body text") {
		t.Errorf("rendered notes missing content: %q", got)
	}
	if strings.HasSuffix(got, "\n") {
		t.Errorf("rendered notes keep trailing newline: %q", got)
	}
}

func TestRenderNotesClampsNarrowWidth(t *testing.T) {
	// A width below the floor must not panic or wrap to nothing.
	got, err := RenderNotesWidth("some words that need room", 1)
	if err != nil {
		t.Fatalf("RenderNotesWidth: %v", err)
	}
	if !strings.Contains(got, "some") {
		t.Errorf("rendered notes missing content: %q", got)
	}
}

func TestTaskLineMarksUnsynced(t *testing.T) {
	task := models.Task{
		ID:        "tl-aa11bb22",
		Title:     "write the report",
		Workflow:  models.WorkflowInbox,
		CreatedAt: time.Now(),
	}

	line := TaskLine(task)
	if !strings.Contains(line, "*") {
		t.Errorf("unsynced task line missing marker: %q", line)
	}

	task.ServerID = "srv-1"
	line = TaskLine(task)
	if strings.Contains(line, "*") {
		t.Errorf("synced task line still carries marker: %q", line)
	}
}

func TestTaskDetailShowsIdentity(t *testing.T) {
	task := models.Task{
		ID:       "tl-aa11bb22",
		Title:    "write the report",
		Workflow: models.WorkflowActive,
	}

	detail := TaskDetail(task)
	if !strings.Contains(detail, "(not synced)") {
		t.Errorf("detail for local-only task missing sync hint:\n%s", detail)
	}

	task.ServerID = "srv-1"
	detail = TaskDetail(task)
	if !strings.Contains(detail, "srv-1") {
		t.Errorf("detail missing server identity:\n%s", detail)
	}
}
