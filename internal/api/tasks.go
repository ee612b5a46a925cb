package api

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const serverSchema = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    correlation_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    completed INTEGER NOT NULL DEFAULT 0,
    labels TEXT NOT NULL DEFAULT '',
    workflow TEXT NOT NULL DEFAULT 'inbox',
    assignee TEXT NOT NULL DEFAULT '',
    attributes TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_correlation
    ON tasks(correlation_id) WHERE correlation_id != '';
`

// TaskRecord is the task shape on the REST and event surfaces.
type TaskRecord struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Title         string            `json:"title"`
	Notes         string            `json:"notes,omitempty"`
	Completed     bool              `json:"completed"`
	Labels        []string          `json:"labels,omitempty"`
	Workflow      string            `json:"workflow,omitempty"`
	Assignee      string            `json:"assignee,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	CreatedAt     string            `json:"created_at,omitempty"`
}

// TaskEvent is one entry on the websocket event channel.
type TaskEvent struct {
	Type string     `json:"type"` // created, updated, deleted
	Task TaskRecord `json:"task"`
}

// taskStore persists the server's authoritative task table.
type taskStore struct {
	conn *sql.DB
}

// newTaskStore opens (or creates) the server task database.
// Path ":memory:" gives an ephemeral table for tests and demos.
func newTaskStore(path string) (*taskStore, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open server db: %w", err)
	}
	if _, err := conn.Exec(serverSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create server schema: %w", err)
	}
	return &taskStore{conn: conn}, nil
}

func (ts *taskStore) Close() error { return ts.conn.Close() }

func generateServerID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "srv-" + hex.EncodeToString(b), nil
}

// create inserts a task. When the correlation ID has been seen before,
// the existing record is returned instead: a re-push after a lost
// response must not mint a second server task.
func (ts *taskStore) create(rec TaskRecord) (TaskRecord, bool, error) {
	if rec.CorrelationID != "" {
		existing, err := ts.getByCorrelation(rec.CorrelationID)
		if err != nil {
			return TaskRecord{}, false, err
		}
		if existing != nil {
			return *existing, false, nil
		}
	}

	id, err := generateServerID()
	if err != nil {
		return TaskRecord{}, false, err
	}
	rec.ID = id
	if rec.CreatedAt == "" {
		rec.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if rec.Workflow == "" {
		rec.Workflow = "inbox"
	}

	attrs, err := marshalAttrs(rec.Attributes)
	if err != nil {
		return TaskRecord{}, false, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = ts.conn.Exec(`
		INSERT INTO tasks (id, correlation_id, title, notes, completed, labels, workflow, assignee, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.CorrelationID, rec.Title, rec.Notes, b2i(rec.Completed),
		strings.Join(rec.Labels, ","), rec.Workflow, rec.Assignee, attrs, rec.CreatedAt, now)
	if err != nil {
		// Concurrent create with the same correlation ID: return the winner.
		if rec.CorrelationID != "" && strings.Contains(err.Error(), "UNIQUE constraint") {
			existing, lookupErr := ts.getByCorrelation(rec.CorrelationID)
			if lookupErr == nil && existing != nil {
				return *existing, false, nil
			}
		}
		return TaskRecord{}, false, err
	}
	return rec, true, nil
}

// update overwrites a task record; the whole record is replaced.
func (ts *taskStore) update(id string, rec TaskRecord) (*TaskRecord, error) {
	current, err := ts.get(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	rec.ID = id
	if rec.CorrelationID == "" {
		rec.CorrelationID = current.CorrelationID
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = current.CreatedAt
	}
	attrs, err := marshalAttrs(rec.Attributes)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = ts.conn.Exec(`
		UPDATE tasks SET correlation_id = ?, title = ?, notes = ?, completed = ?, labels = ?, workflow = ?, assignee = ?, attributes = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`, rec.CorrelationID, rec.Title, rec.Notes, b2i(rec.Completed),
		strings.Join(rec.Labels, ","), rec.Workflow, rec.Assignee, attrs, rec.CreatedAt, now, id)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// remove deletes a task; returns false when it did not exist.
func (ts *taskStore) remove(id string) (bool, error) {
	res, err := ts.conn.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (ts *taskStore) get(id string) (*TaskRecord, error) {
	return ts.queryOne(`WHERE id = ?`, id)
}

func (ts *taskStore) getByCorrelation(cid string) (*TaskRecord, error) {
	return ts.queryOne(`WHERE correlation_id = ?`, cid)
}

const serverSelect = `SELECT id, correlation_id, title, notes, completed, labels, workflow, assignee, attributes, created_at FROM tasks `

func (ts *taskStore) queryOne(where string, args ...any) (*TaskRecord, error) {
	row := ts.conn.QueryRow(serverSelect+where, args...)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (ts *taskStore) list() ([]TaskRecord, error) {
	rows, err := ts.conn.Query(serverSelect + `ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []TaskRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanRecord(scan func(...any) error) (TaskRecord, error) {
	var rec TaskRecord
	var completed int
	var labels, attrs string
	err := scan(&rec.ID, &rec.CorrelationID, &rec.Title, &rec.Notes, &completed,
		&labels, &rec.Workflow, &rec.Assignee, &attrs, &rec.CreatedAt)
	if err != nil {
		return rec, err
	}
	rec.Completed = completed != 0
	if labels != "" {
		rec.Labels = strings.Split(labels, ",")
	}
	if attrs != "" && attrs != "{}" {
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			return rec, fmt.Errorf("parse attributes for %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func marshalAttrs(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Handlers ---

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	recs, err := s.tasks.list()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var rec TaskRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if rec.Title == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "title is required")
		return
	}

	created, isNew, err := s.tasks.create(rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if isNew {
		s.hub.Publish(TaskEvent{Type: "created", Task: created})
		writeJSON(w, http.StatusCreated, created)
		return
	}
	// Idempotent replay: the correlation ID was already bound.
	writeJSON(w, http.StatusOK, created)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var rec TaskRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	updated, err := s.tasks.update(id, rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if updated == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "task not found: "+id)
		return
	}
	s.hub.Publish(TaskEvent{Type: "updated", Task: *updated})
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := s.tasks.remove(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "task not found: "+id)
		return
	}
	s.hub.Publish(TaskEvent{Type: "deleted", Task: TaskRecord{ID: id}})
	w.WriteHeader(http.StatusNoContent)
}
