// Package store implements the local task store: a SQLite-backed keyed
// table with secondary lookups by server ID and correlation ID.
//
// The store is the source of truth for everything the UI shows. Every
// successful mutation emits a change notification carrying the resulting
// record, so the sync engine and the UI react to writes without polling.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ChalidNL/todoless/internal/models"
	_ "modernc.org/sqlite"
)

const dbFile = ".todoless/tasks.db"

// Store wraps the local task database and its change subscribers.
type Store struct {
	conn    *sql.DB
	baseDir string

	subsMu  sync.Mutex
	subs    map[int]func(models.Change)
	nextSub int
}

// Open opens an existing task database under baseDir.
func Open(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: run 'todoless init' first")
	}
	return open(dbPath, baseDir)
}

// Initialize creates the task database under baseDir, then opens it.
func Initialize(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(dbPath, baseDir)
}

// OpenMemory opens an in-memory store, used by tests and the monitor demo.
func OpenMemory() (*Store, error) {
	return open(":memory:", "")
}

func open(dbPath, baseDir string) (*Store, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{
		conn:    conn,
		baseDir: baseDir,
		subs:    make(map[int]func(models.Change)),
	}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.conn.Close()
}

// BaseDir returns the base directory for the database
func (s *Store) BaseDir() string {
	return s.baseDir
}

// OnChange registers a change handler and returns an unsubscribe func.
// Handlers run synchronously, in registration order, after the write
// commits; a handler may call back into the store.
func (s *Store) OnChange(fn func(models.Change)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) emit(kind models.ChangeKind, task models.Task) {
	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(models.Change), len(ids))
	for i, id := range ids {
		handlers[i] = s.subs[id]
	}
	s.subsMu.Unlock()

	for _, fn := range handlers {
		fn(models.Change{Kind: kind, Task: task})
	}
}

// Add inserts a new task and returns its local ID.
// Missing ID, correlation ID, created-at and workflow are filled in.
func (s *Store) Add(task models.Task) (string, error) {
	if task.Workflow == "" {
		task.Workflow = models.WorkflowInbox
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.CorrelationID == "" {
		cid, err := generateCorrelationID()
		if err != nil {
			return "", fmt.Errorf("generate correlation id: %w", err)
		}
		task.CorrelationID = cid
	}

	attrs, err := marshalAttributes(task.Attributes)
	if err != nil {
		return "", err
	}
	labels := strings.Join(task.Labels, ",")

	// Retry loop for rare ID collisions (8 hex chars)
	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		if task.ID == "" || attempt > 0 {
			id, err := generateID()
			if err != nil {
				return "", err
			}
			task.ID = id
		}

		_, err = s.conn.Exec(`
			INSERT INTO tasks (id, server_id, correlation_id, title, notes, completed, labels, workflow, assignee, attributes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, task.ID, task.ServerID, task.CorrelationID, task.Title, task.Notes, boolToInt(task.Completed),
			labels, task.Workflow, task.Assignee, attrs, task.CreatedAt.UTC().Format(time.RFC3339Nano))

		if err == nil {
			s.emit(models.ChangeCreated, task)
			return task.ID, nil
		}
		if !strings.Contains(err.Error(), "UNIQUE constraint") {
			return "", err
		}
	}
	return "", fmt.Errorf("failed to generate unique task ID after %d attempts", maxRetries)
}

// Update applies a partial update to a task and returns the result.
func (s *Store) Update(id string, patch models.TaskPatch) (*models.Task, error) {
	id = NormalizeTaskID(id)
	task, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Notes != nil {
		task.Notes = *patch.Notes
	}
	if patch.Completed != nil {
		task.Completed = *patch.Completed
	}
	if patch.Labels != nil {
		task.Labels = *patch.Labels
	}
	if patch.Workflow != nil {
		if !models.IsValidWorkflow(*patch.Workflow) {
			return nil, fmt.Errorf("invalid workflow: %s", *patch.Workflow)
		}
		task.Workflow = *patch.Workflow
	}
	if patch.Assignee != nil {
		task.Assignee = *patch.Assignee
	}
	if patch.Attributes != nil {
		task.Attributes = *patch.Attributes
	}

	if err := s.write(task); err != nil {
		return nil, err
	}
	s.emit(models.ChangeUpdated, *task)
	return task, nil
}

// Overwrite replaces a task's fields with a server representation,
// keeping the local ID. Used by the reconciler when the server wins.
func (s *Store) Overwrite(id string, remote models.Task) (*models.Task, error) {
	id = NormalizeTaskID(id)
	task, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	remote.ID = task.ID
	if remote.CorrelationID == "" {
		remote.CorrelationID = task.CorrelationID
	}
	if remote.ServerID == "" {
		remote.ServerID = task.ServerID
	}
	if remote.CreatedAt.IsZero() {
		remote.CreatedAt = task.CreatedAt
	}

	if err := s.write(&remote); err != nil {
		return nil, err
	}
	s.emit(models.ChangeUpdated, remote)
	return &remote, nil
}

// SetServerIdentity attaches a server-assigned identity to a local task.
// The correlation ID is only written if the task does not have one yet;
// it is immutable once assigned.
func (s *Store) SetServerIdentity(id, serverID, correlationID string) (*models.Task, error) {
	id = NormalizeTaskID(id)
	task, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	task.ServerID = serverID
	if task.CorrelationID == "" {
		task.CorrelationID = correlationID
	}

	if err := s.write(task); err != nil {
		return nil, err
	}
	s.emit(models.ChangeUpdated, *task)
	return task, nil
}

// write persists a full task row by local ID.
func (s *Store) write(task *models.Task) error {
	attrs, err := marshalAttributes(task.Attributes)
	if err != nil {
		return err
	}
	res, err := s.conn.Exec(`
		UPDATE tasks
		SET server_id = ?, correlation_id = ?, title = ?, notes = ?, completed = ?, labels = ?, workflow = ?, assignee = ?, attributes = ?, created_at = ?
		WHERE id = ?
	`, task.ServerID, task.CorrelationID, task.Title, task.Notes, boolToInt(task.Completed),
		strings.Join(task.Labels, ","), task.Workflow, task.Assignee, attrs,
		task.CreatedAt.UTC().Format(time.RFC3339Nano), task.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task not found: %s", task.ID)
	}
	return nil
}

// Remove deletes a task by local ID. Succeeds for tasks that were never
// synced; the emitted change carries the record as it was before removal.
func (s *Store) Remove(id string) error {
	id = NormalizeTaskID(id)
	task, err := s.Get(id)
	if err != nil {
		return err
	}

	if _, err := s.conn.Exec(`DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return err
	}
	s.emit(models.ChangeDeleted, *task)
	return nil
}

// Get retrieves a task by local ID.
func (s *Store) Get(id string) (*models.Task, error) {
	id = NormalizeTaskID(id)
	row := s.conn.QueryRow(selectCols+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	return task, err
}

// FindByServerID looks up a task by its server-assigned ID.
// Returns (nil, nil) when no task matches.
func (s *Store) FindByServerID(serverID string) (*models.Task, error) {
	if serverID == "" {
		return nil, nil
	}
	row := s.conn.QueryRow(selectCols+` FROM tasks WHERE server_id = ? ORDER BY created_at, id LIMIT 1`, serverID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

// ListByServerID returns every task carrying the given server ID.
// Duplicates can exist transiently while an identity race resolves.
func (s *Store) ListByServerID(serverID string) ([]models.Task, error) {
	if serverID == "" {
		return nil, nil
	}
	return s.query(selectCols+` FROM tasks WHERE server_id = ? ORDER BY created_at, id`, serverID)
}

// FindByCorrelation looks up a task by its correlation ID.
// Returns (nil, nil) when no task matches.
func (s *Store) FindByCorrelation(correlationID string) (*models.Task, error) {
	if correlationID == "" {
		return nil, nil
	}
	row := s.conn.QueryRow(selectCols+` FROM tasks WHERE correlation_id = ? ORDER BY created_at, id LIMIT 1`, correlationID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

// List returns all tasks ordered by creation time.
func (s *Store) List() ([]models.Task, error) {
	return s.query(selectCols + ` FROM tasks ORDER BY created_at, id`)
}

// Unsynced returns all tasks with no server identity, in creation order.
func (s *Store) Unsynced() ([]models.Task, error) {
	return s.query(selectCols + ` FROM tasks WHERE server_id = '' ORDER BY created_at, id`)
}

const selectCols = `SELECT id, server_id, correlation_id, title, notes, completed, labels, workflow, assignee, attributes, created_at`

func (s *Store) query(q string, args ...any) ([]models.Task, error) {
	rows, err := s.conn.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// scanner matches both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var task models.Task
	var completed int
	var labels, attrs, createdAt string

	err := row.Scan(&task.ID, &task.ServerID, &task.CorrelationID, &task.Title, &task.Notes,
		&completed, &labels, &task.Workflow, &task.Assignee, &attrs, &createdAt)
	if err != nil {
		return nil, err
	}

	task.Completed = completed != 0
	if labels != "" {
		task.Labels = strings.Split(labels, ",")
	}
	if attrs != "" && attrs != "{}" {
		if err := json.Unmarshal([]byte(attrs), &task.Attributes); err != nil {
			return nil, fmt.Errorf("parse attributes for %s: %w", task.ID, err)
		}
	}
	task.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", task.ID, err)
	}
	return &task, nil
}

func marshalAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTimestamp tries common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
