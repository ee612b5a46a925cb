// Package syncclient is the HTTP client for the todoless sync server's
// task CRUD surface. It implements engine.Transport.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ChalidNL/todoless/internal/engine"
	"github.com/ChalidNL/todoless/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Client is an HTTP client for the todoless sync server.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

// New creates a new sync client.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Wire types (mirrors internal/api, independently defined) ---

// TaskPayload is the task shape on the REST surface. ID is the
// server-assigned identity; local IDs never travel.
type TaskPayload struct {
	ID            string            `json:"id,omitempty"`
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

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func toPayload(task models.Task) TaskPayload {
	p := TaskPayload{
		CorrelationID: task.CorrelationID,
		Title:         task.Title,
		Notes:         task.Notes,
		Completed:     task.Completed,
		Labels:        task.Labels,
		Workflow:      string(task.Workflow),
		Assignee:      task.Assignee,
		Attributes:    task.Attributes,
	}
	if !task.CreatedAt.IsZero() {
		p.CreatedAt = task.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return p
}

func fromPayload(p TaskPayload) (models.Task, error) {
	task := models.Task{
		ServerID:      p.ID,
		CorrelationID: p.CorrelationID,
		Title:         p.Title,
		Notes:         p.Notes,
		Completed:     p.Completed,
		Labels:        p.Labels,
		Workflow:      models.Workflow(p.Workflow),
		Assignee:      p.Assignee,
		Attributes:    p.Attributes,
	}
	if p.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, p.CreatedAt)
		if err != nil {
			return task, fmt.Errorf("parse created_at %q: %w", p.CreatedAt, err)
		}
		task.CreatedAt = t
	}
	return task, nil
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Task methods (engine.Transport) ---

// ListTasks fetches the server's full task snapshot.
func (c *Client) ListTasks(ctx context.Context) ([]models.Task, error) {
	var payloads []TaskPayload
	if err := c.do(ctx, "GET", "/v1/tasks", nil, &payloads); err != nil {
		return nil, err
	}
	tasks := make([]models.Task, 0, len(payloads))
	for _, p := range payloads {
		task, err := fromPayload(p)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// CreateTask pushes a new task and returns the canonical identity the
// server assigned. The correlation ID travels with the request so a
// re-push after a lost response cannot create a second server record.
func (c *Client) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	var resp TaskPayload
	if err := c.do(ctx, "POST", "/v1/tasks", toPayload(task), &resp); err != nil {
		return models.Task{}, err
	}
	return fromPayload(resp)
}

// UpdateTask overwrites the server record identified by serverID.
func (c *Client) UpdateTask(ctx context.Context, serverID string, task models.Task) error {
	return c.do(ctx, "PATCH", "/v1/tasks/"+serverID, toPayload(task), nil)
}

// DeleteTask removes the server record. A 404 is success: the record
// is already gone.
func (c *Client) DeleteTask(ctx context.Context, serverID string) error {
	err := c.do(ctx, "DELETE", "/v1/tasks/"+serverID, nil, nil)
	if errors.Is(err, engine.ErrNotFound) {
		return nil
	}
	return err
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// do executes an authenticated JSON request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Code != "" {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
			case http.StatusForbidden:
				return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", engine.ErrNotFound, apiErr.Message)
			default:
				return &apiErr
			}
		}
		if resp.StatusCode == http.StatusNotFound {
			return engine.ErrNotFound
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
