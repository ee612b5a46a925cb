package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ChalidNL/todoless/internal/engine"
	"github.com/ChalidNL/todoless/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-key", "dev-1")
}

func TestListTasks(t *testing.T) {
	var gotAuth, gotDevice string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotDevice = r.Header.Get("X-Device-ID")
		if r.Method != "GET" || r.URL.Path != "/v1/tasks" {
			t.Errorf("got %s %s, want GET /v1/tasks", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode([]TaskPayload{
			{ID: "srv-1", CorrelationID: "c1", Title: "Buy milk", CreatedAt: "2026-01-02T15:04:05Z"},
			{ID: "srv-2", Title: "Walk dog", Completed: true},
		})
	})

	tasks, err := client.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].ServerID != "srv-1" {
		t.Errorf("got server id %q, want srv-1", tasks[0].ServerID)
	}
	if tasks[0].ID != "" {
		t.Errorf("wire id leaked into local id: %q", tasks[0].ID)
	}
	if tasks[0].CreatedAt.IsZero() {
		t.Error("created_at not parsed")
	}
	if !tasks[1].Completed {
		t.Error("completed flag lost")
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("got auth %q, want Bearer test-key", gotAuth)
	}
	if gotDevice != "dev-1" {
		t.Errorf("got device %q, want dev-1", gotDevice)
	}
}

func TestCreateTask(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/v1/tasks" {
			t.Errorf("got %s %s, want POST /v1/tasks", r.Method, r.URL.Path)
		}
		var p TaskPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if p.ID != "" {
			t.Errorf("local id %q sent to server", p.ID)
		}
		if p.CorrelationID != "c1" {
			t.Errorf("got correlation %q, want c1", p.CorrelationID)
		}
		p.ID = "srv-1"
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(p)
	})

	created, err := client.CreateTask(context.Background(), models.Task{
		ID:            "tl-aabbccdd",
		CorrelationID: "c1",
		Title:         "Buy milk",
		CreatedAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ServerID != "srv-1" {
		t.Errorf("got server id %q, want srv-1", created.ServerID)
	}
	if created.CorrelationID != "c1" {
		t.Errorf("got correlation %q, want c1", created.CorrelationID)
	}
}

func TestUpdateTask(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PATCH" || r.URL.Path != "/v1/tasks/srv-1" {
			t.Errorf("got %s %s, want PATCH /v1/tasks/srv-1", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(TaskPayload{ID: "srv-1", Title: "Final"})
	})

	err := client.UpdateTask(context.Background(), "srv-1", models.Task{Title: "Final"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestUpdateTaskNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"code": "not_found", "message": "task not found"})
	})

	err := client.UpdateTask(context.Background(), "srv-gone", models.Task{Title: "x"})
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("got %v, want engine.ErrNotFound", err)
	}
}

func TestDeleteTaskGoneIsSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"code": "not_found", "message": "task not found"})
	})

	if err := client.DeleteTask(context.Background(), "srv-gone"); err != nil {
		t.Fatalf("delete of absent record should succeed, got %v", err)
	}
}

func TestDeleteTask(t *testing.T) {
	var called bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != "DELETE" || r.URL.Path != "/v1/tasks/srv-1" {
			t.Errorf("got %s %s, want DELETE /v1/tasks/srv-1", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.DeleteTask(context.Background(), "srv-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !called {
		t.Error("server not called")
	}
}

func TestUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"code": "unauthorized", "message": "invalid key"})
	})

	_, err := client.ListTasks(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("got path %s, want /healthz", r.URL.Path)
		}
		json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	})

	resp, err := client.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("got status %q, want ok", resp.Status)
	}
}
