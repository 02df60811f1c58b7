package constellationsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateTaskSendsAuthAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/tasks" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("authorization = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "t1", "title": body["title"], "nodes": []any{}, "edges": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL + "/v1/")
	c.BearerToken = "tok"
	task, err := c.CreateTask(context.Background(), "Plan", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID != "t1" || task.Title != "Plan" {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			t.Fatalf("api key header missing")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"forbidden","message":"not authorized to access task x"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "k"
	_, err := c.GetTask(context.Background(), "x")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsCode(err, "forbidden") {
		t.Fatalf("expected forbidden, got %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Message == "" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestListTasksQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "2" || r.URL.Query().Get("cursor") != "a|b" {
			t.Fatalf("unexpected query %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"items":[{"id":"1"},{"id":"2"}],"next_cursor":"c|d"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).ListTasks(context.Background(), 2, "a|b")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor != "c|d" {
		t.Fatalf("unexpected page %+v", page)
	}
}
