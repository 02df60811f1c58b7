package constellationsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Constellation HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://localhost:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Node struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Position Position `json:"position"`
	Data     any      `json:"data,omitempty"`
}

type Edge struct {
	ID           string  `json:"id"`
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	SourceHandle *string `json:"source_handle,omitempty"`
	TargetHandle *string `json:"target_handle,omitempty"`
}

type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Task represents the API task model.
type Task struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Nodes       []Node   `json:"nodes"`
	Edges       []Edge   `json:"edges"`
	Viewport    Viewport `json:"viewport"`
	IsArchived  bool     `json:"is_archived"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// NodeChange is one incremental canvas edit: position, add or remove.
type NodeChange struct {
	Type     string    `json:"type"`
	ID       string    `json:"id,omitempty"`
	Position *Position `json:"position,omitempty"`
	Item     *Node     `json:"item,omitempty"`
}

// EdgeChange is an add or remove of one edge.
type EdgeChange struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Item *Edge  `json:"item,omitempty"`
}

type Agent struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	TaskID      *string  `json:"task_id,omitempty"`
	Name        string   `json:"name"`
	Connections []string `json:"connections"`
	Status      string   `json:"status"`
	Draft       string   `json:"draft,omitempty"`
	UpdatedAt   string   `json:"updated_at"`
}

type Presence struct {
	UserID      string   `json:"user_id"`
	TaskID      string   `json:"task_id"`
	LastUpdated int64    `json:"last_updated"`
	Cursor      Position `json:"cursor_position"`
}

// ThreadReply is the model's answer to a prompt.
type ThreadReply struct {
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	TaskID     string         `json:"task_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// PaginatedTasks wraps list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, description string) (Task, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTasks returns one page of tasks, most recently updated first.
func (c *Client) ListTasks(ctx context.Context, limit int, cursor string) (PaginatedTasks, error) {
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, withQuery("tasks", limit, cursor), nil, &resp)
	return resp, err
}

// ApplyCanvasChanges sends incremental node and edge edits.
func (c *Client) ApplyCanvasChanges(ctx context.Context, taskID string, nodes []NodeChange, edges []EdgeChange) (Task, bool, error) {
	body := map[string]any{
		"node_changes": nodes,
		"edge_changes": edges,
	}
	var resp struct {
		Task    Task `json:"task"`
		Changed bool `json:"changed"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/canvas-changes", url.PathEscape(taskID)), body, &resp)
	return resp.Task, resp.Changed, err
}

// Canvas is the organization-wide saved revision of a task canvas.
type Canvas struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	TaskID         string   `json:"task_id"`
	Nodes          []Node   `json:"nodes"`
	Edges          []Edge   `json:"edges"`
	Viewport       Viewport `json:"viewport"`
	UpdatedAt      string   `json:"updated_at"`
}

// SaveCanvasState upserts the canvas revision for a task.
func (c *Client) SaveCanvasState(ctx context.Context, taskID string, nodes []Node, edges []Edge, viewport Viewport) (Canvas, error) {
	body := map[string]any{"nodes": nodes, "edges": edges, "viewport": viewport}
	var resp Canvas
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("tasks/%s/canvas", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// GetCanvasState returns the saved revision, or nil when none is visible.
func (c *Client) GetCanvasState(ctx context.Context, taskID string) (*Canvas, error) {
	var resp struct {
		Canvas *Canvas `json:"canvas"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%s/canvas", url.PathEscape(taskID)), nil, &resp)
	return resp.Canvas, err
}

// UpdatePresence records the caller's cursor on a task.
func (c *Client) UpdatePresence(ctx context.Context, taskID string, cursor *Position, heartbeat bool) (Presence, error) {
	body := map[string]any{"is_heartbeat": heartbeat}
	if cursor != nil {
		body["cursor_position"] = cursor
	}
	var resp Presence
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("tasks/%s/presence", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// ActiveUsers lists users seen on a task within the presence window.
func (c *Client) ActiveUsers(ctx context.Context, taskID string) ([]Presence, error) {
	var resp struct {
		Items []Presence `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%s/presence", url.PathEscape(taskID)), nil, &resp)
	return resp.Items, err
}

// CreateAgent creates an agent, optionally placed on a task.
func (c *Client) CreateAgent(ctx context.Context, name, taskID string) (Agent, error) {
	body := map[string]any{"name": name}
	if taskID != "" {
		body["task_id"] = taskID
	}
	var resp Agent
	err := c.do(ctx, http.MethodPost, "agents", body, &resp)
	return resp, err
}

// Prompt starts a thread, bound to agentID when non-empty.
func (c *Client) Prompt(ctx context.Context, prompt, agentID string) (ThreadReply, error) {
	body := map[string]any{"prompt": prompt}
	if agentID != "" {
		body["agent_id"] = agentID
	}
	var resp ThreadReply
	err := c.do(ctx, http.MethodPost, "threads", body, &resp)
	return resp, err
}

// Continue sends a follow-up prompt on an existing thread.
func (c *Client) Continue(ctx context.Context, threadID, prompt string) (ThreadReply, error) {
	var resp ThreadReply
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("threads/%s/messages", url.PathEscape(threadID)), map[string]any{"prompt": prompt}, &resp)
	return resp, err
}

// EventsPage returns a page of a task's events, newest first.
func (c *Client) EventsPage(ctx context.Context, taskID string, limit int, cursor string) (PaginatedEvents, error) {
	var resp PaginatedEvents
	endpoint := withQuery(fmt.Sprintf("tasks/%s/events", url.PathEscape(taskID)), limit, cursor)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func withQuery(endpoint string, limit int, cursor string) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
