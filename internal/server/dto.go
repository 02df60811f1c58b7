package server

import (
	"encoding/json"

	"constellation/internal/canvas"
	"constellation/internal/domain"
)

// Request payloads

// SignupRequest carries no organization: membership is assigned by an
// operator through the CLI.
type SignupRequest struct {
	Email string `json:"email" format:"email"`
	Name  string `json:"name,omitempty"`
}

type LoginRequest struct {
	Email string `json:"email"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	IsArchived  *bool            `json:"is_archived,omitempty"`
	Nodes       *[]domain.Node   `json:"nodes,omitempty"`
	Edges       *[]domain.Edge   `json:"edges,omitempty"`
	Viewport    *domain.Viewport `json:"viewport,omitempty"`
}

type CanvasChangesRequest struct {
	NodeChanges []canvas.NodeChange `json:"node_changes,omitempty"`
	EdgeChanges []canvas.EdgeChange `json:"edge_changes,omitempty"`
}

type CanvasStateRequest struct {
	Nodes    []domain.Node   `json:"nodes"`
	Edges    []domain.Edge   `json:"edges"`
	Viewport domain.Viewport `json:"viewport"`
}

type PresenceRequest struct {
	Cursor    *domain.Position `json:"cursor_position,omitempty"`
	Heartbeat bool             `json:"is_heartbeat,omitempty"`
}

type CreateAgentRequest struct {
	Name           string           `json:"name"`
	TaskID         *string          `json:"task_id,omitempty"`
	Connections    []string         `json:"connections,omitempty"`
	CanvasPosition *domain.Position `json:"canvas_position,omitempty"`
	Prompt         *string          `json:"prompt,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
}

type UpdateAgentRequest struct {
	Name           *string          `json:"name,omitempty"`
	Draft          *string          `json:"draft,omitempty"`
	Connections    *[]string        `json:"connections,omitempty"`
	CanvasPosition *domain.Position `json:"canvas_position,omitempty"`
	Status         *string          `json:"status,omitempty" enum:"idle,generating,ready,error"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	IsArchived     *bool            `json:"is_archived,omitempty"`
}

type AppendChatRequest struct {
	Role    string `json:"role" enum:"user,ai"`
	Message string `json:"message"`
}

type CreateThreadRequest struct {
	Prompt  string  `json:"prompt"`
	AgentID *string `json:"agent_id,omitempty"`
}

type ContinueThreadRequest struct {
	Prompt string `json:"prompt"`
}

// Response payloads

type TokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at" format:"date-time"`
	User      domain.User `json:"user"`
}

type MeResponse struct {
	User   domain.User `json:"user"`
	Source string      `json:"auth_source" enum:"jwt,api_key"`
}

type APIKeyCreatedResponse struct {
	APIKey domain.APIKey `json:"api_key"`
	// Key is only returned once.
	Key string `json:"key"`
}

type CanvasChangesResponse struct {
	Task    domain.Task `json:"task"`
	Changed bool        `json:"changed"`
}

type CanvasStateResponse struct {
	Canvas *domain.Canvas `json:"canvas"`
}

type ClearedResponse struct {
	Cleared bool `json:"cleared"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	TaskID     string         `json:"task_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedTasks struct {
	Items      []domain.Task `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedAgents struct {
	Items      []domain.Agent `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		TaskID:     e.TaskID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
