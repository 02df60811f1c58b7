package domain

import "time"

// TimeFormat is a fixed-width UTC layout so stored timestamps sort lexically.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// OrgKey is the organization a user's denormalized canvases are stored under.
// Users without an organization get their own id.
func (u User) OrgKey() string {
	if u.OrganizationID != "" {
		return u.OrganizationID
	}
	return u.ID
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

// DefaultViewport is the viewport of a freshly created task.
func DefaultViewport() Viewport {
	return Viewport{Zoom: 1}
}

type Task struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Nodes       []Node   `json:"nodes"`
	Edges       []Edge   `json:"edges"`
	Viewport    Viewport `json:"viewport"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
	IsArchived  bool     `json:"is_archived"`
}

type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentGenerating AgentStatus = "generating"
	AgentReady      AgentStatus = "ready"
	AgentError      AgentStatus = "error"
)

// Valid reports whether s is one of the known statuses. Transitions between
// statuses are not restricted.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentIdle, AgentGenerating, AgentReady, AgentError:
		return true
	}
	return false
}

type ChatRole string

const (
	ChatUser ChatRole = "user"
	ChatAI   ChatRole = "ai"
)

type ChatEntry struct {
	Role      ChatRole `json:"role" enum:"user,ai"`
	Message   string   `json:"message"`
	Timestamp int64    `json:"timestamp"`
}

type Agent struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	TaskID         *string        `json:"task_id,omitempty"`
	Name           string         `json:"name"`
	Connections    []string       `json:"connections"`
	ChatHistory    []ChatEntry    `json:"chat_history"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CanvasPosition *Position      `json:"canvas_position,omitempty"`
	Draft          string         `json:"draft,omitempty"`
	Status         AgentStatus    `json:"status" enum:"idle,generating,ready,error"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
	IsArchived     bool           `json:"is_archived"`
}

type Canvas struct {
	ID             string   `json:"id"`
	OwnerID        string   `json:"owner_id"`
	OrganizationID string   `json:"organization_id"`
	TaskID         string   `json:"task_id"`
	Nodes          []Node   `json:"nodes"`
	Edges          []Edge   `json:"edges"`
	Viewport       Viewport `json:"viewport"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// Presence is one user's cursor on one task. LastUpdated is unix milliseconds.
type Presence struct {
	UserID      string   `json:"user_id"`
	TaskID      string   `json:"task_id"`
	LastUpdated int64    `json:"last_updated"`
	Cursor      Position `json:"cursor_position"`
}

type Thread struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"owner_id"`
	AgentID   *string `json:"agent_id,omitempty"`
	Title     string  `json:"title,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type ThreadMessage struct {
	ID        int64       `json:"id"`
	ThreadID  string      `json:"thread_id"`
	Role      MessageRole `json:"role" enum:"user,assistant,system"`
	Content   string      `json:"content"`
	CreatedAt string      `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TaskID     string `json:"task_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
