package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"constellation/internal/canvas"
	"constellation/internal/domain"
	"constellation/internal/engine/auth"
	"constellation/internal/events"
	"constellation/internal/repo"
)

const searchAgentsLimit = 10

type AgentCreateOptions struct {
	Name           string
	TaskID         string
	Connections    []string
	CanvasPosition *domain.Position
	// Prompt seeds the agent's draft.
	Prompt   string
	Metadata map[string]any
}

func (e Engine) CreateAgent(ctx context.Context, who auth.Identity, opts AgentCreateOptions) (domain.Agent, error) {
	if err := auth.Require(who); err != nil {
		return domain.Agent{}, err
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Agent{}, invalidf("name is required")
	}
	conns, err := normalizeConnections(opts.Connections)
	if err != nil {
		return domain.Agent{}, err
	}
	now := e.timestamp()
	a := domain.Agent{
		ID:          uuid.NewString(),
		OwnerID:     who.UserID,
		TaskID:      optionalString(strings.TrimSpace(opts.TaskID)),
		Name:        name,
		Connections: conns,
		ChatHistory: []domain.ChatEntry{},
		Metadata:    opts.Metadata,
		Draft:       opts.Prompt,
		Status:      domain.AgentIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.CanvasPosition != nil {
		pos := canvas.SanitizePosition(*opts.CanvasPosition)
		a.CanvasPosition = &pos
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()

	if a.TaskID != nil {
		t, err := e.Repo.GetTaskTx(ctx, tx, *a.TaskID)
		if err != nil {
			return domain.Agent{}, err
		}
		if err := auth.RequireOwner(who, "task", t.ID, t.OwnerID); err != nil {
			return domain.Agent{}, err
		}
	}
	if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, err
	}
	if err := e.appendEvent(ctx, tx, agentEntry(events.AgentCreated, a, who.UserID, events.Payload{"name": a.Name})); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func (e Engine) GetAgent(ctx context.Context, who auth.Identity, id string) (domain.Agent, error) {
	if err := auth.Require(who); err != nil {
		return domain.Agent{}, err
	}
	a, err := e.Repo.GetAgent(ctx, id)
	if err != nil {
		return domain.Agent{}, err
	}
	if err := auth.RequireOwner(who, "agent", id, a.OwnerID); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

type AgentListOptions struct {
	TaskID          string
	Status          string
	CursorUpdatedAt string
	CursorID        string
	Limit           int
}

func (e Engine) ListAgents(ctx context.Context, who auth.Identity, opts AgentListOptions) ([]domain.Agent, error) {
	if err := auth.Require(who); err != nil {
		return nil, err
	}
	if opts.Status != "" && !domain.AgentStatus(opts.Status).Valid() {
		return nil, invalidf("unknown agent status %q", opts.Status)
	}
	return e.Repo.ListAgents(ctx, repo.AgentFilters{
		OwnerID:         who.UserID,
		TaskID:          opts.TaskID,
		Status:          opts.Status,
		CursorUpdatedAt: opts.CursorUpdatedAt,
		CursorID:        opts.CursorID,
		Limit:           opts.Limit,
	})
}

func (e Engine) RecentAgents(ctx context.Context, who auth.Identity, limit int) ([]domain.Agent, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return e.ListAgents(ctx, who, AgentListOptions{Limit: limit})
}

// SearchAgents matches who's agents by name substring.
func (e Engine) SearchAgents(ctx context.Context, who auth.Identity, query string) ([]domain.Agent, error) {
	if err := auth.Require(who); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalidf("query is required")
	}
	return e.Repo.ListAgents(ctx, repo.AgentFilters{OwnerID: who.UserID, NameContains: query, Limit: searchAgentsLimit})
}

// AgentUpdateOptions patches the supplied fields only. Any known status may
// be written regardless of the current one.
type AgentUpdateOptions struct {
	Name           *string
	Draft          *string
	Connections    *[]string
	CanvasPosition *domain.Position
	Status         *domain.AgentStatus
	Metadata       map[string]any
	IsArchived     *bool
}

func (e Engine) UpdateAgent(ctx context.Context, who auth.Identity, id string, opts AgentUpdateOptions) (domain.Agent, error) {
	return e.mutateAgent(ctx, who, id, events.AgentUpdated, func(a *domain.Agent) (events.Payload, error) {
		var fields []string
		if opts.Name != nil {
			name := strings.TrimSpace(*opts.Name)
			if name == "" {
				return nil, invalidf("name must not be empty")
			}
			a.Name = name
			fields = append(fields, "name")
		}
		if opts.Draft != nil {
			a.Draft = *opts.Draft
			fields = append(fields, "draft")
		}
		if opts.Connections != nil {
			conns, err := normalizeConnections(*opts.Connections)
			if err != nil {
				return nil, err
			}
			a.Connections = conns
			fields = append(fields, "connections")
		}
		if opts.CanvasPosition != nil {
			pos := canvas.SanitizePosition(*opts.CanvasPosition)
			a.CanvasPosition = &pos
			fields = append(fields, "canvas_position")
		}
		if opts.Status != nil {
			if !opts.Status.Valid() {
				return nil, invalidf("unknown agent status %q", *opts.Status)
			}
			a.Status = *opts.Status
			fields = append(fields, "status")
		}
		if opts.Metadata != nil {
			a.Metadata = opts.Metadata
			fields = append(fields, "metadata")
		}
		if opts.IsArchived != nil {
			a.IsArchived = *opts.IsArchived
			fields = append(fields, "is_archived")
		}
		return events.Payload{"fields": fields, "status": a.Status}, nil
	})
}

// AppendChat adds one entry to the agent's chat history.
func (e Engine) AppendChat(ctx context.Context, who auth.Identity, id string, role domain.ChatRole, message string) (domain.Agent, error) {
	if role != domain.ChatUser && role != domain.ChatAI {
		return domain.Agent{}, invalidf("unknown chat role %q", role)
	}
	if strings.TrimSpace(message) == "" {
		return domain.Agent{}, invalidf("message is required")
	}
	return e.mutateAgent(ctx, who, id, events.AgentChat, func(a *domain.Agent) (events.Payload, error) {
		a.ChatHistory = append(a.ChatHistory, domain.ChatEntry{Role: role, Message: message, Timestamp: e.nowMillis()})
		return events.Payload{"role": role, "entries": len(a.ChatHistory)}, nil
	})
}

func (e Engine) DeleteAgent(ctx context.Context, who auth.Identity, id string) error {
	if err := auth.Require(who); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAgentTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := auth.RequireOwner(who, "agent", id, a.OwnerID); err != nil {
		return err
	}
	if err := e.Repo.DeleteAgent(ctx, tx, id); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, agentEntry(events.AgentDeleted, a, who.UserID, events.Payload{"name": a.Name})); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) mutateAgent(ctx context.Context, who auth.Identity, id, eventType string, fn func(a *domain.Agent) (events.Payload, error)) (domain.Agent, error) {
	if err := auth.Require(who); err != nil {
		return domain.Agent{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAgentTx(ctx, tx, id)
	if err != nil {
		return domain.Agent{}, err
	}
	if err := auth.RequireOwner(who, "agent", id, a.OwnerID); err != nil {
		return domain.Agent{}, err
	}
	payload, err := fn(&a)
	if err != nil {
		return domain.Agent{}, err
	}
	a.UpdatedAt = e.timestamp()
	if err := e.saveAgent(ctx, tx, a, who.UserID, eventType, payload); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	if a.TaskID != nil {
		e.publish(*a.TaskID, eventType, a)
	}
	return a, nil
}

func (e Engine) saveAgent(ctx context.Context, tx *sql.Tx, a domain.Agent, actorID, eventType string, payload events.Payload) error {
	if err := e.Repo.UpdateAgent(ctx, tx, a); err != nil {
		return err
	}
	return e.appendEvent(ctx, tx, agentEntry(eventType, a, actorID, payload))
}

func agentEntry(typ string, a domain.Agent, actorID string, payload events.Payload) events.Entry {
	entry := events.Entry{Type: typ, EntityKind: "agent", EntityID: a.ID, ActorID: actorID, Payload: payload}
	if a.TaskID != nil {
		entry.TaskID = *a.TaskID
	}
	return entry
}

func normalizeConnections(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, invalidf("connection ids must not be empty")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
