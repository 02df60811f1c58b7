package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"constellation/internal/canvas"
	"constellation/internal/domain"
	"constellation/internal/engine/auth"
	"constellation/internal/events"
	"constellation/internal/repo"
)

const defaultRecentLimit = 5

type TaskCreateOptions struct {
	Title       string
	Description string
}

func (e Engine) CreateTask(ctx context.Context, who auth.Identity, opts TaskCreateOptions) (domain.Task, error) {
	if err := auth.Require(who); err != nil {
		return domain.Task{}, err
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, invalidf("title is required")
	}
	now := e.timestamp()
	t := domain.Task{
		ID:          uuid.NewString(),
		OwnerID:     who.UserID,
		Title:       title,
		Description: strings.TrimSpace(opts.Description),
		Nodes:       []domain.Node{},
		Edges:       []domain.Edge{},
		Viewport:    domain.DefaultViewport(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.TaskCreated, TaskID: t.ID, EntityKind: "task", EntityID: t.ID, ActorID: who.UserID,
		Payload: events.Payload{"title": t.Title},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// GetTask returns the task when who owns it.
func (e Engine) GetTask(ctx context.Context, who auth.Identity, id string) (domain.Task, error) {
	if err := auth.Require(who); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.RequireOwner(who, "task", id, t.OwnerID); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

type TaskListOptions struct {
	Archived        *bool
	CursorUpdatedAt string
	CursorID        string
	Limit           int
}

// ListTasks returns who's tasks, most recently updated first.
func (e Engine) ListTasks(ctx context.Context, who auth.Identity, opts TaskListOptions) ([]domain.Task, error) {
	if err := auth.Require(who); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, repo.TaskFilters{
		OwnerID:         who.UserID,
		Archived:        opts.Archived,
		CursorUpdatedAt: opts.CursorUpdatedAt,
		CursorID:        opts.CursorID,
		Limit:           opts.Limit,
	})
}

func (e Engine) RecentTasks(ctx context.Context, who auth.Identity, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return e.ListTasks(ctx, who, TaskListOptions{Limit: limit})
}

// TaskUpdateOptions patches the supplied fields only.
type TaskUpdateOptions struct {
	Title       *string
	Description *string
	IsArchived  *bool
	Nodes       *[]domain.Node
	Edges       *[]domain.Edge
	Viewport    *domain.Viewport
}

func (e Engine) UpdateTask(ctx context.Context, who auth.Identity, id string, opts TaskUpdateOptions) (domain.Task, error) {
	return e.mutateTask(ctx, who, id, func(t *domain.Task) (bool, []string, error) {
		var fields []string
		if opts.Title != nil {
			title := strings.TrimSpace(*opts.Title)
			if title == "" {
				return false, nil, invalidf("title must not be empty")
			}
			t.Title = title
			fields = append(fields, "title")
		}
		if opts.Description != nil {
			t.Description = strings.TrimSpace(*opts.Description)
			fields = append(fields, "description")
		}
		if opts.IsArchived != nil {
			t.IsArchived = *opts.IsArchived
			fields = append(fields, "is_archived")
		}
		if opts.Nodes != nil {
			nodes, err := canvas.SanitizeNodes(*opts.Nodes)
			if err != nil {
				return false, nil, invalidf("%v", err)
			}
			t.Nodes = nodes
			fields = append(fields, "nodes")
		}
		if opts.Edges != nil {
			edges, err := canvas.SanitizeEdges(*opts.Edges)
			if err != nil {
				return false, nil, invalidf("%v", err)
			}
			t.Edges = edges
			fields = append(fields, "edges")
		}
		if opts.Viewport != nil {
			t.Viewport = canvas.SanitizeViewport(*opts.Viewport)
			fields = append(fields, "viewport")
		}
		return true, fields, nil
	})
}

// ApplyCanvasChanges applies node and edge changes to the task's canvas and
// writes only when something changed. Removing a node prunes its edges.
func (e Engine) ApplyCanvasChanges(ctx context.Context, who auth.Identity, id string, nodeChanges []canvas.NodeChange, edgeChanges []canvas.EdgeChange) (domain.Task, bool, error) {
	var changed bool
	t, err := e.mutateTask(ctx, who, id, func(t *domain.Task) (bool, []string, error) {
		nodes, nodesChanged, err := canvas.ApplyNodeChanges(t.Nodes, nodeChanges)
		if err != nil {
			return false, nil, invalidf("%v", err)
		}
		edges, edgesChanged, err := canvas.ApplyEdgeChanges(t.Edges, edgeChanges)
		if err != nil {
			return false, nil, invalidf("%v", err)
		}
		pruned := canvas.PruneEdges(nodes, edges)
		if len(pruned) != len(edges) {
			edgesChanged = true
		}
		var fields []string
		if nodesChanged {
			t.Nodes = nodes
			fields = append(fields, "nodes")
		}
		if edgesChanged {
			t.Edges = pruned
			fields = append(fields, "edges")
		}
		changed = nodesChanged || edgesChanged
		return changed, fields, nil
	})
	return t, changed, err
}

// mutateTask loads the task inside a transaction, checks ownership, applies
// fn and persists when fn reports a change. updated_at is always bumped on
// write.
func (e Engine) mutateTask(ctx context.Context, who auth.Identity, id string, fn func(t *domain.Task) (bool, []string, error)) (domain.Task, error) {
	if err := auth.Require(who); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.RequireOwner(who, "task", id, t.OwnerID); err != nil {
		return domain.Task{}, err
	}
	write, fields, err := fn(&t)
	if err != nil {
		return domain.Task{}, err
	}
	if !write {
		return t, nil
	}
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.TaskUpdated, TaskID: t.ID, EntityKind: "task", EntityID: t.ID, ActorID: who.UserID,
		Payload: events.Payload{"fields": fields},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.publish(t.ID, events.TaskUpdated, map[string]any{"task": t, "fields": fields})
	return t, nil
}

// DeleteTask removes the task with its presence rows and canvases and
// unlinks its agents. A caller who does not own the task gets a
// ForbiddenError and nothing is changed.
func (e Engine) DeleteTask(ctx context.Context, who auth.Identity, id string) error {
	if err := auth.Require(who); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := auth.RequireOwner(who, "task", id, t.OwnerID); err != nil {
		return err
	}
	unlinked, err := e.Repo.AgentIDsForTask(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.TaskDeleted, TaskID: id, EntityKind: "task", EntityID: id, ActorID: who.UserID,
		Payload: events.Payload{"title": t.Title, "unlinked_agents": unlinked},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if err := e.Presence.DropTask(ctx, id); err != nil && !errors.Is(err, repo.ErrNotFound) {
		e.Log.Warn().Err(err).Str("task_id", id).Msg("drop presence for deleted task")
	}
	e.publish(id, events.TaskDeleted, map[string]any{"task_id": id})
	return nil
}
