package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"constellation/internal/canvas"
	"constellation/internal/domain"
	"constellation/internal/engine/auth"
	"constellation/internal/events"
	"constellation/internal/repo"
)

type CanvasState struct {
	Nodes    []domain.Node
	Edges    []domain.Edge
	Viewport domain.Viewport
}

// SaveCanvasState upserts the single canvas row for (who's organization, task).
func (e Engine) SaveCanvasState(ctx context.Context, who auth.Identity, taskID string, state CanvasState) (domain.Canvas, error) {
	if err := auth.Require(who); err != nil {
		return domain.Canvas{}, err
	}
	nodes, err := canvas.SanitizeNodes(state.Nodes)
	if err != nil {
		return domain.Canvas{}, invalidf("%v", err)
	}
	edges, err := canvas.SanitizeEdges(state.Edges)
	if err != nil {
		return domain.Canvas{}, invalidf("%v", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Canvas{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Canvas{}, err
	}
	if err := auth.RequireOwner(who, "task", taskID, t.OwnerID); err != nil {
		return domain.Canvas{}, err
	}
	saved, err := e.Repo.UpsertCanvas(ctx, tx, domain.Canvas{
		ID:             uuid.NewString(),
		OwnerID:        who.UserID,
		OrganizationID: who.OrgKey(),
		TaskID:         taskID,
		Nodes:          nodes,
		Edges:          edges,
		Viewport:       canvas.SanitizeViewport(state.Viewport),
		UpdatedAt:      e.timestamp(),
	})
	if err != nil {
		return domain.Canvas{}, err
	}
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.CanvasSaved, TaskID: taskID, EntityKind: "canvas", EntityID: saved.ID, ActorID: who.UserID,
		Payload: events.Payload{"organization_id": saved.OrganizationID, "nodes": len(saved.Nodes), "edges": len(saved.Edges)},
	}); err != nil {
		return domain.Canvas{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Canvas{}, err
	}
	return saved, nil
}

// GetCanvasState returns nil, not an error, when the task is missing, when
// who does not own it, or when nothing was saved.
func (e Engine) GetCanvasState(ctx context.Context, who auth.Identity, taskID string) (*domain.Canvas, error) {
	if who.UserID == "" {
		return nil, nil
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if t.OwnerID != who.UserID {
		return nil, nil
	}
	c, err := e.Repo.GetCanvas(ctx, who.OrgKey(), taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ClearCanvasState deletes the saved canvas if there is one.
func (e Engine) ClearCanvasState(ctx context.Context, who auth.Identity, taskID string) (bool, error) {
	if err := auth.Require(who); err != nil {
		return false, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return false, err
	}
	if err := auth.RequireOwner(who, "task", taskID, t.OwnerID); err != nil {
		return false, err
	}
	removed, err := e.Repo.DeleteCanvas(ctx, tx, who.OrgKey(), taskID)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.CanvasCleared, TaskID: taskID, EntityKind: "canvas", EntityID: taskID, ActorID: who.UserID,
		Payload: events.Payload{"organization_id": who.OrgKey()},
	}); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
