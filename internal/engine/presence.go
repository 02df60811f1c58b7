package engine

import (
	"context"
	"errors"
	"time"

	"constellation/internal/canvas"
	"constellation/internal/domain"
	"constellation/internal/engine/auth"
	"constellation/internal/events"
	"constellation/internal/presence"
	"constellation/internal/repo"
)

// TaskAccess returns the task when who owns it or belongs to the owner's
// organization. It gates presence only; task content stays owner-only.
func (e Engine) TaskAccess(ctx context.Context, who auth.Identity, taskID string) (domain.Task, error) {
	if err := auth.Require(who); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.OwnerID == who.UserID {
		return t, nil
	}
	// Membership is read from storage, not from token claims, so operator
	// reassignments apply immediately.
	caller, err := e.Repo.GetUser(ctx, who.UserID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, err
	}
	if err == nil && caller.OrganizationID != "" {
		owner, err := e.Repo.GetUser(ctx, t.OwnerID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, err
		}
		if err == nil && owner.OrganizationID == caller.OrganizationID {
			return t, nil
		}
	}
	return domain.Task{}, auth.ForbiddenError{Kind: "task", ID: taskID}
}

// UpdatePresence records who's cursor on a task. An update without a cursor
// keeps the previous one.
func (e Engine) UpdatePresence(ctx context.Context, who auth.Identity, taskID string, cursor *domain.Position, heartbeat bool) (domain.Presence, error) {
	if _, err := e.TaskAccess(ctx, who, taskID); err != nil {
		return domain.Presence{}, err
	}
	var prev *domain.Presence
	existing, err := e.Presence.Get(ctx, who.UserID, taskID)
	switch {
	case err == nil:
		prev = &existing
	case !presence.IsNotFound(err):
		return domain.Presence{}, err
	}
	if cursor != nil {
		sanitized := canvas.SanitizePosition(*cursor)
		cursor = &sanitized
	}
	p := presence.Merge(prev, who.UserID, taskID, cursor, e.nowMillis())
	if err := e.Presence.Touch(ctx, p); err != nil {
		return domain.Presence{}, err
	}
	if !heartbeat || prev == nil || prev.Cursor != p.Cursor {
		e.publish(taskID, events.PresenceUpdate, p)
	}
	return p, nil
}

// RemovePresence deletes who's row for a task, reporting whether one existed.
func (e Engine) RemovePresence(ctx context.Context, who auth.Identity, taskID string) (bool, error) {
	if err := auth.Require(who); err != nil {
		return false, err
	}
	removed, err := e.Presence.Remove(ctx, who.UserID, taskID)
	if err != nil {
		return false, err
	}
	if removed {
		e.publish(taskID, events.PresenceRemove, map[string]any{"user_id": who.UserID, "task_id": taskID})
	}
	return removed, nil
}

// ActiveUsers lists presence rows updated within the activity window.
func (e Engine) ActiveUsers(ctx context.Context, who auth.Identity, taskID string) ([]domain.Presence, error) {
	if _, err := e.TaskAccess(ctx, who, taskID); err != nil {
		return nil, err
	}
	since := e.now().Add(-e.presenceWindow()).UnixMilli()
	return e.Presence.Active(ctx, taskID, since)
}

// PrunePresence deletes rows not updated within olderThan and refreshes the
// active presence gauge.
func (e Engine) PrunePresence(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = e.presenceWindow()
	}
	now := e.now()
	n, err := e.Presence.Prune(ctx, now.Add(-olderThan).UnixMilli())
	if err != nil {
		return 0, err
	}
	active, err := e.Presence.Count(ctx, now.Add(-e.presenceWindow()).UnixMilli())
	if err != nil {
		return n, err
	}
	e.Metrics.SetActivePresence(active)
	return n, nil
}
