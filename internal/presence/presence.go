package presence

import (
	"context"
	"errors"

	"constellation/internal/domain"
	"constellation/internal/repo"
)

// ErrNotFound is returned by Get when the user has no row for the task.
var ErrNotFound = repo.ErrNotFound

// Store holds one presence row per (user, task). Times are unix milliseconds.
type Store interface {
	Touch(ctx context.Context, p domain.Presence) error
	Get(ctx context.Context, userID, taskID string) (domain.Presence, error)
	Remove(ctx context.Context, userID, taskID string) (bool, error)
	Active(ctx context.Context, taskID string, sinceMillis int64) ([]domain.Presence, error)
	DropTask(ctx context.Context, taskID string) error
	Prune(ctx context.Context, beforeMillis int64) (int64, error)
	Count(ctx context.Context, sinceMillis int64) (int, error)
}

// SQLStore keeps presence in the presence table.
type SQLStore struct {
	Repo repo.Repo
}

func (s SQLStore) Touch(ctx context.Context, p domain.Presence) error {
	return s.Repo.UpsertPresence(ctx, p)
}

func (s SQLStore) Get(ctx context.Context, userID, taskID string) (domain.Presence, error) {
	return s.Repo.GetPresence(ctx, userID, taskID)
}

func (s SQLStore) Remove(ctx context.Context, userID, taskID string) (bool, error) {
	return s.Repo.DeletePresence(ctx, userID, taskID)
}

func (s SQLStore) Active(ctx context.Context, taskID string, sinceMillis int64) ([]domain.Presence, error) {
	return s.Repo.ActivePresence(ctx, taskID, sinceMillis)
}

func (s SQLStore) DropTask(ctx context.Context, taskID string) error {
	return s.Repo.DeleteTaskPresence(ctx, taskID)
}

func (s SQLStore) Prune(ctx context.Context, beforeMillis int64) (int64, error) {
	return s.Repo.PrunePresence(ctx, beforeMillis)
}

func (s SQLStore) Count(ctx context.Context, sinceMillis int64) (int, error) {
	return s.Repo.CountPresence(ctx, sinceMillis)
}

// Merge builds the row written by an update. An update without a cursor,
// such as a heartbeat, keeps the previous cursor.
func Merge(prev *domain.Presence, userID, taskID string, cursor *domain.Position, nowMillis int64) domain.Presence {
	p := domain.Presence{UserID: userID, TaskID: taskID, LastUpdated: nowMillis}
	if cursor != nil {
		p.Cursor = *cursor
	} else if prev != nil {
		p.Cursor = prev.Cursor
	}
	return p
}

// IsNotFound reports whether err means no presence row exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
