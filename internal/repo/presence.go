package repo

import (
	"context"
	"database/sql"
	"errors"

	"constellation/internal/domain"
)

// UpsertPresence overwrites the (user, task) row.
func (r Repo) UpsertPresence(ctx context.Context, p domain.Presence) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO presence(user_id,task_id,last_updated,cursor_x,cursor_y) VALUES (?,?,?,?,?)
ON CONFLICT(user_id, task_id) DO UPDATE SET last_updated=excluded.last_updated, cursor_x=excluded.cursor_x, cursor_y=excluded.cursor_y`,
		p.UserID, p.TaskID, p.LastUpdated, p.Cursor.X, p.Cursor.Y)
	return err
}

func (r Repo) GetPresence(ctx context.Context, userID, taskID string) (domain.Presence, error) {
	var p domain.Presence
	err := r.DB.QueryRowContext(ctx, `SELECT user_id,task_id,last_updated,cursor_x,cursor_y FROM presence WHERE user_id=? AND task_id=?`, userID, taskID).
		Scan(&p.UserID, &p.TaskID, &p.LastUpdated, &p.Cursor.X, &p.Cursor.Y)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// DeletePresence reports whether a row was removed.
func (r Repo) DeletePresence(ctx context.Context, userID, taskID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM presence WHERE user_id=? AND task_id=?`, userID, taskID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ActivePresence returns rows of a task updated at or after sinceMillis.
func (r Repo) ActivePresence(ctx context.Context, taskID string, sinceMillis int64) ([]domain.Presence, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id,task_id,last_updated,cursor_x,cursor_y FROM presence
WHERE task_id=? AND last_updated >= ? ORDER BY last_updated DESC, user_id`, taskID, sinceMillis)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Presence{}
	for rows.Next() {
		var p domain.Presence
		if err := rows.Scan(&p.UserID, &p.TaskID, &p.LastUpdated, &p.Cursor.X, &p.Cursor.Y); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// PrunePresence deletes rows older than beforeMillis and returns the count.
func (r Repo) PrunePresence(ctx context.Context, beforeMillis int64) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM presence WHERE last_updated < ?`, beforeMillis)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountPresence counts rows updated at or after sinceMillis across all tasks.
func (r Repo) CountPresence(ctx context.Context, sinceMillis int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM presence WHERE last_updated >= ?`, sinceMillis).Scan(&n)
	return n, err
}

// DeleteTaskPresence removes every row of a task.
func (r Repo) DeleteTaskPresence(ctx context.Context, taskID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM presence WHERE task_id=?`, taskID)
	return err
}
