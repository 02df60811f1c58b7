package repo

import (
	"context"
	"database/sql"
	"errors"

	"constellation/internal/domain"
)

const threadColumns = `id,owner_id,agent_id,COALESCE(title,''),created_at,updated_at`

func (r Repo) InsertThread(ctx context.Context, tx *sql.Tx, t domain.Thread) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO threads(id,owner_id,agent_id,title,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.OwnerID, nullableStringPtr(t.AgentID), nullable(t.Title), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) TouchThread(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetThread(ctx context.Context, id string) (domain.Thread, error) {
	t, err := scanThread(r.DB.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Thread{}, ErrNotFound
	}
	return t, err
}

func (r Repo) ListThreads(ctx context.Context, ownerID string, limit int) ([]domain.Thread, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE owner_id=? ORDER BY updated_at DESC, id DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertMessage(ctx context.Context, tx *sql.Tx, m domain.ThreadMessage) (domain.ThreadMessage, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO thread_messages(thread_id,role,content,created_at) VALUES (?,?,?,?)`,
		m.ThreadID, string(m.Role), m.Content, m.CreatedAt)
	if err != nil {
		return domain.ThreadMessage{}, err
	}
	m.ID, _ = res.LastInsertId()
	return m, nil
}

// ThreadMessages returns messages in insertion order. With limit > 0 only the
// most recent limit messages are returned, still oldest first.
func (r Repo) ThreadMessages(ctx context.Context, threadID string, limit int) ([]domain.ThreadMessage, error) {
	q := `SELECT id,thread_id,role,content,created_at FROM thread_messages WHERE thread_id=? ORDER BY id`
	args := []any{threadID}
	if limit > 0 {
		q = `SELECT id,thread_id,role,content,created_at FROM (
  SELECT id,thread_id,role,content,created_at FROM thread_messages WHERE thread_id=? ORDER BY id DESC LIMIT ?
) ORDER BY id`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ThreadMessage{}
	for rows.Next() {
		var m domain.ThreadMessage
		var role string
		if err := rows.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.MessageRole(role)
		res = append(res, m)
	}
	return res, rows.Err()
}

func scanThread(row rowScanner) (domain.Thread, error) {
	var t domain.Thread
	var agentID sql.NullString
	if err := row.Scan(&t.ID, &t.OwnerID, &agentID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Thread{}, err
	}
	if agentID.Valid {
		t.AgentID = &agentID.String
	}
	return t, nil
}
