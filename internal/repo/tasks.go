package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"constellation/internal/domain"
)

const taskColumns = `id,owner_id,title,COALESCE(description,''),nodes_json,edges_json,viewport_x,viewport_y,viewport_zoom,created_at,updated_at,is_archived`

// TaskFilters selects a page of one owner's tasks.
type TaskFilters struct {
	OwnerID  string
	Archived *bool
	// Cursor position: rows strictly after (UpdatedAt, ID) in descending order.
	CursorUpdatedAt string
	CursorID        string
	Limit           int
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	nodes, edges, err := encodeGraph(t.Nodes, t.Edges)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(id,owner_id,title,description,nodes_json,edges_json,viewport_x,viewport_y,viewport_zoom,created_at,updated_at,is_archived)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OwnerID, t.Title, nullable(t.Description), nodes, edges,
		t.Viewport.X, t.Viewport.Y, t.Viewport.Zoom, t.CreatedAt, t.UpdatedAt, boolInt(t.IsArchived))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: task %s exists", ErrConflict, t.ID)
	}
	return err
}

// UpdateTask rewrites the whole task document.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	nodes, edges, err := encodeGraph(t.Nodes, t.Edges)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, nodes_json=?, edges_json=?, viewport_x=?, viewport_y=?, viewport_zoom=?, updated_at=?, is_archived=? WHERE id=?`,
		t.Title, nullable(t.Description), nodes, edges, t.Viewport.X, t.Viewport.Y, t.Viewport.Zoom, t.UpdatedAt, boolInt(t.IsArchived), t.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return getTask(ctx, tx, id)
}

func getTask(ctx context.Context, q querier, id string) (domain.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks`
	var where []string
	var args []any
	if f.OwnerID != "" {
		where = append(where, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Archived != nil {
		where = append(where, "is_archived=?")
		args = append(args, boolInt(*f.Archived))
	}
	if f.CursorUpdatedAt != "" {
		where = append(where, "(updated_at < ? OR (updated_at = ? AND id < ?))")
		args = append(args, f.CursorUpdatedAt, f.CursorUpdatedAt, f.CursorID)
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY updated_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// DeleteTask removes the task row. Canvases and presence rows cascade and
// agents are unlinked by the schema.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var nodes, edges string
	var archived int
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &nodes, &edges,
		&t.Viewport.X, &t.Viewport.Y, &t.Viewport.Zoom, &t.CreatedAt, &t.UpdatedAt, &archived); err != nil {
		return domain.Task{}, err
	}
	t.IsArchived = archived == 1
	if err := decodeGraph(nodes, edges, &t.Nodes, &t.Edges); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func encodeGraph(nodes []domain.Node, edges []domain.Edge) (string, string, error) {
	n, err := marshalJSON(nodes, "[]")
	if err != nil {
		return "", "", fmt.Errorf("encode nodes: %w", err)
	}
	e, err := marshalJSON(edges, "[]")
	if err != nil {
		return "", "", fmt.Errorf("encode edges: %w", err)
	}
	return n, e, nil
}

func decodeGraph(nodesRaw, edgesRaw string, nodes *[]domain.Node, edges *[]domain.Edge) error {
	if err := unmarshalJSON(nodesRaw, nodes); err != nil {
		return err
	}
	if err := unmarshalJSON(edgesRaw, edges); err != nil {
		return err
	}
	if *nodes == nil {
		*nodes = []domain.Node{}
	}
	if *edges == nil {
		*edges = []domain.Edge{}
	}
	return nil
}
