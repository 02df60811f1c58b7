package repo

import (
	"context"
	"database/sql"
	"errors"

	"constellation/internal/domain"
)

const canvasColumns = `id,owner_id,organization_id,task_id,nodes_json,edges_json,viewport_x,viewport_y,viewport_zoom,updated_at`

// UpsertCanvas writes the single canvas row for (organization, task). The
// stored id of an existing row is kept.
func (r Repo) UpsertCanvas(ctx context.Context, tx *sql.Tx, c domain.Canvas) (domain.Canvas, error) {
	nodes, edges, err := encodeGraph(c.Nodes, c.Edges)
	if err != nil {
		return domain.Canvas{}, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO canvases(id,owner_id,organization_id,task_id,nodes_json,edges_json,viewport_x,viewport_y,viewport_zoom,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(organization_id, task_id) DO UPDATE SET
  owner_id=excluded.owner_id,
  nodes_json=excluded.nodes_json,
  edges_json=excluded.edges_json,
  viewport_x=excluded.viewport_x,
  viewport_y=excluded.viewport_y,
  viewport_zoom=excluded.viewport_zoom,
  updated_at=excluded.updated_at`,
		c.ID, c.OwnerID, c.OrganizationID, c.TaskID, nodes, edges, c.Viewport.X, c.Viewport.Y, c.Viewport.Zoom, c.UpdatedAt)
	if err != nil {
		return domain.Canvas{}, err
	}
	return getCanvas(ctx, tx, c.OrganizationID, c.TaskID)
}

func (r Repo) GetCanvas(ctx context.Context, orgID, taskID string) (domain.Canvas, error) {
	return getCanvas(ctx, r.DB, orgID, taskID)
}

func getCanvas(ctx context.Context, q querier, orgID, taskID string) (domain.Canvas, error) {
	row := q.QueryRowContext(ctx, `SELECT `+canvasColumns+` FROM canvases WHERE organization_id=? AND task_id=?`, orgID, taskID)
	var c domain.Canvas
	var nodes, edges string
	err := row.Scan(&c.ID, &c.OwnerID, &c.OrganizationID, &c.TaskID, &nodes, &edges,
		&c.Viewport.X, &c.Viewport.Y, &c.Viewport.Zoom, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Canvas{}, ErrNotFound
	}
	if err != nil {
		return domain.Canvas{}, err
	}
	if err := decodeGraph(nodes, edges, &c.Nodes, &c.Edges); err != nil {
		return domain.Canvas{}, err
	}
	return c, nil
}

// CountCanvases returns how many rows exist for (organization, task).
func (r Repo) CountCanvases(ctx context.Context, orgID, taskID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM canvases WHERE organization_id=? AND task_id=?`, orgID, taskID).Scan(&n)
	return n, err
}

// DeleteCanvas reports whether a row was removed.
func (r Repo) DeleteCanvas(ctx context.Context, tx *sql.Tx, orgID, taskID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM canvases WHERE organization_id=? AND task_id=?`, orgID, taskID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
