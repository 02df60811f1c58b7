package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"constellation/internal/domain"
)

const agentColumns = `id,owner_id,task_id,name,connections_json,chat_history_json,COALESCE(metadata_json,''),canvas_x,canvas_y,COALESCE(draft,''),status,created_at,updated_at,is_archived`

type AgentFilters struct {
	OwnerID         string
	TaskID          string
	Status          string
	NameContains    string
	CursorUpdatedAt string
	CursorID        string
	Limit           int
}

func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	cols, err := encodeAgent(a)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO agents(id,owner_id,task_id,name,connections_json,chat_history_json,metadata_json,canvas_x,canvas_y,draft,status,created_at,updated_at,is_archived)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OwnerID, nullableStringPtr(a.TaskID), a.Name, cols.connections, cols.history, cols.metadata,
		cols.x, cols.y, nullable(a.Draft), string(a.Status), a.CreatedAt, a.UpdatedAt, boolInt(a.IsArchived))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: agent %s exists", ErrConflict, a.ID)
	}
	return err
}

// UpdateAgent rewrites the whole agent document.
func (r Repo) UpdateAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	cols, err := encodeAgent(a)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE agents SET task_id=?, name=?, connections_json=?, chat_history_json=?, metadata_json=?, canvas_x=?, canvas_y=?, draft=?, status=?, updated_at=?, is_archived=? WHERE id=?`,
		nullableStringPtr(a.TaskID), a.Name, cols.connections, cols.history, cols.metadata, cols.x, cols.y,
		nullable(a.Draft), string(a.Status), a.UpdatedAt, boolInt(a.IsArchived), a.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return getAgent(ctx, r.DB, id)
}

func (r Repo) GetAgentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Agent, error) {
	return getAgent(ctx, tx, id)
}

func getAgent(ctx context.Context, q querier, id string) (domain.Agent, error) {
	a, err := scanAgent(q.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Agent{}, ErrNotFound
	}
	return a, err
}

func (r Repo) ListAgents(ctx context.Context, f AgentFilters) ([]domain.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents`
	var where []string
	var args []any
	if f.OwnerID != "" {
		where = append(where, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.TaskID != "" {
		where = append(where, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	if f.NameContains != "" {
		where = append(where, "instr(lower(name), lower(?)) > 0")
		args = append(args, f.NameContains)
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
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AgentIDsForTask returns the ids of agents linked to a task.
func (r Repo) AgentIDsForTask(ctx context.Context, tx *sql.Tx, taskID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM agents WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) DeleteAgent(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

type agentCols struct {
	connections string
	history     string
	metadata    any
	x, y        any
}

func encodeAgent(a domain.Agent) (agentCols, error) {
	var c agentCols
	var err error
	if c.connections, err = marshalJSON(a.Connections, "[]"); err != nil {
		return c, fmt.Errorf("encode connections: %w", err)
	}
	if c.history, err = marshalJSON(a.ChatHistory, "[]"); err != nil {
		return c, fmt.Errorf("encode chat history: %w", err)
	}
	if len(a.Metadata) > 0 {
		m, err := marshalJSON(a.Metadata, "")
		if err != nil {
			return c, fmt.Errorf("encode metadata: %w", err)
		}
		c.metadata = m
	}
	if a.CanvasPosition != nil {
		c.x, c.y = a.CanvasPosition.X, a.CanvasPosition.Y
	}
	return c, nil
}

func scanAgent(row rowScanner) (domain.Agent, error) {
	var a domain.Agent
	var taskID sql.NullString
	var conns, history, metadata, status string
	var x, y sql.NullFloat64
	var archived int
	if err := row.Scan(&a.ID, &a.OwnerID, &taskID, &a.Name, &conns, &history, &metadata, &x, &y, &a.Draft, &status,
		&a.CreatedAt, &a.UpdatedAt, &archived); err != nil {
		return domain.Agent{}, err
	}
	if taskID.Valid {
		a.TaskID = &taskID.String
	}
	if x.Valid && y.Valid {
		a.CanvasPosition = &domain.Position{X: x.Float64, Y: y.Float64}
	}
	a.Status = domain.AgentStatus(status)
	a.IsArchived = archived == 1
	if err := unmarshalJSON(conns, &a.Connections); err != nil {
		return domain.Agent{}, err
	}
	if err := unmarshalJSON(history, &a.ChatHistory); err != nil {
		return domain.Agent{}, err
	}
	if err := unmarshalJSON(metadata, &a.Metadata); err != nil {
		return domain.Agent{}, err
	}
	if a.Connections == nil {
		a.Connections = []string{}
	}
	if a.ChatHistory == nil {
		a.ChatHistory = []domain.ChatEntry{}
	}
	return a, nil
}
