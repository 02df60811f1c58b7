package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"constellation/internal/domain"
)

// Event types appended by the engine.
const (
	TaskCreated    = "task.created"
	TaskUpdated    = "task.updated"
	TaskDeleted    = "task.deleted"
	CanvasSaved    = "canvas.saved"
	CanvasCleared  = "canvas.cleared"
	AgentCreated   = "agent.created"
	AgentUpdated   = "agent.updated"
	AgentDeleted   = "agent.deleted"
	AgentChat      = "agent.chat"
	ThreadCreated  = "thread.created"
	ThreadReplied  = "thread.replied"
	ThreadFailed   = "thread.failed"
	PresenceUpdate = "presence.updated"
	PresenceRemove = "presence.removed"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Entry describes one event row.
type Entry struct {
	Type       string
	TaskID     string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

// Append inserts the event inside tx and returns it with its id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (domain.Event, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	payload := e.Payload
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	evt := domain.Event{
		TS:         domain.FormatTime(now()),
		Type:       e.Type,
		TaskID:     e.TaskID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    string(data),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,task_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		evt.TS, evt.Type, nullable(evt.TaskID), evt.EntityKind, nullable(evt.EntityID), evt.ActorID, evt.Payload)
	if err != nil {
		return domain.Event{}, err
	}
	evt.ID, _ = res.LastInsertId()
	return evt, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
