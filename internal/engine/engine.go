package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"constellation/internal/agentrt"
	"constellation/internal/config"
	"constellation/internal/domain"
	"constellation/internal/events"
	"constellation/internal/metrics"
	"constellation/internal/presence"
	"constellation/internal/repo"
)

// ErrInvalid marks input validation failures.
var ErrInvalid = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Publisher receives realtime notifications for a task.
type Publisher interface {
	Publish(taskID, typ string, payload any)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Presence presence.Store
	Runtime  *agentrt.Runtime
	Realtime Publisher
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{},
		Config:   cfg,
		Presence: presence.SQLStore{Repo: r},
		Runtime:  &agentrt.Runtime{Instructions: cfg.LLM.Instructions},
		Log:      zerolog.Nop(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return domain.FormatTime(e.now())
}

func (e Engine) nowMillis() int64 {
	return e.now().UnixMilli()
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, entry events.Entry) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if _, err := w.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("append %s event: %w", entry.Type, err)
	}
	return nil
}

func (e Engine) publish(taskID, typ string, payload any) {
	if e.Realtime == nil || taskID == "" {
		return
	}
	e.Realtime.Publish(taskID, typ, payload)
}

func (e Engine) presenceWindow() time.Duration {
	if e.Config != nil && e.Config.Presence.WindowSeconds > 0 {
		return e.Config.Presence.Window()
	}
	return 30 * time.Second
}

func (e Engine) recentMessages() int {
	if e.Config != nil && e.Config.LLM.RecentMessages > 0 {
		return e.Config.LLM.RecentMessages
	}
	return 20
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
