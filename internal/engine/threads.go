package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"constellation/internal/agentrt"
	"constellation/internal/domain"
	"constellation/internal/engine/auth"
	"constellation/internal/events"
	"constellation/internal/repo"
)

const threadTitleMax = 80

// ThreadReply is the assistant's answer within a thread.
type ThreadReply struct {
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
}

// CreateThreadAndPrompt starts a thread for who, optionally bound to an
// agent, and returns the model's answer to prompt.
func (e Engine) CreateThreadAndPrompt(ctx context.Context, who auth.Identity, prompt, agentID string) (ThreadReply, error) {
	if err := auth.Require(who); err != nil {
		return ThreadReply{}, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ThreadReply{}, invalidf("prompt is required")
	}
	if !e.Runtime.Available() {
		return ThreadReply{}, agentrt.ErrModelUnavailable
	}
	if agentID != "" {
		if _, err := e.GetAgent(ctx, who, agentID); err != nil {
			return ThreadReply{}, err
		}
	}
	now := e.timestamp()
	th := domain.Thread{
		ID:        uuid.NewString(),
		OwnerID:   who.UserID,
		AgentID:   optionalString(agentID),
		Title:     threadTitle(prompt),
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ThreadReply{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertThread(ctx, tx, th); err != nil {
		return ThreadReply{}, err
	}
	if _, err := e.Repo.InsertMessage(ctx, tx, domain.ThreadMessage{ThreadID: th.ID, Role: domain.RoleUser, Content: prompt, CreatedAt: now}); err != nil {
		return ThreadReply{}, err
	}
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.ThreadCreated, EntityKind: "thread", EntityID: th.ID, ActorID: who.UserID,
		Payload: events.Payload{"agent_id": agentID},
	}); err != nil {
		return ThreadReply{}, err
	}
	if err := tx.Commit(); err != nil {
		return ThreadReply{}, err
	}
	return e.generate(ctx, who, th, prompt)
}

// ContinueThread adds prompt to an existing thread and answers it using the
// most recent messages as context.
func (e Engine) ContinueThread(ctx context.Context, who auth.Identity, threadID, prompt string) (ThreadReply, error) {
	if err := auth.Require(who); err != nil {
		return ThreadReply{}, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ThreadReply{}, invalidf("prompt is required")
	}
	th, err := e.Repo.GetThread(ctx, threadID)
	if err != nil {
		return ThreadReply{}, err
	}
	if err := auth.RequireOwner(who, "thread", threadID, th.OwnerID); err != nil {
		return ThreadReply{}, err
	}
	if !e.Runtime.Available() {
		return ThreadReply{}, agentrt.ErrModelUnavailable
	}
	now := e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ThreadReply{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.InsertMessage(ctx, tx, domain.ThreadMessage{ThreadID: th.ID, Role: domain.RoleUser, Content: prompt, CreatedAt: now}); err != nil {
		return ThreadReply{}, err
	}
	if err := e.Repo.TouchThread(ctx, tx, th.ID, now); err != nil {
		return ThreadReply{}, err
	}
	if err := tx.Commit(); err != nil {
		return ThreadReply{}, err
	}
	return e.generate(ctx, who, th, prompt)
}

// generate calls the model on the thread's recent history, stores the reply
// and keeps a bound agent's status and chat history in step.
func (e Engine) generate(ctx context.Context, who auth.Identity, th domain.Thread, prompt string) (_ ThreadReply, err error) {
	// Bookkeeping after the call must survive a cancelled request.
	bg := context.WithoutCancel(ctx)
	e.setAgentStatus(bg, who, th.AgentID, domain.AgentGenerating)
	// An agent is never left generating once this returns.
	defer func() {
		if err != nil {
			e.setAgentStatus(bg, who, th.AgentID, domain.AgentError)
		}
	}()

	history, err := e.Repo.ThreadMessages(bg, th.ID, e.recentMessages())
	if err != nil {
		return ThreadReply{}, err
	}
	start := time.Now()
	text, genErr := e.Runtime.Reply(ctx, history)
	if genErr != nil {
		e.Metrics.ObserveGeneration(time.Since(start), failureReason(genErr))
		e.Log.Warn().Err(genErr).Str("thread_id", th.ID).Msg("generation failed")
		e.recordThreadFailure(bg, who, th, genErr)
		return ThreadReply{}, genErr
	}
	e.Metrics.ObserveGeneration(time.Since(start), "")

	now := e.timestamp()
	tx, err := e.DB.BeginTx(bg, nil)
	if err != nil {
		return ThreadReply{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.InsertMessage(bg, tx, domain.ThreadMessage{ThreadID: th.ID, Role: domain.RoleAssistant, Content: text, CreatedAt: now}); err != nil {
		return ThreadReply{}, err
	}
	if err := e.Repo.TouchThread(bg, tx, th.ID, now); err != nil {
		return ThreadReply{}, err
	}
	if err := e.appendEvent(bg, tx, events.Entry{
		Type: events.ThreadReplied, EntityKind: "thread", EntityID: th.ID, ActorID: who.UserID,
		Payload: events.Payload{"chars": len(text)},
	}); err != nil {
		return ThreadReply{}, err
	}
	if err := tx.Commit(); err != nil {
		return ThreadReply{}, err
	}

	if th.AgentID != nil {
		_, err := e.mutateAgent(bg, who, *th.AgentID, events.AgentChat, func(a *domain.Agent) (events.Payload, error) {
			ts := e.nowMillis()
			a.ChatHistory = append(a.ChatHistory,
				domain.ChatEntry{Role: domain.ChatUser, Message: prompt, Timestamp: ts},
				domain.ChatEntry{Role: domain.ChatAI, Message: text, Timestamp: ts},
			)
			a.Status = domain.AgentReady
			return events.Payload{"thread_id": th.ID, "entries": len(a.ChatHistory), "status": a.Status}, nil
		})
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			e.Log.Warn().Err(err).Str("agent_id", *th.AgentID).Msg("record agent chat")
			e.setAgentStatus(bg, who, th.AgentID, domain.AgentReady)
		}
	}
	return ThreadReply{ThreadID: th.ID, Text: text}, nil
}

func (e Engine) setAgentStatus(ctx context.Context, who auth.Identity, agentID *string, status domain.AgentStatus) {
	if agentID == nil {
		return
	}
	if _, err := e.UpdateAgent(ctx, who, *agentID, AgentUpdateOptions{Status: &status}); err != nil && !errors.Is(err, repo.ErrNotFound) {
		e.Log.Warn().Err(err).Str("agent_id", *agentID).Str("status", string(status)).Msg("set agent status")
	}
}

func (e Engine) recordThreadFailure(ctx context.Context, who auth.Identity, th domain.Thread, cause error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.appendEvent(ctx, tx, events.Entry{
		Type: events.ThreadFailed, EntityKind: "thread", EntityID: th.ID, ActorID: who.UserID,
		Payload: events.Payload{"reason": failureReason(cause)},
	}); err != nil {
		e.Log.Warn().Err(err).Str("thread_id", th.ID).Msg("record thread failure")
		return
	}
	_ = tx.Commit()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, agentrt.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "provider_error"
	}
}

func (e Engine) ListThreads(ctx context.Context, who auth.Identity, limit int) ([]domain.Thread, error) {
	if err := auth.Require(who); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return e.Repo.ListThreads(ctx, who.UserID, limit)
}

func (e Engine) GetThreadMessages(ctx context.Context, who auth.Identity, threadID string) ([]domain.ThreadMessage, error) {
	if err := auth.Require(who); err != nil {
		return nil, err
	}
	th, err := e.Repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOwner(who, "thread", threadID, th.OwnerID); err != nil {
		return nil, err
	}
	return e.Repo.ThreadMessages(ctx, threadID, 0)
}

func threadTitle(prompt string) string {
	line, _, _ := strings.Cut(prompt, "\n")
	r := []rune(line)
	if len(r) > threadTitleMax {
		return string(r[:threadTitleMax]) + "..."
	}
	return line
}
