package engine_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"constellation/internal/agentrt"
	"constellation/internal/canvas"
	"constellation/internal/config"
	"constellation/internal/db"
	"constellation/internal/domain"
	"constellation/internal/engine"
	"constellation/internal/engine/auth"
	"constellation/internal/migrate"
	"constellation/internal/repo"
)

type published struct {
	TaskID string
	Type   string
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) Publish(taskID, typ string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{TaskID: taskID, Type: typ})
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Type)
	}
	return out
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
	Pub    *recorder
	Alice  auth.Identity
	Bob    auth.Identity
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	pub := &recorder{}
	eng.Realtime = pub
	ctx := context.Background()

	alice, err := eng.Signup(ctx, engine.SignupOptions{Email: "alice@example.com", Name: "Alice", OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("signup alice: %v", err)
	}
	bob, err := eng.Signup(ctx, engine.SignupOptions{Email: "bob@example.com", Name: "Bob"})
	if err != nil {
		t.Fatalf("signup bob: %v", err)
	}
	return testEnv{
		Engine: eng, Ctx: ctx, Clock: &clock, Pub: pub,
		Alice: engine.IdentityFor(alice), Bob: engine.IdentityFor(bob),
	}
}

func (env testEnv) advance(d time.Duration) {
	*env.Clock = env.Clock.Add(d)
}

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: "  Plan launch ", Description: "d"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Title != "Plan launch" || task.IsArchived || task.Viewport != domain.DefaultViewport() {
		t.Fatalf("unexpected task %+v", task)
	}
	if len(task.Nodes) != 0 || len(task.Edges) != 0 {
		t.Fatalf("expected empty canvas")
	}
	if _, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: "   "}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected invalid title error, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, auth.Identity{}, engine.TaskCreateOptions{Title: "x"}); err == nil {
		t.Fatalf("expected unauthenticated error")
	}
}

func TestGetTaskOwnership(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: "mine"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, env.Bob, task.ID); !auth.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, env.Alice, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateTaskCoercesZoom(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: "zoom"})
	if err != nil {
		t.Fatal(err)
	}
	for _, zoom := range []float64{0, -2, math.NaN(), math.Inf(1)} {
		env.advance(time.Second)
		vp := domain.Viewport{X: math.Inf(-1), Y: 5, Zoom: zoom}
		updated, err := env.Engine.UpdateTask(env.Ctx, env.Alice, task.ID, engine.TaskUpdateOptions{Viewport: &vp})
		if err != nil {
			t.Fatalf("update zoom %v: %v", zoom, err)
		}
		if updated.Viewport.Zoom != 1 || updated.Viewport.X != 0 || updated.Viewport.Y != 5 {
			t.Fatalf("viewport not sanitized: %+v", updated.Viewport)
		}
		if updated.UpdatedAt == task.UpdatedAt {
			t.Fatalf("updated_at not bumped")
		}
	}
	stored, err := env.Engine.GetTask(env.Ctx, env.Alice, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Viewport.Zoom <= 0 {
		t.Fatalf("stored zoom %v", stored.Viewport.Zoom)
	}
}

func TestApplyCanvasChanges(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: "canvas"})
	if err != nil {
		t.Fatal(err)
	}
	nodes := []canvas.NodeChange{
		{Type: canvas.ChangeAdd, Item: &domain.Node{ID: "a", Type: "agent"}},
		{Type: canvas.ChangeAdd, Item: &domain.Node{ID: "b"}},
	}
	edges := []canvas.EdgeChange{{Type: canvas.ChangeAdd, Item: &domain.Edge{ID: "a-b", Source: "a", Target: "b"}}}
	updated, changed, err := env.Engine.ApplyCanvasChanges(env.Ctx, env.Alice, task.ID, nodes, edges)
	if err != nil || !changed {
		t.Fatalf("apply: changed=%v err=%v", changed, err)
	}
	if len(updated.Nodes) != 2 || len(updated.Edges) != 1 || updated.Nodes[1].Type != "default" {
		t.Fatalf("unexpected canvas %+v", updated)
	}

	_, changed, err = env.Engine.ApplyCanvasChanges(env.Ctx, env.Alice, task.ID, nil,
		[]canvas.EdgeChange{{Type: canvas.ChangeAdd, Item: &domain.Edge{ID: "a-b", Source: "a", Target: "b"}}})
	if err != nil || changed {
		t.Fatalf("duplicate edge should be a no-op: changed=%v err=%v", changed, err)
	}

	updated, _, err = env.Engine.ApplyCanvasChanges(env.Ctx, env.Alice, task.ID,
		[]canvas.NodeChange{{Type: canvas.ChangeRemove, ID: "b"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Edges) != 0 {
		t.Fatalf("edge to removed node not pruned: %+v", updated.Edges)
	}
}

func TestDeleteTaskByNonOwnerChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: "keep"})
	if err != nil {
		t.Fatal(err)
	}
	before, err := env.Engine.Repo.LatestEventID(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, env.Bob, task.ID); !auth.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	after, err := env.Engine.Repo.LatestEventID(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Fatalf("rejected delete wrote events")
	}
	if _, err := env.Engine.GetTask(env.Ctx, env.Alice, task.ID); err != nil {
		t.Fatalf("task missing after rejected delete: %v", err)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: "gone"})
	if err != nil {
		t.Fatal(err)
	}
	agent, err := env.Engine.CreateAgent(env.Ctx, env.Alice, engine.AgentCreateOptions{Name: "writer", TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SaveCanvasState(env.Ctx, env.Alice, task.ID, engine.CanvasState{Viewport: domain.DefaultViewport()}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdatePresence(env.Ctx, env.Alice, task.ID, &domain.Position{X: 1, Y: 1}, false); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, env.Alice, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := env.Engine.GetAgent(env.Ctx, env.Alice, agent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TaskID != nil {
		t.Fatalf("agent still linked to deleted task")
	}
	if n, _ := env.Engine.Repo.CountCanvases(env.Ctx, env.Alice.OrgKey(), task.ID); n != 0 {
		t.Fatalf("canvas survived task delete")
	}
	if _, err := env.Engine.Presence.Get(env.Ctx, env.Alice.UserID, task.ID); err == nil {
		t.Fatalf("presence survived task delete")
	}
}

func TestCanvasStateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: "c"})
	if err != nil {
		t.Fatal(err)
	}
	state := engine.CanvasState{
		Nodes:    []domain.Node{{ID: "n1", Type: "agent"}},
		Viewport: domain.Viewport{X: 10, Y: 20, Zoom: -1},
	}
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.SaveCanvasState(env.Ctx, env.Alice, task.ID, state); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	if n, err := env.Engine.Repo.CountCanvases(env.Ctx, "org-1", task.ID); err != nil || n != 1 {
		t.Fatalf("expected one canvas row, got %d (%v)", n, err)
	}
	got, err := env.Engine.GetCanvasState(env.Ctx, env.Alice, task.ID)
	if err != nil || got == nil {
		t.Fatalf("get canvas: %v", err)
	}
	if got.Viewport.Zoom != 1 || got.OrganizationID != "org-1" {
		t.Fatalf("unexpected canvas %+v", got)
	}
	other, err := env.Engine.GetCanvasState(env.Ctx, env.Bob, task.ID)
	if err != nil || other != nil {
		t.Fatalf("non-owner should get nil canvas, got %+v (%v)", other, err)
	}
	if _, err := env.Engine.SaveCanvasState(env.Ctx, env.Bob, task.ID, state); !auth.IsForbidden(err) {
		t.Fatalf("expected forbidden save, got %v", err)
	}
	removed, err := env.Engine.ClearCanvasState(env.Ctx, env.Alice, task.ID)
	if err != nil || !removed {
		t.Fatalf("clear: removed=%v err=%v", removed, err)
	}
	removed, err = env.Engine.ClearCanvasState(env.Ctx, env.Alice, task.ID)
	if err != nil || removed {
		t.Fatalf("second clear: removed=%v err=%v", removed, err)
	}
}

func TestActiveUsersWindow(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: "p"})
	if err != nil {
		t.Fatal(err)
	}
	teammate, err := env.Engine.Signup(env.Ctx, engine.SignupOptions{Email: "carol@example.com", OrganizationID: "org-1"})
	if err != nil {
		t.Fatal(err)
	}
	carol := engine.IdentityFor(teammate)

	if _, err := env.Engine.UpdatePresence(env.Ctx, carol, task.ID, &domain.Position{X: 3, Y: 4}, false); err != nil {
		t.Fatalf("teammate presence: %v", err)
	}
	env.advance(31 * time.Second)
	if _, err := env.Engine.UpdatePresence(env.Ctx, env.Alice, task.ID, nil, true); err != nil {
		t.Fatal(err)
	}
	active, err := env.Engine.ActiveUsers(env.Ctx, env.Alice, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].UserID != env.Alice.UserID {
		t.Fatalf("stale presence not excluded: %+v", active)
	}
	if _, err := env.Engine.ActiveUsers(env.Ctx, env.Bob, task.ID); !auth.IsForbidden(err) {
		t.Fatalf("outsider read presence: %v", err)
	}

	pruned, err := env.Engine.PrunePresence(env.Ctx, 30*time.Second)
	if err != nil || pruned != 1 {
		t.Fatalf("prune: n=%d err=%v", pruned, err)
	}
	removed, err := env.Engine.RemovePresence(env.Ctx, env.Alice, task.ID)
	if err != nil || !removed {
		t.Fatalf("remove: %v %v", removed, err)
	}
	types := env.Pub.types()
	if types[len(types)-1] != "presence.removed" {
		t.Fatalf("missing presence.removed broadcast: %v", types)
	}
}

func TestOrganizationMembershipComesFromStorage(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: "p"})
	if err != nil {
		t.Fatal(err)
	}

	claimed := env.Bob
	claimed.OrganizationID = "org-1"
	if _, err := env.Engine.ActiveUsers(env.Ctx, claimed, task.ID); !auth.IsForbidden(err) {
		t.Fatalf("claimed organization read presence: %v", err)
	}
	if _, err := env.Engine.TaskEvents(env.Ctx, claimed, task.ID, 0, 10); !auth.IsForbidden(err) {
		t.Fatalf("claimed organization read events: %v", err)
	}

	bob, err := env.Engine.AssignOrganization(env.Ctx, "bob@example.com", "org-1")
	if err != nil || bob.OrganizationID != "org-1" {
		t.Fatalf("assign organization: %+v %v", bob, err)
	}
	if _, err := env.Engine.ActiveUsers(env.Ctx, env.Bob, task.ID); err != nil {
		t.Fatalf("member presence: %v", err)
	}
	if _, err := env.Engine.TaskEvents(env.Ctx, env.Bob, task.ID, 0, 10); !auth.IsForbidden(err) {
		t.Fatalf("member read task events: %v", err)
	}
	if _, err := env.Engine.TaskEvents(env.Ctx, env.Alice, task.ID, 0, 10); err != nil {
		t.Fatalf("owner events: %v", err)
	}
	if _, err := env.Engine.AssignOrganization(env.Ctx, "nobody@example.com", "org-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("assign unknown user: %v", err)
	}
}

func TestHeartbeatKeepsCursor(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdatePresence(env.Ctx, env.Alice, task.ID, &domain.Position{X: 7, Y: 8}, false); err != nil {
		t.Fatal(err)
	}
	env.advance(5 * time.Second)
	p, err := env.Engine.UpdatePresence(env.Ctx, env.Alice, task.ID, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if p.Cursor != (domain.Position{X: 7, Y: 8}) || p.LastUpdated != env.Clock.UnixMilli() {
		t.Fatalf("heartbeat lost cursor: %+v", p)
	}
}

func TestAgentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	agent, err := env.Engine.CreateAgent(env.Ctx, env.Alice, engine.AgentCreateOptions{
		Name: "Researcher", Connections: []string{"x", "x", "y"}, CanvasPosition: &domain.Position{X: math.NaN(), Y: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if agent.Status != domain.AgentIdle || len(agent.ChatHistory) != 0 || len(agent.Connections) != 2 {
		t.Fatalf("unexpected agent %+v", agent)
	}
	if agent.CanvasPosition.X != 0 {
		t.Fatalf("canvas position not sanitized")
	}
	if _, err := env.Engine.GetAgent(env.Ctx, env.Bob, agent.ID); !auth.IsForbidden(err) {
		t.Fatalf("expected forbidden get, got %v", err)
	}

	// Any known status may follow any other.
	for _, s := range []domain.AgentStatus{domain.AgentReady, domain.AgentIdle, domain.AgentError, domain.AgentGenerating} {
		status := s
		if _, err := env.Engine.UpdateAgent(env.Ctx, env.Alice, agent.ID, engine.AgentUpdateOptions{Status: &status}); err != nil {
			t.Fatalf("status %s: %v", s, err)
		}
	}
	bad := domain.AgentStatus("sleeping")
	if _, err := env.Engine.UpdateAgent(env.Ctx, env.Alice, agent.ID, engine.AgentUpdateOptions{Status: &bad}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected invalid status, got %v", err)
	}

	updated, err := env.Engine.AppendChat(env.Ctx, env.Alice, agent.ID, domain.ChatUser, "hello")
	if err != nil || len(updated.ChatHistory) != 1 {
		t.Fatalf("append chat: %v", err)
	}

	if _, err := env.Engine.CreateAgent(env.Ctx, env.Alice, engine.AgentCreateOptions{Name: "Writer"}); err != nil {
		t.Fatal(err)
	}
	found, err := env.Engine.SearchAgents(env.Ctx, env.Alice, "search")
	if err != nil || len(found) != 1 || found[0].ID != agent.ID {
		t.Fatalf("search: %+v %v", found, err)
	}
	if found, _ := env.Engine.SearchAgents(env.Ctx, env.Bob, "search"); len(found) != 0 {
		t.Fatalf("search leaked other user's agents")
	}
	recent, err := env.Engine.RecentAgents(env.Ctx, env.Alice, 0)
	if err != nil || len(recent) != 2 {
		t.Fatalf("recent: %d %v", len(recent), err)
	}

	if err := env.Engine.DeleteAgent(env.Ctx, env.Bob, agent.ID); !auth.IsForbidden(err) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if err := env.Engine.DeleteAgent(env.Ctx, env.Alice, agent.ID); err != nil {
		t.Fatal(err)
	}
}

type fakeModel struct {
	mu    sync.Mutex
	calls [][]*schema.Message
	err   error
}

func (m *fakeModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, input)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage("reply to: "+input[len(input)-1].Content, nil), nil
}

func TestThreadsWithoutModel(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateThreadAndPrompt(env.Ctx, env.Alice, "hi", "")
	if !errors.Is(err, agentrt.ErrModelUnavailable) {
		t.Fatalf("expected model unavailable, got %v", err)
	}
	threads, err := env.Engine.ListThreads(env.Ctx, env.Alice, 0)
	if err != nil || len(threads) != 0 {
		t.Fatalf("thread created without a model: %d %v", len(threads), err)
	}
}

func TestThreadConversation(t *testing.T) {
	env := newTestEnv(t)
	fm := &fakeModel{}
	env.Engine.Runtime = &agentrt.Runtime{Model: fm, Instructions: "sys"}
	env.Engine.Config.LLM.RecentMessages = 3

	agent, err := env.Engine.CreateAgent(env.Ctx, env.Alice, engine.AgentCreateOptions{Name: "helper"})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := env.Engine.CreateThreadAndPrompt(env.Ctx, env.Alice, "first", agent.ID)
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if reply.ThreadID == "" || reply.Text != "reply to: first" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if _, err := env.Engine.ContinueThread(env.Ctx, env.Bob, reply.ThreadID, "intrude"); !auth.IsForbidden(err) {
		t.Fatalf("expected forbidden continue, got %v", err)
	}
	if _, err := env.Engine.ContinueThread(env.Ctx, env.Alice, reply.ThreadID, "second"); err != nil {
		t.Fatalf("continue: %v", err)
	}
	last := fm.calls[len(fm.calls)-1]
	// system prompt plus the three most recent messages
	if len(last) != 4 || last[0].Role != schema.System || last[3].Content != "second" {
		t.Fatalf("unexpected model input: %+v", last)
	}

	msgs, err := env.Engine.GetThreadMessages(env.Ctx, env.Alice, reply.ThreadID)
	if err != nil || len(msgs) != 4 {
		t.Fatalf("messages: %d %v", len(msgs), err)
	}
	got, err := env.Engine.GetAgent(env.Ctx, env.Alice, agent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.AgentReady || len(got.ChatHistory) != 4 {
		t.Fatalf("agent not updated: status=%s chat=%d", got.Status, len(got.ChatHistory))
	}

	fm.err = errors.New("provider down")
	if _, err := env.Engine.ContinueThread(env.Ctx, env.Alice, reply.ThreadID, "third"); err == nil {
		t.Fatalf("expected provider error")
	}
	got, _ = env.Engine.GetAgent(env.Ctx, env.Alice, agent.ID)
	if got.Status != domain.AgentError {
		t.Fatalf("agent status after failure = %s", got.Status)
	}
}

// cancelOnGenerating cancels the request once a bound agent is marked
// generating, which happens after the thread is stored.
type cancelOnGenerating struct {
	cancel context.CancelFunc
}

func (c cancelOnGenerating) Publish(_, _ string, payload any) {
	if a, ok := payload.(domain.Agent); ok && a.Status == domain.AgentGenerating {
		c.cancel()
	}
}

func TestCancelledPromptDoesNotStrandAgent(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Runtime = &agentrt.Runtime{Model: &fakeModel{}}
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: "T"})
	if err != nil {
		t.Fatal(err)
	}
	agent, err := env.Engine.CreateAgent(env.Ctx, env.Alice, engine.AgentCreateOptions{Name: "helper", TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(env.Ctx)
	defer cancel()
	env.Engine.Realtime = cancelOnGenerating{cancel: cancel}
	if _, err := env.Engine.CreateThreadAndPrompt(ctx, env.Alice, "hello", agent.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	got, err := env.Engine.GetAgent(env.Ctx, env.Alice, agent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.AgentError {
		t.Fatalf("agent status after cancelled prompt = %s", got.Status)
	}
	threads, err := env.Engine.ListThreads(env.Ctx, env.Alice, 0)
	if err != nil || len(threads) != 1 {
		t.Fatalf("threads: %d %v", len(threads), err)
	}
}

func TestListTasksPaging(t *testing.T) {
	env := newTestEnv(t)
	for _, title := range []string{"one", "two", "three"} {
		env.advance(time.Second)
		if _, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskCreateOptions{Title: title}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.CreateTask(env.Ctx, env.Bob, engine.TaskCreateOptions{Title: "bob's"}); err != nil {
		t.Fatal(err)
	}
	page, err := env.Engine.ListTasks(env.Ctx, env.Alice, engine.TaskListOptions{Limit: 2})
	if err != nil || len(page) != 2 || page[0].Title != "three" {
		t.Fatalf("page 1: %+v %v", page, err)
	}
	rest, err := env.Engine.ListTasks(env.Ctx, env.Alice, engine.TaskListOptions{Limit: 2, CursorUpdatedAt: page[1].UpdatedAt, CursorID: page[1].ID})
	if err != nil || len(rest) != 1 || rest[0].Title != "one" {
		t.Fatalf("page 2: %+v %v", rest, err)
	}
	archived := true
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Alice, rest[0].ID, engine.TaskUpdateOptions{IsArchived: &archived}); err != nil {
		t.Fatal(err)
	}
	only, err := env.Engine.ListTasks(env.Ctx, env.Alice, engine.TaskListOptions{Archived: &archived})
	if err != nil || len(only) != 1 {
		t.Fatalf("archived filter: %d %v", len(only), err)
	}
	recent, err := env.Engine.RecentTasks(env.Ctx, env.Alice, 0)
	if err != nil || len(recent) != 3 {
		t.Fatalf("recent: %d %v", len(recent), err)
	}
}
