package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesTaskSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("task"), ScopeAll)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL+"?task=t1", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	other, _, err := websocket.Dial(ctx, wsURL+"?task=t2", nil)
	require.NoError(t, err)
	defer other.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return hub.Subscribers("t1") == 1 && hub.Subscribers("t2") == 1 },
		2*time.Second, 10*time.Millisecond)

	hub.Publish("t1", "presence.updated", map[string]any{"user_id": "u1"})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, sonic.Unmarshal(data, &msg))
	require.Equal(t, "presence.updated", msg.Type)
	require.Equal(t, "t1", msg.TaskID)

	readCtx, readCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer readCancel()
	_, _, err = other.Read(readCtx)
	require.Error(t, err)
}

func newScopedServer(t *testing.T, hub *Hub) (string, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := ScopeAll
		if r.URL.Query().Get("scope") == "presence" {
			scope = ScopePresence
		}
		hub.Serve(w, r, r.URL.Query().Get("task"), scope)
	}))
	return "ws" + strings.TrimPrefix(srv.URL, "http"), srv.Close
}

func TestPresenceScopeOnlySeesPresence(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	wsURL, closeSrv := newScopedServer(t, hub)
	defer closeSrv()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	owner, _, err := websocket.Dial(ctx, wsURL+"?task=t1", nil)
	require.NoError(t, err)
	defer owner.Close(websocket.StatusNormalClosure, "")
	member, _, err := websocket.Dial(ctx, wsURL+"?task=t1&scope=presence", nil)
	require.NoError(t, err)
	defer member.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return hub.Subscribers("t1") == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish("t1", "task.updated", map[string]any{"title": "private"})
	hub.Publish("t1", "agent.updated", map[string]any{"name": "private"})
	hub.Publish("t1", "presence.updated", map[string]any{"user_id": "u2"})

	var msg Message
	_, data, err := member.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(data, &msg))
	require.Equal(t, "presence.updated", msg.Type)

	for _, want := range []string{"task.updated", "agent.updated", "presence.updated"} {
		_, data, err := owner.Read(ctx)
		require.NoError(t, err)
		require.NoError(t, sonic.Unmarshal(data, &msg))
		require.Equal(t, want, msg.Type)
	}
}

func TestPublishDoesNotWaitForStalledSubscriber(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	wsURL, closeSrv := newScopedServer(t, hub)
	defer closeSrv()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stalled, _, err := websocket.Dial(ctx, wsURL+"?task=t1", nil)
	require.NoError(t, err)
	defer stalled.CloseNow()
	require.Eventually(t, func() bool { return hub.Subscribers("t1") == 1 }, 2*time.Second, 10*time.Millisecond)

	big := strings.Repeat("x", 64<<10)
	start := time.Now()
	for i := 0; i < 300; i++ {
		hub.Publish("t1", "task.updated", map[string]any{"blob": big})
	}
	require.Less(t, time.Since(start), 2*time.Second)

	require.Eventually(t, func() bool { return hub.Subscribers("t1") == 0 }, 5*time.Second, 20*time.Millisecond)
}
