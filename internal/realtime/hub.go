package realtime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

const (
	writeTimeout = 500 * time.Millisecond
	// sendBuffer is how many messages may queue for one subscriber before it
	// is disconnected as too slow.
	sendBuffer = 32
)

// Scope limits which messages a subscriber receives.
type Scope int

const (
	// ScopeAll delivers every message of the task. Reserved for its owner.
	ScopeAll Scope = iota
	// ScopePresence delivers presence.* messages only.
	ScopePresence
)

func (s Scope) allows(typ string) bool {
	return s == ScopeAll || strings.HasPrefix(typ, "presence.")
}

// Message is what subscribers of a task receive.
type Message struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	TaskID  string `json:"task_id"`
	Payload any    `json:"payload,omitempty"`
}

type subscriber struct {
	conn  *websocket.Conn
	scope Scope
	send  chan []byte
}

// Hub fans task messages out to websocket subscribers. Each connection has
// its own writer goroutine so Publish never blocks on a peer.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
	seq    atomic.Uint64
	log    zerolog.Logger

	// OnCount, if set, is called with the total number of subscribers after
	// each attach or detach.
	OnCount func(n int)
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{topics: map[string]map[*subscriber]struct{}{}, log: log}
}

// Serve upgrades the request and keeps the connection subscribed to taskID
// until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, taskID string, scope Scope) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("task_id", taskID).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(4096)
	sub := &subscriber{conn: conn, scope: scope, send: make(chan []byte, sendBuffer)}

	ctx, cancel := context.WithCancel(r.Context())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		h.writeLoop(ctx, taskID, sub)
	}()

	h.attach(taskID, sub)
	defer func() {
		h.detach(taskID, sub)
		cancel()
		<-writerDone
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, taskID string, sub *subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-sub.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := sub.conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				h.log.Debug().Err(err).Str("task_id", taskID).Msg("websocket write failed")
				return
			}
		}
	}
}

func (h *Hub) attach(taskID string, sub *subscriber) {
	h.mu.Lock()
	subs := h.topics[taskID]
	if subs == nil {
		subs = map[*subscriber]struct{}{}
		h.topics[taskID] = subs
	}
	subs[sub] = struct{}{}
	n := h.countLocked()
	h.mu.Unlock()
	h.log.Debug().Str("task_id", taskID).Int("subscribers", n).Msg("websocket attached")
	if h.OnCount != nil {
		h.OnCount(n)
	}
}

func (h *Hub) detach(taskID string, sub *subscriber) {
	h.mu.Lock()
	if subs := h.topics[taskID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, taskID)
		}
	}
	n := h.countLocked()
	h.mu.Unlock()
	if h.OnCount != nil {
		h.OnCount(n)
	}
}

func (h *Hub) countLocked() int {
	n := 0
	for _, subs := range h.topics {
		n += len(subs)
	}
	return n
}

// Subscribers returns the number of connections on a task.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[taskID])
}

// Publish queues a message for every subscriber of taskID whose scope admits
// it. A subscriber with a full queue is disconnected.
func (h *Hub) Publish(taskID, typ string, payload any) {
	msg := Message{
		ID:      fmt.Sprintf("evt_%d", h.seq.Add(1)),
		Type:    typ,
		TaskID:  taskID,
		Payload: payload,
	}
	data, err := sonic.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", typ).Msg("encode realtime message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.topics[taskID] {
		if !sub.scope.allows(typ) {
			continue
		}
		select {
		case sub.send <- data:
		default:
			h.log.Debug().Str("task_id", taskID).Msg("websocket subscriber too slow, closing")
			go sub.conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
		}
	}
}
