package interfaces

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bargain/internal/analytics"
	"bargain/internal/pkg/logger"
	"bargain/internal/service/bargain/application"
	"bargain/internal/service/bargain/domain"
)

const (
	writeWait    = 5 * time.Second
	clientBuffer = 32
)

// LiveMessage 是推送给客户端的消息
type LiveMessage struct {
	Type        string           `json:"type"` // snapshot, tick, event
	SessionID   string           `json:"sessionId"`
	State       domain.State     `json:"state,omitempty"`
	SecondsLeft int              `json:"secondsLeft"`
	Event       *analytics.Event `json:"event,omitempty"`
}

type liveClient struct {
	sessionID string
	send      chan LiveMessage
}

// LiveHub 维护每个会话的 websocket 订阅。
// 它同时是 analytics.Sink，会话事件经发射器转发给订阅者。
type LiveHub struct {
	store    *application.SessionStore
	tick     time.Duration
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[string]map[*liveClient]struct{}
}

func NewLiveHub(store *application.SessionStore, tick time.Duration) *LiveHub {
	if tick <= 0 {
		tick = time.Second
	}
	return &LiveHub{
		store: store,
		tick:  tick,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[string]map[*liveClient]struct{}),
	}
}

func (h *LiveHub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /bargain/session/{id}/live", h.serveLive)
}

// Write 把事件投递给订阅了该会话的客户端，客户端缓冲满时丢弃
func (h *LiveHub) Write(_ context.Context, events []analytics.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := range events {
		ev := events[i]
		for c := range h.subs[ev.SessionID] {
			select {
			case c.send <- LiveMessage{Type: "event", SessionID: ev.SessionID, Event: &ev}:
			default:
			}
		}
	}
	return nil
}

// Subscribers 返回某个会话当前的连接数
func (h *LiveHub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

func (h *LiveHub) register(c *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[c.sessionID]
	if !ok {
		set = make(map[*liveClient]struct{})
		h.subs[c.sessionID] = set
	}
	set[c] = struct{}{}
}

func (h *LiveHub) unregister(c *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[c.sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, c.sessionID)
		}
	}
}

func (h *LiveHub) serveLive(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	id := r.PathValue("id")

	view, err := h.store.Get(ctx, id)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("session_id", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	client := &liveClient{sessionID: id, send: make(chan LiveMessage, clientBuffer)}
	h.register(client)
	defer h.unregister(client)
	logger.Ctx(ctx).Debug().Str("session_id", id).Msg("live client connected")

	// 读循环只用于发现客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.write(conn, snapshot("snapshot", view)); err != nil {
		return
	}
	if view.State.Terminal() {
		h.closeNormal(conn)
		return
	}

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case msg := <-client.send:
			if err := h.write(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			view, err := h.store.Get(ctx, id)
			if err != nil {
				h.closeNormal(conn)
				return
			}
			if err := h.write(conn, snapshot("tick", view)); err != nil {
				return
			}
			if view.State.Terminal() {
				h.closeNormal(conn)
				return
			}
		}
	}
}

func (h *LiveHub) write(conn *websocket.Conn, msg LiveMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (h *LiveHub) closeNormal(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
		time.Now().Add(writeWait))
}

func snapshot(typ string, v *application.SessionView) LiveMessage {
	return LiveMessage{Type: typ, SessionID: v.SessionID, State: v.State, SecondsLeft: v.SecondsLeft}
}
