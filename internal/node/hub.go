package node

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/protocol/wire"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
)

const (
	hubWriteTimeout = 10 * time.Second
	hubSendBuffer   = 64
)

// Hub serves GET /ws: clients subscribe to contexts and receive their events.
type Hub struct {
	tokens   *TokenManager
	upgrader gorillaws.Upgrader

	mu    sync.RWMutex
	conns map[string]*hubConn
}

type hubConn struct {
	id   string
	conn *gorillaws.Conn
	send chan []byte
	done chan struct{}

	mu       sync.RWMutex
	contexts map[string]struct{}
}

// NewHub returns an empty hub.
func NewHub(tokens *TokenManager) *Hub {
	return &Hub{
		tokens: tokens,
		upgrader: gorillaws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*hubConn),
	}
}

// Handle upgrades an authenticated request. The token comes from the
// Authorization header or the "token" query parameter.
func (h *Hub) Handle(c *gin.Context) {
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if _, err := h.tokens.VerifyAccess(token); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, wire.ErrorResponse{Error: "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	hc := &hubConn{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, hubSendBuffer),
		done:     make(chan struct{}),
		contexts: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.conns[hc.id] = hc
	h.mu.Unlock()
	logger.Debugf("WebSocket client connected: %s", hc.id)

	go h.writeLoop(hc)
	h.readLoop(hc)
}

// Publish implements Publisher.
func (h *Hub) Publish(ev wire.NodeEvent) {
	result, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("Failed to encode event: %v", err)
		return
	}
	frame, err := json.Marshal(wire.WSResponse{Result: result})
	if err != nil {
		logger.Errorf("Failed to encode frame: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, hc := range h.conns {
		if !hc.subscribed(ev.ContextID) {
			continue
		}
		select {
		case hc.send <- frame:
		default:
			logger.Warnf("Dropping event for slow client %s", hc.id)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*hubConn, 0, len(h.conns))
	for _, hc := range h.conns {
		conns = append(conns, hc)
	}
	h.mu.Unlock()
	for _, hc := range conns {
		_ = hc.conn.Close()
	}
}

func (h *Hub) readLoop(hc *hubConn) {
	defer func() {
		h.mu.Lock()
		delete(h.conns, hc.id)
		h.mu.Unlock()
		close(hc.done)
		_ = hc.conn.Close()
		logger.Debugf("WebSocket client disconnected: %s", hc.id)
	}()

	for {
		var req wire.WSRequest
		if err := hc.conn.ReadJSON(&req); err != nil {
			return
		}
		id := req.ID
		resp := wire.WSResponse{ID: &id}

		switch req.Method {
		case wire.WSMethodSubscribe:
			hc.update(req.Params.ContextIDs, true)
		case wire.WSMethodUnsubscribe:
			hc.update(req.Params.ContextIDs, false)
		default:
			resp.Error = &wire.WSError{Type: "MethodNotFound", Message: "unknown method " + req.Method}
		}
		if resp.Error == nil {
			resp.Result, _ = json.Marshal(req.Params)
		}

		frame, err := json.Marshal(resp)
		if err != nil {
			return
		}
		select {
		case hc.send <- frame:
		case <-hc.done:
			return
		}
	}
}

// writeLoop owns writes to the connection. After a failed write it keeps
// draining send until the read side exits.
func (h *Hub) writeLoop(hc *hubConn) {
	failed := false
	for {
		select {
		case <-hc.done:
			return
		case frame := <-hc.send:
			if failed {
				continue
			}
			_ = hc.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := hc.conn.WriteMessage(gorillaws.TextMessage, frame); err != nil {
				logger.Debugf("WebSocket write to %s failed: %v", hc.id, err)
				_ = hc.conn.Close()
				failed = true
			}
		}
	}
}

func (hc *hubConn) update(ids []string, add bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for _, id := range ids {
		if add {
			hc.contexts[id] = struct{}{}
		} else {
			delete(hc.contexts, id)
		}
	}
}

func (hc *hubConn) subscribed(contextID string) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	_, ok := hc.contexts[contextID]
	return ok
}
