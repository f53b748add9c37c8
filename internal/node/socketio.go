package node

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/protocol/wire"
	"github.com/gin-gonic/gin"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
	sockettypes "github.com/zishang520/socket.io/v3/pkg/types"
)

const (
	socketIOPingInterval = 5 * time.Second
	socketIOPingTimeout  = 15 * time.Second
)

// SocketIOServer is the Socket.IO flavour of the event subscription.
type SocketIOServer struct {
	tokens *TokenManager
	server *socket.Server

	// clients maps socket id to *sioClient.
	clients sync.Map
}

type sioClient struct {
	socket *socket.Socket

	mu       sync.RWMutex
	contexts map[string]struct{}
}

// sioAuth is the handshake auth payload.
type sioAuth struct {
	Token         string `json:"token"`
	ApplicationID string `json:"applicationId"`
}

// NewSocketIOServer creates the server mounted at wire.SocketIOPath.
func NewSocketIOServer(tokens *TokenManager) *SocketIOServer {
	opts := socket.DefaultServerOptions()
	opts.SetCors(&sockettypes.Cors{
		Origin:      "*",
		Credentials: false,
	})
	opts.SetPingTimeout(socketIOPingTimeout)
	opts.SetPingInterval(socketIOPingInterval)
	opts.SetPath(wire.SocketIOPath)

	s := &SocketIOServer{
		tokens: tokens,
		server: socket.NewServer(nil, opts),
	}
	s.server.On("connection", func(clients ...any) {
		client, ok := clients[0].(*socket.Socket)
		if !ok {
			return
		}
		s.handleConnection(client)
	})
	return s
}

func (s *SocketIOServer) handleConnection(client *socket.Socket) {
	socketID := string(client.Id())

	var auth sioAuth
	if err := decodeAny(client.Handshake().Auth, &auth); err != nil || auth.Token == "" {
		logger.Warnf("Socket.IO missing auth data (socket %s)", socketID)
		client.Emit("error", map[string]string{"message": "Missing authentication data"})
		client.Disconnect(true)
		return
	}
	if _, err := s.tokens.VerifyAccess(auth.Token); err != nil {
		logger.Warnf("Socket.IO invalid token (socket %s): %v", socketID, err)
		client.Emit("error", map[string]string{"message": "Invalid authentication token"})
		client.Disconnect(true)
		return
	}

	c := &sioClient{socket: client, contexts: make(map[string]struct{})}
	s.clients.Store(socketID, c)
	logger.Debugf("Socket.IO client ready (socket %s, app %s)", socketID, auth.ApplicationID)

	client.On(wire.SocketIOEventSubscribe, func(data ...any) {
		payload, ack := firstWithAck(data)
		var params wire.SubscribeParams
		if err := decodeAny(payload, &params); err != nil {
			if ack != nil {
				ack(map[string]any{"error": "invalid subscribe payload"})
			}
			return
		}
		c.mu.Lock()
		for _, id := range params.ContextIDs {
			c.contexts[id] = struct{}{}
		}
		c.mu.Unlock()
		if ack != nil {
			ack(map[string]any{"result": map[string]any{"contextIds": params.ContextIDs}})
		}
	})

	client.On("disconnect", func(...any) {
		s.clients.Delete(socketID)
		logger.Debugf("Socket.IO client disconnected (socket %s)", socketID)
	})
}

// Publish implements Publisher.
func (s *SocketIOServer) Publish(ev wire.NodeEvent) {
	var payload map[string]any
	if err := decodeAny(ev, &payload); err != nil {
		logger.Errorf("Failed to encode event: %v", err)
		return
	}
	s.clients.Range(func(key, value any) bool {
		c, ok := value.(*sioClient)
		if !ok {
			return true
		}
		c.mu.RLock()
		_, subscribed := c.contexts[ev.ContextID]
		c.mu.RUnlock()
		if subscribed {
			c.socket.Emit(wire.SocketIOEventNode, payload)
		}
		return true
	})
}

// Handler returns the gin handler serving the Socket.IO transport.
func (s *SocketIOServer) Handler() gin.HandlerFunc {
	httpHandler := s.server.ServeHandler(nil)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusOK)
			return
		}
		httpHandler.ServeHTTP(c.Writer, c.Request)
	}
}

// Close shuts down the Socket.IO server.
func (s *SocketIOServer) Close() {
	s.server.Close(nil)
}

func firstWithAck(data []any) (any, func(...any)) {
	if len(data) == 0 {
		return nil, nil
	}
	var ack func(...any)
	if cb, ok := data[len(data)-1].(func(...any)); ok {
		ack = cb
		data = data[:len(data)-1]
	} else if cb, ok := data[len(data)-1].(socket.Ack); ok {
		ack = func(args ...any) { cb(args, nil) }
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil, ack
	}
	return data[0], ack
}

func decodeAny(input any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
