// Package node is a development node hosting the counter application.
//
// It speaks the same protocol as a production node for the parts the client
// uses: JSON-RPC execute, token refresh, and event subscriptions over a plain
// WebSocket or Socket.IO.
package node

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/protocol/wire"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Node wires the application, the event transports and the HTTP routes.
type Node struct {
	tokens   *TokenManager
	app      *CounterApp
	hub      *Hub
	socketIO *SocketIOServer
	engine   *gin.Engine
}

// New builds a node over store.
func New(cfg *Config, store *Store) (*Node, error) {
	tokens, err := NewTokenManager(cfg.Secret, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	hub := NewHub(tokens)
	socketIO := NewSocketIOServer(tokens)
	app := NewCounterApp(store, Broker{hub, socketIO})

	n := &Node{
		tokens:   tokens,
		app:      app,
		hub:      hub,
		socketIO: socketIO,
	}
	n.engine = n.routes(cfg)
	return n, nil
}

func (n *Node) routes(cfg *Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	router.Use(LoggingMiddleware())

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "livecount node")
	})

	admin := router.Group("/admin-api")
	{
		admin.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "alive"}})
		})
		admin.POST("/refresh-jwt-token", n.refreshToken)
	}

	rpc := NewRPCHandler(n.app)
	router.POST("/jsonrpc", AuthMiddleware(n.tokens), rpc.Handle)
	router.GET("/ws", n.hub.Handle)

	router.Any(strings.TrimSuffix(wire.SocketIOPath, "/"), n.socketIO.Handler())
	router.Any(wire.SocketIOPath+"*any", n.socketIO.Handler())
	return router
}

// Handler returns the HTTP handler.
func (n *Node) Handler() http.Handler {
	return n.engine
}

// IssueToken creates a token pair for a new user of applicationID.
func (n *Node) IssueToken(applicationID string) (wire.TokenPair, error) {
	return n.tokens.Issue(applicationID)
}

// Close disconnects subscribers.
func (n *Node) Close() {
	n.hub.Close()
	n.socketIO.Close()
}

func (n *Node) refreshToken(c *gin.Context) {
	var req wire.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AccessToken == "" || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: "access_token and refresh_token are required"})
		return
	}
	pair, err := n.tokens.Refresh(req.AccessToken, req.RefreshToken)
	if err != nil {
		logger.Debugf("Token refresh rejected: %v", err)
		c.JSON(http.StatusUnauthorized, wire.ErrorResponse{Error: "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, wire.RefreshTokenResponse{Data: pair})
}
