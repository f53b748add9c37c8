package node

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/protocol/wire"
	"github.com/gin-gonic/gin"
)

// RPCHandler serves POST /jsonrpc.
type RPCHandler struct {
	app *CounterApp
}

// NewRPCHandler returns the JSON-RPC handler for app.
func NewRPCHandler(app *CounterApp) *RPCHandler {
	return &RPCHandler{app: app}
}

// Handle answers one JSON-RPC request. Protocol and application failures are
// reported in the JSON-RPC error object with HTTP 200.
func (h *RPCHandler) Handle(c *gin.Context) {
	var req wire.RPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, rpcError("", wire.CodeParseError, "ParseError", "invalid JSON-RPC request"))
		return
	}
	if req.JSONRPC != wire.JSONRPCVersion {
		c.JSON(http.StatusOK, rpcError(req.ID, wire.CodeInvalidRequest, "InvalidRequest", "unsupported jsonrpc version"))
		return
	}
	if req.Method != wire.MethodExecute {
		c.JSON(http.StatusOK, rpcError(req.ID, wire.CodeMethodNotFound, "MethodNotFound", "unknown method "+req.Method))
		return
	}
	if req.Params.ContextID == "" {
		c.JSON(http.StatusOK, rpcError(req.ID, wire.CodeInvalidParams, "InvalidParams", "contextId is required"))
		return
	}

	logger.Tracef("execute %s in %s", req.Params.Method, req.Params.ContextID)
	output, err := h.app.Execute(c.Request.Context(), req.Params.ContextID, req.Params.Method, req.Params.ArgsJSON)
	if err != nil {
		var appErr *appError
		switch {
		case errors.Is(err, errUnknownMethod):
			c.JSON(http.StatusOK, rpcError(req.ID, wire.CodeFunctionCall, "FunctionCallError", err.Error()))
		case errors.As(err, &appErr):
			c.JSON(http.StatusOK, rpcError(req.ID, wire.CodeFunctionCall, "FunctionCallError", appErr.msg))
		default:
			logger.Errorf("execute %s failed: %v", req.Params.Method, err)
			c.JSON(http.StatusOK, rpcError(req.ID, wire.CodeFunctionCall, "InternalError", "internal error"))
		}
		return
	}

	c.JSON(http.StatusOK, wire.RPCResponse{
		JSONRPC: wire.JSONRPCVersion,
		ID:      req.ID,
		Result:  &wire.ExecuteResult{Output: json.RawMessage(output)},
	})
}

func rpcError(id string, code int, typ, msg string) wire.RPCResponse {
	return wire.RPCResponse{
		JSONRPC: wire.JSONRPCVersion,
		ID:      id,
		Error:   &wire.RPCError{Code: code, Message: msg, Type: typ},
	}
}
