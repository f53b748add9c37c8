package wire

import "encoding/json"

// JSONRPCVersion is the protocol version string sent on every request.
const JSONRPCVersion = "2.0"

// MethodExecute is the node JSON-RPC method that runs an application method
// inside a context.
const MethodExecute = "execute"

// Standard JSON-RPC error codes, plus the node's application error code.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeFunctionCall   = -32000
)

// RPCRequest is the HTTP POST /jsonrpc request body.
type RPCRequest struct {
	// JSONRPC is always JSONRPCVersion.
	JSONRPC string `json:"jsonrpc"`
	// ID correlates the response with the request.
	ID string `json:"id"`
	// Method is the node method (MethodExecute).
	Method string `json:"method"`
	// Params describes the application call.
	Params ExecuteParams `json:"params"`
}

// ExecuteParams are the params of an execute request.
type ExecuteParams struct {
	// ContextID selects the application instance.
	ContextID string `json:"contextId"`
	// Method is the application method name.
	Method string `json:"method"`
	// ArgsJSON carries the application method arguments.
	ArgsJSON json.RawMessage `json:"argsJson"`
	// ExecutorPublicKey identifies the caller inside the context.
	ExecutorPublicKey string `json:"executorPublicKey"`
}

// RPCResponse is the HTTP POST /jsonrpc response body. Exactly one of Result
// and Error is set.
type RPCResponse struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Result  *ExecuteResult `json:"result,omitempty"`
	Error   *RPCError      `json:"error,omitempty"`
}

// ExecuteResult wraps the application method output.
type ExecuteResult struct {
	// Output is the JSON-encoded return value; null for unit results.
	Output json.RawMessage `json:"output"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Type is the node error class, e.g. "FunctionCallError".
	Type string `json:"type,omitempty"`
}

// RefreshTokenRequest is the POST /admin-api/refresh-jwt-token request body.
type RefreshTokenRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokenResponse is the POST /admin-api/refresh-jwt-token response body.
type RefreshTokenResponse struct {
	Data TokenPair `json:"data"`
}

// TokenPair is an access/refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ErrorResponse is the body of non-JSON-RPC HTTP errors.
type ErrorResponse struct {
	Error string `json:"error"`
}
