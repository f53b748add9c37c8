// Package rpc is the request/response client for the counter application.
//
// Every call is a single JSON-RPC round trip. Failures never escape as Go
// errors; they are reported in the CallResult envelope.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/protocol/wire"
	"github.com/google/uuid"
)

const (
	// jsonRPCPath is the node's JSON-RPC endpoint.
	jsonRPCPath = "/jsonrpc"
	// defaultHTTPTimeout is the per-request timeout of the default client.
	defaultHTTPTimeout = 15 * time.Second
)

var errUnauthorized = errors.New("unauthorized")

// TokenSource provides the bearer token and refreshes it when the node
// rejects it. *session.Guard implements it.
type TokenSource interface {
	AccessToken() string
	Refresh(ctx context.Context) (string, error)
}

// Config configures a Client.
type Config struct {
	// Endpoint is the node base URL.
	Endpoint string
	// ContextID is the application context every call runs in.
	ContextID string
	// ExecutorPublicKey identifies the caller inside the context.
	ExecutorPublicKey string
	// Tokens supplies the access token. Nil sends unauthenticated requests.
	Tokens TokenSource
	// HTTPClient overrides the default client (15s timeout).
	HTTPClient *http.Client
}

// IncrementResponse is the (empty) output of increase_count.
type IncrementResponse struct{}

// ResetResponse is the (empty) output of reset.
type ResetResponse struct{}

// GetValueResponse is the output of get_count.
type GetValueResponse = wire.GetCountOutput

// Client calls the counter application methods.
type Client struct {
	endpoint    string
	contextID   string
	executorKey string
	tokens      TokenSource
	httpClient  *http.Client
	newID       func() string
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		contextID:   cfg.ContextID,
		executorKey: cfg.ExecutorPublicKey,
		tokens:      cfg.Tokens,
		httpClient:  httpClient,
		newID:       uuid.NewString,
	}
}

// Increment asks the node to add amount to the counter.
func (c *Client) Increment(ctx context.Context, amount int64) CallResult[IncrementResponse] {
	if amount <= 0 {
		return fail[IncrementResponse](intPtr(wire.CodeInvalidParams), "increment amount must be positive, got %d", amount)
	}
	return execute[IncrementResponse](ctx, c, wire.MethodIncreaseCount, wire.IncreaseCountArgs{Count: amount})
}

// GetValue fetches the current counter value.
func (c *Client) GetValue(ctx context.Context) CallResult[GetValueResponse] {
	return execute[GetValueResponse](ctx, c, wire.MethodGetCount, struct{}{})
}

// Reset asks the node to set the counter to zero.
func (c *Client) Reset(ctx context.Context) CallResult[ResetResponse] {
	return execute[ResetResponse](ctx, c, wire.MethodReset, struct{}{})
}

func execute[Out any](ctx context.Context, c *Client, method string, args any) CallResult[Out] {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fail[Out](nil, "encode %s arguments: %v", method, err)
	}
	body, err := json.Marshal(wire.RPCRequest{
		JSONRPC: wire.JSONRPCVersion,
		ID:      c.newID(),
		Method:  wire.MethodExecute,
		Params: wire.ExecuteParams{
			ContextID:         c.contextID,
			Method:            method,
			ArgsJSON:          argsJSON,
			ExecutorPublicKey: c.executorKey,
		},
	})
	if err != nil {
		return fail[Out](nil, "encode %s request: %v", method, err)
	}

	respBody, status, err := c.post(ctx, body)
	if errors.Is(err, errUnauthorized) && c.tokens != nil {
		logger.Debugf("RPC %s unauthorized, refreshing token", method)
		if _, rerr := c.tokens.Refresh(ctx); rerr == nil {
			respBody, status, err = c.post(ctx, body)
		}
	}
	if err != nil {
		var code *int
		if status != 0 {
			code = intPtr(status)
		}
		logger.Debugf("RPC %s transport failure: %v", method, err)
		return fail[Out](code, "%v", err)
	}

	var resp wire.RPCResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fail[Out](nil, "%s: invalid response: %v", method, err)
	}
	if resp.Error != nil {
		msg := resp.Error.Message
		if msg == "" {
			msg = resp.Error.Type
		}
		return fail[Out](intPtr(resp.Error.Code), "%s", msg)
	}
	if resp.Result == nil {
		return fail[Out](nil, "%s: response has neither result nor error", method)
	}

	var out Out
	if len(resp.Result.Output) > 0 {
		if err := json.Unmarshal(resp.Result.Output, &out); err != nil {
			return fail[Out](nil, "%s: invalid output: %v", method, err)
		}
	}
	logger.Tracef("RPC %s ok: %s", method, string(resp.Result.Output))
	return succeed(out)
}

// post sends one JSON-RPC request. The returned status is the HTTP status
// when a response was received.
func (c *Client) post(ctx context.Context, body []byte) ([]byte, int, error) {
	if c.endpoint == "" {
		return nil, 0, fmt.Errorf("endpoint not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+jsonRPCPath, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, resp.StatusCode, errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp wire.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, resp.StatusCode, fmt.Errorf("%s", errResp.Error)
		}
		return nil, resp.StatusCode, fmt.Errorf("request failed: %s", resp.Status)
	}
	return respBody, resp.StatusCode, nil
}
