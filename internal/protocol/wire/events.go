package wire

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Node event types.
const (
	// EventTypeExecution carries application events emitted by a method call.
	EventTypeExecution = "ExecutionEvent"
	// EventTypeStateMutation reports a new state root. It has no events.
	EventTypeStateMutation = "StateMutation"
)

// Subscription request methods on the /ws endpoint.
const (
	WSMethodSubscribe   = "subscribe"
	WSMethodUnsubscribe = "unsubscribe"
)

// Socket.IO names used by the alternative push transport.
const (
	SocketIOPath           = "/socket.io/"
	SocketIOEventSubscribe = "subscribe"
	SocketIOEventNode      = "node-event"
)

// WSRequest is a client-to-node frame on the /ws endpoint.
type WSRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params SubscribeParams `json:"params"`
}

// SubscribeParams lists the contexts a subscription applies to.
type SubscribeParams struct {
	ContextIDs []string `json:"contextIds"`
}

// WSResponse is a node-to-client frame on the /ws endpoint.
//
// Replies to a WSRequest carry its ID. Pushed events carry a null ID and a
// NodeEvent in Result.
type WSResponse struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WSError        `json:"error,omitempty"`
}

// WSError is the error object of a WSResponse.
type WSError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NodeEvent is a change notification for one context.
type NodeEvent struct {
	ContextID string          `json:"contextId"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// ExecutionEvent is one application event inside a NodeEvent.
type ExecutionEvent struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type eventsPayload struct {
	Events []ExecutionEvent `json:"events"`
}

// Events returns the application events carried by the event, if its data
// has an "events" array. Any other shape yields nil.
func (e NodeEvent) Events() []ExecutionEvent {
	if len(e.Data) == 0 {
		return nil
	}
	var payload eventsPayload
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return nil
	}
	return payload.Events
}

// CharCodes interprets Data as an array of UTF-16 code units. The second
// return value is false when Data is not a JSON array of numbers.
func (e ExecutionEvent) CharCodes() ([]uint16, bool) {
	raw := bytes.TrimSpace(e.Data)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var nums []float64
	if err := json.Unmarshal(raw, &nums); err != nil {
		return nil, false
	}
	codes := make([]uint16, len(nums))
	for i, n := range nums {
		codes[i] = uint16(int64(n))
	}
	return codes, true
}

// EncodeBytes renders b as a JSON array of numbers, the encoding the node
// uses for event data.
func EncodeBytes(b []byte) json.RawMessage {
	buf := make([]byte, 0, 2+4*len(b))
	buf = append(buf, '[')
	for i, c := range b {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendUint(buf, uint64(c), 10)
	}
	buf = append(buf, ']')
	return buf
}

// NewExecutionEvent builds an ExecutionEvent NodeEvent with a single
// application event.
func NewExecutionEvent(contextID, kind string, data []byte) (NodeEvent, error) {
	body, err := json.Marshal(eventsPayload{
		Events: []ExecutionEvent{{Kind: kind, Data: EncodeBytes(data)}},
	})
	if err != nil {
		return NodeEvent{}, err
	}
	return NodeEvent{ContextID: contextID, Type: EventTypeExecution, Data: body}, nil
}
