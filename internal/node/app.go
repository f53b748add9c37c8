package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/protocol/wire"
)

// EventCountChanged is the application event kind emitted on every change.
const EventCountChanged = "CountChanged"

// Publisher fans node events out to subscribers.
type Publisher interface {
	Publish(ev wire.NodeEvent)
}

// errUnknownMethod marks calls to methods the application does not export.
var errUnknownMethod = errors.New("unknown method")

// appError is a failure raised by the application itself.
type appError struct{ msg string }

func (e *appError) Error() string { return e.msg }

// CounterApp is the counter application run inside every context.
type CounterApp struct {
	store     *Store
	publisher Publisher
}

// NewCounterApp returns the application over store.
func NewCounterApp(store *Store, publisher Publisher) *CounterApp {
	return &CounterApp{store: store, publisher: publisher}
}

// Execute runs method with JSON args and returns its JSON output.
func (a *CounterApp) Execute(ctx context.Context, contextID, method string, args json.RawMessage) (json.RawMessage, error) {
	switch method {
	case wire.MethodIncreaseCount:
		var in wire.IncreaseCountArgs
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		if in.Count <= 0 {
			return nil, &appError{msg: fmt.Sprintf("count must be positive, got %d", in.Count)}
		}
		value, err := a.store.Add(ctx, contextID, in.Count)
		if err != nil {
			return nil, err
		}
		a.changed(contextID, value)
		return json.RawMessage("null"), nil

	case wire.MethodGetCount:
		value, err := a.store.Get(ctx, contextID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wire.GetCountOutput{Count: &value})

	case wire.MethodReset:
		if err := a.store.Reset(ctx, contextID); err != nil {
			return nil, err
		}
		a.changed(contextID, 0)
		return json.RawMessage("null"), nil

	default:
		return nil, fmt.Errorf("%w: %s", errUnknownMethod, method)
	}
}

// changed publishes the state mutation followed by the application event
// carrying the new value as decimal text.
func (a *CounterApp) changed(contextID string, value int64) {
	if a.publisher == nil {
		return
	}
	root, _ := json.Marshal(map[string]string{"newRoot": strconv.FormatInt(value, 16)})
	a.publisher.Publish(wire.NodeEvent{
		ContextID: contextID,
		Type:      wire.EventTypeStateMutation,
		Data:      root,
	})

	ev, err := wire.NewExecutionEvent(contextID, EventCountChanged, []byte(strconv.FormatInt(value, 10)))
	if err != nil {
		logger.Errorf("Failed to build event: %v", err)
		return
	}
	a.publisher.Publish(ev)
}

func decodeArgs(args json.RawMessage, out any) error {
	if len(args) == 0 || string(args) == "null" {
		return &appError{msg: "missing arguments"}
	}
	if err := json.Unmarshal(args, out); err != nil {
		return &appError{msg: fmt.Sprintf("invalid arguments: %v", err)}
	}
	return nil
}

// Broker publishes to several publishers.
type Broker []Publisher

// Publish implements Publisher.
func (b Broker) Publish(ev wire.NodeEvent) {
	for _, p := range b {
		if p != nil {
			p.Publish(ev)
		}
	}
}
