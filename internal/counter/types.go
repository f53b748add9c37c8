package counter

import (
	"strconv"

	"github.com/bhandras/livecount/internal/actor"
	"github.com/bhandras/livecount/internal/rpc"
	"github.com/bhandras/livecount/internal/session"
)

// Source identifies the path that wrote a Value.
type Source string

const (
	// SourceNone marks a value that was never written.
	SourceNone Source = ""
	// SourceCall is a value read back by getValue.
	SourceCall Source = "call"
	// SourceEvent is a value decoded from a change event.
	SourceEvent Source = "event"
)

// Value is the displayed counter.
type Value struct {
	// Known is false until the first successful read or decoded event.
	Known bool
	Count int64
	// Revision counts applied updates. It does not order them.
	Revision uint64
	Source   Source
}

// String renders the value, or "-" when unknown.
func (v Value) String() string {
	if !v.Known {
		return "-"
	}
	return strconv.FormatInt(v.Count, 10)
}

// Phase is the reconciler lifecycle.
type Phase string

const (
	// PhaseIdle is the state before Activate.
	PhaseIdle Phase = "Idle"
	// PhaseActive is the state after Activate until Close.
	PhaseActive Phase = "Active"
	// PhaseClosed is terminal.
	PhaseClosed Phase = "Closed"
)

// Op names a mutating call.
type Op string

const (
	OpIncrement Op = "increment"
	OpReset     Op = "reset"
)

// State is the loop-owned state of the reconciler.
type State struct {
	Phase Phase

	Value Value

	// ContextID is fixed by Activate.
	ContextID string

	// CredentialsErr is the precondition failure recorded at activation. RPC
	// commands are refused while it is set.
	CredentialsErr error

	// GateEvents skips channel setup when credentials are invalid.
	GateEvents bool

	// ChannelRequested is set once channel setup was asked for.
	ChannelRequested bool
	// ChannelUp is true while the subscription is live.
	ChannelUp bool

	// NextCallID numbers call paths. Completion events carry the id so replies
	// reach the right caller.
	NextCallID uint64

	// Pending holds the reply of every call path in flight.
	Pending map[uint64]chan error
}

func newState(gateEvents bool) State {
	return State{
		Phase:      PhaseIdle,
		GateEvents: gateEvents,
		Pending:    make(map[uint64]chan error),
	}
}

// Commands

type cmdActivate struct {
	actor.InputBase
	Credentials session.Credentials
	ContextID   string
	Reply       chan error
}

type cmdCall struct {
	actor.InputBase
	Op     Op
	Amount int64
	Reply  chan error
}

type cmdRefresh struct {
	actor.InputBase
	Reply chan error
}

type cmdDeactivate struct {
	actor.InputBase
	Reply chan error
}

// Events

// evCallCompleted reports the outcome of an increment or reset.
type evCallCompleted struct {
	actor.InputBase
	CallID uint64
	Op     Op
	Err    *rpc.CallError
}

// evValueFetched reports the outcome of getValue. Count is nil when the node
// answered without a count.
type evValueFetched struct {
	actor.InputBase
	CallID uint64
	Count  *int64
	Err    *rpc.CallError
}

// evChangeEvent carries the decoded count of a change event.
type evChangeEvent struct {
	actor.InputBase
	Count int64
}

type evChannelConnected struct {
	actor.InputBase
}

type evChannelFailed struct {
	actor.InputBase
	Err error
}

// Effects

type effCall struct {
	actor.EffectBase
	CallID uint64
	Op     Op
	Amount int64
}

type effFetchValue struct {
	actor.EffectBase
	CallID uint64
}

type effOpenChannel struct {
	actor.EffectBase
	ContextID string
}

type effCloseChannel struct {
	actor.EffectBase
	Reply chan error
}

type effPublishValue struct {
	actor.EffectBase
	Value Value
}

type effPublishChannel struct {
	actor.EffectBase
	Connected bool
	Err       error
}

type effNotify struct {
	actor.EffectBase
	Message string
}
