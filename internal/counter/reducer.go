package counter

import (
	"errors"
	"fmt"

	"github.com/bhandras/livecount/internal/actor"
	"github.com/bhandras/livecount/internal/rpc"
)

var (
	// ErrNotActive is returned by calls made before Activate.
	ErrNotActive = errors.New("reconciler not active")
	// ErrAlreadyActive is returned by a second Activate.
	ErrAlreadyActive = errors.New("reconciler already active")
	// ErrClosed is returned once the reconciler is closed.
	ErrClosed = errors.New("reconciler closed")
)

// Reduce is the reconciler reducer.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case cmdActivate:
		return reduceActivate(state, in)
	case cmdCall:
		return reduceCall(state, in)
	case cmdRefresh:
		return reduceRefresh(state, in)
	case cmdDeactivate:
		return reduceDeactivate(state, in)

	case evCallCompleted:
		return reduceCallCompleted(state, in)
	case evValueFetched:
		return reduceValueFetched(state, in)
	case evChangeEvent:
		return reduceChangeEvent(state, in)
	case evChannelConnected:
		if state.Phase != PhaseActive {
			return state, nil
		}
		state.ChannelUp = true
		return state, []actor.Effect{effPublishChannel{Connected: true}}
	case evChannelFailed:
		if state.Phase != PhaseActive {
			return state, nil
		}
		state.ChannelUp = false
		return state, []actor.Effect{effPublishChannel{Connected: false, Err: in.Err}}
	default:
		return state, nil
	}
}

func reduceActivate(state State, cmd cmdActivate) (State, []actor.Effect) {
	switch state.Phase {
	case PhaseClosed:
		complete(cmd.Reply, ErrClosed)
		return state, nil
	case PhaseActive:
		complete(cmd.Reply, ErrAlreadyActive)
		return state, nil
	}

	state.Phase = PhaseActive
	state.ContextID = cmd.ContextID
	state.CredentialsErr = cmd.Credentials.Validate()

	var effects []actor.Effect
	if state.CredentialsErr == nil || !state.GateEvents {
		state.ChannelRequested = true
		effects = append(effects, effOpenChannel{ContextID: state.ContextID})
	}

	if state.CredentialsErr != nil {
		complete(cmd.Reply, state.CredentialsErr)
		return state, effects
	}

	var id uint64
	state, id = state.track(cmd.Reply)
	effects = append(effects, effFetchValue{CallID: id})
	return state, effects
}

func reduceCall(state State, cmd cmdCall) (State, []actor.Effect) {
	if err := state.callable(); err != nil {
		complete(cmd.Reply, err)
		return state, nil
	}
	var id uint64
	state, id = state.track(cmd.Reply)
	return state, []actor.Effect{effCall{CallID: id, Op: cmd.Op, Amount: cmd.Amount}}
}

func reduceRefresh(state State, cmd cmdRefresh) (State, []actor.Effect) {
	if err := state.callable(); err != nil {
		complete(cmd.Reply, err)
		return state, nil
	}
	var id uint64
	state, id = state.track(cmd.Reply)
	return state, []actor.Effect{effFetchValue{CallID: id}}
}

func reduceDeactivate(state State, cmd cmdDeactivate) (State, []actor.Effect) {
	if state.Phase == PhaseClosed {
		complete(cmd.Reply, nil)
		return state, nil
	}
	state.Phase = PhaseClosed
	state.ChannelUp = false
	for id, reply := range state.Pending {
		complete(reply, ErrClosed)
		delete(state.Pending, id)
	}
	return state, []actor.Effect{effCloseChannel{Reply: cmd.Reply}}
}

// reduceCallCompleted chains a successful mutation into a getValue. A failed
// mutation is reported and ends the call path.
func reduceCallCompleted(state State, ev evCallCompleted) (State, []actor.Effect) {
	reply, ok := state.Pending[ev.CallID]
	if !ok || state.Phase != PhaseActive {
		return state, nil
	}
	if ev.Err != nil {
		delete(state.Pending, ev.CallID)
		complete(reply, ev.Err)
		return state, []actor.Effect{effNotify{Message: notification(string(ev.Op), ev.Err)}}
	}
	return state, []actor.Effect{effFetchValue{CallID: ev.CallID}}
}

func reduceValueFetched(state State, ev evValueFetched) (State, []actor.Effect) {
	reply, ok := state.Pending[ev.CallID]
	if !ok || state.Phase != PhaseActive {
		return state, nil
	}
	delete(state.Pending, ev.CallID)

	if ev.Err != nil {
		complete(reply, ev.Err)
		return state, []actor.Effect{effNotify{Message: notification("getValue", ev.Err)}}
	}
	complete(reply, nil)
	if ev.Count == nil {
		return state, nil
	}
	state = state.apply(*ev.Count, SourceCall)
	return state, []actor.Effect{effPublishValue{Value: state.Value}}
}

func reduceChangeEvent(state State, ev evChangeEvent) (State, []actor.Effect) {
	if state.Phase != PhaseActive {
		return state, nil
	}
	state = state.apply(ev.Count, SourceEvent)
	return state, []actor.Effect{effPublishValue{Value: state.Value}}
}

// apply overwrites the value. Last write wins.
func (s State) apply(count int64, src Source) State {
	s.Value = Value{
		Known:    true,
		Count:    count,
		Revision: s.Value.Revision + 1,
		Source:   src,
	}
	return s
}

func (s State) callable() error {
	switch s.Phase {
	case PhaseIdle:
		return ErrNotActive
	case PhaseClosed:
		return ErrClosed
	}
	return s.CredentialsErr
}

func (s State) track(reply chan error) (State, uint64) {
	s.NextCallID++
	if s.Pending == nil {
		s.Pending = make(map[uint64]chan error)
	}
	s.Pending[s.NextCallID] = reply
	return s, s.NextCallID
}

func notification(op string, err *rpc.CallError) string {
	return fmt.Sprintf("%s failed: %s", op, err.Message)
}

// complete delivers err to a reply channel without blocking. Reply channels
// are buffered.
func complete(reply chan error, err error) {
	if reply == nil {
		return
	}
	select {
	case reply <- err:
	default:
	}
}
