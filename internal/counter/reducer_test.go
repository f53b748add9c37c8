package counter

import (
	"testing"

	"github.com/bhandras/livecount/internal/actor"
	"github.com/bhandras/livecount/internal/rpc"
	"github.com/bhandras/livecount/internal/session"
	"github.com/stretchr/testify/require"
)

func validCreds() session.Credentials {
	return session.Credentials{
		Endpoint:      "http://node",
		ApplicationID: "app",
		AccessToken:   "access",
		RefreshToken:  "refresh",
	}
}

func i64(v int64) *int64 { return &v }

// activeState returns a state right after a successful activation.
func activeState(t *testing.T) State {
	t.Helper()
	reply := make(chan error, 1)
	state, effects := actor.Step(newState(false), cmdActivate{
		Credentials: validCreds(),
		ContextID:   "ctx",
		Reply:       reply,
	}, Reduce)
	require.Equal(t, []actor.Effect{
		effOpenChannel{ContextID: "ctx"},
		effFetchValue{CallID: 1},
	}, effects)

	state, _ = actor.Step(state, evValueFetched{CallID: 1, Count: i64(3)}, Reduce)
	require.NoError(t, <-reply)
	require.Empty(t, state.Pending)
	return state
}

func TestReduce_ActivateFetchesInitialValue(t *testing.T) {
	t.Parallel()

	state := activeState(t)
	require.Equal(t, PhaseActive, state.Phase)
	require.Equal(t, Value{Known: true, Count: 3, Revision: 1, Source: SourceCall}, state.Value)
	require.True(t, state.ChannelRequested)
}

func TestReduce_ActivateWithoutCredentials(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	state, effects := actor.Step(newState(false), cmdActivate{
		ContextID: "",
		Reply:     reply,
	}, Reduce)

	// No RPC calls, channel setup still happens.
	require.Equal(t, []actor.Effect{effOpenChannel{ContextID: ""}}, effects)
	require.ErrorIs(t, <-reply, session.ErrMissingCredentials)
	require.False(t, state.Value.Known)

	reply = make(chan error, 1)
	_, effects = actor.Step(state, cmdRefresh{Reply: reply}, Reduce)
	require.Empty(t, effects)
	require.ErrorIs(t, <-reply, session.ErrMissingCredentials)
}

func TestReduce_ActivateGatedOnCredentials(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	state, effects := actor.Step(newState(true), cmdActivate{Reply: reply}, Reduce)
	require.Empty(t, effects)
	require.False(t, state.ChannelRequested)
	require.ErrorIs(t, <-reply, session.ErrMissingCredentials)

	reply = make(chan error, 1)
	_, effects = actor.Step(newState(true), cmdActivate{
		Credentials: validCreds(),
		ContextID:   "ctx",
		Reply:       reply,
	}, Reduce)
	require.Len(t, effects, 2)
}

func TestReduce_ActivateTwice(t *testing.T) {
	t.Parallel()

	state := activeState(t)
	reply := make(chan error, 1)
	_, effects := actor.Step(state, cmdActivate{Credentials: validCreds(), Reply: reply}, Reduce)
	require.Empty(t, effects)
	require.ErrorIs(t, <-reply, ErrAlreadyActive)
}

func TestReduce_CommandsBeforeActivate(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	_, effects := actor.Step(newState(false), cmdCall{Op: OpIncrement, Amount: 1, Reply: reply}, Reduce)
	require.Empty(t, effects)
	require.ErrorIs(t, <-reply, ErrNotActive)
}

func TestReduce_IncrementThenFetch(t *testing.T) {
	t.Parallel()

	state := activeState(t)
	reply := make(chan error, 1)

	state, effects := actor.Step(state, cmdCall{Op: OpIncrement, Amount: 1, Reply: reply}, Reduce)
	require.Equal(t, []actor.Effect{effCall{CallID: 2, Op: OpIncrement, Amount: 1}}, effects)

	state, effects = actor.Step(state, evCallCompleted{CallID: 2, Op: OpIncrement}, Reduce)
	require.Equal(t, []actor.Effect{effFetchValue{CallID: 2}}, effects)
	// Mutations do not touch the value on their own.
	require.Equal(t, int64(3), state.Value.Count)

	state, effects = actor.Step(state, evValueFetched{CallID: 2, Count: i64(5)}, Reduce)
	require.Equal(t, int64(5), state.Value.Count)
	require.Equal(t, SourceCall, state.Value.Source)
	require.Equal(t, []actor.Effect{effPublishValue{Value: state.Value}}, effects)
	require.NoError(t, <-reply)
	require.Empty(t, state.Pending)
}

func TestReduce_ResetThenZero(t *testing.T) {
	t.Parallel()

	state := activeState(t)
	reply := make(chan error, 1)
	state, _ = actor.Step(state, cmdCall{Op: OpReset, Reply: reply}, Reduce)
	state, _ = actor.Step(state, evCallCompleted{CallID: 2, Op: OpReset}, Reduce)
	state, _ = actor.Step(state, evValueFetched{CallID: 2, Count: i64(0)}, Reduce)

	require.True(t, state.Value.Known)
	require.Equal(t, int64(0), state.Value.Count)
	require.NoError(t, <-reply)
}

func TestReduce_ResetErrorSkipsFetch(t *testing.T) {
	t.Parallel()

	state := activeState(t)
	before := state.Value
	reply := make(chan error, 1)
	code := -32000
	callErr := &rpc.CallError{Message: "boom", Code: &code}

	state, _ = actor.Step(state, cmdCall{Op: OpReset, Reply: reply}, Reduce)
	state, effects := actor.Step(state, evCallCompleted{CallID: 2, Op: OpReset, Err: callErr}, Reduce)

	require.Equal(t, []actor.Effect{effNotify{Message: "reset failed: boom"}}, effects)
	require.Equal(t, before, state.Value)
	require.Equal(t, callErr, <-reply)
	require.Empty(t, state.Pending)
}

func TestReduce_FetchErrorKeepsValue(t *testing.T) {
	t.Parallel()

	state := activeState(t)
	before := state.Value
	reply := make(chan error, 1)

	state, _ = actor.Step(state, cmdRefresh{Reply: reply}, Reduce)
	state, effects := actor.Step(state, evValueFetched{
		CallID: 2,
		Err:    &rpc.CallError{Message: "node unreachable"},
	}, Reduce)

	require.Equal(t, []actor.Effect{effNotify{Message: "getValue failed: node unreachable"}}, effects)
	require.Equal(t, before, state.Value)
	require.Error(t, <-reply)
}

func TestReduce_FetchWithoutCountKeepsValue(t *testing.T) {
	t.Parallel()

	state := activeState(t)
	before := state.Value
	reply := make(chan error, 1)

	state, _ = actor.Step(state, cmdRefresh{Reply: reply}, Reduce)
	state, effects := actor.Step(state, evValueFetched{CallID: 2}, Reduce)
	require.Empty(t, effects)
	require.Equal(t, before, state.Value)
	require.NoError(t, <-reply)
}

func TestReduce_EventsLastWriteWins(t *testing.T) {
	t.Parallel()

	state := activeState(t)
	for _, n := range []int64{9, 2, 7} {
		state, _ = actor.Step(state, evChangeEvent{Count: n}, Reduce)
	}
	require.Equal(t, Value{Known: true, Count: 7, Revision: 4, Source: SourceEvent}, state.Value)

	// A stale call result still overwrites a newer event.
	reply := make(chan error, 1)
	state, _ = actor.Step(state, cmdRefresh{Reply: reply}, Reduce)
	state, _ = actor.Step(state, evValueFetched{CallID: 2, Count: i64(1)}, Reduce)
	require.Equal(t, int64(1), state.Value.Count)
}

func TestReduce_EventBeforeInitialFetch(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	state, _ := actor.Step(newState(false), cmdActivate{Reply: reply}, Reduce)
	require.False(t, state.Value.Known)

	state, effects := actor.Step(state, evChangeEvent{Count: 5}, Reduce)
	require.True(t, state.Value.Known)
	require.Equal(t, int64(5), state.Value.Count)
	require.Equal(t, []actor.Effect{effPublishValue{Value: state.Value}}, effects)
}

func TestReduce_ChannelState(t *testing.T) {
	t.Parallel()

	state := activeState(t)
	state, effects := actor.Step(state, evChannelConnected{}, Reduce)
	require.True(t, state.ChannelUp)
	require.Equal(t, []actor.Effect{effPublishChannel{Connected: true}}, effects)

	state, effects = actor.Step(state, evChannelFailed{Err: ErrClosed}, Reduce)
	require.False(t, state.ChannelUp)
	require.Equal(t, []actor.Effect{effPublishChannel{Err: ErrClosed}}, effects)
}

func TestReduce_Deactivate(t *testing.T) {
	t.Parallel()

	state := activeState(t)
	inflight := make(chan error, 1)
	state, _ = actor.Step(state, cmdCall{Op: OpIncrement, Amount: 1, Reply: inflight}, Reduce)

	reply := make(chan error, 1)
	state, effects := actor.Step(state, cmdDeactivate{Reply: reply}, Reduce)
	require.Equal(t, PhaseClosed, state.Phase)
	require.Equal(t, []actor.Effect{effCloseChannel{Reply: reply}}, effects)
	require.ErrorIs(t, <-inflight, ErrClosed)

	// Late results and events are dropped.
	before := state.Value
	state, effects = actor.Step(state, evCallCompleted{CallID: 2, Op: OpIncrement}, Reduce)
	require.Empty(t, effects)
	state, effects = actor.Step(state, evChangeEvent{Count: 99}, Reduce)
	require.Empty(t, effects)
	require.Equal(t, before, state.Value)

	after := make(chan error, 1)
	_, _ = actor.Step(state, cmdRefresh{Reply: after}, Reduce)
	require.ErrorIs(t, <-after, ErrClosed)

	again := make(chan error, 1)
	_, effects = actor.Step(state, cmdDeactivate{Reply: again}, Reduce)
	require.Empty(t, effects)
	require.NoError(t, <-again)
}

func TestValueString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "-", Value{}.String())
	require.Equal(t, "0", Value{Known: true}.String())
	require.Equal(t, "12", Value{Known: true, Count: 12}.String())
}
