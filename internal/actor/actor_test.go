package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/bhandras/livecount/internal/actor"
	"github.com/bhandras/livecount/internal/actor/actortest"
	"github.com/stretchr/testify/require"
)

type addInput struct {
	actor.InputBase
	n int
}

type echoEffect struct {
	actor.EffectBase
	n int
}

type echoedInput struct {
	actor.InputBase
	n int
}

func sumReducer(state int, input actor.Input) (int, []actor.Effect) {
	switch in := input.(type) {
	case addInput:
		return state + in.n, []actor.Effect{echoEffect{n: in.n}}
	case echoedInput:
		return state + 100*in.n, nil
	default:
		return state, nil
	}
}

func TestActorProcessesInputsSequentially(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, sumReducer, rt)
	a.Start()
	defer a.Stop()

	for i := 1; i <= 5; i++ {
		require.True(t, a.Enqueue(addInput{n: i}))
	}

	require.Eventually(t, func() bool {
		return a.State() == 15
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(rt.Effects()) == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestActorRuntimeEmitsFollowUps(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{
		EmitFn: func(ctx context.Context, eff actor.Effect, emit func(actor.Input)) {
			if e, ok := eff.(echoEffect); ok {
				emit(echoedInput{n: e.n})
			}
		},
	}
	a := actor.New[int](0, sumReducer, rt)
	a.Start()
	defer a.Stop()

	require.NoError(t, a.EnqueueWait(context.Background(), addInput{n: 2}))

	require.Eventually(t, func() bool {
		return a.State() == 202
	}, 2*time.Second, 10*time.Millisecond)
}

func TestActorStopRejectsInputs(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, sumReducer, rt, actor.WithMailboxSize[int](1))
	a.Start()
	a.Stop()
	a.Stop()

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("actor loop did not exit")
	}

	require.False(t, a.Enqueue(addInput{n: 1}))
	require.ErrorIs(t, a.EnqueueWait(context.Background(), addInput{n: 1}), actor.ErrStopped)
	require.Equal(t, 1, rt.Stopped())
}

func TestStep(t *testing.T) {
	t.Parallel()

	next, effects := actor.Step(1, addInput{n: 2}, sumReducer)
	require.Equal(t, 3, next)
	require.Equal(t, []actor.Effect{echoEffect{n: 2}}, effects)
}
