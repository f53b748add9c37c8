// Package counter keeps a local copy of a remote counter in sync.
//
// Two paths write the value: mutating calls followed by a getValue, and
// change events pushed by the node. Both are serialized through one actor
// loop and the later write wins.
package counter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bhandras/livecount/internal/actor"
	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/session"
	"github.com/bhandras/livecount/internal/websocket"
)

const (
	defaultNotificationBuffer = 64
	closeTimeout              = 5 * time.Second
)

// Options configures a Reconciler.
type Options struct {
	// GateEventsOnCredentials skips event channel setup when credentials are
	// invalid. By default the channel is set up regardless.
	GateEventsOnCredentials bool
	// Listener receives value and channel updates. Optional.
	Listener Listener
	// NotificationBuffer sizes the Notifications channel.
	NotificationBuffer int
}

// Reconciler owns the counter value.
type Reconciler struct {
	actor *actor.Actor[State]
	notes chan string

	closeOnce sync.Once
	closeErr  error
}

// New starts a reconciler over api and channel. Call Activate to begin.
func New(api API, channel websocket.Channel, opts Options) *Reconciler {
	size := opts.NotificationBuffer
	if size <= 0 {
		size = defaultNotificationBuffer
	}
	notes := make(chan string, size)
	rt := NewRuntime(api, channel, opts.Listener, notes)

	a := actor.New(newState(opts.GateEventsOnCredentials), Reduce, rt,
		actor.WithHooks(actor.Hooks[State]{
			OnPanic: func(r any) {
				logger.Errorf("Reconciler loop panic: %v", r)
			},
		}),
	)
	a.Start()
	return &Reconciler{actor: a, notes: notes}
}

// Activate starts the session. The event channel is set up (unless gated) and,
// when creds are valid, the initial value is fetched. It returns the
// precondition error for invalid credentials or the initial fetch error.
func (r *Reconciler) Activate(ctx context.Context, creds session.Credentials, contextID string) error {
	return r.do(ctx, func(reply chan error) actor.Input {
		return cmdActivate{Credentials: creds, ContextID: contextID, Reply: reply}
	})
}

// Increment adds amount and re-reads the value.
func (r *Reconciler) Increment(ctx context.Context, amount int64) error {
	return r.do(ctx, func(reply chan error) actor.Input {
		return cmdCall{Op: OpIncrement, Amount: amount, Reply: reply}
	})
}

// Reset zeroes the counter and re-reads the value.
func (r *Reconciler) Reset(ctx context.Context) error {
	return r.do(ctx, func(reply chan error) actor.Input {
		return cmdCall{Op: OpReset, Reply: reply}
	})
}

// Refresh re-reads the value.
func (r *Reconciler) Refresh(ctx context.Context) error {
	return r.do(ctx, func(reply chan error) actor.Input {
		return cmdRefresh{Reply: reply}
	})
}

// Value returns the current value.
func (r *Reconciler) Value() Value {
	return r.actor.State().Value
}

// ChannelUp reports whether the event subscription is live.
func (r *Reconciler) ChannelUp() bool {
	return r.actor.State().ChannelUp
}

// Notifications streams user-visible error messages. Messages are dropped
// when the reader falls behind.
func (r *Reconciler) Notifications() <-chan string {
	return r.notes
}

// Close closes the event channel and stops the loop. Calls in flight return
// ErrClosed.
func (r *Reconciler) Close() error {
	r.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		err := r.do(ctx, func(reply chan error) actor.Input {
			return cmdDeactivate{Reply: reply}
		})
		if errors.Is(err, ErrClosed) {
			err = nil
		}
		r.actor.Stop()
		<-r.actor.Done()
		r.closeErr = err
	})
	return r.closeErr
}

func (r *Reconciler) do(ctx context.Context, build func(reply chan error) actor.Input) error {
	reply := make(chan error, 1)
	if err := r.actor.EnqueueWait(ctx, build(reply)); err != nil {
		if errors.Is(err, actor.ErrStopped) {
			return ErrClosed
		}
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.actor.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
