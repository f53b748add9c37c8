package counter

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/bhandras/livecount/internal/actor"
	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/protocol/wire"
	"github.com/bhandras/livecount/internal/rpc"
	"github.com/bhandras/livecount/internal/websocket"
)

// API is the subset of the RPC client the reconciler drives.
type API interface {
	Increment(ctx context.Context, amount int64) rpc.CallResult[rpc.IncrementResponse]
	GetValue(ctx context.Context) rpc.CallResult[rpc.GetValueResponse]
	Reset(ctx context.Context) rpc.CallResult[rpc.ResetResponse]
}

// Listener observes reconciler output. Callbacks run on the actor loop and
// must return quickly.
type Listener interface {
	// OnValue is called after every applied update.
	OnValue(v Value)
	// OnNotification is called with a user-visible error message.
	OnNotification(message string)
	// OnChannel is called when the event channel comes up or fails.
	OnChannel(connected bool, err error)
}

// Runtime executes reconciler effects.
//
// It never touches State. RPC round trips and channel setup run on their own
// goroutines and report back through emit.
type Runtime struct {
	api      API
	channel  websocket.Channel
	listener Listener
	notes    chan string

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewRuntime returns a Runtime. listener and notes may be nil.
func NewRuntime(api API, channel websocket.Channel, listener Listener, notes chan string) *Runtime {
	return &Runtime{api: api, channel: channel, listener: listener, notes: notes}
}

// HandleEffects implements actor.Runtime.
func (r *Runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch e := eff.(type) {
		case effCall:
			r.goSafe("call", func() { r.call(ctx, e, emit) })
		case effFetchValue:
			r.goSafe("fetch", func() { r.fetch(ctx, e, emit) })
		case effOpenChannel:
			r.goSafe("channel", func() { r.openChannel(ctx, e, emit) })
		case effCloseChannel:
			// The channel reader may be blocked handing an event to the loop,
			// so Close cannot run here.
			go func() { complete(e.Reply, r.closeChannel()) }()
		case effPublishValue:
			if r.listener != nil {
				r.listener.OnValue(e.Value)
			}
		case effPublishChannel:
			if r.listener != nil {
				r.listener.OnChannel(e.Connected, e.Err)
			}
		case effNotify:
			r.notify(e.Message)
		default:
		}
	}
}

// Stop implements actor.Runtime.
func (r *Runtime) Stop() {
	if err := r.closeChannel(); err != nil {
		logger.Debugf("Event channel close: %v", err)
	}
	r.wg.Wait()
}

func (r *Runtime) call(ctx context.Context, eff effCall, emit func(actor.Input)) {
	var callErr *rpc.CallError
	switch eff.Op {
	case OpIncrement:
		callErr = r.api.Increment(ctx, eff.Amount).Error
	case OpReset:
		callErr = r.api.Reset(ctx).Error
	default:
		callErr = &rpc.CallError{Message: "unknown operation " + string(eff.Op)}
	}
	if callErr != nil {
		logger.Debugf("%s failed: %v", eff.Op, callErr)
	}
	emit(evCallCompleted{CallID: eff.CallID, Op: eff.Op, Err: callErr})
}

func (r *Runtime) fetch(ctx context.Context, eff effFetchValue, emit func(actor.Input)) {
	res := r.api.GetValue(ctx)
	ev := evValueFetched{CallID: eff.CallID, Err: res.Error}
	if res.Error == nil && res.Data != nil {
		ev.Count = res.Data.Count
	}
	emit(ev)
}

// openChannel registers the event handler, connects and subscribes, then
// waits for the connection to end. Failures and drops only cost real-time
// updates, so they are logged and reported to the listener but never become
// notifications.
func (r *Runtime) openChannel(ctx context.Context, eff effOpenChannel, emit func(actor.Input)) {
	if r.channel == nil {
		return
	}

	err := r.channel.AddCallback(func(ev wire.NodeEvent) {
		count, ok, parseErr := decodeEvent(ev)
		if !ok {
			logger.Tracef("Ignoring %s event for %q: no counter payload", ev.Type, ev.ContextID)
			return
		}
		if parseErr != nil {
			logger.Debugf("Event payload is not a number, applying 0: %v", parseErr)
		}
		emit(evChangeEvent{Count: count})
	})
	if err == nil {
		err = r.channel.Connect(ctx)
	}
	if err == nil {
		err = r.channel.Subscribe(ctx, []string{eff.ContextID})
	}
	if err != nil {
		if ctx.Err() == nil {
			logger.Warnf("Event subscription failed, falling back to explicit refresh: %v", err)
		}
		emit(evChannelFailed{Err: err})
		return
	}
	logger.Debugf("Subscribed to context %q", eff.ContextID)
	emit(evChannelConnected{})

	select {
	case <-ctx.Done():
	case <-r.channel.Done():
		if err := r.channel.Err(); err != nil {
			emit(evChannelFailed{Err: err})
		}
	}
}

func (r *Runtime) closeChannel() error {
	if r.channel == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		r.closeErr = r.channel.Close()
	})
	return r.closeErr
}

func (r *Runtime) notify(message string) {
	logger.Infof("%s", message)
	if r.listener != nil {
		r.listener.OnNotification(message)
	}
	if r.notes == nil {
		return
	}
	select {
	case r.notes <- message:
	default:
		logger.Warnf("Notification dropped, reader is behind: %s", message)
	}
}

func (r *Runtime) goSafe(name string, fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				logger.Errorf("Panic in %s: %v\n%s", name, rec, debug.Stack())
			}
		}()
		fn()
	}()
}
