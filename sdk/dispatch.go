package sdk

import (
	"sync"
)

// dispatcher runs queued functions one at a time on its own goroutine.
type dispatcher struct {
	mu     sync.Mutex
	q      chan func()
	closed bool
	done   chan struct{}
}

func newDispatcher(queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &dispatcher{
		q:    make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		for fn := range d.q {
			if fn != nil {
				fn()
			}
		}
	}()
	return d
}

// do queues fn. It reports false once the dispatcher is closed.
func (d *dispatcher) do(fn func()) bool {
	if d == nil || fn == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.q <- fn
	return true
}

// close runs the remaining queue and stops the goroutine.
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.q)
	}
	d.mu.Unlock()
	<-d.done
}
