// Package notify delivers user-visible counter notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bhandras/livecount/internal/logger"
)

// Message is one notification.
type Message struct {
	// Title is optional.
	Title string
	// Body is the text shown to the user.
	Body string
	// AlertKey groups messages for de-duplication. Empty means Body.
	AlertKey string
}

func (m Message) key() string {
	if m.AlertKey != "" {
		return m.AlertKey
	}
	return m.Body
}

// Notifier delivers messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// WriterNotifier prints messages to a writer, one per line.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier returns a notifier printing to w.
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

// Notify implements Notifier.
func (n *WriterNotifier) Notify(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var err error
	if msg.Title != "" {
		_, err = fmt.Fprintf(n.w, "! %s: %s\n", msg.Title, msg.Body)
	} else {
		_, err = fmt.Fprintf(n.w, "! %s\n", msg.Body)
	}
	return err
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forward delivers every string received on notes until notes is closed or
// ctx is done. Delivery errors are logged.
func Forward(ctx context.Context, notes <-chan string, title string, n Notifier) {
	for {
		select {
		case <-ctx.Done():
			return
		case body, ok := <-notes:
			if !ok {
				return
			}
			if err := n.Notify(ctx, Message{Title: title, Body: body}); err != nil {
				logger.Warnf("Notification delivery failed: %v", err)
			}
		}
	}
}
