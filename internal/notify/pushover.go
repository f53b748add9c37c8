package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// PushoverEndpoint is the Pushover message API.
	PushoverEndpoint = "https://api.pushover.net/1/messages.json"
	// pushoverContentType is the form content type Pushover requires.
	pushoverContentType = "application/x-www-form-urlencoded"
	// defaultPushoverTimeout bounds one delivery.
	defaultPushoverTimeout = 10 * time.Second
	// DefaultPushoverCooldown suppresses repeats of the same alert.
	DefaultPushoverCooldown = time.Minute
)

// PushoverConfig configures remote delivery of counter notifications.
type PushoverConfig struct {
	// Token is the application API token.
	Token string
	// UserKey is the destination user key.
	UserKey string
	// Priority is the Pushover priority value.
	Priority int
	// Cooldown is the minimum interval between messages with the same key.
	Cooldown time.Duration
	// Endpoint overrides PushoverEndpoint.
	Endpoint string
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// PushoverNotifier sends notifications to Pushover.
type PushoverNotifier struct {
	token    string
	userKey  string
	priority int
	cooldown time.Duration
	endpoint string
	client   *http.Client
	now      func() time.Time

	mu        sync.Mutex
	lastSent  map[string]time.Time
	lastError error
}

// NewPushoverNotifier validates cfg and returns a notifier.
func NewPushoverNotifier(cfg PushoverConfig) (*PushoverNotifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("pushover token is required")
	}
	if strings.TrimSpace(cfg.UserKey) == "" {
		return nil, fmt.Errorf("pushover user key is required")
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("pushover cooldown must be non-negative")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = PushoverEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultPushoverTimeout}
	}
	return &PushoverNotifier{
		token:    cfg.Token,
		userKey:  cfg.UserKey,
		priority: cfg.Priority,
		cooldown: cfg.Cooldown,
		endpoint: endpoint,
		client:   client,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}, nil
}

// Notify implements Notifier. Messages whose key was sent within the
// cooldown are skipped.
func (n *PushoverNotifier) Notify(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.Body) == "" {
		return fmt.Errorf("pushover message is required")
	}

	key := msg.key()
	now := n.now()
	if !n.shouldSend(key, now) {
		return nil
	}
	if err := n.send(ctx, msg); err != nil {
		n.mu.Lock()
		n.lastError = err
		n.mu.Unlock()
		return err
	}

	n.mu.Lock()
	n.lastSent[key] = now
	n.lastError = nil
	n.mu.Unlock()
	return nil
}

// LastError returns the most recent delivery error, if any.
func (n *PushoverNotifier) LastError() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastError
}

func (n *PushoverNotifier) shouldSend(key string, now time.Time) bool {
	if n.cooldown == 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.lastSent[key]
	return !ok || now.Sub(last) >= n.cooldown
}

func (n *PushoverNotifier) send(ctx context.Context, msg Message) error {
	form := url.Values{}
	form.Set("token", n.token)
	form.Set("user", n.userKey)
	form.Set("message", msg.Body)
	if title := strings.TrimSpace(msg.Title); title != "" {
		form.Set("title", title)
	}
	if n.priority != 0 {
		form.Set("priority", strconv.Itoa(n.priority))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("pushover request build failed: %w", err)
	}
	req.Header.Set("Content-Type", pushoverContentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("pushover response read failed: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("pushover response %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
