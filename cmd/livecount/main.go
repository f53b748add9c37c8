package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bhandras/livecount/internal/config"
	"github.com/bhandras/livecount/internal/counter"
	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/notify"
	"github.com/bhandras/livecount/internal/rpc"
	"github.com/bhandras/livecount/internal/session"
	"github.com/bhandras/livecount/internal/termutil"
	"github.com/bhandras/livecount/internal/websocket"
)

const (
	notificationTitle = "livecount"
	rpcTimeout        = 15 * time.Second
)

// credentialsHelp names the variables a user has to set after logging in.
const credentialsHelp = "set LIVECOUNT_APPLICATION_ID, LIVECOUNT_ACCESS_TOKEN and " +
	"LIVECOUNT_REFRESH_TOKEN (see `livecountd -issue <app>`)"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, err := parseFlags(cfg, os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		printUsage()
		return nil
	}
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)

	cmd := "get"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "get":
		return oneShot(ctx, cfg, func(r *counter.Reconciler) error { return nil })
	case "inc", "increment":
		amount := int64(1)
		if len(args) > 0 {
			amount, err = strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
		}
		return oneShot(ctx, cfg, func(r *counter.Reconciler) error {
			return r.Increment(ctx, amount)
		})
	case "reset":
		return oneShot(ctx, cfg, func(r *counter.Reconciler) error {
			return r.Reset(ctx)
		})
	case "watch":
		return watch(ctx, cfg)
	case "interactive", "i":
		return interactive(ctx, cfg)
	case "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func parseFlags(cfg *config.Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("livecount", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	endpoint := fs.String("endpoint", "", "Node URL")
	contextID := fs.String("context", "", "Context id")
	transport := fs.String("transport", "", "Event transport (ws|socketio)")
	logLevel := fs.String("log-level", "", "Log level (trace|debug|info|warn|error)")
	gateEvents := fs.Bool("gate-events", false, "Skip the event subscription without valid credentials")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *showHelp {
		return nil, flag.ErrHelp
	}

	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if *contextID != "" {
		cfg.ContextID = *contextID
	}
	if *transport != "" {
		t, err := websocket.ParseTransport(*transport)
		if err != nil {
			return nil, fmt.Errorf("invalid --transport: %w", err)
		}
		cfg.Transport = t
	}
	if *logLevel != "" {
		level, err := logger.ParseLevel(*logLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
		cfg.LogLevel = level
	}
	if *gateEvents {
		cfg.GateEvents = true
	}

	return fs.Args(), nil
}

func printUsage() {
	fmt.Println(`livecount - a counter kept in sync with a node

Usage:
  livecount [flags] [command]

Commands:
  get              Print the current value (default)
  inc [n]          Increment by n (default 1) and print the new value
  reset            Reset to zero and print the new value
  watch            Print every change until interrupted
  interactive      Single-key mode: + increment, r reset, g refresh, q quit

Flags:
  --endpoint URL   Node URL (LIVECOUNT_ENDPOINT)
  --context ID     Context id (LIVECOUNT_CONTEXT_ID)
  --transport T    Event transport: ws or socketio (LIVECOUNT_TRANSPORT)
  --log-level L    trace, debug, info, warn or error (LIVECOUNT_LOG_LEVEL)
  --gate-events    Skip the event subscription without valid credentials`)
}

// printer writes value and channel updates.
type printer struct {
	mu  sync.Mutex
	w   io.Writer
	eol string
	// quiet suppresses value lines; one-shot commands print once at the end.
	quiet bool
}

func (p *printer) OnValue(v counter.Value) {
	if p.quiet {
		return
	}
	p.printf("count: %s", v)
}

func (p *printer) OnNotification(string) {}

func (p *printer) OnChannel(connected bool, err error) {
	if p.quiet {
		return
	}
	if connected {
		p.printf("(live)")
		return
	}
	logger.Debugf("Event channel unavailable: %v", err)
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+p.eol, args...)
}

// start wires a reconciler for cfg and activates it. The returned reconciler
// is live even when activation fails.
func start(ctx context.Context, cfg *config.Config, listener counter.Listener) (*counter.Reconciler, error) {
	guard := session.NewGuard(cfg.Credentials())
	api := rpc.NewClient(rpc.Config{
		Endpoint:          cfg.Endpoint,
		ContextID:         cfg.ContextID,
		ExecutorPublicKey: cfg.ExecutorPublicKey,
		Tokens:            guard,
		HTTPClient:        &http.Client{Timeout: rpcTimeout},
	})
	channel, err := websocket.New(cfg.Transport, websocket.Options{
		Endpoint:      cfg.Endpoint,
		ApplicationID: cfg.ApplicationID,
		Tokens:        guard,
	})
	if err != nil {
		return nil, err
	}

	r := counter.New(api, channel, counter.Options{
		GateEventsOnCredentials: cfg.GateEvents,
		Listener:                listener,
	})
	go notify.Forward(ctx, r.Notifications(), notificationTitle, notifier(cfg))

	err = r.Activate(ctx, cfg.Credentials(), cfg.ContextID)
	if errors.Is(err, session.ErrMissingCredentials) {
		err = fmt.Errorf("%w; %s", err, credentialsHelp)
	}
	return r, err
}

func notifier(cfg *config.Config) notify.Notifier {
	notifiers := notify.Multi{notify.NewWriterNotifier(os.Stderr)}
	if cfg.PushoverEnabled() {
		p, err := notify.NewPushoverNotifier(notify.PushoverConfig{
			Token:    cfg.PushoverToken,
			UserKey:  cfg.PushoverUser,
			Cooldown: notify.DefaultPushoverCooldown,
		})
		if err != nil {
			logger.Warnf("Pushover disabled: %v", err)
		} else {
			notifiers = append(notifiers, p)
		}
	}
	return notifiers
}

func oneShot(ctx context.Context, cfg *config.Config, op func(*counter.Reconciler) error) error {
	r, err := start(ctx, cfg, &printer{w: os.Stdout, eol: "\n", quiet: true})
	if err != nil {
		if r != nil {
			r.Close()
		}
		return err
	}
	defer r.Close()

	if err := op(r); err != nil {
		return err
	}
	fmt.Println(r.Value())
	return nil
}

func watch(ctx context.Context, cfg *config.Config) error {
	r, err := start(ctx, cfg, &printer{w: os.Stdout, eol: "\n"})
	if r == nil {
		return err
	}
	defer r.Close()
	if err != nil {
		// Events may still arrive without credentials.
		fmt.Fprintf(os.Stderr, "! %v\n", err)
	}
	<-ctx.Done()
	return nil
}

func interactive(ctx context.Context, cfg *config.Config) error {
	restore, raw := termutil.KeyMode(os.Stdin)
	defer restore()

	eol := "\n"
	if raw {
		eol = "\r\n"
	}
	p := &printer{w: os.Stdout, eol: eol}
	r, err := start(ctx, cfg, p)
	if r == nil {
		return err
	}
	defer r.Close()
	if err != nil {
		p.printf("! %v", err)
	}
	p.printf("+ increment, r reset, g refresh, q quit")

	keys := make(chan byte)
	go readKeys(os.Stdin, keys)

	for {
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			if handleKey(ctx, key, r, func(err error) { p.printf("! %v", err) }) {
				return nil
			}
		}
	}
}

// counterOps is the part of the reconciler driven by key presses.
type counterOps interface {
	Increment(ctx context.Context, amount int64) error
	Reset(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// handleKey starts the call bound to key without waiting for it, so further
// keys are handled while it is in flight. It reports whether key quits.
func handleKey(ctx context.Context, key byte, ops counterOps, report func(error)) bool {
	var call func() error
	switch key {
	case '+', '=', 'i':
		call = func() error { return ops.Increment(ctx, 1) }
	case 'r':
		call = func() error { return ops.Reset(ctx) }
	case 'g':
		call = func() error { return ops.Refresh(ctx) }
	case 'q', 3, 4:
		return true
	default:
		return false
	}
	go func() {
		// Call failures are already reported as notifications.
		if err := call(); errors.Is(err, session.ErrMissingCredentials) {
			report(err)
		}
	}()
	return false
}

func readKeys(in io.Reader, keys chan<- byte) {
	defer close(keys)
	buf := make([]byte, 1)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return
		}
		if n == 1 {
			keys <- buf[0]
		}
	}
}
