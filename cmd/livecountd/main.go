package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/node"
	"github.com/gin-gonic/gin"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("livecountd", flag.ContinueOnError)
	addr := fs.String("addr", "", "Listen address (default :$PORT)")
	dbPath := fs.String("db", "", "SQLite database path (default $DATABASE_PATH)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	issue := fs.String("issue", "", "Print a token pair for this application id and exit")
	accessTTL := fs.Duration("access-ttl", 0, "Access token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var overrides node.Overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			overrides.Addr = addr
		case "db":
			overrides.DatabasePath = dbPath
		case "debug":
			overrides.Debug = debug
		case "access-ttl":
			overrides.AccessTTL = accessTTL
		}
	})

	cfg, err := node.Load(overrides)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(logger.LevelInfo)
	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Infof("Opening database: %s", cfg.DatabasePath)
	store, err := node.OpenStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	n, err := node.New(cfg, store)
	if err != nil {
		return err
	}
	defer n.Close()

	if *issue != "" {
		pair, err := n.IssueToken(*issue)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Printf("LIVECOUNT_APPLICATION_ID=%s\n", *issue)
		fmt.Printf("LIVECOUNT_ACCESS_TOKEN=%s\n", pair.AccessToken)
		fmt.Printf("LIVECOUNT_REFRESH_TOKEN=%s\n", pair.RefreshToken)
		return nil
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           n.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("livecount node listening on %s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	logger.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
