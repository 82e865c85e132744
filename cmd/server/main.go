/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the absence engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, then environment), apply flag overrides
  2. Open the store selected by DB_DRIVER
  3. Load the policy document (POLICY_FILE) or the defaults
  4. Build services, handler and router
  5. Start the month-close scheduler and the HTTP server
  6. Wait for SIGINT/SIGTERM, then shut down

COMMAND-LINE FLAGS:
  -env              .env file to read (default: .env, missing is fine)
  -port             HTTP server port, overrides APP_PORT
  -db               SQLite database path, overrides SQLITE_PATH
                    Use ":memory:" for an in-memory database
  -bootstrap-admin  Create an Admin with this username if missing,
                    print a token for it and exit
  -mint             Print a token for the user with this ID and exit

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close the database

EXAMPLES:
  # First run: create an admin and get a token
  ./server -bootstrap-admin=root

  # PostgreSQL (run cmd/migrate first)
  DB_DRIVER=postgres DATABASE_URL=postgres://... ./server

ENVIRONMENT:
  See config/config.go for the full list.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration
  - payroll/scheduler.go: Month-close job
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/api"
	"github.com/warp/absence-engine/config"
	"github.com/warp/absence-engine/factory"
	"github.com/warp/absence-engine/payroll"
	"github.com/warp/absence-engine/store/memory"
	"github.com/warp/absence-engine/store/postgres"
	"github.com/warp/absence-engine/store/sqlite"
)

var version = "dev"

// backend is what every store driver provides.
type backend interface {
	absence.Gateway
	payroll.Source
}

func main() {
	envFile := flag.String("env", ".env", "Environment file")
	port := flag.Int("port", 0, "HTTP server port (overrides APP_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides SQLITE_PATH)")
	bootstrap := flag.String("bootstrap-admin", "", "Create an admin with this username, print its token and exit")
	mint := flag.String("mint", "", "Print a token for this user ID and exit")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.App.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.SQLitePath = *dbPath
	}

	logger := api.NewLogger(os.Stdout, cfg.App.LogLevel, cfg.App.Env, version)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *bootstrap, *mint); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, bootstrap, mint string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, health, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeStore()

	policy := factory.DefaultPolicySet()
	if cfg.App.PolicyFile != "" {
		if policy, err = factory.NewPolicyFactory().LoadFile(cfg.App.PolicyFile); err != nil {
			return fmt.Errorf("failed to load policy: %w", err)
		}
	}

	svc := absence.NewService(store, policy.Absence, absence.WithLogger(logger))
	pay := payroll.NewService(store, policy.Payroll, logger, 0)
	tokens := api.NewTokens(cfg.JWT.Secret)

	switch {
	case bootstrap != "":
		return bootstrapAdmin(ctx, os.Stdout, svc, tokens, bootstrap)
	case mint != "":
		return mintToken(ctx, os.Stdout, svc, tokens, mint)
	}

	handler := api.NewHandler(svc, pay, policy, tokens, health, logger)
	handler.ScenariosEnabled = !cfg.IsProduction()

	router := api.NewRouter(handler, api.RouterOptions{
		Logger:      logger,
		CORSOrigins: cfg.App.CORSOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := payroll.NewMonthCloseScheduler(pay, logger)
	scheduler.Start()
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			slog.String("addr", server.Addr),
			slog.String("driver", cfg.Database.Driver),
			slog.String("policy", policy.ID),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// openStore returns the gateway for cfg.Driver, its health checker and a
// closer.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (backend, api.Pinger, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		s := postgres.New(pool)
		return s, s, pool.Close, nil
	case config.DriverMemory:
		return memory.New(), nil, func() {}, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, func() { s.Close() }, nil
	}
}

func bootstrapAdmin(ctx context.Context, w io.Writer, svc *absence.Service, tokens *api.Tokens, username string) error {
	users, err := svc.ListUsers(ctx)
	if err != nil {
		return err
	}

	var admin absence.User
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			admin = u
			break
		}
	}
	if admin.ID == "" {
		if admin, err = svc.CreateUser(ctx, absence.Actor{}, username, username+"@localhost", absence.RoleAdmin); err != nil {
			return err
		}
	} else if admin.Role != absence.RoleAdmin {
		return fmt.Errorf("user %s exists with role %s", username, admin.Role)
	}

	token, err := tokens.Issue(admin, api.DefaultTokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "admin %s (%s)\n%s\n", admin.Username, admin.ID, token)
	return nil
}

func mintToken(ctx context.Context, w io.Writer, svc *absence.Service, tokens *api.Tokens, userID string) error {
	u, err := svc.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(u, api.DefaultTokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, token)
	return nil
}
