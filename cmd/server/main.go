/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lesson scheduling engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, .env, environment, flags)
  2. Initialize structured logging
  3. Initialize SQLite store
  4. Build the scheduler, the hybrid engine and the reminder trigger
  5. Start the reminder loop (unless disabled)
  6. Configure HTTP router
  7. Start server with graceful shutdown

CONFIGURATION:
  See config/config.go for every flag and LESSONS_* variable.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reminder loop
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server --db=./data/lessons.db

  # Run with in-memory database and no reminder loop
  ./server --db=":memory:" --reminders=false

  # School in London, reminders 3 days and 1 day before the deadline
  LESSONS_TIMEZONE=Europe/London ./server --reminder-offsets=72h,24h

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata" // IANA zones for LESSONS_TIMEZONE on hosts without zoneinfo

	"github.com/warp/lesson-engine/api"
	"github.com/warp/lesson-engine/config"
	"github.com/warp/lesson-engine/hybrid"
	"github.com/warp/lesson-engine/reminders"
	"github.com/warp/lesson-engine/scheduling"
	"github.com/warp/lesson-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Services
	notifier := reminders.NewLogNotifier(logger.With("component", "notifier"))

	engine := hybrid.NewEngine(store)
	engine.Location = cfg.Location
	engine.Logger = logger.With("component", "hybrid")

	scheduler := scheduling.NewScheduler(store, notifier)
	scheduler.Location = cfg.Location
	scheduler.Logger = logger.With("component", "scheduler")

	trigger := reminders.NewTrigger(engine, notifier)
	trigger.Logger = logger.With("component", "reminders")

	if cfg.Reminders {
		loop := reminders.NewLoop(trigger, store)
		loop.Interval = cfg.ReminderInterval
		loop.Offsets = cfg.ReminderOffsets
		loop.Logger = trigger.Logger
		loop.Start()
		defer loop.Stop()
	}

	handler := api.NewHandler(store, scheduler, engine, trigger)
	handler.Logger = logger.With("component", "api")

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "db", cfg.DBPath, "timezone", cfg.Timezone,
			"reminders", cfg.Reminders)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
