/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fee engine HTTP server and the nightly
  generation schedule. Handles configuration, dependency injection, and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, FEES_* environment)
  2. Build logger, store, lock, metrics and engine (app.New)
  3. Start the generation scheduler
  4. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     Path of an optional .env file (default: .env)

ENVIRONMENT:
  FEES_HTTP_PORT, FEES_DB_DRIVER, FEES_DB_DSN, FEES_REDIS_URL,
  FEES_GENERATION_SCHEDULE, FEES_GENERATION_SCHOOLS,
  FEES_CALCULATION_STRATEGY (required), FEES_LOG_LEVEL, FEES_LOG_FORMAT.
  See config/config.go for the full list and defaults.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler, waiting for an in-flight run
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the database and redis connections

SEE ALSO:
  - app/app.go: Component wiring
  - api/server.go: Router configuration
*/
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

	"github.com/sirupsen/logrus"

	"github.com/warp/fee-engine/api"
	"github.com/warp/fee-engine/app"
	"github.com/warp/fee-engine/config"
)

func main() {
	envPath := flag.String("env", "", "Path of an optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log, err := cfg.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("invalid log configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize engine")
	}
	defer engine.Close()

	if len(cfg.Schools) > 0 {
		if err := engine.Scheduler.Start(); err != nil {
			log.WithError(err).Fatal("failed to start generation scheduler")
		}
	} else {
		log.Warn("no schools configured, scheduled generation disabled")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.NewRouter(engine.Handler, engine.RouterOptions()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	engine.Scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
		engine.Close()
		os.Exit(1)
	}

	log.Info("server stopped")
}
