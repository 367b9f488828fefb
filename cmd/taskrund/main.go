// Command taskrund is the coordination kernel's composition-root binary: it
// loads configuration, wires storage, and runs the module registry and
// execution dispatcher until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	app "github.com/atomrun/kernel/internal/app"
	"github.com/atomrun/kernel/internal/config"
	"github.com/atomrun/kernel/internal/diagnostics"
	"github.com/atomrun/kernel/internal/platform/database"
	"github.com/atomrun/kernel/internal/platform/migrations"
	"github.com/atomrun/kernel/internal/storage"
	"github.com/atomrun/kernel/internal/storage/postgres"
	"github.com/atomrun/kernel/pkg/logger"
)

func main() {
	envFile := flag.String("env-file", ".env", "path to an optional .env file")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides DATABASE_URL; in-memory storage when empty)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	dsnVal := resolveDSN(*dsn, cfg)

	var stores storage.Stores
	var db *sql.DB

	if dsnVal != "" {
		rootCtx := context.Background()
		db, err = database.Open(rootCtx, dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		if *runMigrations {
			if err := migrations.Apply(db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		store := postgres.New(db)
		stores = storage.Stores{Modules: store, Assets: store, Tasks: store}
	}
	if db != nil {
		defer db.Close()
	}

	application, err := app.New(cfg, stores, log)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	var pinger diagnostics.Pinger
	if db != nil {
		pinger = db
	}
	diagServer := &http.Server{
		Addr:    cfg.DiagnosticsAddr,
		Handler: diagnostics.Router(application.Metrics, pinger, application.Descriptors),
	}
	go func() {
		if err := diagServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("diagnostics server stopped unexpectedly")
		}
	}()

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	log.Infof("coordination kernel running; diagnostics on %s", cfg.DiagnosticsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := diagServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("diagnostics server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(cfg.DatabaseURL)
}
