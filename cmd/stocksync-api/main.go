package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"stocksync/internal/config"
	server "stocksync/internal/http"
	"stocksync/internal/importer"
	"stocksync/internal/migrate"
	"stocksync/internal/scheduler"
	"stocksync/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// Create a shared *sql.DB with pooling for the Store
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)

	// Ensure initial admin API key if configured
	if cfg.Auth.Enabled && cfg.Auth.InitialAdminKey != "" {
		if _, err := st.EnsureAdminAPIKey(context.Background(), cfg.Auth.InitialAdminKey, "initial-admin"); err != nil {
			log.Fatalf("ensure admin api key failed: %v", err)
		}
	}

	// Set up logger
	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proc := importer.New(cfg, st, logger.Named("importer"))
	sched := scheduler.New(scheduler.Config{
		PollInterval:      time.Duration(cfg.Scheduler.PollIntervalMs) * time.Millisecond,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		MaxRetries:        cfg.Scheduler.MaxRetries,
	}, st, proc, logger.Named("scheduler"))

	startWorker := func() {
		sched.Start(rootCtx)
		scheduler.StartRetention(rootCtx, cfg, st, logger.Named("retention"))
	}

	switch *role {
	case "api":
		// API-only: enqueue and observe jobs, never run them.
		s := server.NewServer(cfg, st, sched, logger.Named("http"))
		go func() {
			<-rootCtx.Done()
			_ = s.Shutdown()
		}()
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case "worker":
		// Worker-only: run jobs and block until shutdown.
		startWorker()
		<-rootCtx.Done()
		shutdownScheduler(sched, logger)
	case "all":
		// Default: run both API and worker in one process.
		startWorker()
		s := server.NewServer(cfg, st, sched, logger.Named("http"))
		go func() {
			<-rootCtx.Done()
			shutdownScheduler(sched, logger)
			_ = s.Shutdown()
		}()
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	default:
		log.Fatalf("invalid role: %s (expected api|worker|all)", *role)
	}
}

// shutdownScheduler signals cancellation and gives in-flight runners a
// bounded window to persist their final state before the process exits.
func shutdownScheduler(sched *scheduler.Scheduler, logger *zap.SugaredLogger) {
	sched.Stop()

	deadline := time.After(10 * time.Second)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for sched.ActiveJobs() > 0 {
		select {
		case <-deadline:
			logger.Warnw("shutdown grace period elapsed with jobs still finishing",
				"active_jobs", sched.ActiveJobs())
			return
		case <-ticker.C:
		}
	}
}
