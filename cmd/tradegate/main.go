package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradegate/internal/api"
	"tradegate/internal/audit"
	"tradegate/internal/auth"
	"tradegate/internal/cache"
	"tradegate/internal/collab"
	"tradegate/internal/command"
	"tradegate/internal/config"
	"tradegate/internal/logging"
	"tradegate/internal/monitoring"
	"tradegate/internal/scheduler"
	"tradegate/internal/status"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Configuration file path")
	flag.Parse()

	// Local overrides for development; missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logging.SetGlobal(logger)
	logging.Infof("Starting tradegate %s (%s)", cfg.App.Version, cfg.App.Env)

	creds, err := auth.NewCredentialStore(cfg.Auth.APIKeys)
	if err != nil {
		logging.Fatalf("Failed to load API keys: %v", err)
	}
	tokens := auth.NewJWTManager(cfg.Auth.JWT.SecretKey, cfg.Auth.JWT.Duration)

	// Collaborator bindings.
	process := collab.NewExecController(cfg.Collaborators.Commands)
	logs := collab.NewFileLogStore(cfg.Collaborators.LogFile, cfg.Collaborators.MaxLogLines)
	signalFile := collab.NewFileSignalProvider(cfg.Collaborators.SignalFile)
	backup := collab.NewExecBackupRunner(cfg.Collaborators.Commands.Backup)
	configStore := collab.NewFileConfigStore(cfg.Collaborators.ConfigFile)

	dataCache := newCache(cfg)
	defer dataCache.Close()

	metrics := monitoring.NewMetrics()
	collector := status.NewCollector(process, status.NewProber(""),
		cfg.Status.TTL, cfg.Status.ProbeTimeout, status.WithMetrics(metrics))
	signals := status.NewSignalService(signalFile, dataCache, cfg.Cache.SignalTTL)

	recorder := newAuditRecorder(cfg)
	defer recorder.Close()

	registry := command.NewRegistry()
	command.RegisterBuiltin(registry, command.BuiltinDeps{
		Process: process,
		Signals: signals,
		Logs:    logs,
		Backup:  backup,
		Config:  configStore,
	})

	executor := command.NewExecutor(registry, cfg.Command.ExecutionTimeout,
		command.WithCacheInvalidator(collector.Invalidate),
		command.WithAuditSink(recorder),
		command.WithMetrics(metrics),
	)

	sched := scheduler.New(executor)
	if cfg.Backup.Schedule != "" {
		if err := sched.ScheduleCommand(cfg.Backup.Schedule, "backup_data", nil); err != nil {
			logging.Fatalf("Failed to schedule backups: %v", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	server := api.NewServer(cfg, api.Deps{
		Credentials: creds,
		Tokens:      tokens,
		Executor:    executor,
		Collector:   collector,
		Signals:     signals,
		Logs:        logs,
		Audit:       recorder,
		Metrics:     metrics,
	})

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logging.Infof("Received signal %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logging.Errorf("Shutdown error: %v", err)
	}
	logging.Info("Gateway stopped")
}

// newCache selects the configured cache backend, degrading to memory when
// Redis is unreachable so the gateway still starts.
func newCache(cfg *config.Config) cache.Cache {
	if cfg.Cache.Backend == "redis" {
		rc, err := cache.NewRedisCache(&cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		if err == nil {
			return rc
		}
		logging.WithError(err).Warn("Redis unavailable, falling back to in-memory cache")
	}
	return cache.NewMemoryCache()
}

// newAuditRecorder prefers the durable store when a DSN is configured,
// degrading to the in-memory ring when the database is unreachable.
func newAuditRecorder(cfg *config.Config) *audit.Recorder {
	if cfg.Audit.Enabled && cfg.Audit.DSN != "" {
		store, err := audit.NewPostgresStore(cfg.Audit.DSN)
		if err == nil {
			logging.Info("Audit trail backed by PostgreSQL")
			return audit.NewRecorder(store)
		}
		logging.WithError(err).Warn("Audit database unavailable, falling back to in-memory trail")
	}
	return audit.NewRecorder(audit.NewMemoryStore(cfg.Audit.MemoryCapacity))
}
