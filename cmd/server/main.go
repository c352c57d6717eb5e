// Package main is the entry point for the user audit scheduler binary.
// Subcommands are dispatched with a switch on os.Args so the full CLI surface
// is readable in one place. serve runs migrations on startup so a fresh
// deployment needs no separate migration step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/api"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/auth"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/config"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/events"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/jobs"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/middleware"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/safego"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/services"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/telemetry"
)

const (
	version = "0.1.0"

	usage = `usage: %s <command>

Commands:
  serve              run the HTTP API, event subscriber and background jobs (default)
  migrate <up|down>  apply or roll back database migrations
  purge              delete audit entries older than the retention period now
  send-report        build and email the privileged user report now
  deactivate         cancel scheduled reports and disable the schedule
  uninstall          cancel scheduled reports and drop all stored data
  version            print the version`
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "version":
		fmt.Printf("User Audit Scheduler v%s\n", version)
		return nil
	case "help", "-h", "--help":
		fmt.Printf(usage+"\n", os.Args[0])
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")

	if command == "serve" {
		return serve(configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "purge":
		return withApp(ctx, cfg, runPurge)
	case "send-report":
		return withApp(ctx, cfg, runSendReport)
	case "deactivate":
		return withApp(ctx, cfg, func(ctx context.Context, a *app) error {
			return a.settings.Deactivate(ctx)
		})
	case "uninstall":
		return withApp(ctx, cfg, runUninstall)
	default:
		return fmt.Errorf("unknown command: %s\n"+usage, command, os.Args[0])
	}
}

// withApp builds the component graph, runs fn and tears it down again.
func withApp(ctx context.Context, cfg *config.Config, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func serve(configPath string) error {
	cfg, err := config.Watch(configPath, func(next *config.Config) {
		// Only the log level is applied live; everything else needs a restart.
		telemetry.SetLevel(next.Logging.Level)
		slog.Info("configuration reloaded", "log_level", next.Logging.Level)
	}, func(err error) {
		slog.Warn("ignoring invalid configuration change", "error", err)
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"name", cfg.Database.Name, "sslmode", cfg.Database.SSLMode)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := db.RunMigrations(a.db.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(a.db.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	telemetry.StartDBStatsCollector(ctx, a.db.DB)

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	if cfg.Auth.IngestAPIKeyHash == "" {
		slog.Warn("auth.ingest_api_key_hash is not set, POST /api/v1/events will answer 503")
	}

	// A restart with the in-memory queue loses the pending job.
	if restored, err := a.scheduler.RestoreIfMissing(ctx); err != nil {
		slog.Error("failed to restore report schedule", "error", err)
	} else if restored {
		slog.Info("report schedule restored")
	}

	var limiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		rlCfg := middleware.RateLimitConfigFrom(cfg.Security.RateLimiting)
		if a.redis != nil {
			limiter = middleware.NewRedisLimiter(a.redis, rlCfg)
		} else {
			memLimiter := middleware.NewRateLimiter(rlCfg)
			defer memLimiter.Stop()
			limiter = memLimiter
		}
	}

	api.Version = version
	router := api.NewRouter(cfg, api.Dependencies{
		DB:       a.db,
		Redis:    a.redis,
		Tokens:   tokens,
		Limiter:  limiter,
		Logs:     a.auditRepo,
		Snapshot: a.reports,
		Settings: a.settings,
		Reports:  a.reports,
		Roles:    a.roleRepo,
		Archives: a.archiver,
		Events:   a.dispatcher,
	})

	runner := jobs.NewReportRunner(a.scheduler, cfg.Jobs.ReportPollInterval)
	retention := jobs.NewRetentionJob(a.auditRepo, a.settingsRepo, a.archiver, cfg.Jobs.ArchiveBeforePurge, cfg.Jobs.PurgeHour)
	retention.SetLocation(cfg.Server.Location())
	safego.Go("report-runner", func() { runner.Start(ctx) })
	safego.Go("retention", func() { retention.Start(ctx) })

	if a.redis != nil {
		sub := events.NewRedisSubscriber(a.redis, cfg.Redis.EventsChannel, a.dispatcher)
		safego.Go("event-subscriber", func() {
			if err := sub.Run(ctx); err != nil {
				slog.Error("event subscriber stopped", "error", err)
			}
		})
	}

	var metricsServer *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		safego.Go("metrics-server", func() {
			slog.Info("starting Prometheus metrics server", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	safego.Go("http-server", func() {
		slog.Info("starting server",
			"addr", server.Addr,
			"timezone", cfg.Server.Location().String(),
			"redis", a.redis != nil,
			"tls", cfg.Security.TLS.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	slog.Info("shutting down server")

	runner.Stop()
	retention.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", v, "dirty", dirty)
	return nil
}

func runPurge(ctx context.Context, a *app) error {
	job := jobs.NewRetentionJob(a.auditRepo, a.settingsRepo, a.archiver, a.cfg.Jobs.ArchiveBeforePurge, a.cfg.Jobs.PurgeHour)
	job.SetLocation(a.cfg.Server.Location())
	n, err := job.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}
	fmt.Printf("Purged %d audit entries\n", n)
	return nil
}

func runSendReport(ctx context.Context, a *app) error {
	if err := a.reports.Send(ctx, "cli"); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	fmt.Println("Report sent")
	return nil
}

func runUninstall(ctx context.Context, a *app) error {
	if len(os.Args) < 3 || os.Args[2] != "--yes" {
		return fmt.Errorf("uninstall drops every table; rerun as: %s uninstall --yes", os.Args[0])
	}
	return services.Uninstall(ctx, a.scheduler, func() error {
		return db.RunMigrations(a.db.DB, "down")
	})
}
