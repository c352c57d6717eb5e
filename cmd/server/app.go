package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/config"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/repositories"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/events"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/forward"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/policy"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/recorder"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/report"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/scheduler"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/services"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/storage"

	// Import storage backends to register them
	_ "github.com/user-audit-scheduler/user-audit-scheduler/internal/storage/azure"
	_ "github.com/user-audit-scheduler/user-audit-scheduler/internal/storage/gcs"
	_ "github.com/user-audit-scheduler/user-audit-scheduler/internal/storage/local"
	_ "github.com/user-audit-scheduler/user-audit-scheduler/internal/storage/s3"
)

// app holds every long-lived component. Each subcommand builds one and uses
// the parts it needs.
type app struct {
	cfg   *config.Config
	db    *sqlx.DB
	redis redis.UniversalClient

	auditRepo     *repositories.AuditRepository
	directoryRepo *repositories.DirectoryRepository
	settingsRepo  *repositories.SettingsRepository
	roleRepo      *repositories.RoleRepository

	archiver   *storage.Archiver
	forwarder  *forward.Fanout
	reports    *report.Service
	scheduler  *scheduler.Scheduler
	settings   *services.SettingsService
	dispatcher *events.Dispatcher
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &app{
		cfg:           cfg,
		db:            database,
		auditRepo:     repositories.NewAuditRepository(database),
		directoryRepo: repositories.NewDirectoryRepository(database),
		settingsRepo:  repositories.NewSettingsRepository(database),
		roleRepo:      repositories.NewRoleRepository(database),
	}

	var queue scheduler.JobQueue
	if cfg.Redis.Enabled() {
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		queue = scheduler.NewRedisQueue(a.redis, "uas:jobs:")
		slog.Info("using redis job queue", "addr", cfg.Redis.Addr)
	} else {
		queue = scheduler.NewMemoryQueue()
		slog.Warn("redis not configured, report schedule is held in memory and restored on startup")
	}

	backend, err := storage.NewStorage(cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	a.archiver = storage.NewArchiver(backend, cfg.Storage.Prefix)
	slog.Info("archive storage", "backend", cfg.Storage.DefaultBackend, "enabled", a.archiver.Enabled())

	a.forwarder, err = forward.New(cfg.Forwarding)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize audit forwarding: %w", err)
	}
	var auditStore recorder.AuditStore = a.auditRepo
	if a.forwarder.Enabled() {
		auditStore = forward.NewStore(a.auditRepo, a.forwarder)
		slog.Info("audit forwarding enabled",
			"webhook", cfg.Forwarding.Webhook.URL != "", "file", cfg.Forwarding.File.Path)
	}

	rolePolicy := policy.New(a.roleRepo)
	roleFormatter := recorder.NewRoleFormatter(a.roleRepo)
	rec := recorder.New(auditStore, a.settingsRepo, a.directoryRepo, policy.NewClassifier(rolePolicy), roleFormatter)
	a.dispatcher = events.NewDispatcher(a.directoryRepo, rec)

	builder := report.NewBuilder(a.auditRepo, a.directoryRepo, rolePolicy, roleFormatter, cfg.Jobs.ReportWindowDays, cfg.Roles.HighestPrivilege)
	renderer, err := report.NewRenderer()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load report template: %w", err)
	}
	a.reports = report.NewService(a.settingsRepo, builder, renderer, report.NewSMTPNotifier(cfg.Notifications.SMTP), a.archiver)

	loc := cfg.Server.Location()
	a.scheduler = scheduler.New(queue, a.settingsRepo, a.reports, scheduler.WithClock(func() time.Time {
		return time.Now().In(loc)
	}))
	a.settings = services.NewSettingsService(a.settingsRepo, a.scheduler)

	return a, nil
}

func (a *app) close() {
	if a.forwarder != nil {
		if err := a.forwarder.Close(); err != nil {
			slog.Warn("closing audit forwarding", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("closing redis client", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("closing database", "error", err)
	}
}
