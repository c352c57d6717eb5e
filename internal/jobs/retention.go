// retention.go implements the RetentionJob, which deletes audit entries older than the
// configured retention period once a day. When archiving is enabled the entries are
// first written as a CSV to archive storage; a failed upload skips that day's purge so
// nothing is deleted without a copy.
package jobs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/repositories"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/export"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/safego"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/storage"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/telemetry"
)

// AuditPurger is the part of the audit store the retention job needs.
type AuditPurger interface {
	Query(ctx context.Context, filter repositories.AuditFilter, order repositories.AuditOrder, limit, offset int) ([]models.AuditLogEntry, error)
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettingsSource yields the current audit policy.
type SettingsSource interface {
	Get(ctx context.Context) (models.AuditSettings, error)
}

// RetentionJob purges expired audit entries daily at a fixed hour.
type RetentionJob struct {
	store              AuditPurger
	settings           SettingsSource
	archiver           *storage.Archiver
	archiveBeforePurge bool
	hour               int
	now                func() time.Time
	stopChan           chan struct{}
	stopOnce           sync.Once
}

// NewRetentionJob creates a RetentionJob that runs at hour (0-23, process
// local time until SetLocation is called). archiver may be nil; it is only used when archiveBeforePurge is set.
func NewRetentionJob(store AuditPurger, settings SettingsSource, archiver *storage.Archiver, archiveBeforePurge bool, hour int) *RetentionJob {
	if hour < 0 || hour > 23 {
		hour = 3
	}
	return &RetentionJob{
		store:              store,
		settings:           settings,
		archiver:           archiver,
		archiveBeforePurge: archiveBeforePurge,
		hour:               hour,
		now:                time.Now,
		stopChan:           make(chan struct{}),
	}
}

// SetLocation makes the purge hour a wall-clock hour in loc. Call before Start.
func (j *RetentionJob) SetLocation(loc *time.Location) {
	j.now = func() time.Time { return time.Now().In(loc) }
}

// nextRun returns the first occurrence of the purge hour strictly after t.
func (j *RetentionJob) nextRun(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), j.hour, 0, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start sleeps until each day's purge hour and runs the purge, until ctx is
// cancelled or Stop is called.
func (j *RetentionJob) Start(ctx context.Context) {
	slog.Info("retention job started", "hour", j.hour, "archive_before_purge", j.archiveBeforePurge)
	for {
		wait := j.nextRun(j.now()).Sub(j.now())
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			err := safego.Run("retention", func() error {
				_, err := j.RunOnce(ctx)
				return err
			})
			if err != nil {
				slog.Error("retention job: run failed", "error", err)
			}
		case <-j.stopChan:
			timer.Stop()
			slog.Info("retention job stopped")
			return
		case <-ctx.Done():
			timer.Stop()
			slog.Info("retention job context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (j *RetentionJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
}

// RunOnce purges entries older than the configured retention and returns
// how many were deleted. A retention of 0 days keeps everything.
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	cfg, err := j.settings.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}
	if cfg.RetentionDays <= 0 {
		slog.Debug("retention disabled, nothing purged")
		return 0, nil
	}
	cutoff := j.now().AddDate(0, 0, -cfg.RetentionDays)

	if j.archiveBeforePurge {
		if err := j.archive(ctx, cutoff); err != nil {
			return 0, fmt.Errorf("archive before purge, purge skipped: %w", err)
		}
	}

	n, err := j.store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	telemetry.AuditEntriesPurgedTotal.Add(float64(n))
	slog.Info("audit entries purged", "count", n, "cutoff", cutoff, "retention_days", cfg.RetentionDays)
	return n, nil
}

func (j *RetentionJob) archive(ctx context.Context, cutoff time.Time) error {
	if !j.archiver.Enabled() {
		return fmt.Errorf("no archive storage configured")
	}
	entries, err := j.store.Query(ctx, repositories.AuditFilter{Before: &cutoff},
		repositories.AuditOrder{Field: "occurred_at", Direction: "asc"}, 0, 0)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := export.WriteAuditLog(&buf, entries); err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	res, err := j.archiver.Put(ctx, storage.KindAuditLog, buf.Bytes())
	if err != nil {
		return err
	}
	telemetry.AuditEntriesArchivedTotal.Add(float64(len(entries)))
	slog.Info("audit entries archived", "count", len(entries), "path", res.Path, "sha256", res.Checksum)
	return nil
}
