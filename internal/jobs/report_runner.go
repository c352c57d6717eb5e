// report_runner.go implements the ReportRunner background job, which polls the job
// queue for a due report send. The pending job is claimed atomically before the report
// is sent, so when several instances share a Redis queue exactly one of them fires it.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/safego"
)

// ReportScheduler is the part of *scheduler.Scheduler the runner drives.
type ReportScheduler interface {
	ClaimDue(ctx context.Context) (bool, error)
	Fire(ctx context.Context) error
	RestoreIfMissing(ctx context.Context) (bool, error)
}

// ReportRunner fires the scheduled report when it comes due.
type ReportRunner struct {
	scheduler ReportScheduler
	interval  time.Duration
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewReportRunner creates a ReportRunner that polls every interval (default 1m).
func NewReportRunner(s ReportScheduler, interval time.Duration) *ReportRunner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReportRunner{
		scheduler: s,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start runs the poll loop until ctx is cancelled or Stop is called. It
// checks once immediately so a send that came due while the service was
// down goes out on startup.
func (r *ReportRunner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("report runner started", "interval", r.interval)
	r.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopChan:
			slog.Info("report runner stopped")
			return
		case <-ctx.Done():
			slog.Info("report runner context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (r *ReportRunner) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

// RunOnce claims and fires the report if it is due. It reports whether a
// report was fired. When nothing is due it re-creates the pending job if
// the schedule is enabled but the queue lost it.
func (r *ReportRunner) RunOnce(ctx context.Context) bool {
	claimed, err := r.scheduler.ClaimDue(ctx)
	if err != nil {
		slog.Error("report runner: claim failed", "error", err)
		return false
	}
	if !claimed {
		if restored, err := r.scheduler.RestoreIfMissing(ctx); err != nil {
			slog.Warn("report runner: schedule check failed", "error", err)
		} else if restored {
			slog.Info("report runner: restored missing report job")
		}
		return false
	}
	if err := safego.Run("report-runner", func() error { return r.scheduler.Fire(ctx) }); err != nil {
		slog.Error("report runner: scheduled send failed", "error", err)
	}
	return true
}
