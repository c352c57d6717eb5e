// Package scheduler keeps at most one pending report job and reschedules it
// after each send.
//
// There is no persisted "next run" field: the pending job in the JobQueue is
// the whole schedule state. Clearing and scheduling are separate queue calls,
// so two concurrent saves can briefly leave duplicates; clear loops until the
// queue is empty, which converges them on the next change.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// maxClearPasses bounds the clear loop against a queue that keeps refilling.
const maxClearPasses = 10

// ReportSender delivers one report. trigger is recorded for metrics.
type ReportSender interface {
	Send(ctx context.Context, trigger string) error
}

// SettingsSource yields the current audit policy.
type SettingsSource interface {
	Get(ctx context.Context) (models.AuditSettings, error)
}

// Status describes the schedule as seen from the queue.
type Status struct {
	Pending bool      `json:"pending"`
	DueAt   time.Time `json:"due_at,omitzero"`
}

// Display renders the due time the way the settings page shows it, or ""
// when nothing is pending.
func (s Status) Display() string {
	if !s.Pending {
		return ""
	}
	return s.DueAt.Format(StatusLayout)
}

// Scheduler drives the report job through Unscheduled and Pending.
type Scheduler struct {
	queue    JobQueue
	settings SettingsSource
	sender   ReportSender
	now      func() time.Time

	mu       sync.Mutex
	lastFreq models.Frequency
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns a Scheduler.
func New(queue JobQueue, settings SettingsSource, sender ReportSender, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:    queue,
		settings: settings,
		sender:   sender,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clear removes every pending report job.
func (s *Scheduler) Clear(ctx context.Context) error {
	for range maxClearPasses {
		if _, err := s.queue.CancelAll(ctx, ReportJobKey); err != nil {
			return err
		}
		_, pending, err := s.queue.Peek(ctx, ReportJobKey)
		if err != nil {
			return err
		}
		if !pending {
			return nil
		}
	}
	return fmt.Errorf("report job still pending after %d clear passes", maxClearPasses)
}

// Enable clears any pending job and schedules the next one for freq.
// Changing the frequency goes through Enable as well.
func (s *Scheduler) Enable(ctx context.Context, freq models.Frequency) (time.Time, error) {
	if err := s.Clear(ctx); err != nil {
		return time.Time{}, err
	}
	s.remember(freq)
	due := NextDue(freq, s.now())
	if err := s.queue.ScheduleOnce(ctx, ReportJobKey, due); err != nil {
		return time.Time{}, err
	}
	slog.Info("report scheduled", "frequency", freq, "due_at", due)
	return due, nil
}

// Disable clears every pending job.
func (s *Scheduler) Disable(ctx context.Context) error {
	if err := s.Clear(ctx); err != nil {
		return err
	}
	slog.Info("report schedule cleared")
	return nil
}

// Status reports the earliest pending job, in the scheduler clock's location.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	at, pending, err := s.queue.Peek(ctx, ReportJobKey)
	if err != nil {
		return Status{}, err
	}
	if pending {
		at = at.In(s.now().Location())
	}
	return Status{Pending: pending, DueAt: at}, nil
}

func (s *Scheduler) remember(freq models.Frequency) {
	s.mu.Lock()
	s.lastFreq = freq
	s.mu.Unlock()
}

// lastFrequency is the frequency of the last job scheduled by this process,
// monthly when none has been.
func (s *Scheduler) lastFrequency() models.Frequency {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFreq == "" {
		return models.FrequencyMonthly
	}
	return s.lastFreq
}

// Fire sends the report and then, whatever the send outcome, schedules the
// next run if the schedule is still enabled. When the settings cannot be read
// the job that was just claimed is replaced using the last known frequency,
// so a transient storage error never leaves an enabled schedule without a
// pending job. The send error and any rescheduling error are both returned.
func (s *Scheduler) Fire(ctx context.Context) error {
	sendErr := s.sender.Send(ctx, "scheduled")
	if sendErr != nil {
		slog.Error("scheduled report failed", "error", sendErr)
	} else {
		slog.Info("scheduled report sent")
	}

	freq := s.lastFrequency()
	cfg, settingsErr := s.settings.Get(ctx)
	if settingsErr != nil {
		settingsErr = fmt.Errorf("load settings for reschedule: %w", settingsErr)
		slog.Warn("rescheduling with last known frequency", "frequency", freq, "error", settingsErr)
	} else {
		if !cfg.ScheduleEnabled {
			return sendErr
		}
		freq = cfg.ScheduleFrequency
	}

	// A save that landed while the report was sending may have queued its
	// own job; replace it rather than keep both.
	if err := s.Clear(ctx); err != nil {
		return errors.Join(sendErr, settingsErr, fmt.Errorf("clear before reschedule: %w", err))
	}
	s.remember(freq)
	due := NextDue(freq, s.now())
	if err := s.queue.ScheduleOnce(ctx, ReportJobKey, due); err != nil {
		return errors.Join(sendErr, settingsErr, fmt.Errorf("reschedule report: %w", err))
	}
	slog.Info("next report scheduled", "due_at", due)
	return errors.Join(sendErr, settingsErr)
}

// RestoreIfMissing schedules a job when the schedule is enabled but the
// queue is empty, as after a restart with an in-memory queue. It reports
// whether a job was added.
func (s *Scheduler) RestoreIfMissing(ctx context.Context) (bool, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return false, err
	}
	if !cfg.ScheduleEnabled {
		return false, nil
	}
	_, pending, err := s.queue.Peek(ctx, ReportJobKey)
	if err != nil {
		return false, err
	}
	if pending {
		return false, nil
	}
	if _, err := s.Enable(ctx, cfg.ScheduleFrequency); err != nil {
		return false, err
	}
	return true, nil
}

// ClaimDue pops the pending job when it is due. Runners call Fire only when
// this returns true.
func (s *Scheduler) ClaimDue(ctx context.Context) (bool, error) {
	_, claimed, err := s.queue.Claim(ctx, ReportJobKey, s.now())
	return claimed, err
}
