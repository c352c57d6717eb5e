// Package services coordinates the settings store, the report scheduler and the
// schema lifecycle. Saving settings is the only path that turns the report schedule
// on or off, so the schedule and the stored flag cannot drift apart through the API.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/scheduler"
)

// ErrInvalidSettings is returned for settings that cannot be saved.
var ErrInvalidSettings = errors.New("invalid settings")

// SettingsStore persists the audit policy.
type SettingsStore interface {
	Get(ctx context.Context) (models.AuditSettings, error)
	Save(ctx context.Context, s models.AuditSettings) error
	SetScheduleEnabled(ctx context.Context, enabled bool) error
}

// ReportSchedule is the part of *scheduler.Scheduler settings changes drive.
type ReportSchedule interface {
	Enable(ctx context.Context, freq models.Frequency) (time.Time, error)
	Disable(ctx context.Context) error
	Status(ctx context.Context) (scheduler.Status, error)
}

// ScheduleOutcome says what a save did to the report schedule.
type ScheduleOutcome string

const (
	ScheduleUnchanged ScheduleOutcome = "unchanged"
	ScheduleEnabled   ScheduleOutcome = "enabled"
	ScheduleUpdated   ScheduleOutcome = "updated"
	ScheduleRestored  ScheduleOutcome = "restored"
	ScheduleDisabled  ScheduleOutcome = "disabled"
)

// SettingsInput is a full replacement of the editable settings.
// An empty ScheduleFrequency keeps the stored one; any other value that is
// not a known frequency is saved as monthly.
type SettingsInput struct {
	IncludedRoles     []string `json:"included_roles"`
	RetentionDays     int      `json:"retention_days"`
	ScheduleEnabled   bool     `json:"schedule_enabled"`
	ScheduleFrequency string   `json:"schedule_frequency"`
	EmailRecipients   string   `json:"email_recipients"`
	EmailSubject      string   `json:"email_subject"`
}

// SaveResult is returned by Update.
type SaveResult struct {
	Settings models.AuditSettings `json:"settings"`
	Outcome  ScheduleOutcome      `json:"schedule_outcome"`
	Schedule scheduler.Status     `json:"schedule"`
	Message  string               `json:"message,omitempty"`
}

// SettingsService saves settings and keeps the report schedule in step.
type SettingsService struct {
	store    SettingsStore
	schedule ReportSchedule
}

// NewSettingsService creates a SettingsService.
func NewSettingsService(store SettingsStore, schedule ReportSchedule) *SettingsService {
	return &SettingsService{store: store, schedule: schedule}
}

// Get returns the stored settings.
func (s *SettingsService) Get(ctx context.Context) (models.AuditSettings, error) {
	return s.store.Get(ctx)
}

// Schedule returns the pending report job, if any.
func (s *SettingsService) Schedule(ctx context.Context) (scheduler.Status, error) {
	return s.schedule.Status(ctx)
}

// Update saves in and then applies the schedule change:
//   - enabling schedules the next send
//   - changing the frequency while enabled reschedules
//   - saving while enabled with no pending job restores it
//   - disabling clears every pending job
//
// The settings are saved before the schedule is touched; a schedule error
// is returned with the saved settings in the result.
func (s *SettingsService) Update(ctx context.Context, in SettingsInput) (SaveResult, error) {
	if in.RetentionDays < 0 {
		return SaveResult{}, fmt.Errorf("%w: retention_days must not be negative", ErrInvalidSettings)
	}

	old, err := s.store.Get(ctx)
	if err != nil {
		return SaveResult{}, err
	}

	next := models.AuditSettings{
		IncludedRoles:     cleanRoles(in.IncludedRoles),
		RetentionDays:     in.RetentionDays,
		ScheduleEnabled:   in.ScheduleEnabled,
		ScheduleFrequency: old.ScheduleFrequency,
		EmailRecipients:   strings.TrimSpace(in.EmailRecipients),
		EmailSubject:      singleLine(in.EmailSubject),
	}
	if strings.TrimSpace(in.ScheduleFrequency) != "" {
		freq, err := models.ParseFrequency(in.ScheduleFrequency)
		if err != nil {
			slog.Warn("invalid schedule frequency, using monthly", "value", in.ScheduleFrequency)
			freq = models.FrequencyMonthly
		}
		next.ScheduleFrequency = freq
	}
	if next.ScheduleFrequency == "" {
		next.ScheduleFrequency = models.FrequencyMonthly
	}

	if err := s.store.Save(ctx, next); err != nil {
		return SaveResult{}, err
	}
	saved, err := s.store.Get(ctx)
	if err != nil {
		saved = next
	}
	res := SaveResult{Settings: saved, Outcome: ScheduleUnchanged}

	switch {
	case next.ScheduleEnabled:
		status, err := s.schedule.Status(ctx)
		if err != nil {
			return res, fmt.Errorf("read schedule: %w", err)
		}
		switch {
		case !old.ScheduleEnabled:
			res.Outcome = ScheduleEnabled
		case old.ScheduleFrequency != next.ScheduleFrequency:
			res.Outcome = ScheduleUpdated
		case !status.Pending:
			res.Outcome = ScheduleRestored
		default:
			res.Schedule = status
			return res, nil
		}
		due, err := s.schedule.Enable(ctx, next.ScheduleFrequency)
		if err != nil {
			return res, fmt.Errorf("schedule report: %w", err)
		}
		res.Schedule = scheduler.Status{Pending: true, DueAt: due}
		res.Message = outcomeMessage(res.Outcome, res.Schedule.Display())

	default:
		if err := s.schedule.Disable(ctx); err != nil {
			return res, fmt.Errorf("clear schedule: %w", err)
		}
		if old.ScheduleEnabled {
			res.Outcome = ScheduleDisabled
			res.Message = outcomeMessage(res.Outcome, "")
		}
	}

	slog.Info("audit settings saved", "schedule_outcome", res.Outcome,
		"schedule_enabled", saved.ScheduleEnabled, "frequency", saved.ScheduleFrequency,
		"retention_days", saved.RetentionDays)
	return res, nil
}

// Deactivate stops scheduled sends and marks the schedule disabled. Audit
// data is kept.
func (s *SettingsService) Deactivate(ctx context.Context) error {
	if err := s.schedule.Disable(ctx); err != nil {
		return err
	}
	if err := s.store.SetScheduleEnabled(ctx, false); err != nil {
		return err
	}
	slog.Info("audit service deactivated")
	return nil
}

func outcomeMessage(o ScheduleOutcome, next string) string {
	switch o {
	case ScheduleEnabled:
		return "Automated emails enabled! Next email scheduled for: " + next
	case ScheduleUpdated:
		return "Email schedule updated! Next email scheduled for: " + next
	case ScheduleRestored:
		return "Automated emails re-enabled! Next email scheduled for: " + next
	case ScheduleDisabled:
		return "Automated emails disabled."
	}
	return ""
}

func cleanRoles(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func singleLine(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(s))
}
