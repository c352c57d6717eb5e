// Package report builds the periodic audit report, renders it as HTML and
// delivers it by email. A copy of the privileged user list is archived when
// archive storage is configured.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/export"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/storage"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/telemetry"
)

// Report triggers, used as the metric label.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// SettingsSource yields the current audit policy.
type SettingsSource interface {
	Get(ctx context.Context) (models.AuditSettings, error)
}

// Service sends reports. It satisfies scheduler.ReportSender.
type Service struct {
	settings SettingsSource
	builder  *Builder
	renderer *Renderer
	notifier Notifier
	archiver *storage.Archiver
}

// NewService wires a Service. archiver may be nil.
func NewService(settings SettingsSource, builder *Builder, renderer *Renderer, notifier Notifier, archiver *storage.Archiver) *Service {
	return &Service{
		settings: settings,
		builder:  builder,
		renderer: renderer,
		notifier: notifier,
		archiver: archiver,
	}
}

// Send builds and delivers one report. Recipients are checked before the
// report is built, so a misconfigured service never touches the store.
func (s *Service) Send(ctx context.Context, trigger string) (err error) {
	outcome := "failed"
	defer func() {
		telemetry.AuditReportsSentTotal.WithLabelValues(trigger, outcome).Inc()
	}()

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	recipients := ParseRecipients(cfg.EmailRecipients)
	if len(recipients) == 0 {
		outcome = "no_recipients"
		return ErrNoRecipients
	}

	rep, err := s.builder.Build(ctx, cfg)
	if err != nil {
		if errors.Is(err, ErrNoUsers) {
			outcome = "no_users"
		}
		return err
	}

	body, err := s.renderer.Render(rep)
	if err != nil {
		return err
	}

	subject := strings.TrimSpace(cfg.EmailSubject)
	if subject == "" {
		subject = models.DefaultEmailSubject
	}

	if err := s.notifier.Send(ctx, Message{To: recipients, Subject: subject, HTMLBody: body}); err != nil {
		slog.Error("audit report delivery failed", "trigger", trigger, "recipients", len(recipients), "error", err)
		return err
	}
	outcome = "sent"
	slog.Info("audit report sent",
		"trigger", trigger,
		"recipients", len(recipients),
		"users", len(rep.Users),
		"high_priority", len(rep.HighPriority),
		"other_changes", len(rep.OtherChanges))

	s.archive(ctx, rep)
	return nil
}

// archive stores the user snapshot. Failures are logged; the email has
// already been sent.
func (s *Service) archive(ctx context.Context, rep *Report) {
	if !s.archiver.Enabled() {
		return
	}
	var buf bytes.Buffer
	if err := export.WritePrivilegedUsers(&buf, rep.Users); err != nil {
		slog.Warn("report archive: encode failed", "error", err)
		return
	}
	res, err := s.archiver.Put(ctx, storage.KindReport, buf.Bytes())
	if err != nil {
		slog.Warn("report archive: upload failed", "error", err)
		return
	}
	slog.Info("report archived", "path", res.Path, "sha256", res.Checksum)
}

// PrivilegedUsers returns the current privileged user snapshot under the
// stored settings.
func (s *Service) PrivilegedUsers(ctx context.Context) ([]models.PrivilegedUser, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return s.builder.PrivilegedUsers(ctx, cfg)
}
