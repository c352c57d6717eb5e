// Package recorder turns account lifecycle events into audit log entries.
// Every write goes through the policy classifier first; a storage failure is
// logged and returned but never blocks the change that triggered it.
package recorder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/policy"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/telemetry"
)

// AuditStore is the write side of the audit log.
type AuditStore interface {
	Insert(ctx context.Context, entry *models.AuditLogEntry) (int64, error)
}

// SettingsSource yields the current audit policy.
type SettingsSource interface {
	Get(ctx context.Context) (models.AuditSettings, error)
}

// UserSource loads account snapshots. A nil user with a nil error means the
// account is unknown.
type UserSource interface {
	GetUser(ctx context.Context, id int64) (*models.DirectoryUser, error)
}

// Recorder writes audit entries for lifecycle events.
type Recorder struct {
	store      AuditStore
	settings   SettingsSource
	users      UserSource
	classifier *policy.Classifier
	formatter  *RoleFormatter
}

// New wires a Recorder.
func New(store AuditStore, settings SettingsSource, users UserSource, classifier *policy.Classifier, formatter *RoleFormatter) *Recorder {
	return &Recorder{
		store:      store,
		settings:   settings,
		users:      users,
		classifier: classifier,
		formatter:  formatter,
	}
}

func (r *Recorder) loadSettings(ctx context.Context) models.AuditSettings {
	cfg, err := r.settings.Get(ctx)
	if err != nil {
		slog.Warn("audit settings unavailable, using defaults", "error", err)
		return models.DefaultAuditSettings()
	}
	return cfg
}

func (r *Recorder) loadUser(ctx context.Context, id int64) (*models.DirectoryUser, error) {
	u, err := r.users.GetUser(ctx, id)
	if err != nil {
		slog.Error("failed to load user snapshot", "user_id", id, "error", err)
		return nil, err
	}
	if u == nil {
		slog.Debug("user snapshot unavailable, skipping audit entry", "user_id", id)
	}
	return u, nil
}

func (r *Recorder) allowed(ctx context.Context, ev policy.Event, cfg models.AuditSettings) bool {
	if r.classifier.ShouldLog(ctx, ev, cfg) {
		return true
	}
	telemetry.AuditEntriesSkippedTotal.WithLabelValues(string(ev.Type)).Inc()
	return false
}

func (r *Recorder) insert(ctx context.Context, u *models.DirectoryUser, ct models.ChangeType, oldValue, newValue *string, notes string, actor models.Actor) error {
	actor = actor.OrSystem()
	entry := &models.AuditLogEntry{
		SubjectUserID:      u.ID,
		SubjectUsername:    u.Username,
		SubjectDisplayName: u.DisplayName,
		SubjectEmail:       u.Email,
		ChangeType:         ct,
		OldValue:           oldValue,
		NewValue:           newValue,
		ActorID:            actor.ID,
		ActorUsername:      actor.Username,
		Notes:              notes,
	}
	if _, err := r.store.Insert(ctx, entry); err != nil {
		telemetry.AuditInsertFailuresTotal.Inc()
		slog.Error("failed to write audit entry",
			"change_type", ct, "user_id", u.ID, "actor", actor.Username, "error", err)
		return err
	}
	telemetry.AuditEntriesWrittenTotal.WithLabelValues(string(ct)).Inc()
	slog.Info("audit entry written", "change_type", ct, "user_id", u.ID, "entry_id", entry.ID)
	return nil
}

// RecordUserCreated logs the creation of an account that holds an audited role.
func (r *Recorder) RecordUserCreated(ctx context.Context, userID int64, actor models.Actor) error {
	u, err := r.loadUser(ctx, userID)
	if err != nil || u == nil {
		return err
	}
	cfg := r.loadSettings(ctx)
	if !r.allowed(ctx, policy.Event{Type: models.ChangeUserCreated, UserID: u.ID, CurrentRoles: u.Roles}, cfg) {
		return nil
	}

	roles := r.formatter.Format(ctx, u.Roles)
	return r.insert(ctx, u, models.ChangeUserCreated, nil, models.StringPtr(roles),
		fmt.Sprintf("New user created with role: %s", roles), actor)
}

// RecordRoleChanged logs a role assignment. The user's roles after the change
// come from the snapshot; newRole is used only when the snapshot carries none.
// Nothing is written when oldRoles is empty (initial assignment at creation)
// or when the formatted role strings are identical.
func (r *Recorder) RecordRoleChanged(ctx context.Context, userID int64, newRole string, oldRoles []string, actor models.Actor) error {
	if len(oldRoles) == 0 {
		return nil
	}
	u, err := r.loadUser(ctx, userID)
	if err != nil || u == nil {
		return err
	}

	current := u.Roles
	if len(current) == 0 && newRole != "" {
		current = []string{newRole}
	}
	oldValue := r.formatter.Format(ctx, oldRoles)
	newValue := r.formatter.Format(ctx, current)
	if oldValue == newValue {
		return nil
	}

	cfg := r.loadSettings(ctx)
	ev := policy.Event{Type: models.ChangeRoleChanged, UserID: u.ID, CurrentRoles: current, OldRoles: oldRoles}
	if !r.allowed(ctx, ev, cfg) {
		return nil
	}

	return r.insert(ctx, u, models.ChangeRoleChanged, models.StringPtr(oldValue), models.StringPtr(newValue),
		fmt.Sprintf("Role changed from %s to %s", oldValue, newValue), actor)
}

// RecordUserDeleted logs the deletion of an account. It must be called while
// the snapshot still exists.
func (r *Recorder) RecordUserDeleted(ctx context.Context, userID int64, actor models.Actor) error {
	u, err := r.loadUser(ctx, userID)
	if err != nil || u == nil {
		return err
	}
	cfg := r.loadSettings(ctx)
	ev := policy.Event{Type: models.ChangeUserDeleted, UserID: u.ID, CurrentRoles: u.Roles, OldRoles: u.Roles}
	if !r.allowed(ctx, ev, cfg) {
		return nil
	}

	roles := r.formatter.Format(ctx, u.Roles)
	notes := fmt.Sprintf("User account deleted. Had role: %s", roles)
	if u.ContentCount > 0 {
		plural := "s"
		if u.ContentCount == 1 {
			plural = ""
		}
		notes += fmt.Sprintf(". Had %d published post%s.", u.ContentCount, plural)
	}
	return r.insert(ctx, u, models.ChangeUserDeleted, models.StringPtr(roles), nil, notes, actor)
}

// RecordProfileUpdated compares previous against the current snapshot and
// writes one entry per changed field (email, display name). The first
// insert error is returned after both fields have been attempted.
func (r *Recorder) RecordProfileUpdated(ctx context.Context, userID int64, previous models.DirectoryUser, actor models.Actor) error {
	u, err := r.loadUser(ctx, userID)
	if err != nil || u == nil {
		return err
	}
	if previous.Email == u.Email && previous.DisplayName == u.DisplayName {
		return nil
	}
	cfg := r.loadSettings(ctx)
	if !r.allowed(ctx, policy.Event{Type: models.ChangeProfileUpdated, UserID: u.ID, CurrentRoles: u.Roles}, cfg) {
		return nil
	}

	var firstErr error
	if previous.Email != u.Email {
		err := r.insert(ctx, u, models.ChangeProfileUpdated,
			models.StringPtr(previous.Email), models.StringPtr(u.Email),
			fmt.Sprintf("Email changed from %s to %s", previous.Email, u.Email), actor)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if previous.DisplayName != u.DisplayName {
		err := r.insert(ctx, u, models.ChangeProfileUpdated,
			models.StringPtr(previous.DisplayName), models.StringPtr(u.DisplayName),
			fmt.Sprintf("Display name changed from \"%s\" to \"%s\"", previous.DisplayName, u.DisplayName), actor)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
