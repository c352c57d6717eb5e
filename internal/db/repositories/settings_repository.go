// settings_repository.go implements SettingsRepository, reading and writing the single-row
// audit policy in audit_settings.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// SettingsRepository handles the audit policy record
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

type settingsRow struct {
	IncludedRoles     pq.StringArray `db:"included_roles"`
	RetentionDays     int            `db:"retention_days"`
	ScheduleEnabled   bool           `db:"schedule_enabled"`
	ScheduleFrequency string         `db:"schedule_frequency"`
	EmailRecipients   string         `db:"email_recipients"`
	EmailSubject      string         `db:"email_subject"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

// Get returns the stored policy, or the install defaults when no row exists.
// An unrecognised stored frequency is reported as monthly.
func (r *SettingsRepository) Get(ctx context.Context) (models.AuditSettings, error) {
	query := `
		SELECT included_roles, retention_days, schedule_enabled, schedule_frequency,
		       email_recipients, email_subject, updated_at
		FROM audit_settings
		WHERE id = 1`

	var row settingsRow
	err := r.db.GetContext(ctx, &row, query)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultAuditSettings(), nil
	}
	if err != nil {
		return models.DefaultAuditSettings(), fmt.Errorf("%w: get settings: %w", ErrStorage, err)
	}

	freq, err := models.ParseFrequency(row.ScheduleFrequency)
	if err != nil {
		freq = models.FrequencyMonthly
	}
	roles := []string(row.IncludedRoles)
	if roles == nil {
		roles = []string{}
	}
	return models.AuditSettings{
		IncludedRoles:     roles,
		RetentionDays:     row.RetentionDays,
		ScheduleEnabled:   row.ScheduleEnabled,
		ScheduleFrequency: freq,
		EmailRecipients:   row.EmailRecipients,
		EmailSubject:      row.EmailSubject,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}

// Save upserts the policy row.
func (r *SettingsRepository) Save(ctx context.Context, s models.AuditSettings) error {
	roles := s.IncludedRoles
	if roles == nil {
		roles = []string{}
	}
	query := `
		INSERT INTO audit_settings (id, included_roles, retention_days, schedule_enabled,
		                            schedule_frequency, email_recipients, email_subject, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			included_roles     = EXCLUDED.included_roles,
			retention_days     = EXCLUDED.retention_days,
			schedule_enabled   = EXCLUDED.schedule_enabled,
			schedule_frequency = EXCLUDED.schedule_frequency,
			email_recipients   = EXCLUDED.email_recipients,
			email_subject      = EXCLUDED.email_subject,
			updated_at         = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		pq.Array(roles),
		s.RetentionDays,
		s.ScheduleEnabled,
		string(s.ScheduleFrequency),
		s.EmailRecipients,
		s.EmailSubject,
	)
	if err != nil {
		return fmt.Errorf("%w: save settings: %w", ErrStorage, err)
	}
	return nil
}

// SetScheduleEnabled flips only the schedule flag. Used on deactivate.
func (r *SettingsRepository) SetScheduleEnabled(ctx context.Context, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE audit_settings SET schedule_enabled = $1, updated_at = NOW() WHERE id = 1`, enabled)
	if err != nil {
		return fmt.Errorf("%w: set schedule enabled: %w", ErrStorage, err)
	}
	return nil
}
