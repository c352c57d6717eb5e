// Package models - audit_settings.go defines the single mutable audit policy record and the
// report schedule frequencies.
package models

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidFrequency is returned by ParseFrequency for unknown values.
var ErrInvalidFrequency = errors.New("invalid schedule frequency")

// Frequency is how often the scheduled report is sent.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// ParseFrequency validates a frequency string, case-insensitively.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case FrequencyWeekly:
		return FrequencyWeekly, nil
	case FrequencyMonthly:
		return FrequencyMonthly, nil
	case FrequencyQuarterly:
		return FrequencyQuarterly, nil
	}
	return "", ErrInvalidFrequency
}

// DefaultRetentionDays applies when no settings row exists.
const DefaultRetentionDays = 365

// DefaultEmailSubject is the report subject used until an admin changes it.
const DefaultEmailSubject = "User Audit Report: Review Changes"

// AuditSettings is the audit policy. An empty IncludedRoles means every
// catalog role except the default one; it is never stored expanded.
// RetentionDays of 0 disables purging.
type AuditSettings struct {
	IncludedRoles     []string  `db:"included_roles" json:"included_roles"`
	RetentionDays     int       `db:"retention_days" json:"retention_days"`
	ScheduleEnabled   bool      `db:"schedule_enabled" json:"schedule_enabled"`
	ScheduleFrequency Frequency `db:"schedule_frequency" json:"schedule_frequency"`
	EmailRecipients   string    `db:"email_recipients" json:"email_recipients"`
	EmailSubject      string    `db:"email_subject" json:"email_subject"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultAuditSettings returns the install-time policy.
func DefaultAuditSettings() AuditSettings {
	return AuditSettings{
		IncludedRoles:     []string{},
		RetentionDays:     DefaultRetentionDays,
		ScheduleEnabled:   false,
		ScheduleFrequency: FrequencyMonthly,
		EmailSubject:      DefaultEmailSubject,
	}
}
