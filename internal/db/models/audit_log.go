// Package models - audit_log.go defines the AuditLogEntry model, the immutable record of a
// security-relevant change to a privileged account, along with the change type vocabulary.
package models

import (
	"fmt"
	"time"
)

// ChangeType identifies the kind of change an audit entry records.
type ChangeType string

const (
	ChangeUserCreated    ChangeType = "user_created"
	ChangeRoleChanged    ChangeType = "role_changed"
	ChangeUserDeleted    ChangeType = "user_deleted"
	ChangeProfileUpdated ChangeType = "profile_updated"
)

// AllChangeTypes lists every persisted change type in display order.
var AllChangeTypes = []ChangeType{
	ChangeUserCreated,
	ChangeRoleChanged,
	ChangeUserDeleted,
	ChangeProfileUpdated,
}

// ParseChangeType validates a persisted change type string.
func ParseChangeType(s string) (ChangeType, error) {
	for _, ct := range AllChangeTypes {
		if string(ct) == s {
			return ct, nil
		}
	}
	return "", fmt.Errorf("unknown change type %q", s)
}

// Label returns the human-readable form used in reports and exports.
func (c ChangeType) Label() string {
	switch c {
	case ChangeUserCreated:
		return "User Created"
	case ChangeRoleChanged:
		return "Role Changed"
	case ChangeUserDeleted:
		return "User Deleted"
	case ChangeProfileUpdated:
		return "Profile Updated"
	default:
		return string(c)
	}
}

// Actor identifies who performed a change.
type Actor struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// SystemActor is recorded when no authenticated user caused the change.
var SystemActor = Actor{ID: 0, Username: "system"}

// OrSystem returns a, or SystemActor when a carries no identity.
func (a Actor) OrSystem() Actor {
	if a.ID == 0 && a.Username == "" {
		return SystemActor
	}
	if a.Username == "" {
		a.Username = SystemActor.Username
	}
	return a
}

// AuditLogEntry is one row of the audit trail. The subject fields are a
// snapshot taken at write time so entries stay readable after the account
// is deleted. OldValue and NewValue are display strings and are never parsed.
type AuditLogEntry struct {
	ID                 int64      `db:"id" json:"id"`
	SubjectUserID      int64      `db:"user_id" json:"user_id"`
	SubjectUsername    string     `db:"username" json:"username"`
	SubjectDisplayName string     `db:"display_name" json:"display_name"`
	SubjectEmail       string     `db:"user_email" json:"user_email"`
	ChangeType         ChangeType `db:"change_type" json:"change_type"`
	OldValue           *string    `db:"old_value" json:"old_value"`
	NewValue           *string    `db:"new_value" json:"new_value"`
	ActorID            int64      `db:"changed_by_id" json:"changed_by_id"`
	ActorUsername      string     `db:"changed_by_username" json:"changed_by_username"`
	OccurredAt         time.Time  `db:"change_date" json:"change_date"`
	Notes              string     `db:"notes" json:"notes"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// ValueOrEmpty dereferences an optional display value.
func ValueOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
