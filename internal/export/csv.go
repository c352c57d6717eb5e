// Package export writes audit data as CSV: the audit log with its filters
// applied and the snapshot of currently privileged users.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// TimestampLayout is used for every timestamp written to a CSV file.
const TimestampLayout = "2006-01-02 15:04:05"

// NeverLoggedIn is written when an account has no recorded login.
const NeverLoggedIn = "Never"

// AuditLogHeader is the header row of an audit log export.
var AuditLogHeader = []string{
	"Date/Time",
	"User ID",
	"Username",
	"Display Name",
	"Email",
	"Change Type",
	"Old Value",
	"New Value",
	"Changed By ID",
	"Changed By Username",
	"Notes",
}

// PrivilegedUsersHeader is the header row of a privileged user export.
var PrivilegedUsersHeader = []string{
	"Username",
	"Display Name",
	"Email",
	"Role",
	"Last Login",
}

// WriteAuditLog writes the header and one row per entry.
func WriteAuditLog(w io.Writer, entries []models.AuditLogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(AuditLogHeader); err != nil {
		return fmt.Errorf("write audit log header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			e.OccurredAt.Format(TimestampLayout),
			strconv.FormatInt(e.SubjectUserID, 10),
			e.SubjectUsername,
			e.SubjectDisplayName,
			e.SubjectEmail,
			e.ChangeType.Label(),
			models.ValueOrEmpty(e.OldValue),
			models.ValueOrEmpty(e.NewValue),
			strconv.FormatInt(e.ActorID, 10),
			e.ActorUsername,
			e.Notes,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write audit log entry %d: %w", e.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePrivilegedUsers writes the header and one row per user.
func WritePrivilegedUsers(w io.Writer, users []models.PrivilegedUser) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(PrivilegedUsersHeader); err != nil {
		return fmt.Errorf("write user header: %w", err)
	}
	for _, u := range users {
		row := []string{
			u.Username,
			u.DisplayName,
			u.Email,
			u.Role,
			LastLoginTimestamp(u.LastLoginAt),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write user %d: %w", u.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// LastLoginTimestamp formats a last-login time for export.
func LastLoginTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return NeverLoggedIn
	}
	return t.Format(TimestampLayout)
}

// Filename returns the download name for an export taken at now, for
// example "user-audit-logs-2024-03-05-090000.csv".
func Filename(base string, now time.Time) string {
	return fmt.Sprintf("%s-%s.csv", base, now.UTC().Format("2006-01-02-150405"))
}
