package report

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/repositories"
)

// AuditReader is the read side of the audit store.
type AuditReader interface {
	Query(ctx context.Context, filter repositories.AuditFilter, order repositories.AuditOrder, limit, offset int) ([]models.AuditLogEntry, error)
}

// DirectoryReader lists known accounts.
type DirectoryReader interface {
	ListUsers(ctx context.Context) ([]models.DirectoryUser, error)
}

// RolePolicy decides whether an account is privileged.
type RolePolicy interface {
	HasAuditedRole(ctx context.Context, roles []string, cfg models.AuditSettings) bool
}

// RoleNames renders role ids and names the most privileged role.
type RoleNames interface {
	Format(ctx context.Context, ids []string) string
	HighestPrivilege(ctx context.Context) string
}

// Report is everything a report email shows.
type Report struct {
	GeneratedAt  time.Time
	WindowStart  time.Time
	WindowDays   int
	HighestRole  string
	HighPriority []models.AuditLogEntry
	OtherChanges []models.AuditLogEntry
	Users        []models.PrivilegedUser
}

// TotalChanges is the number of audit entries in the window.
func (r *Report) TotalChanges() int {
	return len(r.HighPriority) + len(r.OtherChanges)
}

// Builder assembles a Report from the audit store and the live directory.
type Builder struct {
	logs        AuditReader
	users       DirectoryReader
	policy      RolePolicy
	roles       RoleNames
	windowDays  int
	highestRole string
	now         func() time.Time
}

// NewBuilder returns a Builder covering the trailing windowDays days.
// highestRole, when set, replaces the catalog's most privileged role name.
func NewBuilder(logs AuditReader, users DirectoryReader, policy RolePolicy, roles RoleNames, windowDays int, highestRole string) *Builder {
	if windowDays <= 0 {
		windowDays = 30
	}
	return &Builder{
		logs:        logs,
		users:       users,
		policy:      policy,
		roles:       roles,
		windowDays:  windowDays,
		highestRole: highestRole,
		now:         time.Now,
	}
}

// Build reads the last windowDays of changes, excluding profile updates,
// and the accounts that currently hold an audited role.
func (b *Builder) Build(ctx context.Context, cfg models.AuditSettings) (*Report, error) {
	users, err := b.PrivilegedUsers(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNoUsers
	}

	now := b.now()
	from := now.AddDate(0, 0, -b.windowDays)
	entries, err := b.logs.Query(ctx, repositories.AuditFilter{
		DateFrom:     &from,
		ExcludeTypes: []models.ChangeType{models.ChangeProfileUpdated},
	}, repositories.AuditOrder{Field: "occurred_at", Direction: "desc"}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}

	highest := b.highestRole
	if highest == "" {
		highest = b.roles.HighestPrivilege(ctx)
	}

	r := &Report{
		GeneratedAt:  now,
		WindowStart:  from,
		WindowDays:   b.windowDays,
		HighestRole:  highest,
		HighPriority: []models.AuditLogEntry{},
		OtherChanges: []models.AuditLogEntry{},
		Users:        users,
	}
	for _, e := range entries {
		if IsHighPriority(e, highest) {
			r.HighPriority = append(r.HighPriority, e)
		} else {
			r.OtherChanges = append(r.OtherChanges, e)
		}
	}
	return r, nil
}

// PrivilegedUsers returns the directory accounts holding an audited role,
// in directory order.
func (b *Builder) PrivilegedUsers(ctx context.Context, cfg models.AuditSettings) ([]models.PrivilegedUser, error) {
	all, err := b.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load directory users: %w", err)
	}
	out := []models.PrivilegedUser{}
	for _, u := range all {
		if !b.policy.HasAuditedRole(ctx, u.Roles, cfg) {
			continue
		}
		out = append(out, models.PrivilegedUser{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			Email:       u.Email,
			Role:        b.roles.Format(ctx, u.Roles),
			LastLoginAt: u.LastLoginAt,
		})
	}
	return out, nil
}

// IsHighPriority reports whether e is a deletion or names the highest
// privilege role in its old or new value.
func IsHighPriority(e models.AuditLogEntry, highestRole string) bool {
	if e.ChangeType == models.ChangeUserDeleted {
		return true
	}
	if highestRole == "" {
		return false
	}
	return containsRole(e.OldValue, highestRole) || containsRole(e.NewValue, highestRole)
}

// containsRole matches whole names in a ", " separated role string.
func containsRole(value *string, role string) bool {
	if value == nil {
		return false
	}
	return slices.ContainsFunc(strings.Split(*value, ","), func(s string) bool {
		return strings.TrimSpace(s) == role
	})
}
