package recorder

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// NoRole is the display value for an account without roles.
const NoRole = "No Role"

// RoleLister returns the role catalog.
type RoleLister interface {
	ListRoles(ctx context.Context) ([]models.Role, error)
}

// RoleFormatter renders role identifiers as display strings.
type RoleFormatter struct {
	roles RoleLister
}

// NewRoleFormatter returns a RoleFormatter backed by roles.
func NewRoleFormatter(roles RoleLister) *RoleFormatter {
	return &RoleFormatter{roles: roles}
}

// Format maps ids to display names, sorts them and joins with ", ".
// Unknown ids are shown as-is. Sorting makes the output independent of the
// order the host application lists roles in.
func (f *RoleFormatter) Format(ctx context.Context, ids []string) string {
	ids = slices.DeleteFunc(slices.Clone(ids), func(s string) bool { return s == "" })
	if len(ids) == 0 {
		return NoRole
	}

	names := f.DisplayNames(ctx)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := names[id]; ok && name != "" {
			out = append(out, name)
		} else {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	return strings.Join(out, ", ")
}

// DisplayNames returns id → display name for the catalog. On error the map
// is empty and ids are rendered as-is.
func (f *RoleFormatter) DisplayNames(ctx context.Context) map[string]string {
	roles, err := f.roles.ListRoles(ctx)
	if err != nil {
		slog.Warn("role catalog unavailable, showing role ids", "error", err)
		return map[string]string{}
	}
	names := make(map[string]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.DisplayName
	}
	return names
}

// HighestPrivilege returns the display name of the most privileged role in
// the catalog, or "" when the catalog is empty or unreadable.
func (f *RoleFormatter) HighestPrivilege(ctx context.Context) string {
	roles, err := f.roles.ListRoles(ctx)
	if err != nil || len(roles) == 0 {
		return ""
	}
	top := roles[0]
	for _, r := range roles[1:] {
		if r.Privilege > top.Privilege {
			top = r
		}
	}
	if top.DisplayName == "" {
		return top.ID
	}
	return top.DisplayName
}
