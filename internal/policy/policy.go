// Package policy decides which accounts are privileged and which lifecycle
// events are worth an audit entry.
package policy

import (
	"context"
	"log/slog"
	"slices"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// RoleCatalog lists the roles the host application knows about.
type RoleCatalog interface {
	RoleIDs(ctx context.Context) ([]string, error)
	DefaultRoleID(ctx context.Context) (string, error)
}

// Policy answers whether a role is audited under a given configuration.
// The catalog is consulted on every call so roles added to the host
// application are picked up without a restart.
type Policy struct {
	catalog RoleCatalog
}

// New returns a Policy backed by catalog.
func New(catalog RoleCatalog) *Policy {
	return &Policy{catalog: catalog}
}

// auditedSet resolves the roles audited under cfg. A nil set with ok=false
// means the catalog could not be read; callers then treat every role as
// audited so changes are over-recorded rather than lost.
func (p *Policy) auditedSet(ctx context.Context, cfg models.AuditSettings) (set map[string]struct{}, ok bool) {
	if len(cfg.IncludedRoles) > 0 {
		set = make(map[string]struct{}, len(cfg.IncludedRoles))
		for _, r := range cfg.IncludedRoles {
			set[r] = struct{}{}
		}
		return set, true
	}

	ids, err := p.catalog.RoleIDs(ctx)
	if err != nil {
		slog.Warn("role catalog unavailable, auditing all roles", "error", err)
		return nil, false
	}
	def, err := p.catalog.DefaultRoleID(ctx)
	if err != nil {
		slog.Warn("default role unavailable, auditing all roles", "error", err)
		return nil, false
	}

	set = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != def {
			set[id] = struct{}{}
		}
	}
	return set, true
}

// IsAuditedRole reports whether role is audited under cfg.
func (p *Policy) IsAuditedRole(ctx context.Context, role string, cfg models.AuditSettings) bool {
	if role == "" {
		return false
	}
	set, ok := p.auditedSet(ctx, cfg)
	if !ok {
		return true
	}
	_, audited := set[role]
	return audited
}

// HasAuditedRole reports whether any of roles is audited under cfg. An
// empty list is never audited.
func (p *Policy) HasAuditedRole(ctx context.Context, roles []string, cfg models.AuditSettings) bool {
	roles = slices.DeleteFunc(slices.Clone(roles), func(r string) bool { return r == "" })
	if len(roles) == 0 {
		return false
	}
	set, ok := p.auditedSet(ctx, cfg)
	if !ok {
		return true
	}
	for _, r := range roles {
		if _, audited := set[r]; audited {
			return true
		}
	}
	return false
}

// AuditedRoles returns the resolved audited role identifiers under cfg,
// sorted. It returns nil when the catalog cannot be read.
func (p *Policy) AuditedRoles(ctx context.Context, cfg models.AuditSettings) []string {
	set, ok := p.auditedSet(ctx, cfg)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}
