package policy

import (
	"context"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// Event is the classifier's view of a lifecycle change.
// OldRoles is empty when the caller has no prior role information.
type Event struct {
	Type         models.ChangeType
	UserID       int64
	CurrentRoles []string
	OldRoles     []string
}

// Override may replace the classifier's decision for an event. It must not
// retain or mutate ev.
type Override func(decision bool, ev Event) bool

// Classifier is the single gate in front of every audit write.
type Classifier struct {
	policy   *Policy
	override Override
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithOverride installs a hook that sees every decision and may change it.
func WithOverride(fn Override) ClassifierOption {
	return func(c *Classifier) { c.override = fn }
}

// NewClassifier returns a Classifier using p.
func NewClassifier(p *Policy, opts ...ClassifierOption) *Classifier {
	c := &Classifier{policy: p}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShouldLog decides whether ev gets an audit entry under cfg.
//
// Creation and profile updates are logged when the account currently holds
// an audited role. Deletions look at the roles held before deletion when
// given, falling back to the current roles. Role changes are logged when either side is audited, so
// audited-to-audited moves are recorded too. Unknown types are never logged.
func (c *Classifier) ShouldLog(ctx context.Context, ev Event, cfg models.AuditSettings) bool {
	var decision bool
	switch ev.Type {
	case models.ChangeUserCreated, models.ChangeProfileUpdated:
		decision = c.policy.HasAuditedRole(ctx, ev.CurrentRoles, cfg)
	case models.ChangeUserDeleted:
		roles := ev.CurrentRoles
		if len(ev.OldRoles) > 0 {
			roles = ev.OldRoles
		}
		decision = c.policy.HasAuditedRole(ctx, roles, cfg)
	case models.ChangeRoleChanged:
		decision = c.policy.HasAuditedRole(ctx, ev.OldRoles, cfg) ||
			c.policy.HasAuditedRole(ctx, ev.CurrentRoles, cfg)
	default:
		decision = false
	}

	if c.override != nil {
		decision = c.override(decision, ev)
	}
	return decision
}
