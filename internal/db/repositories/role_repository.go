// role_repository.go implements RoleRepository over the role_catalog table, the source of
// truth for which roles exist, their display names, and which one is the default.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// RoleRepository handles role catalog database operations
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new RoleRepository
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// ListRoles returns the catalog ordered from most to least privileged.
func (r *RoleRepository) ListRoles(ctx context.Context) ([]models.Role, error) {
	roles := []models.Role{}
	err := r.db.SelectContext(ctx, &roles,
		`SELECT id, display_name, privilege, is_default FROM role_catalog ORDER BY privilege DESC, id`)
	if err != nil {
		return []models.Role{}, fmt.Errorf("%w: list roles: %w", ErrStorage, err)
	}
	return roles, nil
}

// RoleIDs returns every role identifier in the catalog.
func (r *RoleRepository) RoleIDs(ctx context.Context) ([]string, error) {
	roles, err := r.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(roles))
	for i, role := range roles {
		ids[i] = role.ID
	}
	return ids, nil
}

// DefaultRoleID returns the catalog's default role, or "" when none is marked.
func (r *RoleRepository) DefaultRoleID(ctx context.Context) (string, error) {
	roles, err := r.ListRoles(ctx)
	if err != nil {
		return "", err
	}
	for _, role := range roles {
		if role.IsDefault {
			return role.ID, nil
		}
	}
	return "", nil
}

// ReplaceRoles swaps the whole catalog in one transaction.
func (r *RoleRepository) ReplaceRoles(ctx context.Context, roles []models.Role) error {
	defaults := 0
	for _, role := range roles {
		if role.ID == "" {
			return fmt.Errorf("role id is required")
		}
		if role.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("at most one default role is allowed, got %d", defaults)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStorage, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_catalog`); err != nil {
		return fmt.Errorf("%w: clear role catalog: %w", ErrStorage, err)
	}
	for _, role := range roles {
		display := role.DisplayName
		if display == "" {
			display = role.ID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_catalog (id, display_name, privilege, is_default) VALUES ($1, $2, $3, $4)`,
			role.ID, display, role.Privilege, role.IsDefault); err != nil {
			return fmt.Errorf("%w: insert role %s: %w", ErrStorage, role.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStorage, err)
	}
	return nil
}
