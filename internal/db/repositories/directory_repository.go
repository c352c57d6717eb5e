// directory_repository.go implements DirectoryRepository, the local projection of
// host-application accounts that recorders snapshot and reports list.
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

// DirectoryRepository handles directory_users database operations
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository creates a new DirectoryRepository
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

type directoryRow struct {
	ID           int64          `db:"id"`
	Username     string         `db:"username"`
	DisplayName  string         `db:"display_name"`
	Email        string         `db:"email"`
	Roles        pq.StringArray `db:"roles"`
	ContentCount int            `db:"content_count"`
	LastLoginAt  sql.NullTime   `db:"last_login_at"`
}

func (r directoryRow) toModel() models.DirectoryUser {
	u := models.DirectoryUser{
		ID:           r.ID,
		Username:     r.Username,
		DisplayName:  r.DisplayName,
		Email:        r.Email,
		Roles:        []string(r.Roles),
		ContentCount: r.ContentCount,
	}
	if u.Roles == nil {
		u.Roles = []string{}
	}
	if r.LastLoginAt.Valid {
		t := r.LastLoginAt.Time
		u.LastLoginAt = &t
	}
	return u
}

const directorySelect = `SELECT id, username, display_name, email, roles, content_count, last_login_at FROM directory_users`

// GetUser returns the user with id, or nil when the user is unknown.
func (r *DirectoryRepository) GetUser(ctx context.Context, id int64) (*models.DirectoryUser, error) {
	var row directoryRow
	err := r.db.GetContext(ctx, &row, directorySelect+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get directory user: %w", ErrStorage, err)
	}
	u := row.toModel()
	return &u, nil
}

// ListUsers returns every known user ordered by display name.
func (r *DirectoryRepository) ListUsers(ctx context.Context) ([]models.DirectoryUser, error) {
	var rows []directoryRow
	if err := r.db.SelectContext(ctx, &rows, directorySelect+` ORDER BY display_name, id`); err != nil {
		return []models.DirectoryUser{}, fmt.Errorf("%w: list directory users: %w", ErrStorage, err)
	}
	users := make([]models.DirectoryUser, len(rows))
	for i, row := range rows {
		users[i] = row.toModel()
	}
	return users, nil
}

// UpsertUser stores the current state of u. LastLoginAt is never overwritten here.
func (r *DirectoryRepository) UpsertUser(ctx context.Context, u models.DirectoryUser) error {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	query := `
		INSERT INTO directory_users (id, username, display_name, email, roles, content_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			username      = EXCLUDED.username,
			display_name  = EXCLUDED.display_name,
			email         = EXCLUDED.email,
			roles         = EXCLUDED.roles,
			content_count = EXCLUDED.content_count,
			updated_at    = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, query, u.ID, u.Username, u.DisplayName, u.Email, pq.Array(roles), u.ContentCount)
	if err != nil {
		return fmt.Errorf("%w: upsert directory user: %w", ErrStorage, err)
	}
	return nil
}

// DeleteUser removes the user from the projection.
func (r *DirectoryRepository) DeleteUser(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM directory_users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%w: delete directory user: %w", ErrStorage, err)
	}
	return nil
}

// TouchLastLogin stamps the user's last login time. It reports whether the
// user was known.
func (r *DirectoryRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE directory_users SET last_login_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return false, fmt.Errorf("%w: touch last login: %w", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: touch last login: %w", ErrStorage, err)
	}
	return n > 0, nil
}
