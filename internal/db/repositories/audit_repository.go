// audit_repository.go implements AuditRepository, the append-only store behind the audit trail:
// insert, filtered and paginated query, count, and age-based purge.
package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

var auditColumns = []string{
	"id", "user_id", "username", "display_name", "user_email", "change_type",
	"old_value", "new_value", "changed_by_id", "changed_by_username", "change_date", "notes",
}

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilter narrows Query and Count. All set predicates are ANDed.
// DateFrom and DateTo are inclusive; Before is exclusive.
type AuditFilter struct {
	UserID       *int64
	ChangeType   *models.ChangeType
	DateFrom     *time.Time
	DateTo       *time.Time
	Before       *time.Time
	ExcludeTypes []models.ChangeType
}

// AuditOrder selects the sort column and direction for Query.
// Field is one of "occurred_at" (alias "change_date"), "username" or
// "change_type"; anything else sorts by occurred_at. Direction is ascending
// only when it equals "asc" case-insensitively.
type AuditOrder struct {
	Field     string
	Direction string
}

func (o AuditOrder) clause() string {
	column := "change_date"
	switch strings.ToLower(o.Field) {
	case "username":
		column = "username"
	case "change_type":
		column = "change_type"
	}
	dir := "DESC"
	if strings.EqualFold(o.Direction, "asc") {
		dir = "ASC"
	}
	return fmt.Sprintf("%s %s, id %s", column, dir, dir)
}

func (f AuditFilter) apply(b sq.SelectBuilder) sq.SelectBuilder {
	if f.UserID != nil {
		b = b.Where(sq.Eq{"user_id": *f.UserID})
	}
	if f.ChangeType != nil {
		b = b.Where(sq.Eq{"change_type": string(*f.ChangeType)})
	}
	if f.DateFrom != nil {
		b = b.Where(sq.GtOrEq{"change_date": *f.DateFrom})
	}
	if f.DateTo != nil {
		b = b.Where(sq.LtOrEq{"change_date": *f.DateTo})
	}
	if f.Before != nil {
		b = b.Where(sq.Lt{"change_date": *f.Before})
	}
	if len(f.ExcludeTypes) > 0 {
		excluded := make([]string, len(f.ExcludeTypes))
		for i, ct := range f.ExcludeTypes {
			excluded[i] = string(ct)
		}
		b = b.Where(sq.NotEq{"change_type": excluded})
	}
	return b
}

// Insert appends entry and fills in its ID and OccurredAt from the database.
// An unattributed actor is stored as the system actor.
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditLogEntry) (int64, error) {
	actor := models.Actor{ID: entry.ActorID, Username: entry.ActorUsername}.OrSystem()

	query, args, err := psql.Insert("audit_log").
		Columns("user_id", "username", "display_name", "user_email", "change_type",
			"old_value", "new_value", "changed_by_id", "changed_by_username", "notes").
		Values(entry.SubjectUserID, entry.SubjectUsername, entry.SubjectDisplayName, entry.SubjectEmail,
			string(entry.ChangeType), entry.OldValue, entry.NewValue, actor.ID, actor.Username, entry.Notes).
		Suffix("RETURNING id, change_date").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: build insert: %w", ErrStorage, err)
	}

	var id int64
	var occurredAt time.Time
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&id, &occurredAt); err != nil {
		return 0, fmt.Errorf("%w: insert audit entry: %w", ErrStorage, err)
	}

	entry.ID = id
	entry.OccurredAt = occurredAt
	entry.ActorID = actor.ID
	entry.ActorUsername = actor.Username
	return id, nil
}

// Query returns entries matching filter in the requested order. A limit of 0
// returns every match. On failure it returns an empty slice and the error.
func (r *AuditRepository) Query(ctx context.Context, filter AuditFilter, order AuditOrder, limit, offset int) ([]models.AuditLogEntry, error) {
	b := filter.apply(psql.Select(auditColumns...).From("audit_log")).
		OrderBy(order.clause())
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	if offset > 0 {
		b = b.Offset(uint64(offset))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return []models.AuditLogEntry{}, fmt.Errorf("%w: build query: %w", ErrStorage, err)
	}

	entries := []models.AuditLogEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return []models.AuditLogEntry{}, fmt.Errorf("%w: query audit log: %w", ErrStorage, err)
	}
	return entries, nil
}

// Count returns the number of entries matching filter.
func (r *AuditRepository) Count(ctx context.Context, filter AuditFilter) (int64, error) {
	query, args, err := filter.apply(psql.Select("COUNT(*)").From("audit_log")).ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: build count: %w", ErrStorage, err)
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("%w: count audit log: %w", ErrStorage, err)
	}
	return total, nil
}

// Purge deletes every entry that occurred strictly before cutoff and returns
// how many rows were removed.
func (r *AuditRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psql.Delete("audit_log").Where(sq.Lt{"change_date": cutoff}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: build purge: %w", ErrStorage, err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: purge audit log: %w", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: purge rows affected: %w", ErrStorage, err)
	}
	return n, nil
}
