package forward

import (
	"context"
	"log/slog"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// AuditStore is the write side of the audit log.
type AuditStore interface {
	Insert(ctx context.Context, entry *models.AuditLogEntry) (int64, error)
}

// Store wraps an AuditStore and ships every committed entry. It satisfies
// recorder.AuditStore, so recorders are unaware of forwarding.
type Store struct {
	inner AuditStore
	sink  Shipper
}

// NewStore returns inner with forwarding to sink.
func NewStore(inner AuditStore, sink Shipper) *Store {
	return &Store{inner: inner, sink: sink}
}

// Insert writes through to inner. Only committed entries are shipped, and a
// shipping failure is logged but not returned.
func (s *Store) Insert(ctx context.Context, entry *models.AuditLogEntry) (int64, error) {
	id, err := s.inner.Insert(ctx, entry)
	if err != nil {
		return id, err
	}

	shipped := *entry
	if err := s.sink.Ship(context.WithoutCancel(ctx), &shipped); err != nil {
		slog.Warn("failed to forward audit entry", "id", id, "change_type", entry.ChangeType, "error", err)
	}
	return id, nil
}
