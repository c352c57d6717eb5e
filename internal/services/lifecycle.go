package services

import (
	"context"
	"fmt"
	"log/slog"
)

// ScheduleClearer removes pending report jobs.
type ScheduleClearer interface {
	Clear(ctx context.Context) error
}

// Uninstall clears every pending report job and then drops the schema,
// which removes the audit log, the settings, the directory projection and
// with it every recorded last login. dropSchema is normally the "down"
// migration.
func Uninstall(ctx context.Context, schedule ScheduleClearer, dropSchema func() error) error {
	if err := schedule.Clear(ctx); err != nil {
		return fmt.Errorf("clear scheduled jobs: %w", err)
	}
	if err := dropSchema(); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	slog.Info("audit service uninstalled")
	return nil
}
