package report

import (
	"context"
	"errors"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/repositories"
)

type fakeAuditReader struct {
	entries []models.AuditLogEntry
	err     error
	filter  repositories.AuditFilter
	calls   int
}

func (f *fakeAuditReader) Query(_ context.Context, filter repositories.AuditFilter, _ repositories.AuditOrder, _, _ int) ([]models.AuditLogEntry, error) {
	f.calls++
	f.filter = filter
	if f.err != nil {
		return []models.AuditLogEntry{}, f.err
	}
	return f.entries, nil
}

type fakeDirectory struct {
	users []models.DirectoryUser
	err   error
}

func (f *fakeDirectory) ListUsers(context.Context) ([]models.DirectoryUser, error) {
	return f.users, f.err
}

// fakePolicy audits every role except "subscriber".
type fakePolicy struct{}

func (fakePolicy) HasAuditedRole(_ context.Context, roles []string, _ models.AuditSettings) bool {
	for _, r := range roles {
		if r != "" && r != "subscriber" {
			return true
		}
	}
	return false
}

type fakeRoleNames struct{ highest string }

func (f fakeRoleNames) Format(_ context.Context, ids []string) string {
	if len(ids) == 0 {
		return "No Role"
	}
	return ids[0]
}

func (f fakeRoleNames) HighestPrivilege(context.Context) string { return f.highest }

type fakeSettings struct {
	settings models.AuditSettings
	err      error
}

func (f *fakeSettings) Get(context.Context) (models.AuditSettings, error) {
	return f.settings, f.err
}

type fakeNotifier struct {
	sent []Message
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

var errBoom = errors.New("boom")
