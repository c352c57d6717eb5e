package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

func entry(id int64, ct models.ChangeType, oldV, newV string) models.AuditLogEntry {
	e := models.AuditLogEntry{ID: id, ChangeType: ct, SubjectUsername: "u"}
	if oldV != "" {
		e.OldValue = models.StringPtr(oldV)
	}
	if newV != "" {
		e.NewValue = models.StringPtr(newV)
	}
	return e
}

func directory() *fakeDirectory {
	return &fakeDirectory{users: []models.DirectoryUser{
		{ID: 1, Username: "admin", Roles: []string{"Administrator"}},
		{ID: 2, Username: "reader", Roles: []string{"subscriber"}},
		{ID: 3, Username: "ed", Roles: []string{"Editor"}},
		{ID: 4, Username: "nobody"},
	}}
}

func TestIsHighPriority(t *testing.T) {
	tests := []struct {
		name string
		e    models.AuditLogEntry
		want bool
	}{
		{"deletion always", entry(1, models.ChangeUserDeleted, "Subscriber", ""), true},
		{"promotion to highest", entry(2, models.ChangeRoleChanged, "Editor", "Administrator"), true},
		{"demotion from highest", entry(3, models.ChangeRoleChanged, "Administrator, Editor", "Editor"), true},
		{"creation as highest", entry(4, models.ChangeUserCreated, "", "Administrator"), true},
		{"other role change", entry(5, models.ChangeRoleChanged, "Author", "Editor"), false},
		{"partial name is not a match", entry(6, models.ChangeRoleChanged, "Network Administrator", "Editor"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHighPriority(tt.e, "Administrator"))
		})
	}

	assert.False(t, IsHighPriority(entry(7, models.ChangeRoleChanged, "Administrator", ""), ""))
}

func TestBuild_SplitsEntriesAndFiltersUsers(t *testing.T) {
	logs := &fakeAuditReader{entries: []models.AuditLogEntry{
		entry(1, models.ChangeRoleChanged, "Editor", "Administrator"),
		entry(2, models.ChangeUserCreated, "", "Editor"),
		entry(3, models.ChangeUserDeleted, "Author", ""),
	}}
	b := NewBuilder(logs, directory(), fakePolicy{}, fakeRoleNames{highest: "Administrator"}, 30, "")
	now := time.Date(2024, time.March, 31, 9, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	rep, err := b.Build(context.Background(), models.DefaultAuditSettings())
	require.NoError(t, err)

	assert.Equal(t, 30, rep.WindowDays)
	assert.Equal(t, now.AddDate(0, 0, -30), rep.WindowStart)
	assert.Equal(t, "Administrator", rep.HighestRole)
	assert.Len(t, rep.HighPriority, 2)
	assert.Len(t, rep.OtherChanges, 1)
	assert.Equal(t, 3, rep.TotalChanges())

	require.Len(t, rep.Users, 2)
	assert.Equal(t, "admin", rep.Users[0].Username)
	assert.Equal(t, "ed", rep.Users[1].Username)

	// The window excludes profile updates.
	require.NotNil(t, logs.filter.DateFrom)
	assert.Equal(t, now.AddDate(0, 0, -30), *logs.filter.DateFrom)
	assert.Equal(t, []models.ChangeType{models.ChangeProfileUpdated}, logs.filter.ExcludeTypes)
}

func TestBuild_HighestRoleOverride(t *testing.T) {
	logs := &fakeAuditReader{entries: []models.AuditLogEntry{
		entry(1, models.ChangeRoleChanged, "Author", "Editor"),
	}}
	b := NewBuilder(logs, directory(), fakePolicy{}, fakeRoleNames{highest: "Administrator"}, 7, "Editor")

	rep, err := b.Build(context.Background(), models.DefaultAuditSettings())
	require.NoError(t, err)
	assert.Equal(t, "Editor", rep.HighestRole)
	assert.Len(t, rep.HighPriority, 1)
}

func TestBuild_NoUsers(t *testing.T) {
	logs := &fakeAuditReader{}
	dir := &fakeDirectory{users: []models.DirectoryUser{{ID: 2, Roles: []string{"subscriber"}}}}
	b := NewBuilder(logs, dir, fakePolicy{}, fakeRoleNames{}, 30, "")

	_, err := b.Build(context.Background(), models.DefaultAuditSettings())
	assert.ErrorIs(t, err, ErrNoUsers)
	assert.Equal(t, 0, logs.calls, "audit store must not be read without users")
}

func TestBuild_StoreErrors(t *testing.T) {
	b := NewBuilder(&fakeAuditReader{err: errBoom}, directory(), fakePolicy{}, fakeRoleNames{}, 30, "")
	_, err := b.Build(context.Background(), models.DefaultAuditSettings())
	assert.ErrorIs(t, err, errBoom)

	b = NewBuilder(&fakeAuditReader{}, &fakeDirectory{err: errBoom}, fakePolicy{}, fakeRoleNames{}, 30, "")
	_, err = b.Build(context.Background(), models.DefaultAuditSettings())
	assert.ErrorIs(t, err, errBoom)
}

func TestNewBuilder_DefaultWindow(t *testing.T) {
	b := NewBuilder(&fakeAuditReader{}, directory(), fakePolicy{}, fakeRoleNames{}, 0, "")
	assert.Equal(t, 30, b.windowDays)
}
