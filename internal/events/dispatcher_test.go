package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

var errBoom = errors.New("boom")

// fakeDirectory records calls in order alongside the recorder so tests can
// assert sequencing.
type fakeDirectory struct {
	log       *[]string
	users     map[int64]models.DirectoryUser
	logins    map[int64]time.Time
	upsertErr error
	deleteErr error
}

func (f *fakeDirectory) GetUser(_ context.Context, id int64) (*models.DirectoryUser, error) {
	*f.log = append(*f.log, "get")
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeDirectory) UpsertUser(_ context.Context, u models.DirectoryUser) error {
	*f.log = append(*f.log, "upsert")
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeDirectory) DeleteUser(_ context.Context, id int64) error {
	*f.log = append(*f.log, "delete")
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.users, id)
	return nil
}

func (f *fakeDirectory) TouchLastLogin(_ context.Context, id int64, at time.Time) (bool, error) {
	*f.log = append(*f.log, "touch")
	if _, ok := f.users[id]; !ok {
		return false, nil
	}
	f.logins[id] = at
	return true, nil
}

type fakeRecorder struct {
	log      *[]string
	err      error
	previous models.DirectoryUser
	newRole  string
	oldRoles []string
	actor    models.Actor
}

func (f *fakeRecorder) RecordUserCreated(_ context.Context, _ int64, actor models.Actor) error {
	*f.log = append(*f.log, "record_created")
	f.actor = actor
	return f.err
}

func (f *fakeRecorder) RecordRoleChanged(_ context.Context, _ int64, newRole string, oldRoles []string, actor models.Actor) error {
	*f.log = append(*f.log, "record_role")
	f.newRole, f.oldRoles, f.actor = newRole, oldRoles, actor
	return f.err
}

func (f *fakeRecorder) RecordUserDeleted(_ context.Context, _ int64, actor models.Actor) error {
	*f.log = append(*f.log, "record_deleted")
	f.actor = actor
	return f.err
}

func (f *fakeRecorder) RecordProfileUpdated(_ context.Context, _ int64, previous models.DirectoryUser, actor models.Actor) error {
	*f.log = append(*f.log, "record_profile")
	f.previous, f.actor = previous, actor
	return f.err
}

func newFixture() (*Dispatcher, *fakeDirectory, *fakeRecorder, *[]string) {
	var calls []string
	dir := &fakeDirectory{log: &calls, users: map[int64]models.DirectoryUser{}, logins: map[int64]time.Time{}}
	rec := &fakeRecorder{log: &calls}
	return NewDispatcher(dir, rec), dir, rec, &calls
}

var admin = models.Actor{ID: 1, Username: "admin"}

func TestDispatch_UserCreated(t *testing.T) {
	d, dir, rec, calls := newFixture()
	u := models.DirectoryUser{ID: 5, Username: "ed", Roles: []string{"editor"}}

	require.NoError(t, d.Dispatch(context.Background(), Event{Type: UserCreated, User: u, Actor: admin}))

	assert.Equal(t, []string{"get", "upsert", "record_created"}, *calls)
	assert.Equal(t, u, dir.users[5])
	assert.Equal(t, admin, rec.actor)
}

func TestDispatch_RoleChanged(t *testing.T) {
	d, _, rec, calls := newFixture()
	u := models.DirectoryUser{ID: 5, Username: "ed", Roles: []string{"administrator"}}

	err := d.Dispatch(context.Background(), Event{
		Type: RoleChanged, User: u, NewRole: "administrator", OldRoles: []string{"editor"}, Actor: admin,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"get", "upsert", "record_role"}, *calls)
	assert.Equal(t, "administrator", rec.newRole)
	assert.Equal(t, []string{"editor"}, rec.oldRoles)
}

func TestDispatch_ProfileUpdated_UsesStoredPrevious(t *testing.T) {
	d, dir, rec, calls := newFixture()
	dir.users[5] = models.DirectoryUser{ID: 5, Username: "ed", Email: "old@example.com"}

	err := d.Dispatch(context.Background(), Event{
		Type: ProfileUpdated, User: models.DirectoryUser{ID: 5, Username: "ed", Email: "new@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"get", "upsert", "record_profile"}, *calls)
	assert.Equal(t, "old@example.com", rec.previous.Email)
	assert.Equal(t, "new@example.com", dir.users[5].Email)
}

func TestDispatch_ProfileUpdated_ExplicitPrevious(t *testing.T) {
	d, _, rec, calls := newFixture()
	prev := models.DirectoryUser{ID: 5, DisplayName: "Ed"}

	err := d.Dispatch(context.Background(), Event{
		Type: ProfileUpdated, User: models.DirectoryUser{ID: 5, DisplayName: "Edward"}, Previous: &prev,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"get", "upsert", "record_profile"}, *calls)
	assert.Equal(t, "Ed", rec.previous.DisplayName)
}

func TestDispatch_ProfileUpdated_UnknownUser(t *testing.T) {
	d, _, _, calls := newFixture()

	err := d.Dispatch(context.Background(), Event{Type: ProfileUpdated, User: models.DirectoryUser{ID: 9, Username: "x"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"get", "upsert"}, *calls)
}

func TestDispatch_UserDeleted_RecordsBeforeDelete(t *testing.T) {
	d, dir, _, calls := newFixture()
	dir.users[5] = models.DirectoryUser{ID: 5, Username: "ed"}

	err := d.Dispatch(context.Background(), Event{
		Type: UserDeleted, User: models.DirectoryUser{ID: 5, Username: "ed", Roles: []string{"editor"}}, ContentCount: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"get", "upsert", "record_deleted", "delete"}, *calls)
	assert.NotContains(t, dir.users, int64(5))
}

func TestDispatch_UserDeleted_IDOnly(t *testing.T) {
	d, dir, _, calls := newFixture()
	dir.users[5] = models.DirectoryUser{ID: 5, Username: "ed"}

	require.NoError(t, d.Dispatch(context.Background(), Event{Type: UserDeleted, User: models.DirectoryUser{ID: 5}}))
	assert.Equal(t, []string{"record_deleted", "delete"}, *calls)
}

func TestDispatch_UserDeleted_RecorderFailureStillDeletes(t *testing.T) {
	d, dir, rec, calls := newFixture()
	dir.users[5] = models.DirectoryUser{ID: 5, Username: "ed"}
	rec.err = errBoom

	err := d.Dispatch(context.Background(), Event{Type: UserDeleted, User: models.DirectoryUser{ID: 5}})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"record_deleted", "delete"}, *calls)
	assert.NotContains(t, dir.users, int64(5))
}

func TestDispatch_UpsertFailureSkipsRecord(t *testing.T) {
	d, dir, _, calls := newFixture()
	dir.upsertErr = errBoom

	err := d.Dispatch(context.Background(), Event{Type: UserCreated, User: models.DirectoryUser{ID: 5, Username: "ed"}})
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, ErrNotRecorded)
	assert.Equal(t, []string{"get", "upsert"}, *calls)
}

func TestDispatch_RecorderFailureIsMarked(t *testing.T) {
	d, dir, rec, _ := newFixture()
	rec.err = errBoom

	err := d.Dispatch(context.Background(), Event{Type: UserCreated, User: models.DirectoryUser{ID: 5, Username: "ed"}})
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, ErrNotRecorded)
	assert.Equal(t, "ed", dir.users[5].Username, "projection is updated even though the entry was not")
}

// ---------------------------------------------------------------------------
// Partial payloads
// ---------------------------------------------------------------------------

func TestDispatch_RoleChanged_IDOnlyKeepsStoredProfile(t *testing.T) {
	d, dir, rec, _ := newFixture()
	dir.users[7] = models.DirectoryUser{
		ID: 7, Username: "alice", DisplayName: "Alice", Email: "alice@example.com",
		Roles: []string{"subscriber"}, ContentCount: 4,
	}

	err := d.Dispatch(context.Background(), Event{
		Type: RoleChanged, User: models.DirectoryUser{ID: 7}, NewRole: "editor", OldRoles: []string{"subscriber"},
	})
	require.NoError(t, err)

	got := dir.users[7]
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, []string{"editor"}, got.Roles)
	assert.Equal(t, 4, got.ContentCount)
	assert.Equal(t, "editor", rec.newRole)
}

func TestDispatch_ProfileUpdated_PartialUser(t *testing.T) {
	d, dir, rec, _ := newFixture()
	dir.users[5] = models.DirectoryUser{ID: 5, Username: "ed", Email: "old@example.com", Roles: []string{"editor"}}

	err := d.Dispatch(context.Background(), Event{
		Type: ProfileUpdated, User: models.DirectoryUser{ID: 5, Email: "new@example.com"},
	})
	require.NoError(t, err)

	got := dir.users[5]
	assert.Equal(t, "ed", got.Username)
	assert.Equal(t, "new@example.com", got.Email)
	assert.Equal(t, []string{"editor"}, got.Roles)
	assert.Equal(t, "old@example.com", rec.previous.Email)
}

func TestMerge(t *testing.T) {
	stored := &models.DirectoryUser{ID: 3, Username: "bo", DisplayName: "Bo", Email: "bo@example.com", Roles: []string{"author"}, ContentCount: 2}

	tests := []struct {
		name   string
		ev     Event
		stored *models.DirectoryUser
		want   models.DirectoryUser
	}{
		{
			name:   "full payload wins",
			ev:     Event{Type: UserCreated, User: models.DirectoryUser{ID: 3, Username: "bob", DisplayName: "Bob", Email: "b@example.com", Roles: []string{"editor"}, ContentCount: 1}},
			stored: stored,
			want:   models.DirectoryUser{ID: 3, Username: "bob", DisplayName: "Bob", Email: "b@example.com", Roles: []string{"editor"}, ContentCount: 1},
		},
		{
			name:   "explicit empty roles clear them",
			ev:     Event{Type: RoleChanged, User: models.DirectoryUser{ID: 3, Roles: []string{}}, OldRoles: []string{"author"}},
			stored: stored,
			want:   models.DirectoryUser{ID: 3, Username: "bo", DisplayName: "Bo", Email: "bo@example.com", Roles: []string{}, ContentCount: 2},
		},
		{
			name:   "event content count wins",
			ev:     Event{Type: UserDeleted, User: models.DirectoryUser{ID: 3, Username: "bo"}, ContentCount: 9},
			stored: stored,
			want:   models.DirectoryUser{ID: 3, Username: "bo", DisplayName: "Bo", Email: "bo@example.com", Roles: []string{"author"}, ContentCount: 9},
		},
		{
			name: "unknown user takes new role",
			ev:   Event{Type: RoleChanged, User: models.DirectoryUser{ID: 3}, NewRole: "editor"},
			want: models.DirectoryUser{ID: 3, Roles: []string{"editor"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, merge(tt.ev, tt.stored))
		})
	}
}

func TestDispatch_UserLoggedIn(t *testing.T) {
	d, dir, _, _ := newFixture()
	now := time.Date(2024, time.May, 10, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	dir.users[5] = models.DirectoryUser{ID: 5}

	require.NoError(t, d.Dispatch(context.Background(), Event{Type: UserLoggedIn, User: models.DirectoryUser{ID: 5}}))
	assert.Equal(t, now, dir.logins[5])

	explicit := now.Add(-time.Hour)
	require.NoError(t, d.Dispatch(context.Background(), Event{Type: UserLoggedIn, User: models.DirectoryUser{ID: 5}, OccurredAt: explicit}))
	assert.Equal(t, explicit, dir.logins[5])

	// Unknown users are ignored.
	require.NoError(t, d.Dispatch(context.Background(), Event{Type: UserLoggedIn, User: models.DirectoryUser{ID: 99}}))
	assert.NotContains(t, dir.logins, int64(99))
}

func TestDispatch_Invalid(t *testing.T) {
	d, _, _, calls := newFixture()
	err := d.Dispatch(context.Background(), Event{Type: UserCreated})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Empty(t, *calls)
}
