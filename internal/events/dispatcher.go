package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// Directory is the local projection of host accounts.
type Directory interface {
	GetUser(ctx context.Context, id int64) (*models.DirectoryUser, error)
	UpsertUser(ctx context.Context, u models.DirectoryUser) error
	DeleteUser(ctx context.Context, id int64) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) (bool, error)
}

// Recorder writes audit entries. *recorder.Recorder satisfies it.
type Recorder interface {
	RecordUserCreated(ctx context.Context, userID int64, actor models.Actor) error
	RecordRoleChanged(ctx context.Context, userID int64, newRole string, oldRoles []string, actor models.Actor) error
	RecordUserDeleted(ctx context.Context, userID int64, actor models.Actor) error
	RecordProfileUpdated(ctx context.Context, userID int64, previous models.DirectoryUser, actor models.Actor) error
}

// ErrNotRecorded marks a Dispatch failure where the directory was updated
// but the audit entry could not be written. Retrying such an event may
// record the change twice.
var ErrNotRecorded = errors.New("audit entry not recorded")

// Dispatcher applies events to the directory and the recorder in the order
// each change type needs: the projection is updated before a creation, role
// change or profile update is recorded, and a deletion is recorded while
// the account is still present.
//
// Events may carry only the fields that changed. They are merged into the
// stored account so a partial payload never blanks the projection or the
// snapshot the recorder copies into the log.
type Dispatcher struct {
	directory Directory
	recorder  Recorder
	now       func() time.Time
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(directory Directory, recorder Recorder) *Dispatcher {
	return &Dispatcher{directory: directory, recorder: recorder, now: time.Now}
}

// Dispatch validates and applies ev. Projection failures abort the event;
// recorder failures are returned wrapped in ErrNotRecorded after the
// projection has been updated.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	id := ev.User.ID

	switch ev.Type {
	case UserCreated:
		if _, err := d.apply(ctx, ev); err != nil {
			return err
		}
		return notRecorded(d.recorder.RecordUserCreated(ctx, id, ev.Actor))

	case RoleChanged:
		if _, err := d.apply(ctx, ev); err != nil {
			return err
		}
		return notRecorded(d.recorder.RecordRoleChanged(ctx, id, ev.NewRole, ev.OldRoles, ev.Actor))

	case ProfileUpdated:
		stored, err := d.apply(ctx, ev)
		if err != nil {
			return err
		}
		previous := ev.Previous
		if previous == nil {
			previous = stored
		}
		if previous == nil {
			slog.Debug("profile update for unknown user, nothing to compare", "user_id", id)
			return nil
		}
		return notRecorded(d.recorder.RecordProfileUpdated(ctx, id, *previous, ev.Actor))

	case UserDeleted:
		if ev.User.Username != "" {
			if _, err := d.apply(ctx, ev); err != nil {
				return err
			}
		}
		recErr := notRecorded(d.recorder.RecordUserDeleted(ctx, id, ev.Actor))
		if err := d.directory.DeleteUser(ctx, id); err != nil {
			return errors.Join(recErr, fmt.Errorf("remove deleted user: %w", err))
		}
		return recErr

	case UserLoggedIn:
		at := ev.OccurredAt
		if at.IsZero() {
			at = d.now()
		}
		known, err := d.directory.TouchLastLogin(ctx, id, at)
		if err != nil {
			return err
		}
		if !known {
			slog.Debug("login for unknown user ignored", "user_id", id)
		}
		return nil
	}
	return nil
}

func notRecorded(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNotRecorded, err)
}

// apply merges the event into the stored account and saves the result. It
// returns the account as it was before, nil when it was unknown.
func (d *Dispatcher) apply(ctx context.Context, ev Event) (*models.DirectoryUser, error) {
	stored, err := d.directory.GetUser(ctx, ev.User.ID)
	if err != nil {
		return nil, fmt.Errorf("load stored user: %w", err)
	}
	if err := d.directory.UpsertUser(ctx, merge(ev, stored)); err != nil {
		return nil, fmt.Errorf("update directory: %w", err)
	}
	return stored, nil
}

// merge overlays what ev carries on stored. Empty strings and an absent
// roles list keep the stored value; an explicit empty list clears the roles.
// A role change without a roles list takes new_role as the only role. An
// explicit content_count on the event wins over the one inside user.
func merge(ev Event, stored *models.DirectoryUser) models.DirectoryUser {
	u := ev.User
	if ev.ContentCount > 0 {
		u.ContentCount = ev.ContentCount
	}
	if u.Roles == nil && ev.Type == RoleChanged && ev.NewRole != "" {
		u.Roles = []string{ev.NewRole}
	}
	if stored == nil {
		return u
	}
	if u.Username == "" {
		u.Username = stored.Username
	}
	if u.DisplayName == "" {
		u.DisplayName = stored.DisplayName
	}
	if u.Email == "" {
		u.Email = stored.Email
	}
	if u.Roles == nil {
		u.Roles = stored.Roles
	}
	if u.ContentCount == 0 {
		u.ContentCount = stored.ContentCount
	}
	return u
}
