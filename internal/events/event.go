// Package events carries account lifecycle events from the host application
// into the audit recorders. Events arrive over Redis pub/sub or the HTTP
// ingest endpoint and are applied by a Dispatcher.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// ErrInvalidEvent is returned for payloads that cannot be dispatched.
var ErrInvalidEvent = errors.New("invalid event")

// Type names a lifecycle event.
type Type string

const (
	UserCreated    Type = "user_created"
	RoleChanged    Type = "role_changed"
	UserDeleted    Type = "user_deleted"
	ProfileUpdated Type = "profile_updated"
	UserLoggedIn   Type = "user_logged_in"
)

// Event is the wire form of a lifecycle event.
//
// User is the account state after the change; for deletions it is the state
// just before. Previous is only meaningful for profile updates and falls
// back to the stored projection when absent.
type Event struct {
	Type         Type                  `json:"type"`
	User         models.DirectoryUser  `json:"user"`
	Previous     *models.DirectoryUser `json:"previous,omitempty"`
	OldRoles     []string              `json:"old_roles,omitempty"`
	NewRole      string                `json:"new_role,omitempty"`
	Actor        models.Actor          `json:"actor"`
	ContentCount int                   `json:"content_count,omitempty"`
	OccurredAt   time.Time             `json:"occurred_at,omitzero"`
}

// Validate checks the fields every event needs.
func (e Event) Validate() error {
	switch e.Type {
	case UserCreated, RoleChanged, UserDeleted, ProfileUpdated, UserLoggedIn:
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidEvent)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	if e.User.ID <= 0 {
		return fmt.Errorf("%w: user.id must be positive", ErrInvalidEvent)
	}
	return nil
}

// Decode parses and validates one JSON event.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
