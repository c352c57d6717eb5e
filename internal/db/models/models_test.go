package models

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// ChangeType
// ---------------------------------------------------------------------------

func TestChangeType_Label(t *testing.T) {
	tests := []struct {
		ct   ChangeType
		want string
	}{
		{ChangeUserCreated, "User Created"},
		{ChangeRoleChanged, "Role Changed"},
		{ChangeUserDeleted, "User Deleted"},
		{ChangeProfileUpdated, "Profile Updated"},
		{ChangeType("custom_thing"), "custom_thing"},
	}
	for _, tt := range tests {
		if got := tt.ct.Label(); got != tt.want {
			t.Errorf("%q.Label() = %q, want %q", tt.ct, got, tt.want)
		}
	}
}

func TestParseChangeType(t *testing.T) {
	for _, ct := range AllChangeTypes {
		got, err := ParseChangeType(string(ct))
		if err != nil {
			t.Errorf("ParseChangeType(%q) error: %v", ct, err)
		}
		if got != ct {
			t.Errorf("ParseChangeType(%q) = %q", ct, got)
		}
	}
	if _, err := ParseChangeType("User Created"); err == nil {
		t.Error("ParseChangeType accepted a display label")
	}
}

// ---------------------------------------------------------------------------
// Actor
// ---------------------------------------------------------------------------

func TestActor_OrSystem(t *testing.T) {
	tests := []struct {
		name string
		in   Actor
		want Actor
	}{
		{"zero value", Actor{}, SystemActor},
		{"attributed", Actor{ID: 7, Username: "alice"}, Actor{ID: 7, Username: "alice"}},
		{"id without username", Actor{ID: 7}, Actor{ID: 7, Username: "system"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.OrSystem(); got != tt.want {
				t.Errorf("OrSystem() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Frequency
// ---------------------------------------------------------------------------

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		in      string
		want    Frequency
		wantErr bool
	}{
		{"weekly", FrequencyWeekly, false},
		{"Monthly", FrequencyMonthly, false},
		{" QUARTERLY ", FrequencyQuarterly, false},
		{"daily", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFrequency(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidFrequency) {
				t.Errorf("ParseFrequency(%q) error = %v, want ErrInvalidFrequency", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFrequency(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestDefaultAuditSettings(t *testing.T) {
	s := DefaultAuditSettings()
	if s.RetentionDays != 365 {
		t.Errorf("RetentionDays = %d, want 365", s.RetentionDays)
	}
	if s.ScheduleEnabled {
		t.Error("ScheduleEnabled = true, want false")
	}
	if s.ScheduleFrequency != FrequencyMonthly {
		t.Errorf("ScheduleFrequency = %q, want monthly", s.ScheduleFrequency)
	}
	if len(s.IncludedRoles) != 0 {
		t.Errorf("IncludedRoles = %v, want empty", s.IncludedRoles)
	}
	if s.EmailSubject != "User Audit Report: Review Changes" {
		t.Errorf("EmailSubject = %q", s.EmailSubject)
	}
}

func TestValueOrEmpty(t *testing.T) {
	if got := ValueOrEmpty(nil); got != "" {
		t.Errorf("ValueOrEmpty(nil) = %q", got)
	}
	if got := ValueOrEmpty(StringPtr("Editor")); got != "Editor" {
		t.Errorf("ValueOrEmpty(ptr) = %q", got)
	}
}
