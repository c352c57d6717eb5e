package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

type stubCatalog struct {
	ids   []string
	def   string
	err   error
	calls int
}

func (s *stubCatalog) RoleIDs(context.Context) ([]string, error) {
	s.calls++
	return s.ids, s.err
}

func (s *stubCatalog) DefaultRoleID(context.Context) (string, error) {
	return s.def, s.err
}

func defaultCatalog() *stubCatalog {
	return &stubCatalog{
		ids: []string{"administrator", "editor", "author", "contributor", "subscriber"},
		def: "subscriber",
	}
}

func settings(roles ...string) models.AuditSettings {
	s := models.DefaultAuditSettings()
	s.IncludedRoles = roles
	return s
}

func TestIsAuditedRole_EmptyIncludedMeansAllButDefault(t *testing.T) {
	p := New(defaultCatalog())
	ctx := context.Background()

	for _, r := range []string{"administrator", "editor", "author", "contributor"} {
		assert.True(t, p.IsAuditedRole(ctx, r, settings()), r)
	}
	assert.False(t, p.IsAuditedRole(ctx, "subscriber", settings()))
	assert.False(t, p.IsAuditedRole(ctx, "unknown", settings()))
	assert.False(t, p.IsAuditedRole(ctx, "", settings()))
}

func TestIsAuditedRole_ExplicitList(t *testing.T) {
	cat := defaultCatalog()
	p := New(cat)
	ctx := context.Background()
	cfg := settings("administrator", "subscriber")

	assert.True(t, p.IsAuditedRole(ctx, "administrator", cfg))
	assert.True(t, p.IsAuditedRole(ctx, "subscriber", cfg))
	assert.False(t, p.IsAuditedRole(ctx, "editor", cfg))
	assert.Zero(t, cat.calls, "explicit list must not consult the catalog")
}

func TestIsAuditedRole_ResolvedOnEveryCall(t *testing.T) {
	cat := defaultCatalog()
	p := New(cat)
	ctx := context.Background()

	assert.False(t, p.IsAuditedRole(ctx, "shop_manager", settings()))
	cat.ids = append(cat.ids, "shop_manager")
	assert.True(t, p.IsAuditedRole(ctx, "shop_manager", settings()))
	assert.Equal(t, 2, cat.calls)
}

func TestIsAuditedRole_CatalogErrorAuditsEverything(t *testing.T) {
	p := New(&stubCatalog{err: errors.New("db down")})
	assert.True(t, p.IsAuditedRole(context.Background(), "subscriber", settings()))
}

func TestHasAuditedRole(t *testing.T) {
	p := New(defaultCatalog())
	ctx := context.Background()

	tests := []struct {
		name  string
		roles []string
		want  bool
	}{
		{"nil", nil, false},
		{"empty", []string{}, false},
		{"blank entries only", []string{""}, false},
		{"default only", []string{"subscriber"}, false},
		{"mixed", []string{"subscriber", "editor"}, true},
		{"admin", []string{"administrator"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.HasAuditedRole(ctx, tt.roles, settings()))
		})
	}
}

func TestAuditedRoles(t *testing.T) {
	p := New(defaultCatalog())
	got := p.AuditedRoles(context.Background(), settings())
	require.Equal(t, []string{"administrator", "author", "contributor", "editor"}, got)

	assert.Nil(t, New(&stubCatalog{err: errors.New("x")}).AuditedRoles(context.Background(), settings()))
}
