package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasRole(t *testing.T) {
	authenticated := Session{
		Authenticated: true,
		Identity:      &Identity{ID: "user-1"},
		RealmRoles:    []string{"user"},
		ClientRoles: map[string][]string{
			"portal-frontend": {"editor"},
		},
		AccessToken: "token",
	}

	tests := []struct {
		name    string
		session Session
		role    string
		want    bool
	}{
		{"realm role", authenticated, "user", true},
		{"resource role", authenticated, "editor", true},
		{"missing role", authenticated, "admin", false},
		{"unauthenticated never has roles", Session{RealmRoles: []string{"user"}}, "user", false},
		{"empty session", Session{}, "user", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.session.HasRole(tt.role))
		})
	}
}

func TestHasAnyRole(t *testing.T) {
	sess := Session{
		Authenticated: true,
		Identity:      &Identity{ID: "user-1"},
		RealmRoles:    []string{"user"},
		AccessToken:   "token",
	}

	assert.True(t, sess.HasAnyRole("admin", "user"))
	assert.False(t, sess.HasAnyRole("admin", "auditor"))
	assert.False(t, sess.HasAnyRole())
	assert.False(t, Session{}.HasAnyRole("user"))
}

func TestCloneIsDeep(t *testing.T) {
	original := Session{
		Authenticated: true,
		Identity:      &Identity{ID: "user-1", Username: "jdoe"},
		RealmRoles:    []string{"user"},
		ClientRoles:   map[string][]string{"portal-frontend": {"editor"}},
		AccessToken:   "token",
	}

	copied := original.clone()
	copied.Identity.Username = "mutated"
	copied.RealmRoles[0] = "mutated"
	copied.ClientRoles["portal-frontend"][0] = "mutated"

	assert.Equal(t, "jdoe", original.Identity.Username)
	assert.Equal(t, "user", original.RealmRoles[0])
	assert.Equal(t, "editor", original.ClientRoles["portal-frontend"][0])
}
