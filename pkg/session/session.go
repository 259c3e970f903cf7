// Package session derives the normalized application session from the
// identity provider adapter and publishes it to the rest of the gateway.
//
// The Manager is the sole writer of the Session value. Observers receive
// immutable snapshots through a replay-latest stream: every subscriber gets
// the current value immediately and every subsequent committed value in
// order. Invariant: Authenticated is true iff Identity is present and an
// access token is held.
package session

import "errors"

// ErrProfileFetch indicates the identity profile could not be retrieved
// while deriving an authenticated session. The previous session value is
// preserved; a transient network blip must not deauthenticate an active
// session.
var ErrProfileFetch = errors.New("profile fetch failed")

// Identity is an immutable snapshot of the authenticated principal taken at
// the last derivation. It is replaced wholesale, never patched.
type Identity struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Session is the normalized application session. Observers must treat it as
// read-only; the Manager hands out deep copies.
type Session struct {
	Authenticated bool                `json:"authenticated"`
	Identity      *Identity           `json:"identity,omitempty"`
	RealmRoles    []string            `json:"realm_roles,omitempty"`
	ClientRoles   map[string][]string `json:"client_roles,omitempty"`
	AccessToken   string              `json:"-"`
	RefreshToken  string              `json:"-"`
}

// HasRole reports whether the session carries the role at realm or any
// resource scope. Always false for an unauthenticated session.
func (s Session) HasRole(role string) bool {
	if !s.Authenticated {
		return false
	}
	for _, r := range s.RealmRoles {
		if r == role {
			return true
		}
	}
	for _, roles := range s.ClientRoles {
		for _, r := range roles {
			if r == role {
				return true
			}
		}
	}
	return false
}

// HasAnyRole reports whether the session carries at least one of the roles
func (s Session) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if s.HasRole(role) {
			return true
		}
	}
	return false
}

// clone returns a deep copy safe to hand to an observer
func (s Session) clone() Session {
	out := s
	if s.Identity != nil {
		identity := *s.Identity
		out.Identity = &identity
	}
	if s.RealmRoles != nil {
		out.RealmRoles = append([]string(nil), s.RealmRoles...)
	}
	if s.ClientRoles != nil {
		out.ClientRoles = make(map[string][]string, len(s.ClientRoles))
		for resource, roles := range s.ClientRoles {
			out.ClientRoles[resource] = append([]string(nil), roles...)
		}
	}
	return out
}
