package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/portalgate/portalgate/pkg/idp"
	"github.com/portalgate/portalgate/pkg/observability"
)

// deriveTimeout bounds the profile fetch during session derivation
const deriveTimeout = 15 * time.Second

// Adapter is the slice of the identity client the session manager consumes.
// *idp.Client satisfies it; tests substitute a fake.
type Adapter interface {
	Initialize(ctx context.Context) (bool, error)
	SetOnChange(fn func(authenticated bool))
	IsAuthenticated() bool
	AccessToken() (string, bool)
	RefreshTokenValue() (string, bool)
	Refresh(ctx context.Context, minValidity time.Duration) (bool, error)
	Profile(ctx context.Context) (idp.Profile, error)
	Roles(resource string) []string
	ResourceRoles() map[string][]string
	Logout(redirectTarget string) string
}

// Manager owns the Session value. It is the single writer; everything else
// observes through Current or Subscribe.
type Manager struct {
	adapter Adapter
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	current Session
	subs    map[int]*subscriber
	nextID  int

	hooksMu sync.Mutex
	hooks   []func()
}

// NewManager creates a session manager bound to the adapter. The manager
// registers itself for authenticated-state change notifications, so it must
// be created before the adapter can authenticate.
func NewManager(adapter Adapter, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	m := &Manager{
		adapter: adapter,
		logger:  logger,
		metrics: metrics,
		subs:    make(map[int]*subscriber),
	}
	adapter.SetOnChange(m.handleChange)
	return m
}

// Initialize runs the adapter handshake and derives the initial session.
// A handshake failure degrades to the unauthenticated sentinel instead of
// failing the application.
func (m *Manager) Initialize(ctx context.Context) error {
	authenticated, err := m.adapter.Initialize(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Identity provider initialization failed; continuing unauthenticated")
		return nil
	}

	if authenticated {
		if err := m.deriveAuthenticated(ctx); err != nil {
			m.logger.WithError(err).Warn("Initial session derivation failed; continuing unauthenticated")
		}
	}
	return nil
}

// Current returns a snapshot of the session
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.clone()
}

// CurrentUser returns the identity of the session, or nil when
// unauthenticated
func (m *Manager) CurrentUser() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.Identity == nil {
		return nil
	}
	identity := *m.current.Identity
	return &identity
}

// HasRole reports whether the current session carries the role
func (m *Manager) HasRole(role string) bool {
	return m.Current().HasRole(role)
}

// HasAnyRole reports whether the current session carries any of the roles
func (m *Manager) HasAnyRole(roles ...string) bool {
	return m.Current().HasAnyRole(roles...)
}

/// Subscribe returns a replay-latest stream of session values: the current
// value is delivered immediately, then every committed value in order. The
// cancel func unsubscribes and closes the channel; calling it twice is safe.
func (m *Manager) Subscribe() (<-chan Session, func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	sub := newSubscriber(m.current.clone())
	m.subs[id] = sub
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			sub.close()
		})
	}
	return sub.out, cancel
}

// OnInvalidate registers a hook fired once per session invalidation, used
// by downstream caches to drop entities keyed to the old identity.
func (m *Manager) OnInvalidate(fn func()) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// RefreshToken refreshes the access token through the adapter. On success
// the session is re-derived as a single atomic update (new token, same
// identity); on failure the adapter has already taken the logout path and
// the session is unauthenticated.
func (m *Manager) RefreshToken(ctx context.Context) (bool, error) {
	refreshed, err := m.adapter.Refresh(ctx, 0)
	if err != nil {
		return false, err
	}
	if refreshed {
		m.rotateToken()
	}
	return refreshed, nil
}

// Logout logs the session out through the adapter and returns the provider
// logout redirect URL. Invoking it twice produces a single invalidation.
func (m *Manager) Logout(redirectTarget string) string {
	return m.adapter.Logout(redirectTarget)
}

// handleChange reacts to adapter authenticated-state transitions
func (m *Manager) handleChange(authenticated bool) {
	if authenticated {
		ctx, cancel := context.WithTimeout(context.Background(), deriveTimeout)
		defer cancel()
		if err := m.deriveAuthenticated(ctx); err != nil {
			m.logger.WithError(err).Warn("Session derivation failed; preserving previous session state")
		}
		return
	}
	m.invalidate()
}

// deriveAuthenticated builds a complete authenticated Session from the
// adapter and commits it atomically. A failed profile fetch leaves the
// previous session value untouched.
func (m *Manager) deriveAuthenticated(ctx context.Context) error {
	accessToken, ok := m.adapter.AccessToken()
	if !ok {
		return fmt.Errorf("adapter reported authenticated without an access token")
	}
	refreshToken, _ := m.adapter.RefreshTokenValue()

	profile, err := m.adapter.Profile(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}

	next := Session{
		Authenticated: true,
		Identity: &Identity{
			ID:        profile.ID,
			Username:  profile.Username,
			Email:     profile.Email,
			FirstName: profile.FirstName,
			LastName:  profile.LastName,
		},
		RealmRoles:   m.adapter.Roles(""),
		ClientRoles:  m.adapter.ResourceRoles(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}

	m.mu.Lock()
	m.commit(next, "authenticated")
	m.mu.Unlock()
	return nil
}

// rotateToken re-derives the session after a successful refresh: new token
// pair, same identity and roles, one atomic update.
func (m *Manager) rotateToken() {
	accessToken, ok := m.adapter.AccessToken()
	if !ok {
		return
	}
	refreshToken, _ := m.adapter.RefreshTokenValue()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current.Authenticated {
		return
	}
	next := m.current.clone()
	next.AccessToken = accessToken
	next.RefreshToken = refreshToken
	m.commit(next, "token_rotated")
}

// invalidate resets the session to the unauthenticated sentinel and fires
// the invalidation hooks. Already-unauthenticated sessions are left alone,
// so a duplicate logout yields no second notification.
func (m *Manager) invalidate() {
	m.mu.Lock()
	if !m.current.Authenticated {
		m.mu.Unlock()
		return
	}
	m.commit(Session{}, "unauthenticated")
	m.mu.Unlock()

	m.hooksMu.Lock()
	hooks := append([]func(){}, m.hooks...)
	m.hooksMu.Unlock()
	for _, hook := range hooks {
		hook()
	}

	m.logger.Info("Session invalidated")
}

// commit stores the session and publishes a snapshot to every subscriber.
// Callers hold m.mu; publishing under the lock keeps delivery order
// identical for all subscribers. push never blocks.
func (m *Manager) commit(next Session, transition string) {
	m.current = next
	for _, sub := range m.subs {
		sub.push(next.clone())
	}
	if m.metrics != nil {
		m.metrics.SessionUpdatesTotal.WithLabelValues(transition).Inc()
	}
}
