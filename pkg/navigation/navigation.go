// Package navigation models the navigation intents the auth core emits.
//
// The core never renders or routes; it only announces where the user should
// go next (login with a return target, or the default landing page). The web
// layer consumes pending intents and turns them into redirects.
package navigation

import "sync"

// Target identifies where an intent points
type Target string

const (
	// TargetLogin sends the user to the login entry point
	TargetLogin Target = "login"
	// TargetLanding sends the user to the default authenticated landing page
	TargetLanding Target = "landing"
)

// Intent is a single navigation request emitted by the core
type Intent struct {
	Target    Target
	ReturnURL string // original path to return to after login, if any
}

// Navigator receives navigation intents from the auth core
type Navigator interface {
	// ToLogin requests navigation to the login entry point, carrying the
	// originally requested path as the return target.
	ToLogin(returnURL string)
	// ToLanding requests navigation to the default landing page.
	ToLanding()
}

// Bus is a Navigator that records intents for later consumption. The web
// layer drains it to issue redirects; tests inspect it directly.
type Bus struct {
	mu      sync.Mutex
	pending *Intent
	history []Intent
}

// NewBus creates an empty intent bus
func NewBus() *Bus {
	return &Bus{}
}

// ToLogin records a login intent
func (b *Bus) ToLogin(returnURL string) {
	b.record(Intent{Target: TargetLogin, ReturnURL: returnURL})
}

// ToLanding records a landing-page intent
func (b *Bus) ToLanding() {
	b.record(Intent{Target: TargetLanding})
}

func (b *Bus) record(intent Intent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := intent
	b.pending = &copied
	b.history = append(b.history, intent)
}

// Consume returns the pending intent, if any, and clears it
func (b *Bus) Consume() (Intent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return Intent{}, false
	}
	intent := *b.pending
	b.pending = nil
	return intent, true
}

// History returns a copy of all recorded intents, oldest first
func (b *Bus) History() []Intent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Intent, len(b.history))
	copy(out, b.history)
	return out
}
