// Package idp wraps the OpenID Connect identity provider client.
//
// The Client owns the raw token pair and the handshake with the provider:
// discovery, login/registration URLs, the authorization-code callback,
// refresh-token grants, and RP-initiated logout. It exposes the current
// authentication state and role claims but never interprets business state.
//
// A background refresher proactively renews the access token while a session
// is authenticated. A failed refresh takes the same path as an explicit
// logout so no stale tokens survive.
package idp
