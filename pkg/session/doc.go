// Package session implements the cookie session subsystem for the
// portcullis gateway.
//
// Sessions are stateless: the cookie value is an HMAC-signed JWT carrying
// the account identifier and name. Nothing is stored server-side, so any
// instance sharing the signing secret can resolve a session. Role and
// lockout state are deliberately not baked into the token; the decision
// engine re-reads them from the identity store on every request.
//
// The manager also owns sign-in orchestration: credential verification
// and lockout bookkeeping against the identity store.
package session
