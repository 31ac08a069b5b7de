// Package decision implements the forward-auth decision engine.
//
// The engine answers one question per request: given the caller's session
// principal and an optional required role, is the request allowed? The
// three outcomes map directly onto the HTTP statuses the reverse proxy
// understands: Allow (200 with forwarded identity headers),
// DenyUnauthorized (401) and DenyForbidden (403).
//
// The engine is stateless and request-scoped. It holds no locks and
// caches nothing; role and lockout state are read from the identity
// store on every call, so a decision always reflects current store
// state. Store failures propagate as errors and are never coerced into
// a deny — a store outage is not proof the caller lacks access.
package decision
