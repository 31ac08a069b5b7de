// Package httpapi exposes the portcullis gateway over HTTP.
//
// The surface is intentionally small: the forward-auth endpoint the
// reverse proxy calls per request (GET /auth/request), the login and
// logout flow for interactive callers, and an error endpoint that
// reports the request correlation ID. Health and metrics endpoints are
// mounted by the server wrapper.
package httpapi
