package httpapi

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/portcullis-auth/portcullis/pkg/decision"
	"github.com/portcullis-auth/portcullis/pkg/observability"
	"github.com/portcullis-auth/portcullis/pkg/session"
)

// genericLoginError is the only credential failure message shown to
// users. The actual cause (unknown user, wrong password, lockout) lives
// in the audit log only, to avoid user enumeration.
const genericLoginError = "Invalid username or password"

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<form method="post" action="/auth/login">
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<label>Username <input type="text" name="username" autofocus></label>
<label>Password <input type="password" name="password"></label>
<input type="hidden" name="then" value="{{.Then}}">
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

// loginView is the data rendered into the login form.
type loginView struct {
	Then  string
	Error string
}

// Handler serves the gateway's HTTP endpoints.
type Handler struct {
	engine   *decision.Engine
	sessions *session.Manager
	logger   *slog.Logger
}

// New creates a handler. A nil logger falls back to slog.Default.
func New(engine *decision.Engine, sessions *session.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, sessions: sessions, logger: logger}
}

// Register mounts the auth endpoints on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/request", h.authRequest)
	mux.HandleFunc("GET /auth/login", h.loginForm)
	mux.HandleFunc("POST /auth/login", h.login)
	mux.HandleFunc("POST /auth/logout", h.logout)
	mux.HandleFunc("GET /auth/error", h.errorInfo)
}

// authRequest is the forward-auth endpoint the reverse proxy calls once
// per inbound request. It answers 200 with the forwarded identity
// headers, 401, or 403; a store failure is a 500, never a deny.
func (h *Handler) authRequest(w http.ResponseWriter, r *http.Request) {
	principal := h.sessions.Resolve(r)
	ctx := decision.WithCallerAddr(r.Context(), callerAddr(r))

	res, err := h.engine.Decide(ctx, principal, r.URL.Query().Get("role"), h.sessions.Invalidator(w))
	if err != nil {
		observability.StoreErrorsTotal.Inc()
		h.logger.ErrorContext(ctx, "decision failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	switch res.Outcome {
	case decision.Allow:
		w.Header().Set("X-Forwarded-User", res.User)
		w.Header().Set("X-Forwarded-Roles", res.RolesHeader())
		w.WriteHeader(http.StatusOK)
	case decision.DenyUnauthorized:
		w.WriteHeader(http.StatusUnauthorized)
	case decision.DenyForbidden:
		w.WriteHeader(http.StatusForbidden)
	}
}

// loginForm renders the sign-in form, carrying the return target through
// a hidden field.
func (h *Handler) loginForm(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, loginView{Then: r.URL.Query().Get("then")}, http.StatusOK)
}

// login verifies the submitted credentials and establishes a session.
// All credential failures produce the same generic message.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	then := r.PostFormValue("then")
	caller := callerAddr(r)

	if username == "" || password == "" {
		h.logger.Warn("login form validation failure", "caller", caller)
		h.renderLogin(w, loginView{Then: then, Error: genericLoginError}, http.StatusOK)
		return
	}

	acct, err := h.sessions.PasswordSignIn(r.Context(), username, password)
	switch {
	case errors.Is(err, session.ErrLockedOut):
		h.logger.Warn("login failure: account locked out", "caller", caller, "account", username)
		observability.LoginsTotal.WithLabelValues("locked").Inc()
		h.renderLogin(w, loginView{Then: then, Error: genericLoginError}, http.StatusOK)
		return
	case errors.Is(err, session.ErrInvalidCredentials):
		h.logger.Warn("login failure: invalid credentials", "caller", caller, "account", username)
		observability.LoginsTotal.WithLabelValues("invalid").Inc()
		h.renderLogin(w, loginView{Then: then, Error: genericLoginError}, http.StatusOK)
		return
	case err != nil:
		observability.StoreErrorsTotal.Inc()
		observability.LoginsTotal.WithLabelValues("error").Inc()
		h.logger.Error("login failed against identity store", "caller", caller, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.sessions.Issue(w, acct); err != nil {
		h.logger.Error("issuing session", "caller", caller, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("login success", "caller", caller, "account", username)
	observability.LoginsTotal.WithLabelValues("success").Inc()

	target := "/auth/login"
	if isLocalURL(then) {
		target = then
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// logout terminates the session and returns to the login form.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	h.logger.Info("user logged out", "caller", callerAddr(r))
	http.Redirect(w, r, "/auth/login", http.StatusFound)
}

// errorInfo reports the correlation ID for the current request so users
// can reference it when contacting an operator.
func (h *Handler) errorInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "request id: %s\n", RequestIDFromContext(r.Context()))
}

func (h *Handler) renderLogin(w http.ResponseWriter, view loginView, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginTemplate.Execute(w, view); err != nil {
		h.logger.Error("rendering login form", "error", err)
	}
}

// callerAddr extracts the caller's address for audit log context. The
// X-Forwarded-For header from the edge proxy is honored for logging
// only; it is never an input to a trust decision.
func callerAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	return r.RemoteAddr
}
