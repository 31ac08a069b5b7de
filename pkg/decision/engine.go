package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/portcullis-auth/portcullis/pkg/identity"
	"github.com/portcullis-auth/portcullis/pkg/observability"
)

// Outcome represents the three possible results of a forward-auth decision.
type Outcome int

const (
	// Allow means the request is admitted. Result carries the identity
	// headers to forward downstream.
	Allow Outcome = iota

	// DenyUnauthorized means the caller has no authenticated session.
	DenyUnauthorized

	// DenyForbidden means the caller is authenticated but not admitted:
	// the account is unknown, locked out, or missing the required role.
	DenyForbidden
)

// String returns the outcome name for logging and metrics labels.
func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case DenyUnauthorized:
		return "unauthorized"
	case DenyForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Result carries the outcome of a decision. User and Roles are populated
// only on Allow; they are the only data forwarded downstream.
type Result struct {
	Outcome Outcome
	User    string
	Roles   []string
}

// RolesHeader returns the comma-joined role list for the
// X-Forwarded-Roles header.
func (r Result) RolesHeader() string {
	return strings.Join(r.Roles, ",")
}

// SessionInvalidator clears the caller's current session. The engine
// invokes it when an authenticated session points at an unknown or
// locked-out account.
type SessionInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Engine evaluates forward-auth decisions against the identity store.
// It is safe for unbounded parallel invocation.
type Engine struct {
	store  identity.Store
	logger *slog.Logger
}

// New creates a decision engine. A nil logger falls back to slog.Default.
func New(store identity.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// Decide evaluates one forward-auth query. requiredRole may be empty, in
// which case any authenticated, unlocked account is allowed. sess may be
// nil when the caller has no session to invalidate.
//
// A non-nil error means the store failed mid-decision; the caller must
// surface it as a server fault, not as a deny.
func (e *Engine) Decide(ctx context.Context, p identity.Principal, requiredRole string, sess SessionInvalidator) (Result, error) {
	caller := slog.String("caller", CallerAddr(ctx))

	if !p.Authenticated {
		e.logger.DebugContext(ctx, "authentication failure: unauthorized", caller)
		observability.DecisionsTotal.WithLabelValues(DenyUnauthorized.String()).Inc()
		return Result{Outcome: DenyUnauthorized}, nil
	}

	acct, err := e.store.GetAccount(ctx, p.AccountID)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return Result{}, fmt.Errorf("resolving account: %w", err)
	}

	locked := false
	if acct != nil {
		locked, err = e.store.IsLockedOut(ctx, acct.ID)
		if err != nil {
			return Result{}, fmt.Errorf("checking lockout: %w", err)
		}
	}

	if acct == nil || locked {
		e.logger.WarnContext(ctx, "authorization failure: account unknown or locked out",
			caller, slog.String("account", p.Name))
		if sess != nil {
			if err := sess.Invalidate(ctx); err != nil {
				e.logger.ErrorContext(ctx, "session invalidation failed", caller, slog.String("error", err.Error()))
			}
		}
		observability.DecisionsTotal.WithLabelValues(DenyForbidden.String()).Inc()
		return Result{Outcome: DenyForbidden}, nil
	}

	roles, err := e.store.Roles(ctx, acct.ID)
	if err != nil {
		return Result{}, fmt.Errorf("resolving roles: %w", err)
	}

	if requiredRole != "" && !containsRole(roles, requiredRole) {
		e.logger.WarnContext(ctx, "authorization failure: missing required role",
			caller, slog.String("account", acct.Name), slog.String("role", requiredRole))
		observability.DecisionsTotal.WithLabelValues(DenyForbidden.String()).Inc()
		return Result{Outcome: DenyForbidden}, nil
	}

	e.logger.DebugContext(ctx, "authentication success", caller, slog.String("account", acct.Name))
	observability.DecisionsTotal.WithLabelValues(Allow.String()).Inc()
	return Result{Outcome: Allow, User: acct.Name, Roles: roles}, nil
}

// containsRole reports whether roles contains name, compared
// case-sensitively.
func containsRole(roles []string, name string) bool {
	for _, r := range roles {
		if r == name {
			return true
		}
	}
	return false
}
