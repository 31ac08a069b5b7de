package identity

import (
	"context"
	"time"
)

// Account is a stored user account. The identifier is assigned by the
// store on creation and never changes; the name is unique within the store.
type Account struct {
	ID   string
	Name string
}

// Principal is the resolved identity of the current session's caller,
// produced by the session subsystem. It carries only what was baked into
// the session at sign-in time; role and lockout state are always re-read
// from the store at decision time.
type Principal struct {
	AccountID     string
	Name          string
	Authenticated bool
}

// Anonymous is the principal used when no valid session is present.
var Anonymous = Principal{}

// LockoutPolicy controls failed-login bookkeeping in the store.
type LockoutPolicy struct {
	// MaxFailures is the number of consecutive failed sign-ins after
	// which the account is locked (default: 5).
	MaxFailures int

	// Duration is how long a lockout lasts once triggered (default: 10m).
	Duration time.Duration
}

// Defaults fills in zero-value fields.
func (p *LockoutPolicy) Defaults() {
	if p.MaxFailures == 0 {
		p.MaxFailures = 5
	}
	if p.Duration == 0 {
		p.Duration = 10 * time.Minute
	}
}

// Store is the gateway to the persistent identity store. Every operation
// is individually atomic and safe for concurrent use by independent
// callers; create operations return ErrConflict rather than racing.
type Store interface {
	// FindAccountByName looks up an account by its unique name.
	// Returns ErrNotFound if no such account exists.
	FindAccountByName(ctx context.Context, name string) (*Account, error)

	// GetAccount looks up an account by its store-assigned identifier.
	// Returns ErrNotFound if no such account exists.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// CreateAccount creates a bare account (no password, no roles) with
	// the given name. Returns ErrConflict if the name is already taken.
	CreateAccount(ctx context.Context, name string) (*Account, error)

	// RoleExists reports whether a role with the given name exists.
	RoleExists(ctx context.Context, name string) (bool, error)

	// CreateRole creates a role. Returns ErrConflict if it already exists.
	CreateRole(ctx context.Context, name string) error

	// HasPassword reports whether the account has a password credential.
	HasPassword(ctx context.Context, accountID string) (bool, error)

	// SetPassword sets the account's password credential. The plaintext
	// is hashed by the store and never persisted as-is.
	SetPassword(ctx context.Context, accountID, password string) error

	// CheckPassword verifies a plaintext password against the stored
	// credential. An account without a credential never verifies.
	CheckPassword(ctx context.Context, accountID, password string) (bool, error)

	// IsLockedOut reports whether the account is currently locked out.
	IsLockedOut(ctx context.Context, accountID string) (bool, error)

	// RecordLoginFailure increments the account's failed sign-in counter,
	// locking the account when the policy threshold is reached.
	RecordLoginFailure(ctx context.Context, accountID string) error

	// ResetLoginFailures clears the failed sign-in counter after a
	// successful sign-in.
	ResetLoginFailures(ctx context.Context, accountID string) error

	// Roles returns the account's current role memberships.
	Roles(ctx context.Context, accountID string) ([]string, error)

	// AddToRoles grants the listed roles to the account. Roles the
	// account already holds are left untouched. Every listed role must
	// already exist in the store; an unknown role fails the whole grant
	// with a wrapped ErrNotFound and nothing is applied.
	AddToRoles(ctx context.Context, accountID string, roles []string) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
