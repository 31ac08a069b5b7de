package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/portcullis-auth/portcullis/pkg/identity"
)

// Sign-in failure causes. Callers must collapse both into one generic
// user-visible message; the distinction exists for the audit log only.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrLockedOut          = errors.New("account is locked out")
)

// Config holds session cookie settings.
type Config struct {
	// CookieName is the session cookie name (default: "portcullis_session").
	CookieName string

	// Secret is the HMAC signing key. Required, at least 32 bytes.
	Secret []byte

	// TTL is the session lifetime (default: 12h).
	TTL time.Duration

	// Secure marks the cookie as HTTPS-only.
	Secure bool
}

// applyDefaults fills in zero-value fields.
func (c *Config) applyDefaults() {
	if c.CookieName == "" {
		c.CookieName = "portcullis_session"
	}
	if c.TTL == 0 {
		c.TTL = 12 * time.Hour
	}
}

// claims is the JWT payload baked into the session cookie.
type claims struct {
	Name string `json:"name"`
	jwtlib.RegisteredClaims
}

// Manager issues, resolves and clears session cookies, and orchestrates
// password sign-in against the identity store.
type Manager struct {
	store  identity.Store
	config Config
	logger *slog.Logger

	// now is overridable for expiry tests.
	now func() time.Time
}

// NewManager creates a session manager. The config secret must be set.
func NewManager(store identity.Store, cfg Config, logger *slog.Logger) (*Manager, error) {
	cfg.applyDefaults()
	if len(cfg.Secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, config: cfg, logger: logger, now: time.Now}, nil
}

// PasswordSignIn verifies the credentials and maintains the lockout
// counters. It returns the account on success, ErrInvalidCredentials or
// ErrLockedOut on a rejected attempt, and a wrapped store error when the
// backend failed (which is neither).
func (m *Manager) PasswordSignIn(ctx context.Context, name, password string) (*identity.Account, error) {
	acct, err := m.store.FindAccountByName(ctx, name)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	locked, err := m.store.IsLockedOut(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("checking lockout: %w", err)
	}
	if locked {
		return nil, ErrLockedOut
	}

	ok, err := m.store.CheckPassword(ctx, acct.ID, password)
	if err != nil {
		return nil, fmt.Errorf("checking password: %w", err)
	}
	if !ok {
		if err := m.store.RecordLoginFailure(ctx, acct.ID); err != nil {
			m.logger.Error("recording login failure", "account", name, "error", err)
		}
		return nil, ErrInvalidCredentials
	}

	if err := m.store.ResetLoginFailures(ctx, acct.ID); err != nil {
		m.logger.Error("resetting login failures", "account", name, "error", err)
	}

	return acct, nil
}

// Issue signs a session token for the account and sets it as a cookie on
// the response.
func (m *Manager) Issue(w http.ResponseWriter, acct *identity.Account) error {
	now := m.now()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims{
		Name: acct.Name,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   acct.ID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(m.config.TTL)),
		},
	})

	signed, err := token.SignedString(m.config.Secret)
	if err != nil {
		return fmt.Errorf("signing session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.config.CookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(m.config.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie on the response.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Resolve extracts the session principal from the request. An absent,
// malformed, expired or tampered cookie resolves to the anonymous
// principal; resolution never fails.
func (m *Manager) Resolve(r *http.Request) identity.Principal {
	cookie, err := r.Cookie(m.config.CookieName)
	if err != nil || cookie.Value == "" {
		return identity.Anonymous
	}

	var c claims
	token, err := jwtlib.ParseWithClaims(cookie.Value, &c,
		func(*jwtlib.Token) (any, error) { return m.config.Secret, nil },
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid || c.Subject == "" {
		return identity.Anonymous
	}

	return identity.Principal{
		AccountID:     c.Subject,
		Name:          c.Name,
		Authenticated: true,
	}
}

// Invalidator binds session clearing to a response so the decision
// engine can terminate a session without knowing about cookies.
func (m *Manager) Invalidator(w http.ResponseWriter) *Invalidator {
	return &Invalidator{manager: m, w: w}
}

// Invalidator clears the caller's session cookie when invoked.
type Invalidator struct {
	manager *Manager
	w       http.ResponseWriter
}

// Invalidate expires the session cookie.
func (i *Invalidator) Invalidate(context.Context) error {
	i.manager.Clear(i.w)
	return nil
}
