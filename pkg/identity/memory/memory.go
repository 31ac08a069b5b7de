// Package memory provides an in-memory implementation of identity.Store
// for testing and single-node deployments. All state is lost when the
// process restarts.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/portcullis-auth/portcullis/pkg/identity"
)

// record holds one account and its credential and lockout state.
type record struct {
	account      identity.Account
	passwordHash []byte
	roles        map[string]struct{}
	failures     int
	lockedUntil  time.Time
}

// Store is an in-memory identity.Store.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*record
	byName  map[string]string
	roles   map[string]struct{}
	lockout identity.LockoutPolicy

	// now is overridable for lockout tests.
	now func() time.Time
}

// Ensure Store implements identity.Store at compile time.
var _ identity.Store = (*Store)(nil)

// New creates an empty in-memory store with the given lockout policy.
func New(lockout identity.LockoutPolicy) *Store {
	lockout.Defaults()
	return &Store{
		byID:    make(map[string]*record),
		byName:  make(map[string]string),
		roles:   make(map[string]struct{}),
		lockout: lockout,
		now:     time.Now,
	}
}

// FindAccountByName looks up an account by name.
func (s *Store) FindAccountByName(_ context.Context, name string) (*identity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, identity.ErrNotFound
	}
	acct := s.byID[id].account
	return &acct, nil
}

// GetAccount looks up an account by identifier.
func (s *Store) GetAccount(_ context.Context, id string) (*identity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	acct := rec.account
	return &acct, nil
}

// CreateAccount creates a bare account. The check and the insert happen
// under one lock, so creation is atomic with respect to other callers.
func (s *Store) CreateAccount(_ context.Context, name string) (*identity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return nil, identity.ErrConflict
	}

	rec := &record{
		account: identity.Account{
			ID:   uuid.NewString(),
			Name: name,
		},
		roles: make(map[string]struct{}),
	}
	s.byID[rec.account.ID] = rec
	s.byName[name] = rec.account.ID

	acct := rec.account
	return &acct, nil
}

// RoleExists reports whether the role exists.
func (s *Store) RoleExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.roles[name]
	return ok, nil
}

// CreateRole creates a role.
func (s *Store) CreateRole(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.roles[name]; exists {
		return identity.ErrConflict
	}
	s.roles[name] = struct{}{}
	return nil
}

// HasPassword reports whether the account has a credential.
func (s *Store) HasPassword(_ context.Context, accountID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[accountID]
	if !ok {
		return false, identity.ErrNotFound
	}
	return len(rec.passwordHash) > 0, nil
}

// SetPassword hashes and stores the account's credential.
func (s *Store) SetPassword(_ context.Context, accountID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[accountID]
	if !ok {
		return identity.ErrNotFound
	}
	rec.passwordHash = hash
	return nil
}

// CheckPassword verifies a plaintext password against the stored hash.
func (s *Store) CheckPassword(_ context.Context, accountID, password string) (bool, error) {
	s.mu.RLock()
	rec, ok := s.byID[accountID]
	var hash []byte
	if ok {
		hash = rec.passwordHash
	}
	s.mu.RUnlock()

	if !ok {
		return false, identity.ErrNotFound
	}
	if len(hash) == 0 {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil, nil
}

// IsLockedOut reports whether the account is currently locked out.
func (s *Store) IsLockedOut(_ context.Context, accountID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[accountID]
	if !ok {
		return false, identity.ErrNotFound
	}
	return s.now().Before(rec.lockedUntil), nil
}

// RecordLoginFailure increments the failure counter and locks the account
// when the policy threshold is reached.
func (s *Store) RecordLoginFailure(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[accountID]
	if !ok {
		return identity.ErrNotFound
	}
	rec.failures++
	if rec.failures >= s.lockout.MaxFailures {
		rec.lockedUntil = s.now().Add(s.lockout.Duration)
		rec.failures = 0
	}
	return nil
}

// ResetLoginFailures clears the failure counter.
func (s *Store) ResetLoginFailures(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[accountID]
	if !ok {
		return identity.ErrNotFound
	}
	rec.failures = 0
	return nil
}

// Roles returns the account's current role memberships.
func (s *Store) Roles(_ context.Context, accountID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[accountID]
	if !ok {
		return nil, identity.ErrNotFound
	}
	roles := make([]string, 0, len(rec.roles))
	for r := range rec.roles {
		roles = append(roles, r)
	}
	return roles, nil
}

// AddToRoles grants the listed roles to the account. Memberships may
// only reference existing roles, and an invalid grant applies nothing.
func (s *Store) AddToRoles(_ context.Context, accountID string, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[accountID]
	if !ok {
		return identity.ErrNotFound
	}
	for _, r := range roles {
		if _, ok := s.roles[r]; !ok {
			return fmt.Errorf("role %q: %w", r, identity.ErrNotFound)
		}
	}
	for _, r := range roles {
		rec.roles[r] = struct{}{}
	}
	return nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
