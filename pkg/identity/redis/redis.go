// Package redis provides a Redis implementation of identity.Store using
// go-redis. Accounts live in one hash per account plus a name index hash,
// roles in plain sets.
//
// Create operations rely on Redis primitives that are atomic on their own
// (HSETNX for the name index, SADD for roles), so "create if absent" is a
// single store operation, never a check-then-act race.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/portcullis-auth/portcullis/pkg/identity"
)

// Key layout.
const (
	keyRoles     = "portcullis:roles"            // set of role names
	keyNameIndex = "portcullis:accounts:by-name" // hash name -> id
	keyAccount   = "portcullis:account:"         // hash per account, + id
	keyMembers   = ":roles"                      // set per account, keyAccount + id + keyMembers
)

// Account hash fields.
const (
	fieldName        = "name"
	fieldPassword    = "password_hash"
	fieldFailures    = "failures"
	fieldLockedUntil = "locked_until"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Lockout  identity.LockoutPolicy
}

// Store is a Redis-backed identity.Store.
type Store struct {
	client  *goredis.Client
	lockout identity.LockoutPolicy

	// now is overridable for lockout tests.
	now func() time.Time
}

// Ensure Store implements identity.Store at compile time.
var _ identity.Store = (*Store)(nil)

// New connects to Redis and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.Lockout.Defaults()

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Store{client: client, lockout: cfg.Lockout, now: time.Now}, nil
}

// FindAccountByName looks up an account through the name index.
func (s *Store) FindAccountByName(ctx context.Context, name string) (*identity.Account, error) {
	id, err := s.client.HGet(ctx, keyNameIndex, name).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading name index: %w", err)
	}
	return &identity.Account{ID: id, Name: name}, nil
}

// GetAccount looks up an account by identifier.
func (s *Store) GetAccount(ctx context.Context, id string) (*identity.Account, error) {
	name, err := s.client.HGet(ctx, keyAccount+id, fieldName).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading account: %w", err)
	}
	return &identity.Account{ID: id, Name: name}, nil
}

// CreateAccount writes the account hash first and claims the name via
// HSETNX last. The hash is unreachable until the index points at it, so
// a failed or conflicting create never leaves a dangling index entry;
// at worst an orphan hash remains, which no lookup can resolve.
func (s *Store) CreateAccount(ctx context.Context, name string) (*identity.Account, error) {
	id := uuid.NewString()

	if err := s.client.HSet(ctx, keyAccount+id, fieldName, name).Err(); err != nil {
		return nil, fmt.Errorf("writing account: %w", err)
	}

	claimed, err := s.client.HSetNX(ctx, keyNameIndex, name, id).Result()
	if err != nil || !claimed {
		s.client.Del(ctx, keyAccount+id)
		if err != nil {
			return nil, fmt.Errorf("claiming account name: %w", err)
		}
		return nil, identity.ErrConflict
	}

	return &identity.Account{ID: id, Name: name}, nil
}

// RoleExists reports whether the role exists.
func (s *Store) RoleExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.SIsMember(ctx, keyRoles, name).Result()
	if err != nil {
		return false, fmt.Errorf("reading roles: %w", err)
	}
	return exists, nil
}

// CreateRole adds the role to the role set. SADD reports whether the
// member was new, which doubles as the conflict check.
func (s *Store) CreateRole(ctx context.Context, name string) error {
	added, err := s.client.SAdd(ctx, keyRoles, name).Result()
	if err != nil {
		return fmt.Errorf("creating role: %w", err)
	}
	if added == 0 {
		return identity.ErrConflict
	}
	return nil
}

// HasPassword reports whether the account has a credential.
func (s *Store) HasPassword(ctx context.Context, accountID string) (bool, error) {
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return false, err
	}
	has, err := s.client.HExists(ctx, keyAccount+accountID, fieldPassword).Result()
	if err != nil {
		return false, fmt.Errorf("reading credential: %w", err)
	}
	return has, nil
}

// SetPassword hashes and stores the account's credential.
func (s *Store) SetPassword(ctx context.Context, accountID, password string) error {
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, keyAccount+accountID, fieldPassword, string(hash)).Err(); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}
	return nil
}

// CheckPassword verifies a plaintext password against the stored hash.
func (s *Store) CheckPassword(ctx context.Context, accountID, password string) (bool, error) {
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return false, err
	}
	hash, err := s.client.HGet(ctx, keyAccount+accountID, fieldPassword).Result()
	if errors.Is(err, goredis.Nil) {
		// No credential: never verifies.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading credential: %w", err)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// IsLockedOut reports whether the account is currently locked out.
func (s *Store) IsLockedOut(ctx context.Context, accountID string) (bool, error) {
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return false, err
	}
	raw, err := s.client.HGet(ctx, keyAccount+accountID, fieldLockedUntil).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading lockout: %w", err)
	}
	until, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parsing lockout timestamp: %w", err)
	}
	return s.now().Unix() < until, nil
}

// RecordLoginFailure increments the failure counter and locks the account
// when the policy threshold is reached.
func (s *Store) RecordLoginFailure(ctx context.Context, accountID string) error {
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return err
	}
	failures, err := s.client.HIncrBy(ctx, keyAccount+accountID, fieldFailures, 1).Result()
	if err != nil {
		return fmt.Errorf("recording failure: %w", err)
	}
	if failures < int64(s.lockout.MaxFailures) {
		return nil
	}

	until := s.now().Add(s.lockout.Duration).Unix()
	if err := s.client.HSet(ctx, keyAccount+accountID,
		fieldLockedUntil, strconv.FormatInt(until, 10),
		fieldFailures, 0,
	).Err(); err != nil {
		return fmt.Errorf("locking account: %w", err)
	}
	return nil
}

// ResetLoginFailures clears the failed sign-in counter.
func (s *Store) ResetLoginFailures(ctx context.Context, accountID string) error {
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return err
	}
	if err := s.client.HDel(ctx, keyAccount+accountID, fieldFailures).Err(); err != nil {
		return fmt.Errorf("resetting failures: %w", err)
	}
	return nil
}

// Roles returns the account's current role memberships.
func (s *Store) Roles(ctx context.Context, accountID string) ([]string, error) {
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return nil, err
	}
	roles, err := s.client.SMembers(ctx, keyAccount+accountID+keyMembers).Result()
	if err != nil {
		return nil, fmt.Errorf("reading memberships: %w", err)
	}
	return roles, nil
}

// AddToRoles grants the listed roles to the account. Memberships may
// only reference existing roles, and an invalid grant applies nothing.
func (s *Store) AddToRoles(ctx context.Context, accountID string, roles []string) error {
	if len(roles) == 0 {
		return nil
	}
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return err
	}

	members := make([]any, len(roles))
	for i, r := range roles {
		members[i] = r
	}

	known, err := s.client.SMIsMember(ctx, keyRoles, members...).Result()
	if err != nil {
		return fmt.Errorf("checking roles: %w", err)
	}
	for i, ok := range known {
		if !ok {
			return fmt.Errorf("role %q: %w", roles[i], identity.ErrNotFound)
		}
	}

	if err := s.client.SAdd(ctx, keyAccount+accountID+keyMembers, members...).Err(); err != nil {
		return fmt.Errorf("writing memberships: %w", err)
	}
	return nil
}

// HealthCheck pings the Redis server.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ensureAccount maps a missing account hash to ErrNotFound.
func (s *Store) ensureAccount(ctx context.Context, accountID string) error {
	exists, err := s.client.Exists(ctx, keyAccount+accountID).Result()
	if err != nil {
		return fmt.Errorf("checking account: %w", err)
	}
	if exists == 0 {
		return identity.ErrNotFound
	}
	return nil
}
