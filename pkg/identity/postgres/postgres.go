// Package postgres provides a PostgreSQL implementation of identity.Store.
// It uses pgx/v5 for connection pooling and applies schema migrations on
// startup when configured to do so.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/portcullis-auth/portcullis/pkg/identity"
)

// Store is a PostgreSQL-backed identity.Store.
type Store struct {
	pool    *pgxpool.Pool
	lockout identity.LockoutPolicy
}

// Ensure Store implements identity.Store at compile time.
var _ identity.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool, lockout: cfg.Lockout}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// FindAccountByName looks up an account by its unique name.
func (s *Store) FindAccountByName(ctx context.Context, name string) (*identity.Account, error) {
	var acct identity.Account
	err := s.pool.QueryRow(ctx,
		"SELECT id, name FROM accounts WHERE name = $1", name,
	).Scan(&acct.ID, &acct.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return &acct, nil
}

// GetAccount looks up an account by identifier.
func (s *Store) GetAccount(ctx context.Context, id string) (*identity.Account, error) {
	var acct identity.Account
	err := s.pool.QueryRow(ctx,
		"SELECT id, name FROM accounts WHERE id = $1", id,
	).Scan(&acct.ID, &acct.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return &acct, nil
}

// CreateAccount inserts a bare account. The name's unique constraint makes
// the insert the atomic create-if-absent operation.
func (s *Store) CreateAccount(ctx context.Context, name string) (*identity.Account, error) {
	acct := identity.Account{ID: uuid.NewString(), Name: name}

	_, err := s.pool.Exec(ctx,
		"INSERT INTO accounts (id, name) VALUES ($1, $2)", acct.ID, acct.Name)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, identity.ErrConflict
		}
		return nil, fmt.Errorf("inserting account: %w", err)
	}
	return &acct, nil
}

// RoleExists reports whether a role exists.
func (s *Store) RoleExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM roles WHERE name = $1)", name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying role: %w", err)
	}
	return exists, nil
}

// CreateRole inserts a role.
func (s *Store) CreateRole(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, "INSERT INTO roles (name) VALUES ($1)", name)
	if err != nil {
		if isDuplicateKey(err) {
			return identity.ErrConflict
		}
		return fmt.Errorf("inserting role: %w", err)
	}
	return nil
}

// HasPassword reports whether the account has a credential.
func (s *Store) HasPassword(ctx context.Context, accountID string) (bool, error) {
	var has bool
	err := s.pool.QueryRow(ctx,
		"SELECT password_hash IS NOT NULL FROM accounts WHERE id = $1", accountID,
	).Scan(&has)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, identity.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying credential: %w", err)
	}
	return has, nil
}

// SetPassword hashes and stores the account's credential.
func (s *Store) SetPassword(ctx context.Context, accountID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE accounts SET password_hash = $2 WHERE id = $1", accountID, string(hash))
	if err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// CheckPassword verifies a plaintext password against the stored hash.
func (s *Store) CheckPassword(ctx context.Context, accountID, password string) (bool, error) {
	var hash *string
	err := s.pool.QueryRow(ctx,
		"SELECT password_hash FROM accounts WHERE id = $1", accountID,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, identity.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying credential: %w", err)
	}
	if hash == nil {
		// No credential: never verifies.
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(*hash), []byte(password)) == nil, nil
}

// IsLockedOut reports whether the account is currently locked out.
func (s *Store) IsLockedOut(ctx context.Context, accountID string) (bool, error) {
	var locked bool
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(locked_until > now(), false) FROM accounts WHERE id = $1", accountID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, identity.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying lockout: %w", err)
	}
	return locked, nil
}

// RecordLoginFailure increments the failure counter and locks the account
// when the policy threshold is reached, in one atomic update.
func (s *Store) RecordLoginFailure(ctx context.Context, accountID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET
			failed_logins = CASE WHEN failed_logins + 1 >= $2 THEN 0 ELSE failed_logins + 1 END,
			locked_until  = CASE WHEN failed_logins + 1 >= $2 THEN now() + make_interval(secs => $3) ELSE locked_until END
		WHERE id = $1
	`, accountID, s.lockout.MaxFailures, s.lockout.Duration.Seconds())
	if err != nil {
		return fmt.Errorf("recording failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// ResetLoginFailures clears the failed sign-in counter.
func (s *Store) ResetLoginFailures(ctx context.Context, accountID string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE accounts SET failed_logins = 0 WHERE id = $1", accountID)
	if err != nil {
		return fmt.Errorf("resetting failures: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// Roles returns the account's current role memberships.
func (s *Store) Roles(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT role_name FROM account_roles WHERE account_id = $1 ORDER BY role_name", accountID)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading memberships: %w", err)
	}
	return roles, nil
}

// AddToRoles grants the listed roles to the account. ON CONFLICT DO
// NOTHING makes repeated grants idempotent at the store level; the
// foreign key on role_name rejects grants for roles that do not exist,
// applying nothing.
func (s *Store) AddToRoles(ctx context.Context, accountID string, roles []string) error {
	if len(roles) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_roles (account_id, role_name)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING
	`, accountID, roles)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("unknown role in grant: %w", identity.ErrNotFound)
		}
		return fmt.Errorf("inserting memberships: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

// isForeignKeyViolation checks if the error is a PostgreSQL foreign key
// violation (23503).
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23503")
}
