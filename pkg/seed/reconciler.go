package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/portcullis-auth/portcullis/pkg/identity"
	"github.com/portcullis-auth/portcullis/pkg/observability"
)

// Reconciler converges the identity store onto a Baseline. It runs once,
// single-threaded, before the service starts serving decisions.
type Reconciler struct {
	store  identity.Store
	logger *slog.Logger
}

// New creates a reconciler. A nil logger falls back to slog.Default.
func New(store identity.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, logger: logger}
}

// Reconcile applies the baseline: roles first, then users. Each entity is
// processed independently; a failure is recorded in the report and the
// pass continues with the next entity.
func (r *Reconciler) Reconcile(ctx context.Context, b Baseline) *Report {
	report := &Report{}

	if !b.Enabled {
		r.logger.Debug("seed reconciliation is disabled")
		return report
	}

	r.addRoles(ctx, b.Roles, report)
	r.addUsers(ctx, b.Users, report)

	for _, o := range report.Outcomes {
		observability.SeedOperationsTotal.WithLabelValues(o.Kind, string(o.Action)).Inc()
	}

	return report
}

func (r *Reconciler) addRoles(ctx context.Context, roles []string, report *Report) {
	if len(roles) == 0 {
		r.logger.Warn("baseline contains no role")
		return
	}
	for _, role := range roles {
		r.addRole(ctx, role, report)
	}
}

func (r *Reconciler) addRole(ctx context.Context, role string, report *Report) {
	if strings.TrimSpace(role) == "" {
		r.logger.Warn("baseline contains a blank role name, ignoring it")
		report.add(Outcome{Kind: "role", Name: role, Action: ActionSkipped})
		return
	}

	exists, err := r.store.RoleExists(ctx, role)
	if err != nil {
		r.logger.Error("role lookup failed", "role", role, "error", err)
		report.add(Outcome{Kind: "role", Name: role, Action: ActionFailed, Err: err})
		return
	}
	if exists {
		r.logger.Debug("role already exists", "role", role)
		report.add(Outcome{Kind: "role", Name: role, Action: ActionExists})
		return
	}

	err = r.store.CreateRole(ctx, role)
	switch {
	case errors.Is(err, identity.ErrConflict):
		// Another pass got there first; same end state.
		report.add(Outcome{Kind: "role", Name: role, Action: ActionExists})
	case err != nil:
		r.logger.Error("role creation failed", "role", role, "error", err)
		report.add(Outcome{Kind: "role", Name: role, Action: ActionFailed, Err: err})
	default:
		r.logger.Info("role created", "role", role)
		report.add(Outcome{Kind: "role", Name: role, Action: ActionCreated})
	}
}

func (r *Reconciler) addUsers(ctx context.Context, users []UserSpec, report *Report) {
	if len(users) == 0 {
		r.logger.Warn("baseline contains no user")
		return
	}
	for _, user := range users {
		r.addUser(ctx, user, report)
	}
}

func (r *Reconciler) addUser(ctx context.Context, user UserSpec, report *Report) {
	if strings.TrimSpace(user.Name) == "" {
		r.logger.Warn("baseline contains a blank user name, ignoring it")
		report.add(Outcome{Kind: "account", Name: user.Name, Action: ActionSkipped})
		return
	}

	acct, err := r.ensureAccount(ctx, user.Name, report)
	if err != nil || acct == nil {
		return
	}

	r.ensurePassword(ctx, acct, user.Password, report)
	r.ensureMemberships(ctx, acct, user.Roles, report)
}

// ensureAccount looks up the account by name, creating it bare when
// absent. The returned account is nil when the store rejected creation.
func (r *Reconciler) ensureAccount(ctx context.Context, name string, report *Report) (*identity.Account, error) {
	acct, err := r.store.FindAccountByName(ctx, name)
	if err == nil {
		r.logger.Debug("account already exists", "account", name, "id", acct.ID)
		report.add(Outcome{Kind: "account", Name: name, Action: ActionExists})
		return acct, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		r.logger.Error("account lookup failed", "account", name, "error", err)
		report.add(Outcome{Kind: "account", Name: name, Action: ActionFailed, Err: err})
		return nil, err
	}

	acct, err = r.store.CreateAccount(ctx, name)
	if errors.Is(err, identity.ErrConflict) {
		// Lost a create race; re-read the winner.
		acct, err = r.store.FindAccountByName(ctx, name)
		if err == nil {
			report.add(Outcome{Kind: "account", Name: name, Action: ActionExists})
			return acct, nil
		}
	}
	if err != nil {
		r.logger.Error("account creation failed", "account", name, "error", err)
		report.add(Outcome{Kind: "account", Name: name, Action: ActionFailed, Err: err})
		return nil, err
	}

	r.logger.Info("account created", "account", name, "id", acct.ID)
	report.add(Outcome{Kind: "account", Name: name, Action: ActionCreated})
	return acct, nil
}

// ensurePassword sets the baseline password only when the account has no
// credential yet. An existing credential is never overwritten.
func (r *Reconciler) ensurePassword(ctx context.Context, acct *identity.Account, password string, report *Report) {
	if strings.TrimSpace(password) == "" {
		r.logger.Warn("no password specified for account, ignoring it", "account", acct.Name)
		report.add(Outcome{Kind: "password", Name: acct.Name, Action: ActionSkipped})
		return
	}

	has, err := r.store.HasPassword(ctx, acct.ID)
	if err != nil {
		r.logger.Error("password lookup failed", "account", acct.Name, "error", err)
		report.add(Outcome{Kind: "password", Name: acct.Name, Action: ActionFailed, Err: err})
		return
	}
	if has {
		r.logger.Debug("account already has a password", "account", acct.Name)
		report.add(Outcome{Kind: "password", Name: acct.Name, Action: ActionExists})
		return
	}

	if err := r.store.SetPassword(ctx, acct.ID, password); err != nil {
		r.logger.Error("password creation failed", "account", acct.Name, "error", err)
		report.add(Outcome{Kind: "password", Name: acct.Name, Action: ActionFailed, Err: err})
		return
	}

	r.logger.Info("password set", "account", acct.Name)
	report.add(Outcome{Kind: "password", Name: acct.Name, Action: ActionCreated})
}

// ensureMemberships grants exactly the desired roles the account does not
// already hold. Roles already held, and roles outside the desired set,
// are left untouched.
func (r *Reconciler) ensureMemberships(ctx context.Context, acct *identity.Account, desired []string, report *Report) {
	if len(desired) == 0 {
		r.logger.Warn("no role specified for account, ignoring them", "account", acct.Name)
		report.add(Outcome{Kind: "membership", Name: acct.Name, Action: ActionSkipped})
		return
	}

	current, err := r.store.Roles(ctx, acct.ID)
	if err != nil {
		r.logger.Error("role membership lookup failed", "account", acct.Name, "error", err)
		report.add(Outcome{Kind: "membership", Name: acct.Name, Action: ActionFailed, Err: err})
		return
	}

	toAdd := difference(desired, current)
	if len(toAdd) == 0 {
		r.logger.Info("account is already in all desired roles",
			"account", acct.Name, "roles", strings.Join(current, ","))
		report.add(Outcome{Kind: "membership", Name: acct.Name, Action: ActionExists})
		return
	}

	if err := r.store.AddToRoles(ctx, acct.ID, toAdd); err != nil {
		r.logger.Error("role membership update failed", "account", acct.Name, "error", err)
		report.add(Outcome{Kind: "membership", Name: acct.Name, Action: ActionFailed, Err: err})
		return
	}

	r.logger.Info("role memberships granted",
		"account", acct.Name, "roles", strings.Join(toAdd, ","))
	report.add(Outcome{Kind: "membership", Name: acct.Name, Action: ActionGranted})
}

// difference returns the elements of desired not present in current,
// preserving order and dropping duplicates. Comparison is exact and
// case-sensitive.
func difference(desired, current []string) []string {
	have := make(map[string]struct{}, len(current)+len(desired))
	for _, r := range current {
		have[r] = struct{}{}
	}
	var out []string
	for _, r := range desired {
		if _, ok := have[r]; ok {
			continue
		}
		have[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// String summarizes a report for startup logging.
func (r *Report) String() string {
	return fmt.Sprintf("roles=%d accounts=%d passwords=%d memberships=%d failed=%d",
		r.Created("role"), r.Created("account"), r.Created("password"), r.Created("membership"), r.Failed())
}
