// Package seed reconciles the identity store onto a declarative baseline
// of roles and user accounts at process startup.
//
// Reconciliation is strictly additive: it creates roles and accounts that
// are missing, sets passwords only where none exist, and grants only the
// role memberships the account does not already hold. Nothing is ever
// deleted, revoked, or overwritten, so a store that already satisfies the
// baseline passes through unchanged and a second run is a no-op.
//
// The pass is best-effort: invalid entries are skipped with a warning and
// store rejections are logged at error level, but neither aborts the run.
// Each entity's fate is collected into the returned Report.
package seed
