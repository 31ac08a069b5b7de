// Package identity defines the data model and store gateway for the
// portcullis forward-auth service: accounts, roles, the session principal,
// and the Store interface that all persistence backends implement.
//
// Store adapters (memory, redis, postgres) live in subpackages. This
// package contains only the shared types, sentinel errors, and the
// lockout policy, not any backend logic.
package identity
