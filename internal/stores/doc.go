// Package stores provides the relational persistence for authcore: users,
// refresh tokens, backup codes, one-time email verification and password
// reset tokens, password history and the append-only security log.
//
// # Design
//
// Every repository method hangs off [Queries], which is bound either to the
// pooled *sql.DB or to a transaction (see [Store.Tx]). Statements are written
// with "?" placeholders and rebound per [Dialect], so the same SQL serves
// Postgres (pgx) and SQLite (modernc). Timestamps are stored as unix seconds.
//
// Single-use and rotation guarantees come from conditional UPDATEs whose
// affected-row count tells the caller whether it won: a revoked refresh token,
// a used backup code or a consumed reset token can never be flipped twice.
//
// # Architecture boundaries
//
// This package owns schema, queries and migrations. It does NOT generate
// tokens, hash secrets or make authentication decisions.
//
// # What this package must NOT do
//
//   - Import authcore or the flow packages.
//   - Persist raw bearer tokens or backup codes (only their hashes).
package stores
