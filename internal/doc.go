// Package internal contains helper utilities that are intentionally private to authcore,
// including secure token generation, token hashing and request metadata helpers.
//
// # Sub-packages
//
//   - audit — async event dispatch (Dispatcher + Sink implementations)
//   - dbx — transaction helpers with retry on transient lock conflicts
//   - flows — flow orchestrators for refresh rotation and backup-code consumption
//   - mfa — TOTP enrollment and verification
//   - rate — Redis-backed fixed-window rate limiting
//   - stores — SQL persistence for users, tokens, codes and security logs
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
