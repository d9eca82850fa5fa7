// Package rate implements the Redis fixed-window limiter behind per-action
// throttling (login, register, mfa, password reset, email verification).
//
// # Window semantics
//
// One key per (action, identifier): "{prefix}:{action}:{identifier}". A Lua
// script performs INCR, arms PEXPIRE on the first hit and reads PTTL in one
// round trip, so concurrent hits never leave a counter without expiry. The
// counter resets implicitly when the key expires.
//
// # What this package must NOT do
//
//   - Decide which identifier (IP or user id) an action is keyed on.
//   - Be imported outside the authcore module.
package rate
