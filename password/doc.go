// Package password implements password hashing and verification with bcrypt.
//
// # Output format
//
// New hashes are standard bcrypt strings ($2a$<cost>$...). Hashes produced by
// earlier Argon2id deployments in PHC format are still verified:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsUpgrade] reports those, and bcrypt hashes below the configured
// cost, so the caller can re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length, reuse
// history) is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords — callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
