// Package session provides the signed (optionally encrypted) cookie session
// that carries a browser's bearer tokens between requests.
//
// # Cookie format
//
// A [Session] is serialized as JSON and sealed with
// github.com/gorilla/securecookie. Signing secrets rotate: the first secret
// signs, every configured secret verifies, and a cookie verified by an older
// secret is marked dirty so the next response re-signs it.
//
// # Architecture boundaries
//
// This package owns the [Session] model and the [Store] codec. It does NOT
// interpret JWT tokens or enforce authentication policy; those
// responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore or jwt (no upward imports).
//   - Write a Set-Cookie header for an unchanged session.
package session
