// Package middleware adapts an authcore.Engine to net/http handler chains.
//
// # Guards
//
//   - [Guard] requires a signed-in user and calls onFail otherwise.
//   - [Optional] resolves the user when possible and never rejects.
//   - [RedirectIfAuthenticated] sends signed-in users elsewhere.
//   - [RequireRole] must run inside Guard.
//   - [CSRF] enforces the session CSRF token on unsafe methods.
//
// The middlewares share one cookie session per request through the request
// context, so a token created by CSRF and a pair rotated by Guard end up in
// the same Set-Cookie.
//
// Authentication decisions are delegated to the Engine; this package only
// translates them into HTTP responses.
package middleware
