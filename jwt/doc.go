// Package jwt issues and verifies the two bearer token kinds used by authcore:
// short-lived access tokens and long-lived refresh tokens.
//
// Both kinds carry a "typ" claim so one can never be replayed as the other.
// Refresh tokens additionally carry a family id ("fam") shared by every token
// descended from a single login, which the engine uses for reuse detection.
//
// Access tokens are verifiable without any storage lookup. Refresh tokens are
// only the first half of the check: the engine must also find their hash in the
// refresh token table.
package jwt
