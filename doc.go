// Package authcore is a server-side authentication core for web applications.
//
// It stores users, refresh token families, backup codes and single-use tokens
// in a SQL database (PostgreSQL or SQLite), counts attempts against a Redis
// fixed-window limiter, and keeps the client's access and refresh tokens in a
// signed cookie session.
//
// An [Engine] is assembled with [Builder]:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithDB(db).
//		WithRedis(rdb).
//		WithLogger(logger).
//		Build()
//
// Engine methods are safe for concurrent use once Build returns. Errors are
// reported through the sentinel values in errors.go; callers branch with
// errors.Is and errors.As rather than string matching.
package authcore
