package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/dbx"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

// Dialect selects placeholder syntax and migration flavor.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const sqliteConstraint = 19

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicate      = errors.New("record already exists")
	ErrUnknownDialect = errors.New("unknown sql dialect")
)

// ParseDialect maps a driver or dialect name onto a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
}

// Rebind rewrites "?" placeholders into the dialect's native form.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Store owns the connection pool and hands out Queries.
type Store struct {
	db      *sql.DB
	dialect Dialect
	policy  dbx.RetryPolicy
	q       *Queries
}

// New binds a Store to db.
func New(db *sql.DB, dialect Dialect, policy dbx.RetryPolicy) (*Store, error) {
	if db == nil {
		return nil, errors.New("stores: nil database")
	}
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}
	return &Store{
		db:      db,
		dialect: dialect,
		policy:  policy,
		q:       &Queries{db: db, dialect: dialect},
	}, nil
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the configured dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Q returns Queries bound to the pool (autocommit per statement).
func (s *Store) Q() *Queries { return s.q }

// Tx runs fn in a transaction, replaying it on deadlocks and lock timeouts.
// fn may run more than once and must not hold state across attempts.
// While fn runs it must only use the Queries it is given.
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, q *Queries) error) error {
	return dbx.WithRetryTx(ctx, s.db, s.policy, dbx.IsTransient, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &Queries{db: tx, dialect: s.dialect})
	})
}

// Queries is the set of repository operations bound to one DBTX.
type Queries struct {
	db      dbx.DBTX
	dialect Dialect
}

// NewQueries binds Queries to an arbitrary DBTX.
func NewQueries(db dbx.DBTX, dialect Dialect) *Queries {
	return &Queries{db: db, dialect: dialect}
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := q.db.ExecContext(ctx, q.dialect.Rebind(query), args...)
	if err != nil {
		return nil, wrapDBError(err)
	}
	return res, nil
}

func (q *Queries) execAffected(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.dialect.Rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := q.db.QueryContext(ctx, q.dialect.Rebind(query), args...)
	if err != nil {
		return nil, wrapDBError(err)
	}
	return rows, nil
}

func wrapDBError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return fmt.Errorf("db error: %w", err)
}

func scanErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("db error: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqliteConstraint && strings.Contains(strings.ToUpper(liteErr.Error()), "UNIQUE")
	}
	return false
}

func unix(t time.Time) int64 {
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
