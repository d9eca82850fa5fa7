package dbx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

var fastPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"wrapped deadlock", errors.Join(errors.New("ctx"), &pgconn.PgError{Code: "40P01"}), true},
		{"plain", errors.New("boom"), false},
		{"sqlite locked text", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestWithRetryTx_ReplaysDeadlockThenCommits(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users`).WillReturnError(&pgconn.PgError{Code: "40P01"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	attempts := 0
	err = WithRetryTx(context.Background(), db, fastPolicy, IsTransient, func(ctx context.Context, tx DBTX) error {
		attempts++
		_, err := tx.ExecContext(ctx, `UPDATE users SET role = 'x'`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryTx_PermanentErrorNotReplayed(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	attempts := 0
	err = WithRetryTx(context.Background(), db, fastPolicy, IsTransient, func(ctx context.Context, tx DBTX) error {
		attempts++
		_, err := tx.ExecContext(ctx, `INSERT INTO users (id) VALUES ('u1')`)
		return err
	})
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, "23505", pgErr.Code)
	require.Equal(t, 1, attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryTx_GivesUpAfterMaxRetries(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}
	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE refresh_tokens`).WillReturnError(&pgconn.PgError{Code: "40001"})
		mock.ExpectRollback()
	}

	attempts := 0
	err = WithRetryTx(context.Background(), db, policy, nil, func(ctx context.Context, tx DBTX) error {
		attempts++
		_, err := tx.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE`)
		return err
	})
	require.Error(t, err)
	require.True(t, IsTransient(err))
	require.Equal(t, 3, attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}
