package records_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/records"
)

func TestSQLStoreSQLite(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) records.Store {
		s, err := records.OpenSQLStore(context.Background(), records.DialectSQLite, ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLStorePostgresDialect(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := records.NewSQLStore(db, records.DialectPostgres)
	ctx := context.Background()
	r := newRecord(t, 1)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO claim_records`)).
		WithArgs(r.ID, records.TokenHash(r.Token), r.Sender.String(), "pending", "19990000",
			int64(r.CreatedAt), int64(r.ExpiresAt), int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Create(ctx, r))

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO claim_records`)).
		WillReturnError(&pq.Error{Code: "23505"})
	err = s.Create(ctx, newRecord(t, 2))
	assert.True(t, errors.ErrDuplicate.Is(err), "got %+v", err)

	// a lost compare-and-set is told apart from a missing record
	r.State = "funded"
	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $6 AND version = $7`)).
		WithArgs(records.TokenHash(r.Token), "funded", int64(r.ExpiresAt), int64(2), sqlmock.AnyArg(), r.ID, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT body, version FROM claim_records WHERE id = $1`)).
		WithArgs(r.ID).
		WillReturnRows(sqlmock.NewRows([]string{"body", "version"}).AddRow(`{"id":"`+r.ID+`"}`, 3))
	err = s.Update(ctx, r)
	assert.True(t, errors.ErrConflict.Is(err), "got %+v", err)
	assert.Equal(t, int64(1), r.Version)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT body, version FROM claim_records WHERE token_hash = $1`)).
		WithArgs(records.TokenHash("nope")).
		WillReturnRows(sqlmock.NewRows([]string{"body", "version"}))
	_, err = s.GetByToken(ctx, "nope")
	assert.True(t, errors.ErrNotFound.Is(err), "got %+v", err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenSQLStoreUnknownDialect(t *testing.T) {
	_, err := records.OpenSQLStore(context.Background(), "oracle", "")
	assert.True(t, errors.ErrInvalidInput.Is(err), "got %+v", err)
}
