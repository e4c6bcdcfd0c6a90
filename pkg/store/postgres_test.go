package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumyn-io/lumyn/pkg/contracts"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresPutDecisionRecordCommits(t *testing.T) {
	s, mock := newMockStore(t)
	record := testRecord("dec_1")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO decision_records").
		WithArgs(record.DecisionID, "acme", record.CreatedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO request_idempotency").
		WithArgs("acme", "r-1", record.DecisionID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.PutDecisionRecord(context.Background(), record, "acme", "r-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUniqueViolationIsIntegrityError(t *testing.T) {
	s, mock := newMockStore(t)
	record := testRecord("dec_1")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO decision_records").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO request_idempotency").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := s.PutDecisionRecord(context.Background(), record, "acme", "r-1")
	assert.ErrorIs(t, err, contracts.ErrIntegrity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOtherErrorIsStorageUnavailable(t *testing.T) {
	s, mock := newMockStore(t)
	record := testRecord("dec_1")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO decision_records").
		WillReturnError(&pq.Error{Code: "57P01"})
	mock.ExpectRollback()

	err := s.PutDecisionRecord(context.Background(), record, "acme", "")
	assert.ErrorIs(t, err, contracts.ErrStorageUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIdempotencyProbeMissIsNil(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT decision_id FROM request_idempotency").
		WithArgs("acme", "r-1").
		WillReturnRows(sqlmock.NewRows([]string{"decision_id"}))

	id, err := s.GetDecisionIDForRequestID(context.Background(), "acme", "r-1")
	require.NoError(t, err)
	assert.Empty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetDecisionRecordNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT record_json FROM decision_records").
		WithArgs("dec_absent").
		WillReturnRows(sqlmock.NewRows([]string{"record_json"}))

	_, err := s.GetDecisionRecord(context.Background(), "dec_absent")
	assert.ErrorIs(t, err, contracts.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
