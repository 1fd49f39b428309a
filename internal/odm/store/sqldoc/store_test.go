package sqldoc

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/docmap/internal/odm/store"
	"github.com/conduit-lang/docmap/internal/odm/store/storetest"
)

func openSQLite(t *testing.T) *Store {
	ctx := context.Background()
	s, err := Open(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openSQLite(t)
	})
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", d.Driver)

	d, err = DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "pgx", d.Driver)

	_, err = DialectFor("oracle")
	assert.Error(t, err)
}

func TestDialect_KeysIn(t *testing.T) {
	clause, args := SQLite.keysIn(2, []string{"a", "b"})
	assert.Equal(t, "id IN (?, ?)", clause)
	assert.Equal(t, []interface{}{"a", "b"}, args)

	clause, args = Postgres.keysIn(2, []string{"a", "b"})
	assert.Equal(t, "id = ANY($2)", clause)
	assert.Len(t, args, 1)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Postgres), mock
}

func TestPostgres_Insert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3)")).
		WithArgs("parents", "p1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Insert(context.Background(), "parents", store.Document{"_id": "p1", "data": "x"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertDuplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO documents").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.Insert(context.Background(), "parents", store.Document{"_id": "p1"})
	assert.True(t, store.IsDuplicateKey(err), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertOtherError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO documents").WillReturnError(errors.New("connection reset"))

	err := s.Insert(context.Background(), "parents", store.Document{"_id": "p1"})
	require.Error(t, err)
	assert.False(t, store.IsDuplicateKey(err))
	assert.Contains(t, err.Error(), "failed to insert document")
}

func TestPostgres_Get(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM documents WHERE collection = $1 AND id = $2")).
		WithArgs("parents", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(`{"_id":"p1","childIds":["c1"]}`))

	doc, err := s.Get(context.Background(), "parents", "p1")
	require.NoError(t, err)
	assert.True(t, store.Equal([]interface{}{"c1"}, doc["childIds"]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT body FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))

	_, err := s.Get(context.Background(), "parents", "nope")
	assert.True(t, store.IsNotFound(err))
}

func TestPostgres_GetMany(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM documents WHERE collection = $1 AND id = ANY($2) ORDER BY id")).
		WithArgs("children", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"body"}).
			AddRow(`{"_id":"c1"}`).
			AddRow(`{"_id":"c2"}`))

	docs, err := s.GetMany(context.Background(), "children", []interface{}{"c1", "c2", "c1"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetAndReturnPreviousLocksRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE")).
		WithArgs("children", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(`{"_id":"c1","parent":"p1"}`))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET body = $1 WHERE collection = $2 AND id = $3")).
		WithArgs(`{"_id":"c1","parent":"p2"}`, "children", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	prev, err := s.SetAndReturnPrevious(context.Background(), "children", "c1", "parent", "p2")
	require.NoError(t, err)
	assert.Equal(t, "p1", prev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MutationOfMissingDocumentRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT body FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))
	mock.ExpectRollback()

	require.NoError(t, s.AddToSet(context.Background(), "parents", "ghost", "childIds", "c1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UnchangedMutationSkipsWrite(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT body FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(`{"_id":"p1","childIds":["c1"]}`))
	mock.ExpectCommit()

	require.NoError(t, s.AddToSet(context.Background(), "parents", "p1", "childIds", "c1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FailedWriteRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT body FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(`{"_id":"p1"}`))
	mock.ExpectExec("UPDATE documents").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.AddToSet(context.Background(), "parents", "p1", "childIds", "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write document")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Delete(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents WHERE collection = $1 AND id = $2")).
		WithArgs("children", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.Delete(context.Background(), "children", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
