// Package sqldoc stores documents as JSON text in a single SQL table keyed by collection
// and id. Mutations read, modify and write the body inside one transaction.
package sqldoc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"github.com/conduit-lang/docmap/internal/odm/store"
)

// DefaultTable is the table documents live in
const DefaultTable = "documents"

// Store is a database/sql backed store.Store
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

var _ store.Store = (*Store)(nil)

// New creates a store over an open database
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, table: DefaultTable}
}

// Open opens a database with the driver of dialect and checks the connection
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect.Name == SQLite.Name {
		// one connection keeps in-memory databases alive and serializes writers
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db, dialect), nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the documents table when missing
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	body TEXT NOT NULL,
	PRIMARY KEY (collection, id)
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.table, err)
	}
	return nil
}

func (s *Store) p(n int) string {
	return s.dialect.p(n)
}

// Insert stores a new document
func (s *Store) Insert(ctx context.Context, collection string, doc store.Document) error {
	key := store.KeyString(store.KeyOf(doc))
	if key == "" {
		return store.ErrMissingKey
	}
	body, err := store.EncodeJSON(doc)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("INSERT INTO %s (collection, id, body) VALUES (%s, %s, %s)", s.table, s.p(1), s.p(2), s.p(3))
	if _, err := s.db.ExecContext(ctx, query, collection, key, string(body)); err != nil {
		if s.dialect.unique(err) {
			return fmt.Errorf("%w: %s/%s", store.ErrDuplicateKey, collection, key)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// Get returns the document with the given key
func (s *Store) Get(ctx context.Context, collection string, key interface{}) (store.Document, error) {
	query := fmt.Sprintf("SELECT body FROM %s WHERE collection = %s AND id = %s", s.table, s.p(1), s.p(2))
	var body string
	err := s.db.QueryRowContext(ctx, query, collection, store.KeyString(key)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, store.KeyString(key))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return store.DecodeJSON([]byte(body))
}

// GetMany returns the documents that exist among keys, ordered by key
func (s *Store) GetMany(ctx context.Context, collection string, keys []interface{}) ([]store.Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(keys))
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ks := store.KeyString(k)
		if !seen[ks] {
			seen[ks] = true
			ids = append(ids, ks)
		}
	}

	in, inArgs := s.dialect.keysIn(2, ids)
	query := fmt.Sprintf("SELECT body FROM %s WHERE collection = %s AND %s ORDER BY id", s.table, s.p(1), in)
	args := append([]interface{}{collection}, inArgs...)
	return s.query(ctx, query, args...)
}

// Find returns the matching documents of a collection ordered by key
func (s *Store) Find(ctx context.Context, collection string, cond store.Condition) ([]store.Document, error) {
	query := fmt.Sprintf("SELECT body FROM %s WHERE collection = %s ORDER BY id", s.table, s.p(1))
	docs, err := s.query(ctx, query, collection)
	if err != nil {
		return nil, err
	}
	return store.Filter(docs, cond), nil
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]store.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := store.DecodeJSON([]byte(body))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Update applies a set/unset delta
func (s *Store) Update(ctx context.Context, collection string, key interface{}, delta store.Delta) error {
	found, _, err := s.mutate(ctx, collection, key, store.ApplyDelta(delta))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, store.KeyString(key))
	}
	return nil
}

// SetAndReturnPrevious assigns field and returns its prior value
func (s *Store) SetAndReturnPrevious(ctx context.Context, collection string, key interface{}, field string, value interface{}) (interface{}, error) {
	_, prev, err := s.mutate(ctx, collection, key, store.SetField(field, value))
	return prev, err
}

// CompareAndSet assigns field when it currently equals expected
func (s *Store) CompareAndSet(ctx context.Context, collection string, key interface{}, field string, expected, value interface{}) (bool, error) {
	_, swapped, err := s.mutate(ctx, collection, key, store.CompareAndSetField(field, expected, value))
	if err != nil || swapped == nil {
		return false, err
	}
	return swapped.(bool), nil
}

// AddToSet appends value to an array field unless present
func (s *Store) AddToSet(ctx context.Context, collection string, key interface{}, field string, value interface{}) error {
	_, _, err := s.mutate(ctx, collection, key, store.AddToSetField(field, value))
	return err
}

// Pull removes value from an array field
func (s *Store) Pull(ctx context.Context, collection string, key interface{}, field string, value interface{}) error {
	_, _, err := s.mutate(ctx, collection, key, store.PullField(field, value))
	return err
}

// Delete removes a document
func (s *Store) Delete(ctx context.Context, collection string, key interface{}) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE collection = %s AND id = %s", s.table, s.p(1), s.p(2))
	res, err := s.db.ExecContext(ctx, query, collection, store.KeyString(key))
	if err != nil {
		return 0, fmt.Errorf("failed to delete document: %w", err)
	}
	return res.RowsAffected()
}

// mutate runs m against the stored body inside a transaction. Postgres locks the row;
// SQLite serializes writers itself.
func (s *Store) mutate(ctx context.Context, collection string, key interface{}, m store.Mutation) (found bool, result interface{}, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id := store.KeyString(key)
	query := fmt.Sprintf("SELECT body FROM %s WHERE collection = %s AND id = %s%s", s.table, s.p(1), s.p(2), s.dialect.forUpdate)
	var body string
	err = tx.QueryRowContext(ctx, query, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return false, nil, tx.Rollback()
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to read document: %w", err)
	}

	doc, err := store.DecodeJSON([]byte(body))
	if err != nil {
		return true, nil, err
	}
	changed, result, err := m(doc)
	if err != nil {
		return true, nil, err
	}
	if !changed {
		return true, result, tx.Commit()
	}

	next, err := store.EncodeJSON(doc)
	if err != nil {
		return true, nil, err
	}
	update := fmt.Sprintf("UPDATE %s SET body = %s WHERE collection = %s AND id = %s", s.table, s.p(1), s.p(2), s.p(3))
	if _, err = tx.ExecContext(ctx, update, string(next), collection, id); err != nil {
		return true, nil, fmt.Errorf("failed to write document: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return true, nil, fmt.Errorf("failed to commit document: %w", err)
	}
	return true, result, nil
}
