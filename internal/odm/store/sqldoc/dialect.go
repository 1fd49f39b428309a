package sqldoc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect holds the SQL differences between the supported databases
type Dialect struct {
	Name string
	// Driver is the database/sql driver name
	Driver string

	placeholder func(n int) string
	forUpdate   string
	anyArray    bool
	unique      func(err error) bool
}

// SQLite uses ? placeholders and IN lists
var SQLite = Dialect{
	Name:        "sqlite",
	Driver:      "sqlite3",
	placeholder: func(int) string { return "?" },
	unique: func(err error) bool {
		var sqErr sqlite3.Error
		if !errors.As(err, &sqErr) {
			return false
		}
		return sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqErr.ExtendedCode == sqlite3.ErrConstraintUnique
	},
}

// Postgres uses $n placeholders, row locks and = ANY arrays
var Postgres = Dialect{
	Name:        "postgres",
	Driver:      "pgx",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	forUpdate:   " FOR UPDATE",
	anyArray:    true,
	unique: func(err error) bool {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			return false
		}
		return pgErr.Code == "23505" // unique_violation
	},
}

// DialectFor returns the dialect of a driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unsupported sql driver %q", driver)
}

func (d Dialect) p(n int) string {
	return d.placeholder(n)
}

// keysIn renders a key membership clause starting at placeholder n and its arguments
func (d Dialect) keysIn(n int, keys []string) (string, []interface{}) {
	if d.anyArray {
		return "id = ANY(" + d.p(n) + ")", []interface{}{pq.Array(keys)}
	}
	marks := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		marks[i] = d.p(n + i)
		args[i] = k
	}
	return "id IN (" + strings.Join(marks, ", ") + ")", args
}
