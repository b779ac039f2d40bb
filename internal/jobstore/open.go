package jobstore

import "strings"

// Open dispatches dsn to the Postgres backend when it carries a
// "postgres://" or "postgresql://" scheme, and to the SQLite backend
// (treating dsn as a file path, or ":memory:") otherwise.
func Open(dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgres(dsn)
	}
	return NewSQLite(dsn)
}
