package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"cmtools/internal/config"
)

const pgUniqueViolation = "23505"

type dialect struct {
	name        string
	driver      string
	schema      string
	tableExists string
	positional  bool
}

var (
	sqliteDialect = dialect{
		name:        config.DriverSQLite,
		driver:      "sqlite",
		schema:      schemaSQLite,
		tableExists: "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	}
	postgresDialect = dialect{
		name:        config.DriverPostgres,
		driver:      "pgx",
		schema:      schemaPostgres,
		tableExists: "SELECT COUNT(1) FROM information_schema.tables WHERE table_name='schema_version'",
		positional:  true,
	}
)

func dialectFor(name string) (dialect, error) {
	switch name {
	case config.DriverSQLite:
		return sqliteDialect, nil
	case config.DriverPostgres:
		return postgresDialect, nil
	default:
		return dialect{}, errors.New("unsupported database driver " + strconv.Quote(name))
	}
}

// rebind rewrites '?' placeholders to $n for drivers that need positional
// parameters. Queries in this package never contain a literal '?'.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
