package database

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// migrationStep brings the schema to version.
type migrationStep struct {
	version    int
	statements []string
}

// dialect holds everything that differs between the SQLite and PostgreSQL backends.
type dialect struct {
	name   string
	flavor sqlbuilder.Flavor

	// lockRow is appended to the select that starts a read-modify-write.
	lockRow string

	steps             []migrationStep
	schemaVersion     func(ctx context.Context, tx *sql.Tx) (int, error)
	setSchemaVersion  func(ctx context.Context, tx *sql.Tx, version int) error
	isUniqueViolation func(err error) bool
}

// rebind rewrites ? placeholders into the backend's bind syntax.
func (d dialect) rebind(query string) string {
	if d.flavor != sqlbuilder.PostgreSQL {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
