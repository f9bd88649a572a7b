package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name:    "postgres",
	timeIn:  func(ph string) string { return "to_timestamp(" + ph + ")" },
	timeOut: func(col string) string { return "CAST(EXTRACT(EPOCH FROM " + col + ") AS BIGINT)" },
	rebind:  rebindDollar,
}

// rebindDollar rewrites ? placeholders to $1, $2, ...
func rebindDollar(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
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

// NewPostgresStore connects to dsn. Tables are expected to exist; see
// ApplyMigrations.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*SQLStore, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := d.PingContext(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return &SQLStore{db: d, d: postgresDialect, opts: buildOptions(opts)}, nil
}
