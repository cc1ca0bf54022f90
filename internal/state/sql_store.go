package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Dialect selects the SQL flavour a SQLStore speaks.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Store on database/sql. Queries are written with "?"
// placeholders and rebound for PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewMySQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: DialectMySQL}
}

func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: DialectPostgres}
}

func (s *SQLStore) Dialect() Dialect { return s.dialect }

// q rebinds "?" placeholders to "$n" for PostgreSQL.
func (s *SQLStore) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// insertID runs an INSERT and returns the generated id.
func (s *SQLStore) insertID(ctx context.Context, x execQuerier, query string, args ...any) (int64, error) {
	if s.dialect == DialectPostgres {
		var id int64
		err := x.QueryRowContext(ctx, s.q(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}

	res, err := x.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// upsertClause renders the conflict clause for an INSERT. When withID is set
// the MySQL form keeps LAST_INSERT_ID pointing at the existing row.
func (s *SQLStore) upsertClause(conflict []string, update []string, withID bool) string {
	var b strings.Builder
	if s.dialect == DialectPostgres {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(strings.Join(conflict, ", "))
		b.WriteString(") DO UPDATE SET ")
		for i, col := range update {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col + " = EXCLUDED." + col)
		}
		return b.String()
	}

	b.WriteString(" ON DUPLICATE KEY UPDATE ")
	if withID {
		b.WriteString("id = LAST_INSERT_ID(id), ")
	}
	for i, col := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col + " = VALUES(" + col + ")")
	}
	return b.String()
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// marshalJSON returns text rather than bytes: lib/pq sends []byte as bytea,
// which jsonb columns reject.
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return json.Unmarshal(b, v)
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// axesKey renders an axis set canonically so (product_id, axes_key) can be
// unique in SQL.
func axesKey(axes map[string]string) string {
	keys := make([]string, 0, len(axes))
	for k := range axes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(axes[k])
	}
	return b.String()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
